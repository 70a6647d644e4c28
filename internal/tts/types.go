package tts

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the host cannot synthesize speech.
var ErrUnavailable = errors.New("speech synthesis unavailable")

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	SessionID string
	Text      string
	// Language is the BCP 47 tag of the utterance, e.g. "id-ID".
	Language  string
}

// SynthChunk contains PCM data.
type SynthChunk struct {
	SessionID  string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio. Both channels are closed
// when synthesis ends or ctx is cancelled.
type Synthesizer interface {
	Name() string
	Available() bool
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// Noop is selected when synthesis is disabled.
type Noop struct{}

var _ Synthesizer = Noop{}

func (Noop) Name() string { return "noop" }

func (Noop) Available() bool { return false }

func (Noop) Synthesize(context.Context, SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	errs <- ErrUnavailable
	close(chunks)
	close(errs)
	return chunks, errs
}
