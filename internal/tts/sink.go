package tts

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/voicepay/internal/protocol"
)

// Sink plays synthesized audio. Done is called once per utterance after the
// last Play, with cancelled set when the utterance was cut short.
type Sink interface {
	Play(ctx context.Context, utteranceID string, chunk SynthChunk) error
	Done(utteranceID string, cancelled bool)
}

// Discard drops audio; used when a remote speaker does its own playback.
type Discard struct{}

func (Discard) Play(context.Context, string, SynthChunk) error { return nil }

func (Discard) Done(string, bool) {}

// Publisher is the subset of *nats.Conn used by the bus sink and synthesizer.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type busSink struct {
	pub    Publisher
	target string
	logger *slog.Logger
}

// NewBusSink streams PCM to the presenter on tts.audio and marks the end of
// each utterance on tts.done.
func NewBusSink(pub Publisher, target string, logger *slog.Logger) Sink {
	return &busSink{pub: pub, target: target, logger: logger}
}

func (b *busSink) Play(_ context.Context, utteranceID string, chunk SynthChunk) error {
	packet := protocol.AudioFrame{
		SessionID:  utteranceID,
		Target:     b.target,
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
		Sequence:   chunk.Sequence,
		PCM:        chunk.PCM,
		Final:      chunk.Final,
	}
	data, err := json.Marshal(packet)
	if err != nil {
		return fmt.Errorf("marshal tts chunk: %w", err)
	}
	if err := b.pub.Publish(protocol.SubjectTTSAudio, data); err != nil {
		return fmt.Errorf("publish tts chunk: %w", err)
	}
	return nil
}

func (b *busSink) Done(utteranceID string, cancelled bool) {
	data, err := json.Marshal(protocol.SpeechDone{SessionID: utteranceID, Target: b.target, Cancelled: cancelled})
	if err != nil {
		b.logger.Warn("failed to marshal tts done", slogError(err))
		return
	}
	if err := b.pub.Publish(protocol.SubjectTTSDone, data); err != nil {
		b.logger.Warn("failed to publish tts done", slogError(err))
	}
}

type recording struct {
	sampleRate int
	channels   int
	pcm        []byte
}

// Recorder writes every completed utterance to <dir>/<utterance id>.wav.
// Cancelled utterances are discarded.
type Recorder struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*recording
}

func NewRecorder(dir string, logger *slog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	return &Recorder{dir: dir, logger: logger, pending: make(map[string]*recording)}, nil
}

func (r *Recorder) Play(_ context.Context, utteranceID string, chunk SynthChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.pending[utteranceID]
	if rec == nil {
		rec = &recording{sampleRate: chunk.SampleRate, channels: chunk.Channels}
		r.pending[utteranceID] = rec
	}
	rec.pcm = append(rec.pcm, chunk.PCM...)
	return nil
}

func (r *Recorder) Done(utteranceID string, cancelled bool) {
	r.mu.Lock()
	rec := r.pending[utteranceID]
	delete(r.pending, utteranceID)
	r.mu.Unlock()
	if rec == nil || cancelled {
		return
	}
	path := r.Path(utteranceID)
	if err := writeWav(path, rec); err != nil {
		r.logger.Warn("failed to record utterance", slog.String("path", path), slogError(err))
	}
}

// Path is where the utterance is recorded.
func (r *Recorder) Path(utteranceID string) string {
	return filepath.Join(r.dir, utteranceID+".wav")
}

func writeWav(path string, rec *recording) error {
	if len(rec.pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer file.Close()

	samples := make([]int, len(rec.pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(rec.pcm[i*2:])))
	}
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: rec.channels, SampleRate: rec.sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(file, rec.sampleRate, 16, rec.channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

type multiSink []Sink

// Fanout plays to every sink in order; the first Play error is returned after
// all sinks have been tried.
func Fanout(sinks ...Sink) Sink {
	switch len(sinks) {
	case 0:
		return Discard{}
	case 1:
		return sinks[0]
	}
	return multiSink(sinks)
}

func (m multiSink) Play(ctx context.Context, utteranceID string, chunk SynthChunk) error {
	var first error
	for _, s := range m {
		if err := s.Play(ctx, utteranceID, chunk); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m multiSink) Done(utteranceID string, cancelled bool) {
	for _, s := range m {
		s.Done(utteranceID, cancelled)
	}
}
