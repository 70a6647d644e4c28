package tts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loqalabs/voicepay/internal/protocol"
	"github.com/nats-io/nats.go"
)

type busSynth struct {
	conn   *nats.Conn
	target string
}

// NewBusSynth hands text to a remote speaker on tts.request and waits for its
// tts.done. The remote side synthesizes and plays, so no PCM flows back.
// Cancelling publishes a cancelled tts.done so the speaker stops.
func NewBusSynth(conn *nats.Conn, target string) Synthesizer {
	return &busSynth{conn: conn, target: target}
}

func (b *busSynth) Name() string { return "bus" }

func (b *busSynth) Available() bool {
	return b.conn != nil && b.conn.IsConnected()
}

func (b *busSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)

	done := make(chan struct{}, 1)
	sub, err := b.conn.Subscribe(protocol.SubjectTTSDone, func(msg *nats.Msg) {
		var ev protocol.SpeechDone
		if json.Unmarshal(msg.Data, &ev) != nil || ev.SessionID != req.SessionID || ev.Cancelled {
			return
		}
		select {
		case done <- struct{}{}:
		default:
		}
	})
	if err != nil {
		errs <- fmt.Errorf("subscribe tts done: %w", err)
		close(chunks)
		close(errs)
		return chunks, errs
	}

	data, err := json.Marshal(protocol.SpeechRequest{SessionID: req.SessionID, Text: req.Text, Voice: req.Language, Target: b.target})
	if err == nil {
		err = b.conn.Publish(protocol.SubjectTTSRequest, data)
	}
	if err != nil {
		_ = sub.Unsubscribe()
		errs <- fmt.Errorf("publish tts request: %w", err)
		close(chunks)
		close(errs)
		return chunks, errs
	}

	go func() {
		defer close(chunks)
		defer close(errs)
		defer sub.Unsubscribe()
		select {
		case <-done:
			chunks <- SynthChunk{SessionID: req.SessionID, Final: true}
		case <-ctx.Done():
			if data, err := json.Marshal(protocol.SpeechDone{SessionID: req.SessionID, Target: b.target, Cancelled: true}); err == nil {
				_ = b.conn.Publish(protocol.SubjectTTSDone, data)
			}
			errs <- ctx.Err()
		}
	}()
	return chunks, errs
}
