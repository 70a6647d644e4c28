package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loqalabs/voicepay/internal/protocol"
	"github.com/nats-io/nats.go"
)

type busRecognizer struct {
	conn   *nats.Conn
	source string
	log    *slog.Logger
}

// NewBusRecognizer consumes transcripts published by a remote recognizer on
// stt.text.partial and stt.text.final. When source is set, only transcripts
// whose session_id matches it are accepted.
func NewBusRecognizer(conn *nats.Conn, source string, logger *slog.Logger) Recognizer {
	return &busRecognizer{conn: conn, source: source, log: logger}
}

func (b *busRecognizer) Name() string { return "bus" }

func (b *busRecognizer) Available() bool {
	return b.conn != nil && b.conn.IsConnected()
}

func (b *busRecognizer) Recognize(ctx context.Context) (<-chan Result, error) {
	if !b.Available() {
		return nil, ErrUnavailable
	}
	results := make(chan Result, 32)
	var (
		mu     sync.Mutex
		closed bool
	)
	deliver := func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case results <- r:
		default:
			b.log.Warn("dropping transcript, consumer is behind")
		}
	}
	handler := func(msg *nats.Msg) {
		var tr protocol.Transcript
		if err := json.Unmarshal(msg.Data, &tr); err != nil {
			deliver(Result{Err: fmt.Errorf("decode transcript: %w", err)})
			return
		}
		if b.source != "" && tr.SessionID != b.source {
			return
		}
		deliver(Result{Text: tr.Text, Final: !tr.Partial, Confidence: tr.Confidence})
	}

	partial, err := b.conn.Subscribe(protocol.SubjectTranscriptPartial, handler)
	if err != nil {
		return nil, fmt.Errorf("subscribe partial transcripts: %w", err)
	}
	final, err := b.conn.Subscribe(protocol.SubjectTranscriptFinal, handler)
	if err != nil {
		_ = partial.Unsubscribe()
		return nil, fmt.Errorf("subscribe final transcripts: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = partial.Unsubscribe()
		_ = final.Unsubscribe()
		mu.Lock()
		closed = true
		close(results)
		mu.Unlock()
	}()
	return results, nil
}
