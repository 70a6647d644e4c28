package stt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/voicepay/internal/device"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// nextUpdate waits for an update matching pred, skipping intermediate ones.
func nextUpdate(t *testing.T, s *Session, pred func(Update) bool) Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-s.Updates():
			if pred(u) {
				return u
			}
		case <-deadline:
			t.Fatalf("timed out waiting for update; transcript=%q", s.Transcript())
		}
	}
}

func transcriptIs(want string) func(Update) bool {
	return func(u Update) bool { return u.Transcript == want }
}

func TestStartStopIdempotent(t *testing.T) {
	rec := NewMockRecognizer()
	s := NewSession(rec, device.NewHandle("microphone"), testLogger(), Options{Language: "id-ID"})

	s.Stop()
	if s.IsListening() {
		t.Fatal("expected idle session")
	}
	if !s.Start(context.Background()) || !s.Start(context.Background()) {
		t.Fatal("expected session to be listening")
	}
	if rec.Starts() != 1 {
		t.Fatalf("expected one recognition stream, got %d", rec.Starts())
	}
	s.Stop()
	s.Stop()
	if s.IsListening() {
		t.Fatal("expected session to stop")
	}
	nextUpdate(t, s, func(u Update) bool { return !u.Listening })
}

func TestTranscriptAccumulatesAndResets(t *testing.T) {
	rec := NewMockRecognizer()
	s := NewSession(rec, device.NewHandle("microphone"), testLogger(), Options{Language: "id-ID"})
	if !s.Start(context.Background()) {
		t.Fatal("start failed")
	}
	defer s.Stop()

	rec.Say("Dua", false)
	nextUpdate(t, s, transcriptIs("dua"))
	rec.Say("DUA LIMA", false)
	nextUpdate(t, s, transcriptIs("dua lima"))
	rec.Say("dua lima ribu", true)
	u := nextUpdate(t, s, transcriptIs("dua lima ribu"))
	if !u.Final {
		t.Fatal("expected final update")
	}
	rec.Say("buat qr", false)
	nextUpdate(t, s, transcriptIs("dua lima ribu buat qr"))

	s.Stop()
	if !s.Start(context.Background()) {
		t.Fatal("restart failed")
	}
	if got := s.Transcript(); got != "" {
		t.Fatalf("expected transcript reset, got %q", got)
	}
	rec.Say("bayar", true)
	nextUpdate(t, s, transcriptIs("bayar"))
}

func TestUnavailableRecognizerStaysIdle(t *testing.T) {
	s := NewSession(Noop{}, device.NewHandle("microphone"), testLogger(), Options{})
	if s.Start(context.Background()) {
		t.Fatal("expected start to fail silently")
	}
	if s.IsListening() {
		t.Fatal("expected idle session")
	}
	s.Stop()
}

func TestTransientErrorKeepsListening(t *testing.T) {
	rec := NewMockRecognizer()
	s := NewSession(rec, device.NewHandle("microphone"), testLogger(), Options{})
	s.Start(context.Background())
	defer s.Stop()

	rec.Fail(errors.New("network glitch"))
	rec.Say("kembali", true)
	nextUpdate(t, s, transcriptIs("kembali"))
	if !s.IsListening() {
		t.Fatal("transient error must not end the session")
	}
}

func TestMicrophoneIsExclusive(t *testing.T) {
	mic := device.NewHandle("microphone")
	first := NewSession(NewMockRecognizer(), mic, testLogger(), Options{})
	second := NewSession(NewMockRecognizer(), mic, testLogger(), Options{})

	first.Start(context.Background())
	second.Start(context.Background())
	defer second.Stop()

	if first.IsListening() {
		t.Fatal("first session should be preempted")
	}
	if !second.IsListening() {
		t.Fatal("second session should be listening")
	}
	first.Stop()
	if mic.Owner() == "" {
		t.Fatal("stopping a preempted session must not free the microphone")
	}
}

func TestCancelledContextEndsSession(t *testing.T) {
	rec := NewMockRecognizer()
	s := NewSession(rec, device.NewHandle("microphone"), testLogger(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
	nextUpdate(t, s, func(u Update) bool { return !u.Listening })
	if s.IsListening() {
		t.Fatal("session should end with its context")
	}
}
