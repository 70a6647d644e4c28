package tts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/loqalabs/voicepay/internal/device"
	"github.com/loqalabs/voicepay/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// gateSynth plays one chunk and then holds the utterance open until release
// is closed or the utterance is cancelled.
type gateSynth struct {
	release chan struct{}
	fail    error

	mu    sync.Mutex
	calls []string
}

func newGateSynth() *gateSynth {
	return &gateSynth{release: make(chan struct{})}
}

func (g *gateSynth) Name() string { return "gate" }

func (g *gateSynth) Available() bool { return true }

func (g *gateSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	g.mu.Lock()
	g.calls = append(g.calls, req.Text)
	g.mu.Unlock()

	chunks := make(chan SynthChunk, 2)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if g.fail != nil {
			errs <- g.fail
			return
		}
		chunks <- SynthChunk{SessionID: req.SessionID, SampleRate: 16000, Channels: 1, PCM: []byte{1, 0, 2, 0}}
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
		case <-g.release:
			chunks <- SynthChunk{SessionID: req.SessionID, SampleRate: 16000, Channels: 1, PCM: []byte{3, 0}, Final: true}
		}
	}()
	return chunks, errs
}

func (g *gateSynth) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// trackingSink records which utterances are audible at once.
type trackingSink struct {
	mu        sync.Mutex
	open      map[string]bool
	maxOpen   int
	cancelled map[string]bool
	finished  []string
}

func newTrackingSink() *trackingSink {
	return &trackingSink{open: map[string]bool{}, cancelled: map[string]bool{}}
}

func (s *trackingSink) Play(_ context.Context, id string, _ SynthChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open[id] = true
	if len(s.open) > s.maxOpen {
		s.maxOpen = len(s.open)
	}
	return nil
}

func (s *trackingSink) Done(id string, cancelled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, id)
	s.finished = append(s.finished, id)
	if cancelled {
		s.cancelled[id] = true
	}
}

func (s *trackingSink) wasCancelled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[id]
}

func waitEvent(t *testing.T, c *Channel, kind EventKind, id string) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.Kind == kind && ev.Utterance.ID == id {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s of %s", kind, id)
		}
	}
}

func TestSpeakPreemptsActiveUtterance(t *testing.T) {
	synth := newGateSynth()
	sink := newTrackingSink()
	c := NewChannel(synth, sink, device.NewHandle("speaker"), testLogger(), Options{Voice: "id-ID"})

	first := c.Speak("kode qr siap", "")
	second := c.Speak("pembayaran diterima", "")
	if first == "" || second == "" || first == second {
		t.Fatalf("unexpected ids %q %q", first, second)
	}
	if !sink.wasCancelled(first) {
		t.Fatal("first utterance should be cancelled before the second starts")
	}
	active, ok := c.Active()
	if !ok || active.ID != second || active.Language != "id-ID" {
		t.Fatalf("unexpected active utterance %+v", active)
	}
	waitEvent(t, c, EventCancelled, first)
	waitEvent(t, c, EventStarted, second)

	close(synth.release)
	waitEvent(t, c, EventEnded, second)
	if sink.maxOpen > 1 {
		t.Fatalf("overlapping audio: %d utterances open at once", sink.maxOpen)
	}
	if _, ok := c.Active(); ok {
		t.Fatal("expected no active utterance after it ended")
	}
}

func TestDuplicateSpeakIsNoop(t *testing.T) {
	synth := newGateSynth()
	c := NewChannel(synth, newTrackingSink(), nil, testLogger(), Options{})
	defer c.Stop()

	a := c.Speak("ucapkan bayar", "id-ID")
	b := c.Speak("ucapkan bayar", "id-ID")
	if a != b {
		t.Fatalf("expected the same utterance, got %q and %q", a, b)
	}
	if calls := synth.Calls(); len(calls) != 1 {
		t.Fatalf("expected one synthesis, got %v", calls)
	}
}

func TestStopIsSynchronous(t *testing.T) {
	synth := newGateSynth()
	sink := newTrackingSink()
	c := NewChannel(synth, sink, nil, testLogger(), Options{})

	id := c.Speak("halaman bantuan", "id-ID")
	c.Stop()
	if !sink.wasCancelled(id) {
		t.Fatal("audio must be stopped when Stop returns")
	}
	if _, ok := c.Active(); ok {
		t.Fatal("expected no active utterance")
	}
	c.Stop()
}

func TestUnavailableSynthesizerIsSilent(t *testing.T) {
	c := NewChannel(Noop{}, nil, nil, testLogger(), Options{})
	if id := c.Speak("halo", "id-ID"); id != "" {
		t.Fatalf("expected silence, got %q", id)
	}
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestSynthesisErrorIsReported(t *testing.T) {
	synth := newGateSynth()
	synth.fail = errors.New("voice not found")
	c := NewChannel(synth, nil, nil, testLogger(), Options{})

	id := c.Speak("halo", "id-ID")
	ev := waitEvent(t, c, EventErrored, id)
	if ev.Err == nil {
		t.Fatal("expected error on event")
	}
}

func TestResumePolicy(t *testing.T) {
	synth := newGateSynth()
	restart := NewChannel(synth, nil, nil, testLogger(), Options{ResumePolicy: ResumeRestart})
	defer restart.Stop()

	restart.Speak("kode qr siap", "id-ID")
	restart.Pause()
	if _, ok := restart.Active(); ok {
		t.Fatal("pause should stop playback")
	}
	if !restart.Resume() {
		t.Fatal("restart policy should re-speak")
	}
	if u, ok := restart.Active(); !ok || u.Text != "kode qr siap" {
		t.Fatalf("unexpected resumed utterance %+v", u)
	}

	none := NewChannel(newGateSynth(), nil, nil, testLogger(), Options{})
	none.Speak("kode qr siap", "id-ID")
	none.Pause()
	if none.Resume() {
		t.Fatal("default policy must not re-speak")
	}
	if _, ok := none.Active(); ok {
		t.Fatal("expected silence after resume with policy none")
	}
}

func TestSharedSpeakerPreemptsOtherChannel(t *testing.T) {
	speaker := device.NewHandle("speaker")
	a := NewChannel(newGateSynth(), nil, speaker, testLogger(), Options{})
	b := NewChannel(newGateSynth(), nil, speaker, testLogger(), Options{})
	defer b.Stop()

	id := a.Speak("satu", "id-ID")
	b.Speak("dua", "id-ID")
	waitEvent(t, a, EventCancelled, id)
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (r *recordingPublisher) Publish(subject string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, data)
	return nil
}

func TestBusSinkPublishesAudioAndDone(t *testing.T) {
	pub := &recordingPublisher{}
	sink := NewBusSink(pub, "kiosk", testLogger())
	if err := sink.Play(context.Background(), "utt-1", SynthChunk{SampleRate: 22050, Channels: 1, PCM: []byte{0, 0}, Final: true}); err != nil {
		t.Fatalf("play: %v", err)
	}
	sink.Done("utt-1", false)

	if len(pub.subjects) != 2 || pub.subjects[0] != protocol.SubjectTTSAudio || pub.subjects[1] != protocol.SubjectTTSDone {
		t.Fatalf("unexpected subjects %v", pub.subjects)
	}
	var frame protocol.AudioFrame
	if err := json.Unmarshal(pub.payloads[0], &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.SessionID != "utt-1" || frame.Target != "kiosk" || !frame.Final {
		t.Fatalf("unexpected frame %+v", frame)
	}
}

func TestRecorderWritesCompletedUtterances(t *testing.T) {
	rec, err := NewRecorder(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	synth := newGateSynth()
	close(synth.release)
	c := NewChannel(synth, rec, nil, testLogger(), Options{})

	id := c.Speak("pembayaran diterima", "id-ID")
	waitEvent(t, c, EventEnded, id)

	f, err := os.Open(rec.Path(id))
	if err != nil {
		t.Fatalf("open recording: %v", err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("expected a valid wav file")
	}
	if dec.SampleRate != 16000 || dec.NumChans != 1 {
		t.Fatalf("unexpected format %d Hz %d ch", dec.SampleRate, dec.NumChans)
	}
}

func TestRecorderSkipsCancelledUtterances(t *testing.T) {
	rec, err := NewRecorder(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	c := NewChannel(newGateSynth(), rec, nil, testLogger(), Options{})
	id := c.Speak("dibatalkan", "id-ID")
	c.Stop()
	if _, err := os.Stat(rec.Path(id)); !os.IsNotExist(err) {
		t.Fatalf("cancelled utterance should not be recorded, stat err=%v", err)
	}
}
