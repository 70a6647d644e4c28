package stt

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/voicepay/internal/device"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Update is emitted whenever the transcript or listening state changes.
type Update struct {
	SessionID  string
	Transcript string
	Final      bool
	Listening  bool
}

// Info describes the current or last listening session.
type Info struct {
	ID         string
	Active     bool
	StartedAt  time.Time
	Transcript string
}

type Options struct {
	// Language drives transcript lowercasing, e.g. "id-ID".
	Language     string
	UpdateBuffer int
}

// Session wraps a Recognizer as a start/stop listening session with a
// cumulative transcript. Final segments are appended; the interim tail is
// replaced by each partial result. Start resets the transcript.
//
// Updates never block the recognizer: when the consumer falls behind, the
// oldest pending update is dropped. Every update carries the full transcript.
type Session struct {
	rec     Recognizer
	mic     *device.Handle
	logger  *slog.Logger
	updates chan Update

	mu        sync.Mutex
	lower     cases.Caser
	active    bool
	id        string
	startedAt time.Time
	finals    string
	interim   string
	cancel    context.CancelFunc
	lease     *device.Lease
}

func NewSession(rec Recognizer, mic *device.Handle, logger *slog.Logger, opts Options) *Session {
	if rec == nil {
		rec = Noop{}
	}
	if mic == nil {
		mic = device.NewHandle("microphone")
	}
	if opts.UpdateBuffer <= 0 {
		opts.UpdateBuffer = 16
	}
	tag := language.Indonesian
	if opts.Language != "" {
		if parsed, err := language.Parse(opts.Language); err == nil {
			tag = parsed
		}
	}
	return &Session{
		rec:     rec,
		mic:     mic,
		logger:  logger.With(slog.String("component", "stt"), slog.String("recognizer", rec.Name())),
		updates: make(chan Update, opts.UpdateBuffer),
		lower:   cases.Lower(tag),
	}
}

// Start begins listening and reports whether the session is listening. It is
// a no-op while already listening. An unavailable recognizer leaves the
// session idle and returns false.
func (s *Session) Start(ctx context.Context) bool {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	if !s.rec.Available() {
		s.logger.Debug("recognizer unavailable")
		return false
	}

	id := uuid.NewString()
	lease := s.mic.Acquire("stt:"+id, func() { s.stop(id, "preempted") })

	runCtx, cancel := context.WithCancel(ctx)
	results, err := s.rec.Recognize(runCtx)
	if err != nil {
		cancel()
		lease.Release()
		if errors.Is(err, ErrUnavailable) {
			s.logger.Debug("recognizer unavailable", slogError(err))
		} else {
			s.logger.Warn("failed to start recognition", slogError(err))
		}
		return false
	}

	s.mu.Lock()
	if s.active {
		// Lost a race with a concurrent Start.
		s.mu.Unlock()
		cancel()
		lease.Release()
		return true
	}
	s.active = true
	s.id = id
	s.startedAt = time.Now()
	s.finals = ""
	s.interim = ""
	s.cancel = cancel
	s.lease = lease
	s.emitLocked(false)
	s.mu.Unlock()

	s.logger.Info("listening started", slog.String("session_id", id))
	go s.run(id, results)
	return true
}

// Stop ends the session. It is a no-op when not listening. No update from the
// stopped session is emitted after Stop returns.
func (s *Session) Stop() {
	s.mu.Lock()
	id := s.id
	s.mu.Unlock()
	s.stop(id, "stopped")
}

func (s *Session) IsListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SessionID returns the id of the current or most recent listening session.
// Updates carry the same id.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcriptLocked()
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{ID: s.id, Active: s.active, StartedAt: s.startedAt, Transcript: s.transcriptLocked()}
}

func (s *Session) Updates() <-chan Update {
	return s.updates
}

func (s *Session) run(id string, results <-chan Result) {
	for res := range results {
		if res.Err != nil {
			s.logger.Warn("recognition error", slog.String("session_id", id), slogError(res.Err))
			continue
		}
		s.apply(id, res)
	}
	s.stop(id, "recognizer ended")
}

func (s *Session) apply(id string, res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.id != id {
		return
	}
	text := s.lower.String(strings.TrimSpace(res.Text))
	before := s.transcriptLocked()
	if res.Final {
		s.finals = joinWords(s.finals, text)
		s.interim = ""
	} else {
		s.interim = text
	}
	if s.transcriptLocked() == before && !res.Final {
		return
	}
	s.emitLocked(res.Final)
}

func (s *Session) stop(id, reason string) {
	s.mu.Lock()
	if !s.active || s.id != id {
		s.mu.Unlock()
		return
	}
	s.active = false
	cancel := s.cancel
	lease := s.lease
	s.cancel = nil
	s.lease = nil
	s.emitLocked(false)
	s.mu.Unlock()

	cancel()
	lease.Release()
	s.logger.Info("listening stopped", slog.String("session_id", id), slog.String("reason", reason))
}

func (s *Session) emitLocked(final bool) {
	u := Update{SessionID: s.id, Transcript: s.transcriptLocked(), Final: final, Listening: s.active}
	select {
	case s.updates <- u:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- u:
	default:
	}
}

func (s *Session) transcriptLocked() string {
	return joinWords(s.finals, s.interim)
}

func joinWords(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
