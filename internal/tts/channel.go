package tts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/loqalabs/voicepay/internal/device"
)

// Resume policies for utterances interrupted by Pause.
const (
	ResumeNone    = "none"
	ResumeRestart = "restart"
)

// Utterance is one unit of speech output.
type Utterance struct {
	ID       string
	Text     string
	Language string
	Priority int
}

type EventKind int

const (
	EventStarted EventKind = iota
	EventEnded
	EventErrored
	EventCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventEnded:
		return "ended"
	case EventErrored:
		return "errored"
	case EventCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Event reports the lifecycle of an utterance. A cancelled utterance is not an
// error; Err is only set for EventErrored.
type Event struct {
	Kind      EventKind
	Utterance Utterance
	Err       error
}

type Options struct {
	// Voice is used when Speak is called without a language.
	Voice        string
	ResumePolicy string
	EventBuffer  int
}

type playback struct {
	utt    Utterance
	cancel context.CancelFunc
	done   chan struct{}
	lease  *device.Lease
}

// Channel serializes speech output. At most one utterance is active; Speak
// preempts the active one, never queues behind it.
type Channel struct {
	synth   Synthesizer
	sink    Sink
	speaker *device.Handle
	logger  *slog.Logger
	opts    Options
	events  chan Event

	// ops serializes Speak, Stop, Pause and Resume.
	ops sync.Mutex

	mu     sync.Mutex
	active *playback
	paused *Utterance
}

func NewChannel(synth Synthesizer, sink Sink, speaker *device.Handle, logger *slog.Logger, opts Options) *Channel {
	if synth == nil {
		synth = Noop{}
	}
	if sink == nil {
		sink = Discard{}
	}
	if speaker == nil {
		speaker = device.NewHandle("speaker")
	}
	if opts.ResumePolicy == "" {
		opts.ResumePolicy = ResumeNone
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 16
	}
	return &Channel{
		synth:   synth,
		sink:    sink,
		speaker: speaker,
		logger:  logger.With(slog.String("component", "tts"), slog.String("synth", synth.Name())),
		opts:    opts,
		events:  make(chan Event, opts.EventBuffer),
	}
}

// Speak says text, cancelling any active utterance first, and returns the
// utterance ID. Saying the text that is already playing is a no-op and
// returns the active ID. Without a synthesizer Speak returns "".
func (c *Channel) Speak(text, lang string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if !c.synth.Available() {
		c.logger.Debug("synthesizer unavailable, dropping utterance")
		return ""
	}
	if lang == "" {
		lang = c.opts.Voice
	}

	c.ops.Lock()
	defer c.ops.Unlock()

	c.mu.Lock()
	if c.active != nil && c.active.utt.Text == text && c.active.utt.Language == lang {
		id := c.active.utt.ID
		c.mu.Unlock()
		return id
	}
	prev := c.active
	c.active = nil
	c.paused = nil
	c.mu.Unlock()

	c.halt(prev)
	return c.start(Utterance{ID: uuid.NewString(), Text: text, Language: lang})
}

// Stop cancels the active utterance and returns once its audio has stopped.
func (c *Channel) Stop() {
	c.ops.Lock()
	defer c.ops.Unlock()

	c.mu.Lock()
	prev := c.active
	c.active = nil
	c.paused = nil
	c.mu.Unlock()
	c.halt(prev)
}

// Pause stops the active utterance and remembers it for Resume.
func (c *Channel) Pause() {
	c.ops.Lock()
	defer c.ops.Unlock()

	c.mu.Lock()
	prev := c.active
	c.active = nil
	if prev != nil {
		u := prev.utt
		c.paused = &u
	}
	c.mu.Unlock()
	c.halt(prev)
}

// Resume applies the resume policy to the utterance interrupted by Pause.
// With ResumeRestart it is spoken again from the start; with ResumeNone it is
// dropped. It reports whether anything was re-spoken.
func (c *Channel) Resume() bool {
	c.ops.Lock()
	defer c.ops.Unlock()

	c.mu.Lock()
	paused := c.paused
	c.paused = nil
	busy := c.active != nil
	c.mu.Unlock()

	if paused == nil || busy {
		return false
	}
	if c.opts.ResumePolicy != ResumeRestart {
		c.logger.Debug("dropping interrupted utterance", slog.String("utterance_id", paused.ID))
		return false
	}
	c.start(Utterance{ID: uuid.NewString(), Text: paused.Text, Language: paused.Language, Priority: paused.Priority})
	return true
}

// Active returns the utterance currently playing.
func (c *Channel) Active() (Utterance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return Utterance{}, false
	}
	return c.active.utt, true
}

func (c *Channel) Events() <-chan Event {
	return c.events
}

// start must be called with ops held and no active playback.
func (c *Channel) start(u Utterance) string {
	ctx, cancel := context.WithCancel(context.Background())
	pb := &playback{utt: u, cancel: cancel, done: make(chan struct{})}
	pb.lease = c.speaker.Acquire("tts:"+u.ID, cancel)

	c.mu.Lock()
	c.active = pb
	c.mu.Unlock()

	c.emit(Event{Kind: EventStarted, Utterance: u})
	go c.play(ctx, pb)
	return u.ID
}

// halt cancels pb and waits for its playback goroutine to exit.
func (c *Channel) halt(pb *playback) {
	if pb == nil {
		return
	}
	pb.cancel()
	<-pb.done
}

func (c *Channel) play(ctx context.Context, pb *playback) {
	defer close(pb.done)
	defer pb.lease.Release()

	chunks, errs := c.synth.Synthesize(ctx, SynthRequest{SessionID: pb.utt.ID, Text: pb.utt.Text, Language: pb.utt.Language})
	var failure error
	sequence := 0
loop:
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			chunk.Sequence = sequence
			sequence++
			if err := c.sink.Play(ctx, pb.utt.ID, chunk); err != nil && failure == nil {
				failure = err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && failure == nil {
				failure = err
			}
		case <-ctx.Done():
			break loop
		}
	}

	cancelled := ctx.Err() != nil
	c.sink.Done(pb.utt.ID, cancelled)
	pb.cancel()

	c.mu.Lock()
	if c.active == pb {
		c.active = nil
	}
	c.mu.Unlock()

	switch {
	case cancelled || errors.Is(failure, context.Canceled):
		c.emit(Event{Kind: EventCancelled, Utterance: pb.utt})
	case failure != nil:
		c.logger.Warn("tts synthesis error", slog.String("utterance_id", pb.utt.ID), slogError(failure))
		c.emit(Event{Kind: EventErrored, Utterance: pb.utt, Err: failure})
	default:
		c.emit(Event{Kind: EventEnded, Utterance: pb.utt})
	}
}

// emit never blocks; when the consumer is behind the oldest event is dropped.
func (c *Channel) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case c.events <- ev:
		return
	default:
	}
	select {
	case <-c.events:
	default:
	}
	select {
	case c.events <- ev:
	default:
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
