// Package controller runs the kiosk's voice interaction loop.
//
// One goroutine owns the navigation machine and the floor manager. Transcript
// updates, speech lifecycle events, timer expiries and presenter commands all
// arrive as events and are handled one at a time, so a command is always
// interpreted against the screen and phase in effect when it is applied.
// Blocking work (ledger calls, haptics) runs on helper goroutines that post
// their results back as events.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/voicepay/internal/command"
	"github.com/loqalabs/voicepay/internal/eventstore"
	"github.com/loqalabs/voicepay/internal/floor"
	"github.com/loqalabs/voicepay/internal/haptics"
	"github.com/loqalabs/voicepay/internal/navigation"
	"github.com/loqalabs/voicepay/internal/screen"
	"github.com/loqalabs/voicepay/internal/stt"
	"github.com/loqalabs/voicepay/internal/transactions"
	"github.com/loqalabs/voicepay/internal/tts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrClosed is returned by Submit and SetListening once Run has returned.
var ErrClosed = errors.New("controller closed")

// Command sources, used in logs, metrics and the journal.
const (
	SourceVoice = "voice"
	SourceUI    = "ui"
)

// Listener is the speech input session.
type Listener interface {
	Start(ctx context.Context) bool
	Stop()
	IsListening() bool
	// SessionID names the current or last listening session.
	SessionID() string
	Updates() <-chan stt.Update
}

// Speaker is the speech output channel.
type Speaker interface {
	Speak(text, lang string) string
	Stop()
	Pause()
	Resume() bool
	Active() (tts.Utterance, bool)
	Events() <-chan tts.Event
}

var (
	_ Listener = (*stt.Session)(nil)
	_ Speaker  = (*tts.Channel)(nil)
)

// View is what the presenter renders.
type View struct {
	Screen          screen.Screen
	Phase           screen.Phase
	Epoch           uint64
	Method          string
	Amount          int64
	ConfirmedAmount int64
	Code            string
	Warning         string
	HistoryCount    int
	Listening       bool
	Transcript      string
	Speaking        string
}

type Options struct {
	Language  string
	QueueSize int
	Clock     Clock
	Vibrator  haptics.Vibrator
	Ledger    transactions.Ledger
	Journal   *eventstore.Store
	// OnChange is called on the loop goroutine whenever the view changes.
	// It must not block.
	OnChange func(View)
}

type Controller struct {
	machine  *navigation.Machine
	listener Listener
	speaker  Speaker
	floor    *floor.Manager
	logger   *slog.Logger
	opts     Options
	journal  *journal
	metrics  *instruments
	tracer   trace.Tracer

	events    chan event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	view      atomic.Pointer[View]

	// Loop-owned state.
	ctx        context.Context
	uiSession  string
	// micSession is the listening session the floor belongs to; updates
	// from any other session are left over from an earlier toggle.
	micSession string
	micOpened  time.Time
	voice      voiceWindow
	utterance  tts.Utterance
	timers     map[navigation.TimerKind]*pendingTimer
	lastView   View
	lastEpoch  uint64
}

// voiceWindow tracks the listening session being interpreted. consumed counts
// transcript words already acted upon.
type voiceWindow struct {
	session    string
	transcript string
	words      int
	consumed   int
}

type pendingTimer struct {
	timer Timer
	epoch uint64
}

func New(machine *navigation.Machine, listener Listener, speaker Speaker, logger *slog.Logger, opts Options) *Controller {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Vibrator == nil {
		opts.Vibrator = haptics.Noop{}
	}
	logger = logger.With(slog.String("component", "controller"))
	if listener == nil {
		listener = stt.NewSession(stt.Noop{}, nil, logger, stt.Options{Language: opts.Language})
	}
	if speaker == nil {
		speaker = tts.NewChannel(tts.Noop{}, nil, nil, logger, tts.Options{Voice: opts.Language})
	}
	c := &Controller{
		machine:   machine,
		listener:  listener,
		speaker:   speaker,
		floor:     floor.New(),
		logger:    logger,
		opts:      opts,
		journal:   newJournal(opts.Journal, logger, 256),
		metrics:   newInstruments(logger),
		tracer:    newTracer(),
		events:    make(chan event, opts.QueueSize),
		done:      make(chan struct{}),
		uiSession: uuid.NewString(),
		timers:    make(map[navigation.TimerKind]*pendingTimer),
	}
	v := c.buildView()
	c.view.Store(&v)
	c.lastView = v
	return c
}

// Run drives the loop until ctx is cancelled. It must be called once.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	c.lastEpoch = c.machine.State().Epoch
	c.journal.openSession(c.uiSession, SourceUI, c.opts.Language)
	c.logger.Info("controller started", slog.String("session_id", c.uiSession))
	c.notify()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case u := <-c.listener.Updates():
			c.handleTranscript(ctx, u)
		case ev := <-c.speaker.Events():
			c.handleSpeech(ev)
		case ev := <-c.events:
			if reply := c.handle(ctx, ev); reply != nil {
				c.afterStep()
				reply()
				continue
			}
		}
		c.afterStep()
	}
}

// Submit applies a presenter command rendered against epoch and waits for the
// result. A command whose epoch is no longer current is discarded with
// navigation.ErrStaleCommand.
func (c *Controller) Submit(ctx context.Context, cmd command.Command, epoch uint64) (navigation.Outcome, error) {
	reply := make(chan applyResult, 1)
	if err := c.send(ctx, uiCommand{cmd: cmd, epoch: epoch, reply: reply}); err != nil {
		return navigation.Outcome{}, err
	}
	select {
	case res := <-reply:
		return res.outcome, res.err
	case <-ctx.Done():
		return navigation.Outcome{}, ctx.Err()
	case <-c.done:
		return navigation.Outcome{}, ErrClosed
	}
}

// SetListening starts or stops the microphone and reports whether it is
// listening afterwards. Without a recognizer it stays false.
func (c *Controller) SetListening(ctx context.Context, on bool) (bool, error) {
	reply := make(chan bool, 1)
	if err := c.send(ctx, listenRequest{on: on, reply: reply}); err != nil {
		return false, err
	}
	select {
	case listening := <-reply:
		return listening, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-c.done:
		return false, ErrClosed
	}
}

// View returns the latest published view. Safe for concurrent use.
func (c *Controller) View() View {
	return *c.view.Load()
}

func (c *Controller) send(ctx context.Context, ev event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// post is used by timers and helper goroutines.
func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// handle returns the reply for request events; the loop sends it once the
// view reflects the request.
func (c *Controller) handle(ctx context.Context, ev event) func() {
	switch ev := ev.(type) {
	case uiCommand:
		out, err := c.applyUI(ctx, ev)
		return func() { ev.reply <- applyResult{outcome: out, err: err} }
	case listenRequest:
		if ev.on {
			c.startListening(ctx)
		} else {
			c.stopListening()
		}
		listening := c.floor.Listening()
		return func() { ev.reply <- listening }
	case timerFired:
		c.expire(ctx, ev)
	case historyLoaded:
		c.historyLoaded(ctx, ev)
	case persisted:
		c.persisted(ev)
	default:
		c.logger.Warn("unknown event", slog.String("type", fmt.Sprintf("%T", ev)))
	}
	return nil
}

func (c *Controller) applyUI(ctx context.Context, ev uiCommand) (navigation.Outcome, error) {
	before := c.machine.State()
	ctx, span := c.tracer.Start(ctx, "kiosk.apply", trace.WithAttributes(
		attribute.String("source", SourceUI),
		attribute.String("command", ev.cmd.Kind.String()),
		attribute.Int64("epoch", int64(ev.epoch)),
	))
	defer span.End()

	out, err := c.machine.ApplyAt(navigation.Snapshot{Screen: before.Screen, Phase: before.Phase(), Epoch: ev.epoch}, ev.cmd)
	if errors.Is(err, navigation.ErrStaleCommand) {
		span.SetAttributes(attribute.Bool("stale", true))
		c.discardStale(ctx, SourceUI, c.uiSession, ev.cmd, ev.epoch, before)
		return out, err
	}
	c.outcome(ctx, SourceUI, c.uiSession, ev.cmd, before, out)
	return out, nil
}

func (c *Controller) discardStale(ctx context.Context, source, session string, cmd command.Command, epoch uint64, current navigation.State) {
	c.metrics.stale(ctx, source)
	c.logger.Info("discarding stale command",
		slog.String("source", source),
		slog.String("command", cmd.String()),
		slog.Uint64("command_epoch", epoch),
		slog.Uint64("epoch", current.Epoch))
	c.journal.record(eventstore.Entry{
		SessionID: session,
		Kind:      eventstore.KindStale,
		Screen:    current.Screen.String(),
		Phase:     current.Phase().String(),
		Epoch:     epoch,
		Detail:    cmd.String(),
	})
}

// outcome journals and dispatches the result of an applied command.
func (c *Controller) outcome(ctx context.Context, source, session string, cmd command.Command, before navigation.State, out navigation.Outcome) {
	c.metrics.command(ctx, source, cmd.Kind.String(), out.Changed)
	after := c.machine.State()
	detail := cmd.String()
	if out.Reason != "" {
		detail += ": " + out.Reason
	}
	c.journal.record(eventstore.Entry{
		SessionID: session,
		Kind:      eventstore.KindCommand,
		Screen:    before.Screen.String(),
		Phase:     before.Phase().String(),
		Epoch:     before.Epoch,
		Detail:    detail,
	})
	if after.Epoch != before.Epoch {
		c.logger.Info("screen changed",
			slog.String("source", source),
			slog.String("command", cmd.String()),
			slog.String("from", before.Screen.String()),
			slog.String("to", after.Screen.String()),
			slog.String("phase", after.Phase().String()),
			slog.Uint64("epoch", after.Epoch))
		c.journal.record(eventstore.Entry{
			SessionID: session,
			Kind:      eventstore.KindTransition,
			Screen:    after.Screen.String(),
			Phase:     after.Phase().String(),
			Epoch:     after.Epoch,
			Detail:    before.Screen.String() + " -> " + after.Screen.String(),
		})
	} else if out.Reason != "" {
		c.logger.Debug("command not applied",
			slog.String("source", source),
			slog.String("command", cmd.String()),
			slog.String("reason", out.Reason))
	}
	c.dispatch(ctx, session, out.Effects)
}

func (c *Controller) dispatch(ctx context.Context, session string, effects []navigation.Effect) {
	for _, eff := range effects {
		switch eff := eff.(type) {
		case navigation.Speak:
			c.speak(floor.Request{Text: eff.Text, Language: eff.Language})
		case navigation.StopSpeech:
			c.stopSpeech()
		case navigation.Vibrate:
			c.vibrate(eff.Pattern)
		case navigation.PersistTransaction:
			c.persist(session, eff)
		case navigation.Warn:
			c.metrics.rejected(ctx)
			state := c.machine.State()
			c.logger.Info("invalid input", slog.String("screen", state.Screen.String()), slog.String("warning", eff.Message))
			c.journal.record(eventstore.Entry{
				SessionID: session,
				Kind:      eventstore.KindWarning,
				Screen:    state.Screen.String(),
				Phase:     state.Phase().String(),
				Epoch:     state.Epoch,
				Detail:    eff.Message,
			})
		case navigation.StartTimer:
			c.schedule(eff)
		case navigation.ShowCode:
			c.logger.Debug("showing payment code", slog.Int("payload_bytes", len(eff.Payload)))
		case navigation.LoadHistory:
			c.loadHistory(eff.Epoch)
		default:
			c.logger.Warn("unknown effect", slog.String("type", fmt.Sprintf("%T", eff)))
		}
	}
}

// speak routes req through the floor manager; while listening it is held
// until the microphone closes.
func (c *Controller) speak(req floor.Request) {
	d := c.floor.OnSpeakRequest(req)
	if d.Speak == nil {
		c.logger.Debug("speech held", slog.String("reason", d.Reason), slog.String("text", req.Text))
		return
	}
	c.say(*d.Speak)
}

func (c *Controller) say(req floor.Request) {
	id := c.speaker.Speak(req.Text, req.Language)
	if id == "" {
		return
	}
	c.floor.OnTTSStarted(id)
	c.utterance = tts.Utterance{ID: id, Text: req.Text, Language: req.Language}
}

func (c *Controller) stopSpeech() {
	d := c.floor.OnStopRequest()
	c.logger.Debug("speech stopped", slog.String("utterance_id", d.StopUtteranceID), slog.String("reason", d.Reason))
	c.speaker.Stop()
	if d.StopUtteranceID != "" {
		c.floor.OnTTSStopped(d.StopUtteranceID)
	}
	c.utterance = tts.Utterance{}
}

func (c *Controller) vibrate(p haptics.Pattern) {
	ctx := c.ctx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		vctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := c.opts.Vibrator.Vibrate(vctx, p); err != nil {
			if errors.Is(err, haptics.ErrUnavailable) {
				return
			}
			c.logger.Warn("haptic feedback failed", slog.String("pattern", string(p)), slogError(err))
		}
	}()
}

func (c *Controller) persist(session string, eff navigation.PersistTransaction) {
	if c.opts.Ledger == nil {
		c.logger.Warn("no ledger configured, payment not recorded", slog.String("amount", eff.Amount))
		return
	}
	in := transactions.NewTransaction{Amount: eff.Amount, PaymentMethod: eff.PaymentMethod, Status: eff.Status}
	ctx := c.ctx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		tx, err := c.opts.Ledger.Create(pctx, in)
		c.post(persisted{session: session, input: in, tx: tx, err: err})
	}()
}

func (c *Controller) persisted(ev persisted) {
	if ev.err != nil {
		c.logger.Error("failed to record transaction",
			slog.String("amount", ev.input.Amount),
			slog.String("method", ev.input.PaymentMethod),
			slogError(ev.err))
		return
	}
	if amount, err := strconv.ParseInt(ev.tx.Amount, 10, 64); err == nil {
		c.metrics.payment(c.ctx, ev.tx.PaymentMethod, amount)
	}
	c.logger.Info("transaction recorded",
		slog.String("id", ev.tx.ID),
		slog.String("amount", ev.tx.Amount),
		slog.String("method", ev.tx.PaymentMethod))
	c.journal.record(eventstore.Entry{
		SessionID: ev.session,
		Kind:      eventstore.KindPayment,
		Screen:    screen.Success.String(),
		Detail:    ev.tx.ID + " " + ev.tx.PaymentMethod + " " + ev.tx.Amount,
	})
}

func (c *Controller) loadHistory(epoch uint64) {
	ctx := c.ctx
	ledger := c.opts.Ledger
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if ledger == nil {
			c.post(historyLoaded{epoch: epoch})
			return
		}
		lctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		list, err := ledger.List(lctx)
		c.post(historyLoaded{epoch: epoch, count: len(list), err: err})
	}()
}

func (c *Controller) historyLoaded(ctx context.Context, ev historyLoaded) {
	if ev.err != nil {
		c.logger.Warn("failed to load transaction history", slogError(ev.err))
	}
	out := c.machine.HistoryLoaded(ev.epoch, ev.count)
	if !out.Changed {
		c.logger.Debug("history result ignored", slog.String("reason", out.Reason))
		return
	}
	c.dispatch(ctx, c.uiSession, out.Effects)
}

// schedule replaces any pending timer of the same kind.
func (c *Controller) schedule(t navigation.StartTimer) {
	if prev, ok := c.timers[t.Kind]; ok {
		prev.timer.Stop()
	}
	kind, epoch := t.Kind, t.Epoch
	c.timers[t.Kind] = &pendingTimer{
		epoch: epoch,
		timer: c.opts.Clock.AfterFunc(t.After, func() { c.post(timerFired{kind: kind, epoch: epoch}) }),
	}
}

func (c *Controller) expire(ctx context.Context, ev timerFired) {
	if p, ok := c.timers[ev.kind]; ok && p.epoch == ev.epoch {
		delete(c.timers, ev.kind)
	}
	before := c.machine.State()
	out := c.machine.Expire(ev.kind, ev.epoch)
	if out.Reason != "" {
		c.logger.Debug("timer ignored", slog.String("timer", ev.kind.String()), slog.String("reason", out.Reason))
		return
	}
	if out.Changed {
		after := c.machine.State()
		c.logger.Info("screen changed",
			slog.String("source", "timer"),
			slog.String("timer", ev.kind.String()),
			slog.String("from", before.Screen.String()),
			slog.String("to", after.Screen.String()),
			slog.Uint64("epoch", after.Epoch))
		c.journal.record(eventstore.Entry{
			SessionID: c.uiSession,
			Kind:      eventstore.KindTransition,
			Screen:    after.Screen.String(),
			Phase:     after.Phase().String(),
			Epoch:     after.Epoch,
			Detail:    ev.kind.String(),
		})
	}
	c.dispatch(ctx, c.uiSession, out.Effects)
}

// cancelTimers drops timers started for an earlier epoch.
func (c *Controller) cancelTimers(epoch uint64) {
	for kind, p := range c.timers {
		if p.epoch != epoch {
			p.timer.Stop()
			delete(c.timers, kind)
		}
	}
}

func (c *Controller) startListening(ctx context.Context) {
	if c.floor.Listening() {
		if c.listener.IsListening() {
			return
		}
		// The session ended and its stop update was dropped.
		c.listeningEnded()
	}
	d := c.floor.OnListenStart()
	if d.PauseSpeech {
		c.speaker.Pause()
		c.floor.OnTTSStopped(d.StopUtteranceID)
		c.utterance = tts.Utterance{}
	}
	if !c.listener.Start(ctx) {
		c.logger.Debug("speech input unavailable")
		c.listeningEnded()
		return
	}
	c.micSession = c.listener.SessionID()
	c.micOpened = time.Now()
}

func (c *Controller) stopListening() {
	c.listener.Stop()
	c.listeningEnded()
}

// listeningEnded hands the floor back to speech.
func (c *Controller) listeningEnded() {
	if !c.floor.Listening() {
		return
	}
	if c.micSession != "" {
		c.metrics.listened(c.ctx, time.Since(c.micOpened))
	}
	c.micSession = ""
	d := c.floor.OnListenStop()
	c.logger.Debug("listening ended", slog.String("reason", d.Reason))
	switch {
	case d.Speak != nil:
		c.say(*d.Speak)
	case d.Resume:
		if c.speaker.Resume() {
			if u, ok := c.speaker.Active(); ok {
				c.floor.OnTTSStarted(u.ID)
				c.utterance = u
			}
		}
	}
}

func (c *Controller) handleTranscript(ctx context.Context, u stt.Update) {
	if u.SessionID != c.micSession || c.micSession == "" {
		// Buffered before the session was stopped or replaced.
		return
	}
	if u.SessionID != c.voice.session {
		c.voice = voiceWindow{session: u.SessionID}
		if u.SessionID != "" {
			c.journal.openSession(u.SessionID, SourceVoice, c.opts.Language)
		}
	}
	words := strings.Fields(u.Transcript)
	c.voice.transcript = u.Transcript
	c.voice.words = len(words)
	if c.voice.consumed > len(words) {
		// An interim hypothesis shrank below what was already acted upon.
		c.voice.consumed = len(words)
	}

	if !u.Listening {
		c.listeningEnded()
		return
	}

	rest := strings.Join(words[c.voice.consumed:], " ")
	if rest == "" {
		return
	}
	before := c.machine.State()
	cmd := command.Interpret(rest, before.Screen, before.Phase())
	if cmd.Kind == command.Unrecognized {
		return
	}

	ctx, span := c.tracer.Start(ctx, "kiosk.apply", trace.WithAttributes(
		attribute.String("source", SourceVoice),
		attribute.String("command", cmd.Kind.String()),
		attribute.Bool("final", u.Final),
	))
	defer span.End()

	out, err := c.machine.ApplyAt(before.Snapshot(), cmd)
	if err != nil {
		c.discardStale(ctx, SourceVoice, u.SessionID, cmd, before.Epoch, c.machine.State())
		return
	}
	// Amount digits accumulate across updates; every other command consumes
	// the words that produced it.
	if cmd.Kind != command.SetAmountDigits {
		c.voice.consumed = len(words)
	}
	c.outcome(ctx, SourceVoice, u.SessionID, cmd, before, out)
}

func (c *Controller) handleSpeech(ev tts.Event) {
	switch ev.Kind {
	case tts.EventStarted:
		c.metrics.utterance(c.ctx, ev.Kind.String())
		c.journal.record(eventstore.Entry{SessionID: c.uiSession, Kind: eventstore.KindSpeech, Detail: ev.Utterance.Text})
		return
	case tts.EventErrored:
		c.logger.Warn("speech output failed", slog.String("utterance_id", ev.Utterance.ID), slogError(ev.Err))
	}
	c.metrics.utterance(c.ctx, ev.Kind.String())
	c.floor.OnTTSStopped(ev.Utterance.ID)
	if !c.floor.Speaking() {
		c.utterance = tts.Utterance{}
	}
}

// afterStep runs once per handled event.
func (c *Controller) afterStep() {
	epoch := c.machine.State().Epoch
	if epoch != c.lastEpoch {
		c.lastEpoch = epoch
		c.cancelTimers(epoch)
		// Words spoken for the previous screen must not act on this one.
		c.voice.consumed = c.voice.words
	}
	c.notify()
}

func (c *Controller) notify() {
	v := c.buildView()
	if v == c.lastView {
		return
	}
	c.lastView = v
	c.view.Store(&v)
	if c.opts.OnChange != nil {
		c.opts.OnChange(v)
	}
}

func (c *Controller) buildView() View {
	s := c.machine.State()
	v := View{
		Screen:       s.Screen,
		Phase:        s.Phase(),
		Epoch:        s.Epoch,
		Code:         s.Code,
		Warning:      s.Warning,
		HistoryCount: s.HistoryCount,
		Listening:    c.floor.Listening(),
		Speaking:     c.utterance.Text,
	}
	if s.Payment != nil {
		v.Method = s.Payment.Method.Method()
		v.Amount = s.Payment.Amount
		v.ConfirmedAmount = s.Payment.ConfirmedAmount
	}
	if v.Listening {
		v.Transcript = c.voice.transcript
	}
	return v
}

func (c *Controller) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
	for kind, p := range c.timers {
		p.timer.Stop()
		delete(c.timers, kind)
	}
	c.listener.Stop()
	c.speaker.Stop()
	c.wg.Wait()
	c.journal.close()
	c.logger.Info("controller stopped")
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
