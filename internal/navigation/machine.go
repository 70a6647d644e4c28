// Package navigation owns the kiosk screen and the in-flight payment.
//
// All mutations go through Apply, ApplyAt, Expire and HistoryLoaded. Each
// call returns an Outcome whose Effects the caller dispatches; a call that does
// not change state reports why in Outcome.Reason. The epoch counts screen and
// phase changes and is the token used to discard stale commands and timers.
//
// A Machine is not safe for concurrent use. The controller loop owns it.
package navigation

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/voicepay/internal/command"
	"github.com/loqalabs/voicepay/internal/haptics"
	"github.com/loqalabs/voicepay/internal/prompts"
	"github.com/loqalabs/voicepay/internal/screen"
)

// ErrStaleCommand is returned by ApplyAt when the command was computed against
// a screen or phase that is no longer current.
var ErrStaleCommand = errors.New("stale command")

// MaxAmountDigits bounds spoken or typed amounts.
const MaxAmountDigits = 12

// No-op reasons reported in Outcome.Reason.
const (
	ReasonUnrecognized   = "unrecognized command"
	ReasonAlreadyHome    = "already on home"
	ReasonNotFromHome    = "navigation is only available from home"
	ReasonBadTarget      = "target is not navigable"
	ReasonNotInput       = "amount entry is closed"
	ReasonWrongTrigger   = "trigger does not apply to this screen"
	ReasonAmountRequired = "amount required"
	ReasonAmountInvalid  = "amount invalid"
	ReasonAmountSame     = "amount unchanged"
	ReasonNotConfirmable = "nothing to confirm"
	ReasonStaleTimer     = "timer no longer applies"
	ReasonStaleHistory   = "history no longer shown"
)

// Payment is the in-flight amount and method for a payment or success screen.
type Payment struct {
	Method          screen.Screen
	Amount          int64
	ConfirmedAmount int64
	Phase           screen.Phase
}

// State is a copy of the machine's state. Warning is the inline prompt left
// by the last rejected input; it is presentation only.
type State struct {
	Screen       screen.Screen
	Payment      *Payment
	Epoch        uint64
	Code         string
	Warning      string
	HistoryCount int
}

// Phase returns the payment phase, or NoPhase off payment screens.
func (s State) Phase() screen.Phase {
	if s.Payment == nil || s.Screen == screen.Success {
		return screen.NoPhase
	}
	return s.Payment.Phase
}

// Snapshot is the context a command was computed against.
type Snapshot struct {
	Screen screen.Screen
	Phase  screen.Phase
	Epoch  uint64
}

func (s State) Snapshot() Snapshot {
	return Snapshot{Screen: s.Screen, Phase: s.Phase(), Epoch: s.Epoch}
}

// Outcome reports what a call did.
type Outcome struct {
	Changed bool
	Reason  string
	Effects []Effect
}

// CodeSource renders QR payloads.
type CodeSource interface {
	Static() string
	Dynamic(amount int64) string
}

type Options struct {
	Prompts        *prompts.Catalog
	Codes          CodeSource
	SuccessTimeout time.Duration
	GreetingDelay  time.Duration
}

// Machine is the navigation state machine. The zero value is not usable; use New.
type Machine struct {
	opts  Options
	state State
}

func New(opts Options) *Machine {
	if opts.Prompts == nil {
		opts.Prompts = prompts.New("id-ID")
	}
	if opts.SuccessTimeout <= 0 {
		opts.SuccessTimeout = 3 * time.Second
	}
	if opts.GreetingDelay < 0 {
		opts.GreetingDelay = 0
	}
	return &Machine{opts: opts, state: State{Screen: screen.Home}}
}

func (m *Machine) State() State {
	s := m.state
	if s.Payment != nil {
		p := *s.Payment
		s.Payment = &p
	}
	return s
}

// ApplyAt applies cmd only if snap is still current.
func (m *Machine) ApplyAt(snap Snapshot, cmd command.Command) (Outcome, error) {
	if snap.Epoch != m.state.Epoch {
		return Outcome{Reason: ErrStaleCommand.Error()}, ErrStaleCommand
	}
	return m.Apply(cmd), nil
}

// Apply applies cmd against the current state.
func (m *Machine) Apply(cmd command.Command) Outcome {
	switch cmd.Kind {
	case command.Cancel:
		return m.cancel()
	case command.Navigate:
		return m.navigate(cmd.Target)
	case command.SetAmountDigits:
		return m.setAmount(cmd.Digits)
	case command.GenerateCode, command.Activate:
		return m.trigger(cmd)
	case command.ConfirmPayment:
		return m.confirm()
	default:
		return noop(ReasonUnrecognized)
	}
}

// Expire handles a timer started with the given epoch.
func (m *Machine) Expire(kind TimerKind, epoch uint64) Outcome {
	if epoch != m.state.Epoch {
		return noop(ReasonStaleTimer)
	}
	switch kind {
	case TimerReturnHome:
		if m.state.Screen != screen.Success {
			return noop(ReasonStaleTimer)
		}
		// The payment confirmation is left to finish.
		m.state = State{Screen: screen.Home, Epoch: m.state.Epoch + 1}
		return Outcome{Changed: true}
	case TimerGreeting:
		text := m.greeting()
		if text == "" {
			return noop(ReasonStaleTimer)
		}
		return Outcome{Effects: []Effect{m.speak(text)}}
	default:
		return noop(ReasonStaleTimer)
	}
}

// HistoryLoaded records the transaction count for the history screen entered
// at epoch and schedules its greeting.
func (m *Machine) HistoryLoaded(epoch uint64, count int) Outcome {
	if epoch != m.state.Epoch || m.state.Screen != screen.History {
		return noop(ReasonStaleHistory)
	}
	m.state.HistoryCount = count
	return Outcome{Changed: true, Effects: []Effect{m.greetingTimer()}}
}

func (m *Machine) cancel() Outcome {
	if m.state.Screen == screen.Home {
		return noop(ReasonAlreadyHome)
	}
	m.state = State{Screen: screen.Home, Epoch: m.state.Epoch + 1}
	return Outcome{Changed: true, Effects: []Effect{StopSpeech{}, Vibrate{Pattern: haptics.Tap}}}
}

func (m *Machine) navigate(target screen.Screen) Outcome {
	if target == screen.Home {
		return m.cancel()
	}
	if m.state.Screen != screen.Home {
		return noop(ReasonNotFromHome)
	}
	next := State{Screen: target, Epoch: m.state.Epoch + 1}
	effects := []Effect{Vibrate{Pattern: haptics.Tap}}
	switch {
	case target.IsPayment():
		next.Payment = &Payment{Method: target, Phase: screen.Input}
		m.state = next
		effects = append(effects, m.greetingTimer())
	case target == screen.History:
		m.state = next
		effects = append(effects, LoadHistory{Epoch: next.Epoch})
	case target == screen.Help:
		m.state = next
		effects = append(effects, m.greetingTimer())
	default:
		return noop(ReasonBadTarget)
	}
	return Outcome{Changed: true, Effects: effects}
}

func (m *Machine) setAmount(digits string) Outcome {
	p := m.inputPayment()
	if p == nil {
		return noop(ReasonNotInput)
	}
	amount, ok := parseAmount(digits)
	if !ok {
		return m.reject(ReasonAmountInvalid)
	}
	if amount == p.Amount {
		return noop(ReasonAmountSame)
	}
	p.Amount = amount
	m.state.Warning = ""
	return Outcome{Changed: true}
}

func (m *Machine) trigger(cmd command.Command) Outcome {
	p := m.inputPayment()
	if p == nil {
		return noop(ReasonNotInput)
	}
	isTap := p.Method == screen.TapPayment
	if isTap != (cmd.Kind == command.Activate) {
		return noop(ReasonWrongTrigger)
	}
	amount := p.Amount
	if cmd.Digits != "" {
		v, ok := parseAmount(cmd.Digits)
		if !ok {
			return m.reject(ReasonAmountInvalid)
		}
		amount = v
	}
	if amount <= 0 {
		return m.reject(ReasonAmountRequired)
	}

	p.Amount = amount
	p.ConfirmedAmount = amount
	m.state.Warning = ""
	m.state.Epoch++

	effects := []Effect{Vibrate{Pattern: haptics.Notification}}
	switch p.Method {
	case screen.StaticQR:
		p.Phase = screen.Display
		m.state.Code = m.code(func(c CodeSource) string { return c.Static() })
		effects = append(effects, ShowCode{Payload: m.state.Code}, m.speak(m.opts.Prompts.StaticReady(amount)))
	case screen.DynamicQR:
		p.Phase = screen.Display
		m.state.Code = m.code(func(c CodeSource) string { return c.Dynamic(amount) })
		effects = append(effects, ShowCode{Payload: m.state.Code}, m.speak(m.opts.Prompts.DynamicReady(amount)))
	case screen.TapPayment:
		p.Phase = screen.Waiting
		effects = append(effects, m.speak(m.opts.Prompts.TapReady(amount)))
	}
	return Outcome{Changed: true, Effects: effects}
}

func (m *Machine) confirm() Outcome {
	p := m.state.Payment
	if p == nil || !m.state.Screen.IsPayment() || (p.Phase != screen.Display && p.Phase != screen.Waiting) {
		return noop(ReasonNotConfirmable)
	}
	method := m.state.Screen.Method()
	amount := p.ConfirmedAmount
	m.state.Screen = screen.Success
	m.state.Code = ""
	m.state.Epoch++
	return Outcome{Changed: true, Effects: []Effect{
		PersistTransaction{Amount: strconv.FormatInt(amount, 10), PaymentMethod: method, Status: "success"},
		Vibrate{Pattern: haptics.Payment},
		m.speak(m.opts.Prompts.PaymentReceived(amount)),
		StartTimer{Kind: TimerReturnHome, After: m.opts.SuccessTimeout, Epoch: m.state.Epoch},
	}}
}

// reject leaves state untouched apart from the inline warning.
func (m *Machine) reject(reason string) Outcome {
	msg := m.opts.Prompts.EnterAmount()
	m.state.Warning = msg
	return Outcome{Reason: reason, Effects: []Effect{Warn{Message: msg}, Vibrate{Pattern: haptics.Error}}}
}

func (m *Machine) inputPayment() *Payment {
	if !m.state.Screen.IsPayment() || m.state.Payment == nil || m.state.Payment.Phase != screen.Input {
		return nil
	}
	return m.state.Payment
}

func (m *Machine) greeting() string {
	c := m.opts.Prompts
	switch m.state.Screen {
	case screen.StaticQR, screen.DynamicQR:
		if m.state.Payment != nil && m.state.Payment.Phase == screen.Input {
			return c.QRInput()
		}
	case screen.TapPayment:
		if m.state.Payment != nil && m.state.Payment.Phase == screen.Input {
			return c.TapInput()
		}
	case screen.Help:
		return c.Help()
	case screen.History:
		return c.History(m.state.HistoryCount)
	}
	return ""
}

func (m *Machine) greetingTimer() Effect {
	return StartTimer{Kind: TimerGreeting, After: m.opts.GreetingDelay, Epoch: m.state.Epoch}
}

func (m *Machine) speak(text string) Effect {
	return Speak{Text: text, Language: m.opts.Prompts.Language()}
}

func (m *Machine) code(render func(CodeSource) string) string {
	if m.opts.Codes == nil {
		return ""
	}
	return render(m.opts.Codes)
}

func noop(reason string) Outcome {
	return Outcome{Reason: reason}
}

// parseAmount accepts one to MaxAmountDigits ASCII digits. Leading zeros are
// dropped, so "0" and "000" both yield zero.
func parseAmount(digits string) (int64, bool) {
	if digits == "" || len(digits) > MaxAmountDigits || strings.Trim(digits, "0123456789") != "" {
		return 0, false
	}
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
