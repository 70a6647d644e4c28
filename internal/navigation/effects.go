package navigation

import (
	"time"

	"github.com/loqalabs/voicepay/internal/haptics"
)

// Effect is a side-effect request emitted by a transition. The machine never
// performs effects itself; the controller dispatches them.
type Effect interface {
	effect()
}

// Speak asks the speech output channel to say Text.
type Speak struct {
	Text     string
	Language string
}

// StopSpeech cancels any in-flight utterance.
type StopSpeech struct{}

// Vibrate fires a haptic pattern.
type Vibrate struct {
	Pattern haptics.Pattern
}

// PersistTransaction records a completed payment. Fields match the
// transaction API body.
type PersistTransaction struct {
	Amount        string
	PaymentMethod string
	Status        string
}

// Warn is a soft inline prompt for invalid user input.
type Warn struct {
	Message string
}

// StartTimer schedules Expire(Kind, Epoch) after After.
type StartTimer struct {
	Kind  TimerKind
	After time.Duration
	Epoch uint64
}

// ShowCode carries the QR payload to render.
type ShowCode struct {
	Payload string
}

// LoadHistory asks for the transaction list; answer with HistoryLoaded(Epoch, n).
type LoadHistory struct {
	Epoch uint64
}

func (Speak) effect()              {}
func (StopSpeech) effect()         {}
func (Vibrate) effect()            {}
func (PersistTransaction) effect() {}
func (Warn) effect()               {}
func (StartTimer) effect()         {}
func (ShowCode) effect()           {}
func (LoadHistory) effect()        {}

// TimerKind names a screen-scoped timer.
type TimerKind int

const (
	// TimerReturnHome leaves the success screen.
	TimerReturnHome TimerKind = iota
	// TimerGreeting speaks the screen prompt after a short delay.
	TimerGreeting
)

func (k TimerKind) String() string {
	switch k {
	case TimerReturnHome:
		return "return_home"
	case TimerGreeting:
		return "greeting"
	default:
		return "unknown"
	}
}
