// Package screen names the kiosk screens and payment phases shared by the
// interpreter, the navigation state machine and the presenter protocol.
package screen

import "strings"

// Screen identifies what the kiosk is currently showing.
type Screen int

const (
	Home Screen = iota
	StaticQR
	DynamicQR
	TapPayment
	Success
	History
	Help
)

var screenNames = map[Screen]string{
	Home:       "home",
	StaticQR:   "static",
	DynamicQR:  "dynamic",
	TapPayment: "tap",
	Success:    "success",
	History:    "transactions",
	Help:       "help",
}

func (s Screen) String() string {
	if name, ok := screenNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsPayment reports whether the screen collects an amount.
func (s Screen) IsPayment() bool {
	return s == StaticQR || s == DynamicQR || s == TapPayment
}

// HoldsPayment reports whether a payment context must exist on this screen.
func (s Screen) HoldsPayment() bool {
	return s.IsPayment() || s == Success
}

// Method returns the transaction payment method for a payment screen.
func (s Screen) Method() string {
	if s.IsPayment() {
		return s.String()
	}
	return ""
}

// Parse resolves a screen name as used on the wire.
func Parse(name string) (Screen, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range screenNames {
		if n == name {
			return s, true
		}
	}
	if name == "history" {
		return History, true
	}
	return Home, false
}

// Phase is the progress of a payment screen.
type Phase int

const (
	NoPhase Phase = iota
	Input
	Display
	Waiting
)

func (p Phase) String() string {
	switch p {
	case Input:
		return "input"
	case Display:
		return "display"
	case Waiting:
		return "waiting"
	default:
		return "none"
	}
}
