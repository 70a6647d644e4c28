// Package haptics fires named vibration patterns on the kiosk device.
// Vibration is best effort: there is no acknowledgment and no state.
package haptics

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the host has no vibration capability.
var ErrUnavailable = errors.New("haptics unavailable")

// Pattern names a vibration sequence.
type Pattern string

const (
	Success      Pattern = "success"
	Error        Pattern = "error"
	Tap          Pattern = "tap"
	Notification Pattern = "notification"
	Payment      Pattern = "payment"
)

// Alternating on/off pulse lengths in milliseconds.
var pulses = map[Pattern][]int{
	Success:      {100, 50, 100, 50, 200},
	Error:        {500},
	Tap:          {50},
	Notification: {200, 100, 200},
	Payment:      {150, 75, 150, 75, 300},
}

// Pulses returns a copy of the pattern's pulse vector, or nil for an unknown name.
func (p Pattern) Pulses() []int {
	v, ok := pulses[p]
	if !ok {
		return nil
	}
	return append([]int(nil), v...)
}

// Vibrator drives the device motor.
type Vibrator interface {
	Name() string
	Vibrate(ctx context.Context, p Pattern) error
}

// Noop is the default when no motor is configured.
type Noop struct{}

var _ Vibrator = Noop{}

func (Noop) Name() string { return "noop" }

func (Noop) Vibrate(context.Context, Pattern) error { return ErrUnavailable }
