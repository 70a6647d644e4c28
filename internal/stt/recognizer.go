package stt

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the host has no recognition capability.
var ErrUnavailable = errors.New("speech recognition unavailable")

// Result is one recognition callback. Err marks a transient failure; the
// stream stays open after it.
type Result struct {
	Text       string
	Final      bool
	Confidence float64
	Err        error
}

// Recognizer abstracts STT backends. Recognize streams results until ctx is
// cancelled or the backend ends, then closes the channel.
type Recognizer interface {
	Name() string
	Available() bool
	Recognize(ctx context.Context) (<-chan Result, error)
}

// Noop is selected when recognition is disabled.
type Noop struct{}

var _ Recognizer = Noop{}

func (Noop) Name() string { return "noop" }

func (Noop) Available() bool { return false }

func (Noop) Recognize(context.Context) (<-chan Result, error) { return nil, ErrUnavailable }
