package stt

import (
	"context"
	"sync"
)

// MockRecognizer replays text injected with Say. It backs the daemon's mock
// mode (fed from the debug endpoint) and the tests.
type MockRecognizer struct {
	mu      sync.Mutex
	current chan Result
	starts  int
}

func NewMockRecognizer() *MockRecognizer {
	return &MockRecognizer{}
}

func (m *MockRecognizer) Name() string { return "mock" }

func (m *MockRecognizer) Available() bool { return true }

func (m *MockRecognizer) Recognize(ctx context.Context) (<-chan Result, error) {
	ch := make(chan Result, 32)
	m.mu.Lock()
	m.current = ch
	m.starts++
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.current == ch {
			m.current = nil
		}
		close(ch)
	}()
	return ch, nil
}

// Say delivers text to the active stream. It reports false when nothing is
// listening or the stream is full.
func (m *MockRecognizer) Say(text string, final bool) bool {
	return m.push(Result{Text: text, Final: final})
}

// Fail delivers a transient error.
func (m *MockRecognizer) Fail(err error) bool {
	return m.push(Result{Err: err})
}

// Starts counts Recognize calls.
func (m *MockRecognizer) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

func (m *MockRecognizer) push(r Result) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return false
	}
	select {
	case m.current <- r:
		return true
	default:
		return false
	}
}
