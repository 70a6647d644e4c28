package device

import "testing"

func TestAcquirePreemptsPreviousOwner(t *testing.T) {
	h := NewHandle("microphone")
	preempted := 0
	first := h.Acquire("session-a", func() { preempted++ })
	if !first.Valid() || h.Owner() != "session-a" {
		t.Fatalf("expected session-a to own the handle, got %q", h.Owner())
	}

	second := h.Acquire("session-b", nil)
	if preempted != 1 {
		t.Fatalf("expected one preemption, got %d", preempted)
	}
	if first.Valid() {
		t.Fatal("preempted lease must not be valid")
	}
	if !second.Valid() || h.Owner() != "session-b" {
		t.Fatalf("expected session-b to own the handle, got %q", h.Owner())
	}

	first.Release()
	if h.Owner() != "session-b" {
		t.Fatal("releasing a preempted lease must not free the handle")
	}
	second.Release()
	if h.Owner() != "" {
		t.Fatalf("expected free handle, got %q", h.Owner())
	}
	second.Release()
}

func TestPreemptCallbackMayRelease(t *testing.T) {
	h := NewHandle("speaker")
	var lease *Lease
	lease = h.Acquire("utterance-1", func() { lease.Release() })
	next := h.Acquire("utterance-2", nil)
	if !next.Valid() {
		t.Fatal("new lease should survive the old owner releasing in its callback")
	}
}

func TestNilLease(t *testing.T) {
	var l *Lease
	l.Release()
	if l.Valid() || l.Owner() != "" {
		t.Fatal("nil lease should be inert")
	}
}
