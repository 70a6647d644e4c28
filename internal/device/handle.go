// Package device models the kiosk's singleton audio resources as explicitly
// owned handles. A handle has at most one owner; acquiring it preempts the
// previous owner, whose release callback runs before Acquire returns.
package device

import (
	"sync"

	"github.com/google/uuid"
)

// Lease is proof of ownership returned by Acquire.
type Lease struct {
	id     string
	owner  string
	handle *Handle
}

// Owner is the name passed to Acquire.
func (l *Lease) Owner() string {
	if l == nil {
		return ""
	}
	return l.owner
}

// Release gives the handle back. Releasing a preempted lease does nothing.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.handle.release(l.id)
}

// Valid reports whether the lease still owns the handle.
func (l *Lease) Valid() bool {
	if l == nil {
		return false
	}
	return l.handle.holds(l.id)
}

// Handle is an exclusive resource such as the microphone or the speaker.
type Handle struct {
	name string

	mu      sync.Mutex
	current string
	owner   string
	revoke  func()
}

func NewHandle(name string) *Handle {
	return &Handle{name: name}
}

func (h *Handle) Name() string { return h.name }

// Acquire takes the handle for owner. If another lease holds it, that lease's
// onPreempt runs synchronously first, outside the handle lock.
func (h *Handle) Acquire(owner string, onPreempt func()) *Lease {
	h.mu.Lock()
	prev := h.revoke
	id := uuid.NewString()
	h.current = id
	h.owner = owner
	h.revoke = onPreempt
	h.mu.Unlock()

	if prev != nil {
		prev()
	}
	return &Lease{id: id, owner: owner, handle: h}
}

// Owner returns the current owner name, or "" when free.
func (h *Handle) Owner() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.owner
}

func (h *Handle) release(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != id {
		return
	}
	h.current = ""
	h.owner = ""
	h.revoke = nil
}

func (h *Handle) holds(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current == id
}
