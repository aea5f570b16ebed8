package testable

import (
	"context"

	"github.com/c360/varnet/errors"
)

// Handle is one goroutine's access to the scheduler lock. Each module goroutine owns
// exactly one handle and uses it from that goroutine only.
type Handle struct {
	sched  *Scheduler
	name   string
	held   bool
	busy   bool
	closed bool
}

// Name returns the goroutine name.
func (h *Handle) Name() string { return h.name }

// Held reports whether the handle currently holds the lock.
func (h *Handle) Held() bool {
	h.sched.mu.Lock()
	defer h.sched.mu.Unlock()
	return h.held
}

// Lock acquires the global lock, waiting until ctx is done. It marks the goroutine busy.
func (h *Handle) Lock(ctx context.Context) error {
	s := h.sched
	if !s.enabled.Load() || h.Held() {
		return nil
	}
	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Handle", "Lock", h.name)
	}
	s.mu.Lock()
	h.held = true
	if !h.busy {
		h.busy = true
		s.busy.Add(1)
	}
	s.holder = h.name
	s.mu.Unlock()
	s.state.Store(int32(OneThreadActive))
	s.events.Add(1)
	return nil
}

// Unlock releases the lock before a blocking wait and marks the goroutine parked.
func (h *Handle) Unlock() {
	s := h.sched
	if !s.enabled.Load() {
		return
	}
	s.mu.Lock()
	if h.busy {
		h.busy = false
		s.busy.Add(-1)
	}
	wasHeld := h.held
	h.held = false
	if s.holder == h.name {
		s.holder = ""
	}
	s.mu.Unlock()
	if wasHeld {
		s.state.Store(int32(Released))
		<-s.lock
	}
	s.events.Add(1)
}

// Close parks the goroutine for good. Call it when the goroutine exits.
func (h *Handle) Close() {
	if h.closed {
		return
	}
	h.closed = true
	h.Unlock()
}
