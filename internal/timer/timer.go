// Package timer provides a single-purpose cancellable timer.
//
// A Timer holds at most one armed callback. Arming always cancels the
// previous handle first, and a callback that was already due when Cancel
// ran is dropped instead of firing late.
package timer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Timer is a cancellable one-shot timer with a single active handle.
type Timer struct {
	clock clockwork.Clock

	mu      sync.Mutex
	pending clockwork.Timer
	gen     uint64
	due     time.Time
}

// New creates a Timer driven by clock. A nil clock uses the real clock.
func New(clock clockwork.Clock) *Timer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Timer{clock: clock}
}

// Arm schedules fn to run after d, replacing any armed callback.
func (t *Timer) Arm(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()

	gen := t.gen
	t.due = t.clock.Now().Add(d)
	t.pending = t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		if t.gen != gen {
			t.mu.Unlock()
			return
		}
		t.pending = nil
		t.due = time.Time{}
		t.mu.Unlock()

		fn()
	})
}

// Cancel disarms the timer. It reports whether a callback was armed.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	armed := t.pending != nil
	t.stopLocked()
	return armed
}

// Armed reports whether a callback is waiting to fire.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

// Due returns when the armed callback fires, or the zero time.
func (t *Timer) Due() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.due
}

// stopLocked invalidates the current generation so an in-flight fire is ignored.
func (t *Timer) stopLocked() {
	t.gen++
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	t.due = time.Time{}
}
