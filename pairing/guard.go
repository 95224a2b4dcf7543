package pairing

import "sync/atomic"

// maxConcurrentAttempts bounds how many pairing sessions a responder will
// run at once, adapted from original_source/p2p_core/src/pairing.rs's
// PairingGuard (there a process-wide atomic counter capped at 3); this
// implementation keeps the same cap but scopes the counter to one Guard
// instance so it composes with dependency injection instead of a package
// global.
const maxConcurrentAttempts = 3

// Guard limits concurrent pairing attempts independently of each session's
// own 120s timeout (spec.md §4.4).
type Guard struct {
	active atomic.Int64
}

// NewGuard returns a Guard with no active attempts.
func NewGuard() *Guard {
	return &Guard{}
}

// Slot is held for the lifetime of one pairing attempt; Release must be
// called exactly once.
type Slot struct {
	guard *Guard
}

// TryAcquire reserves one pairing slot, or returns ok=false if
// maxConcurrentAttempts are already in flight.
func (g *Guard) TryAcquire() (*Slot, bool) {
	for {
		count := g.active.Load()
		if count >= maxConcurrentAttempts {
			return nil, false
		}
		if g.active.CompareAndSwap(count, count+1) {
			return &Slot{guard: g}, true
		}
	}
}

// Release frees the slot. Calling Release more than once is a programmer
// error and will under-count active attempts.
func (s *Slot) Release() {
	s.guard.active.Add(-1)
}
