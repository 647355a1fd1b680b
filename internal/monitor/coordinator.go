package monitor

import (
	"sync"
)

// Coordinator in-process reentrancy guard for the reconciliation sweep.
// One instance is shared by the timer-driven sweeper and the manual HTTP
// trigger so that only one sweep runs at a time.
//
// This is process-local state, reset on restart. It is NOT a distributed
// lock: running multiple replicas of this service against the same database
// needs external coordination (the unique constraint still keeps the data
// correct, but replicas would waste classifier calls).
type Coordinator struct {
	mu       sync.Mutex
	sweeping bool
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// TryBegin marks a sweep as started. Returns false if one is already
// running, in which case the caller must not sweep and must not call End.
func (c *Coordinator) TryBegin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sweeping {
		return false
	}
	c.sweeping = true
	return true
}

// End clears the in-progress flag. Always called via defer by the sweep
// owner, so partial failures cannot wedge the guard.
func (c *Coordinator) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweeping = false
}

// Running reports whether a sweep is currently in progress.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweeping
}
