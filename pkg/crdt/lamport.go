package crdt

import "sync/atomic"

// LamportClock is a scalar logical clock. It is only consulted to break ties
// between causally concurrent operations, where vector clocks cannot order
// them; lower values win.
type LamportClock struct {
	counter atomic.Uint64
}

// NewLamportClock creates a clock starting at zero
func NewLamportClock() *LamportClock {
	return &LamportClock{}
}

// Tick advances the clock and returns the new value
func (c *LamportClock) Tick() uint64 {
	return c.counter.Add(1)
}

// Witness folds an observed remote timestamp into the clock so that the next
// Tick exceeds it
func (c *LamportClock) Witness(observed uint64) uint64 {
	for {
		current := c.counter.Load()
		next := observed
		if current > next {
			next = current
		}
		next++
		if c.counter.CompareAndSwap(current, next) {
			return next
		}
	}
}

// Current returns the clock value without advancing it
func (c *LamportClock) Current() uint64 {
	return c.counter.Load()
}
