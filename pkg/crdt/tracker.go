package crdt

import "sync"

// ClockTracker owns the merged vector clock of each whiteboard. Increment is
// the only mutating call; Merge, Compare and Snapshot are side-effect free.
type ClockTracker struct {
	mu     sync.RWMutex
	clocks map[string]VectorClock // whiteboard id -> merged clock
}

// NewClockTracker constructs an empty tracker
func NewClockTracker() *ClockTracker {
	return &ClockTracker{
		clocks: make(map[string]VectorClock),
	}
}

// Increment advances the user's counter on the whiteboard's clock, merging it
// with the whiteboard's last known state, and returns a snapshot suitable for
// stamping onto an outbound operation. A user's first operation on a
// whiteboard initializes their component to 1.
func (t *ClockTracker) Increment(whiteboardID, userID string) VectorClock {
	t.mu.Lock()
	defer t.mu.Unlock()

	clock := t.clocks[whiteboardID]
	if clock == nil {
		clock = NewVectorClock()
		t.clocks[whiteboardID] = clock
	}
	clock.Increment(userID)
	return clock.Clone()
}

// Observe merges a remote clock into the whiteboard's running clock and
// returns the merged snapshot
func (t *ClockTracker) Observe(whiteboardID string, remote VectorClock) VectorClock {
	t.mu.Lock()
	defer t.mu.Unlock()

	clock := t.clocks[whiteboardID]
	if clock == nil {
		clock = NewVectorClock()
		t.clocks[whiteboardID] = clock
	}
	clock.Merge(remote)
	return clock.Clone()
}

// Snapshot returns a copy of the whiteboard's current clock
func (t *ClockTracker) Snapshot(whiteboardID string) VectorClock {
	t.mu.RLock()
	defer t.mu.RUnlock()

	clock := t.clocks[whiteboardID]
	if clock == nil {
		return NewVectorClock()
	}
	return clock.Clone()
}

// Forget drops the clock state for a whiteboard whose session has ended
func (t *ClockTracker) Forget(whiteboardID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clocks, whiteboardID)
}
