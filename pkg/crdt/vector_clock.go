// Package crdt provides the causality primitives of the sync engine: vector
// clocks for per-whiteboard causal history, a Lamport scalar clock for
// deterministic tie-breaking, and a tracker that owns the per-whiteboard
// clock state.
package crdt

// VectorClock maps a user id to a monotonically increasing counter. One clock
// exists per whiteboard; a user's own component advances by exactly one for
// each operation that user emits.
type VectorClock map[string]uint64

// Ordering is the result of comparing two vector clocks
type Ordering int

// Clock orderings
const (
	OrderingEqual Ordering = iota
	OrderingBefore
	OrderingAfter
	OrderingConcurrent
)

// String returns the ordering name
func (o Ordering) String() string {
	switch o {
	case OrderingEqual:
		return "equal"
	case OrderingBefore:
		return "before"
	case OrderingAfter:
		return "after"
	case OrderingConcurrent:
		return "concurrent"
	}
	return "unknown"
}

// NewVectorClock creates an empty vector clock
func NewVectorClock() VectorClock {
	return make(VectorClock)
}

// Increment advances the counter for the given user. A user's first
// increment initializes their component to 1.
func (vc VectorClock) Increment(userID string) {
	vc[userID]++
}

// Merge folds another clock into this one, taking the element-wise maximum
func (vc VectorClock) Merge(other VectorClock) {
	for id, counter := range other {
		if counter > vc[id] {
			vc[id] = counter
		}
	}
}

// Clone returns an independent copy
func (vc VectorClock) Clone() VectorClock {
	cp := make(VectorClock, len(vc))
	for id, counter := range vc {
		cp[id] = counter
	}
	return cp
}

// Compare returns the causal ordering of vc relative to other:
// OrderingBefore when vc happened strictly before other, OrderingAfter for
// the converse, OrderingEqual when every component matches, and
// OrderingConcurrent when neither clock dominates.
func (vc VectorClock) Compare(other VectorClock) Ordering {
	less, greater := false, false

	for id, counter := range vc {
		o := other[id]
		if counter < o {
			less = true
		} else if counter > o {
			greater = true
		}
	}
	for id, o := range other {
		if _, ok := vc[id]; !ok && o > 0 {
			less = true
		}
	}

	switch {
	case less && greater:
		return OrderingConcurrent
	case less:
		return OrderingBefore
	case greater:
		return OrderingAfter
	}
	return OrderingEqual
}

// HappensBefore reports whether vc happened strictly before other
func (vc VectorClock) HappensBefore(other VectorClock) bool {
	return vc.Compare(other) == OrderingBefore
}

// Concurrent reports whether neither clock dominates the other
func (vc VectorClock) Concurrent(other VectorClock) bool {
	return vc.Compare(other) == OrderingConcurrent
}

// Merged returns a new clock holding the element-wise maximum of a and b,
// leaving both inputs untouched
func Merged(a, b VectorClock) VectorClock {
	out := a.Clone()
	out.Merge(b)
	return out
}
