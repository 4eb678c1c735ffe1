package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVectorClock(t *testing.T) {
	t.Run("New vector clock is empty", func(t *testing.T) {
		vc := NewVectorClock()
		assert.NotNil(t, vc)
		assert.Equal(t, 0, len(vc))
	})

	t.Run("Increment updates clock", func(t *testing.T) {
		vc := NewVectorClock()
		vc.Increment("user1")

		assert.Equal(t, uint64(1), vc["user1"])

		vc.Increment("user1")
		assert.Equal(t, uint64(2), vc["user1"])

		vc.Increment("user2")
		assert.Equal(t, uint64(1), vc["user2"])
	})

	t.Run("Merge takes maximum values", func(t *testing.T) {
		vc1 := VectorClock{"user1": 5, "user2": 3}
		vc2 := VectorClock{"user1": 3, "user2": 5, "user3": 1}

		vc1.Merge(vc2)

		assert.Equal(t, uint64(5), vc1["user1"])
		assert.Equal(t, uint64(5), vc1["user2"])
		assert.Equal(t, uint64(1), vc1["user3"])
	})

	t.Run("Compare detects causality", func(t *testing.T) {
		vc1 := VectorClock{"user1": 1, "user2": 2}
		vc2 := VectorClock{"user1": 2, "user2": 3}

		assert.Equal(t, OrderingBefore, vc1.Compare(vc2))
		assert.Equal(t, OrderingAfter, vc2.Compare(vc1))
		assert.True(t, vc1.HappensBefore(vc2))
		assert.False(t, vc2.HappensBefore(vc1))
	})

	t.Run("Compare detects concurrency", func(t *testing.T) {
		vc1 := VectorClock{"user1": 2, "user2": 1}
		vc2 := VectorClock{"user1": 1, "user2": 2}

		assert.Equal(t, OrderingConcurrent, vc1.Compare(vc2))
		assert.Equal(t, OrderingConcurrent, vc2.Compare(vc1))
		assert.True(t, vc1.Concurrent(vc2))
	})

	t.Run("Compare detects equality", func(t *testing.T) {
		vc1 := VectorClock{"user1": 1, "user2": 2}
		vc2 := VectorClock{"user1": 1, "user2": 2}

		assert.Equal(t, OrderingEqual, vc1.Compare(vc2))
		assert.False(t, vc1.Concurrent(vc2))
	})

	t.Run("Missing component is treated as zero", func(t *testing.T) {
		vc1 := VectorClock{"user1": 1}
		vc2 := VectorClock{"user1": 1, "user2": 1}

		assert.Equal(t, OrderingBefore, vc1.Compare(vc2))
		assert.Equal(t, OrderingAfter, vc2.Compare(vc1))
	})

	t.Run("Clone creates independent copy", func(t *testing.T) {
		vc1 := VectorClock{"user1": 1, "user2": 2}
		vc2 := vc1.Clone()

		vc2.Increment("user1")
		assert.Equal(t, uint64(1), vc1["user1"])
		assert.Equal(t, uint64(2), vc2["user1"])
	})

	t.Run("Merged leaves inputs untouched", func(t *testing.T) {
		a := VectorClock{"user1": 1}
		b := VectorClock{"user2": 2}

		out := Merged(a, b)

		assert.Equal(t, VectorClock{"user1": 1, "user2": 2}, out)
		assert.Equal(t, VectorClock{"user1": 1}, a)
		assert.Equal(t, VectorClock{"user2": 2}, b)
	})
}

func TestLamportClock(t *testing.T) {
	t.Run("Tick is strictly increasing", func(t *testing.T) {
		c := NewLamportClock()
		assert.Equal(t, uint64(1), c.Tick())
		assert.Equal(t, uint64(2), c.Tick())
		assert.Equal(t, uint64(2), c.Current())
	})

	t.Run("Witness jumps past observed values", func(t *testing.T) {
		c := NewLamportClock()
		c.Tick()

		next := c.Witness(10)
		assert.Equal(t, uint64(11), next)
		assert.Greater(t, c.Tick(), uint64(11))
	})

	t.Run("Witness of stale value still advances", func(t *testing.T) {
		c := NewLamportClock()
		c.Witness(5)
		assert.Equal(t, uint64(7), c.Witness(3))
	})
}

func TestClockTracker(t *testing.T) {
	t.Run("First operation initializes component to 1", func(t *testing.T) {
		tracker := NewClockTracker()
		clock := tracker.Increment("wb-1", "user1")

		assert.Equal(t, uint64(1), clock["user1"])
	})

	t.Run("Increment merges with whiteboard state", func(t *testing.T) {
		tracker := NewClockTracker()
		tracker.Increment("wb-1", "user1")
		tracker.Increment("wb-1", "user2")

		clock := tracker.Increment("wb-1", "user1")
		assert.Equal(t, uint64(2), clock["user1"])
		assert.Equal(t, uint64(1), clock["user2"])
	})

	t.Run("Whiteboards are independent", func(t *testing.T) {
		tracker := NewClockTracker()
		tracker.Increment("wb-1", "user1")
		clock := tracker.Increment("wb-2", "user1")

		assert.Equal(t, uint64(1), clock["user1"])
	})

	t.Run("Observe folds in remote clocks", func(t *testing.T) {
		tracker := NewClockTracker()
		tracker.Increment("wb-1", "user1")

		merged := tracker.Observe("wb-1", VectorClock{"user2": 4})
		assert.Equal(t, uint64(1), merged["user1"])
		assert.Equal(t, uint64(4), merged["user2"])
	})

	t.Run("Snapshot is a copy", func(t *testing.T) {
		tracker := NewClockTracker()
		tracker.Increment("wb-1", "user1")

		snap := tracker.Snapshot("wb-1")
		snap.Increment("user1")

		assert.Equal(t, uint64(1), tracker.Snapshot("wb-1")["user1"])
	})

	t.Run("Forget drops whiteboard state", func(t *testing.T) {
		tracker := NewClockTracker()
		tracker.Increment("wb-1", "user1")
		tracker.Forget("wb-1")

		assert.Equal(t, 0, len(tracker.Snapshot("wb-1")))
	})
}
