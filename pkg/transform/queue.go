// Package transform orders concurrently-generated whiteboard operations into
// a single causally-consistent stream and annotates them with detected
// conflicts. One transform context exists per whiteboard session and is
// driven by that whiteboard's processing actor.
package transform

import (
	"math/rand"
	"time"

	"github.com/boardmesh/boardmesh/pkg/crdt"
	"github.com/boardmesh/boardmesh/pkg/models"
)

const maxQueueLevel = 12

// CausalLess is the total order applied to pending operations: vector-clock
// dominance first, Lamport timestamp for concurrent clocks, and user id as
// the final deterministic tie-break. Replaying the same operation set in any
// arrival order yields the same queue order.
func CausalLess(a, b *models.Operation) bool {
	switch a.Clock.Compare(b.Clock) {
	case crdt.OrderingBefore:
		return true
	case crdt.OrderingAfter:
		return false
	}
	if a.Lamport != b.Lamport {
		return a.Lamport < b.Lamport
	}
	return a.UserID < b.UserID
}

type queueNode struct {
	op   *models.Operation
	next [maxQueueLevel]*queueNode
}

// CausalQueue is the pending-operation queue: a skip list ordered by
// CausalLess, so causal-position insertion costs O(log n) rather than
// splicing a slice on every out-of-order arrival.
type CausalQueue struct {
	head  *queueNode
	level int
	size  int
	rng   *rand.Rand
}

// NewCausalQueue creates an empty queue
func NewCausalQueue() *CausalQueue {
	return &CausalQueue{
		head:  &queueNode{},
		level: 1,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Insert places the operation at its causal position
func (q *CausalQueue) Insert(op *models.Operation) {
	var update [maxQueueLevel]*queueNode
	node := q.head
	for i := q.level - 1; i >= 0; i-- {
		for node.next[i] != nil && CausalLess(node.next[i].op, op) {
			node = node.next[i]
		}
		update[i] = node
	}

	level := q.randomLevel()
	if level > q.level {
		for i := q.level; i < level; i++ {
			update[i] = q.head
		}
		q.level = level
	}

	inserted := &queueNode{op: op}
	for i := 0; i < level; i++ {
		inserted.next[i] = update[i].next[i]
		update[i].next[i] = inserted
	}
	q.size++
}

// Remove deletes the operation with the given identity from the queue and
// reports whether it was present
func (q *CausalQueue) Remove(op *models.Operation) bool {
	var update [maxQueueLevel]*queueNode
	node := q.head
	for i := q.level - 1; i >= 0; i-- {
		for node.next[i] != nil && CausalLess(node.next[i].op, op) {
			node = node.next[i]
		}
		update[i] = node
	}

	target := update[0].next[0]
	// operations equal under CausalLess can coexist only if they share the
	// tie-break key, so walk the equal run looking for the exact id
	for target != nil && !CausalLess(op, target.op) {
		if target.op.ID == op.ID {
			break
		}
		for i := 0; i < q.level; i++ {
			if update[i].next[i] == target {
				update[i] = target
			}
		}
		target = target.next[0]
	}
	if target == nil || target.op.ID != op.ID {
		return false
	}

	for i := 0; i < q.level; i++ {
		if update[i].next[i] == target {
			update[i].next[i] = target.next[i]
		}
	}
	for q.level > 1 && q.head.next[q.level-1] == nil {
		q.level--
	}
	q.size--
	return true
}

// Ops returns the pending operations in causal order
func (q *CausalQueue) Ops() []*models.Operation {
	out := make([]*models.Operation, 0, q.size)
	for node := q.head.next[0]; node != nil; node = node.next[0] {
		out = append(out, node.op)
	}
	return out
}

// Since returns the pending operations whose wall-clock timestamp falls
// within the given window, in causal order. Wall time is advisory but good
// enough to bound the conflict scan.
func (q *CausalQueue) Since(cutoff time.Time) []*models.Operation {
	var out []*models.Operation
	for node := q.head.next[0]; node != nil; node = node.next[0] {
		if !node.op.Timestamp.Before(cutoff) {
			out = append(out, node.op)
		}
	}
	return out
}

// PopBefore removes and returns all operations whose wall-clock timestamp is
// older than the cutoff; the session actor uses it to drain settled
// operations into compression and persistence
func (q *CausalQueue) PopBefore(cutoff time.Time) []*models.Operation {
	var drained []*models.Operation
	for node := q.head.next[0]; node != nil; node = node.next[0] {
		if node.op.Timestamp.Before(cutoff) {
			drained = append(drained, node.op)
		}
	}
	for _, op := range drained {
		q.Remove(op)
	}
	return drained
}

// Len returns the number of pending operations
func (q *CausalQueue) Len() int {
	return q.size
}

func (q *CausalQueue) randomLevel() int {
	level := 1
	for level < maxQueueLevel && q.rng.Intn(2) == 0 {
		level++
	}
	return level
}
