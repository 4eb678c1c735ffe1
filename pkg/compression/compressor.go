// Package compression collapses redundant operation sequences before they
// are persisted or rebroadcast. Compression is lossless for final state:
// replaying the compressed sequence against any starting state yields the
// same element states as replaying the original.
package compression

import (
	"github.com/google/uuid"

	"github.com/boardmesh/boardmesh/pkg/models"
)

// Compressor applies the compression rules. It is stateless; Compress is a
// pure function and idempotent. Batching thresholds (how many pending
// operations accumulate before a compression pass runs) belong to the
// session actor, not here.
type Compressor struct{}

// NewCompressor creates a compressor
func NewCompressor() *Compressor {
	return &Compressor{}
}

// Compress returns a causally and semantically equivalent, shorter sequence.
// protected lists operation ids referenced by unresolved conflicts; those
// operations are never collapsed or absorbed, so resolution evidence
// survives. The input is not mutated.
func (c *Compressor) Compress(ops []*models.Operation, protected map[uuid.UUID]bool) []*models.Operation {
	if len(ops) < 2 {
		return append([]*models.Operation(nil), ops...)
	}

	out := absorbDeletes(ops, protected)
	out = collapseRuns(out, protected)
	out = foldCreates(out, protected)
	return out
}

// absorbDeletes drops every operation on an element that precedes a delete
// of that element. A create after the delete starts a fresh lifetime.
func absorbDeletes(ops []*models.Operation, protected map[uuid.UUID]bool) []*models.Operation {
	// last unprotected-delete position per element
	absorbedBefore := make(map[string]int)
	for i, op := range ops {
		if op.Type == models.OperationDelete && op.ElementID != "" && !protected[op.ID] {
			absorbedBefore[op.ElementID] = i
		}
	}
	if len(absorbedBefore) == 0 {
		return ops
	}

	out := make([]*models.Operation, 0, len(ops))
	for i, op := range ops {
		if cut, ok := absorbedBefore[op.ElementID]; ok && i < cut && !protected[op.ID] {
			continue
		}
		out = append(out, op)
	}
	return out
}

// collapseRuns merges consecutive mutating operations from the same user on
// the same element into one operation carrying the final field values
func collapseRuns(ops []*models.Operation, protected map[uuid.UUID]bool) []*models.Operation {
	out := make([]*models.Operation, 0, len(ops))

	i := 0
	for i < len(ops) {
		op := ops[i]
		if !collapsible(op) || protected[op.ID] {
			out = append(out, op)
			i++
			continue
		}

		j := i + 1
		for j < len(ops) && sameRun(op, ops[j]) && !protected[ops[j].ID] {
			j++
		}

		if j-i == 1 {
			out = append(out, op)
		} else {
			out = append(out, mergeRun(ops[i:j]))
		}
		i = j
	}
	return out
}

// foldCreates collapses a create followed solely by the creator's own
// mutating operations into a single create carrying the final payload. The
// fold stops at the first operation on that element from another user, since
// from that point the intermediate states have been observed.
func foldCreates(ops []*models.Operation, protected map[uuid.UUID]bool) []*models.Operation {
	out := make([]*models.Operation, 0, len(ops))

	i := 0
	for i < len(ops) {
		op := ops[i]
		if op.Type != models.OperationCreate || protected[op.ID] {
			out = append(out, op)
			i++
			continue
		}

		j := i + 1
		for j < len(ops) &&
			ops[j].ElementID == op.ElementID &&
			ops[j].UserID == op.UserID &&
			collapsible(ops[j]) &&
			!protected[ops[j].ID] {
			j++
		}

		if j-i == 1 {
			out = append(out, op)
		} else {
			folded := mergeRun(ops[i:j])
			folded.ID = op.ID
			folded.Type = models.OperationCreate
			out = append(out, folded)
		}
		i = j
	}
	return out
}

// collapsible reports whether the operation type participates in run
// collapsing
func collapsible(op *models.Operation) bool {
	switch op.Type {
	case models.OperationUpdate, models.OperationMove, models.OperationStyle, models.OperationLayerChange:
		return op.ElementID != ""
	}
	return false
}

// sameRun reports whether next extends a run started by first
func sameRun(first, next *models.Operation) bool {
	return next.Type == first.Type &&
		next.ElementID == first.ElementID &&
		next.UserID == first.UserID
}

// mergeRun produces one operation equivalent to replaying the whole run:
// the last operation's identity and causal metadata with the union of all
// payloads, later values winning
func mergeRun(run []*models.Operation) *models.Operation {
	last := run[len(run)-1].Clone()

	merged := make(map[string]interface{})
	for _, op := range run {
		for k, v := range op.Payload {
			merged[k] = v
		}
	}
	last.Payload = merged
	return last
}
