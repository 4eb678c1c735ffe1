// Package conflict classifies collisions between concurrent whiteboard
// operations and forecasts likely future collisions from live user activity.
package conflict

import (
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boardmesh/boardmesh/pkg/crdt"
	"github.com/boardmesh/boardmesh/pkg/models"
)

// DetectorConfig holds the classification thresholds
type DetectorConfig struct {
	// SpatialOverlapThreshold is the overlap fraction (0-1) of the smaller
	// bounding box above which a spatial conflict fires.
	SpatialOverlapThreshold float64
	// TemporalProximityWindow is the near-simultaneity window for operations
	// on the same element.
	TemporalProximityWindow time.Duration
	// RecencyWindow bounds how long a detected pair is remembered for
	// duplicate suppression.
	RecencyWindow time.Duration
}

// Detector classifies operation pairs. A single detector is shared by every
// whiteboard actor, so the duplicate-suppression state is guarded by a mutex;
// classification itself is stateless.
type Detector struct {
	config DetectorConfig

	mu sync.Mutex
	// seenPairs maps a canonical operation-pair key to detection time;
	// entries older than the recency window are pruned on insert.
	seenPairs map[pairKey]time.Time
}

type pairKey struct {
	low, high uuid.UUID
}

func newPairKey(a, b uuid.UUID) pairKey {
	if a.String() < b.String() {
		return pairKey{low: a, high: b}
	}
	return pairKey{low: b, high: a}
}

// NewDetector creates a detector with the given thresholds
func NewDetector(config DetectorConfig) *Detector {
	if config.SpatialOverlapThreshold <= 0 {
		config.SpatialOverlapThreshold = 0.25
	}
	if config.TemporalProximityWindow <= 0 {
		config.TemporalProximityWindow = 500 * time.Millisecond
	}
	if config.RecencyWindow <= 0 {
		config.RecencyWindow = 5 * time.Second
	}
	return &Detector{
		config:    config,
		seenPairs: make(map[pairKey]time.Time),
	}
}

// Detect classifies op against every operation in the recency window and
// returns the newly found conflicts. Pairs already recorded within the
// window are suppressed.
func (d *Detector) Detect(op *models.Operation, window []*models.Operation) []*models.Conflict {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prune()

	var conflicts []*models.Conflict
	for _, other := range window {
		if other.ID == op.ID {
			continue
		}
		key := newPairKey(op.ID, other.ID)
		if _, seen := d.seenPairs[key]; seen {
			continue
		}
		if c := d.Classify(op, other); c != nil {
			d.seenPairs[key] = c.DetectedAt
			conflicts = append(conflicts, c)
		}
	}
	return conflicts
}

// Classify inspects a single pair and returns the conflict between them, or
// nil. Only concurrently generated operations can conflict: when one clock
// dominates the other, the later author already observed the earlier edit and
// the pair is ordinary sequential editing. Classification is symmetric:
// Classify(a, b) and Classify(b, a) produce the same record up to operation
// order.
func (d *Detector) Classify(a, b *models.Operation) *models.Conflict {
	if a.UserID == b.UserID {
		return nil
	}
	switch a.Clock.Compare(b.Clock) {
	case crdt.OrderingBefore, crdt.OrderingAfter:
		return nil
	}

	// canonical order keeps the record identical regardless of argument order
	if a.ID.String() > b.ID.String() {
		a, b = b, a
	}

	semantic := d.semanticEvidence(a, b)
	spatial := d.spatialEvidence(a, b)
	temporal := d.temporalEvidence(a, b)

	existence := (a.Type == models.OperationDelete || b.Type == models.OperationDelete) &&
		a.ElementID == b.ElementID && a.ElementID != ""

	var subs []*models.Conflict
	if semantic != nil {
		subs = append(subs, d.newConflict(a, b, models.ConflictSemantic, models.SeverityMedium, semantic))
	}
	if spatial != nil {
		subs = append(subs, d.newConflict(a, b, models.ConflictSpatial, spatialSeverity(spatial, d.config.SpatialOverlapThreshold), spatial))
	}
	// near-simultaneity is the weakest signal; it only stands alone
	if temporal != nil && len(subs) == 0 && !existence {
		return d.newConflict(a, b, models.ConflictTemporal, models.SeverityLow, temporal)
	}

	if existence {
		if temporal == nil && len(subs) == 0 {
			return nil
		}
		if temporal != nil {
			subs = append(subs, d.newConflict(a, b, models.ConflictTemporal, models.SeverityLow, temporal))
		}
		return d.newConflict(a, b, models.ConflictCompound, models.SeverityCritical, &models.CompoundEvidence{SubConflicts: subs})
	}

	switch len(subs) {
	case 0:
		return nil
	case 1:
		return subs[0]
	}
	return d.newConflict(a, b, models.ConflictCompound, models.SeverityCritical, &models.CompoundEvidence{SubConflicts: subs})
}

func (d *Detector) newConflict(a, b *models.Operation, conflictType models.ConflictType, severity models.Severity, evidence models.ConflictEvidence) *models.Conflict {
	elements := []string{a.ElementID}
	if b.ElementID != a.ElementID {
		elements = append(elements, b.ElementID)
	}
	return &models.Conflict{
		ID:         uuid.New(),
		Type:       conflictType,
		Severity:   severity,
		Operations: []*models.Operation{a, b},
		ElementIDs: elements,
		Evidence:   evidence,
		DetectedAt: time.Now(),
	}
}

// semanticEvidence fires when both operations set the same logical field of
// the same element to different values
func (d *Detector) semanticEvidence(a, b *models.Operation) *models.SemanticEvidence {
	if a.ElementID == "" || a.ElementID != b.ElementID {
		return nil
	}
	if len(a.Payload) == 0 || len(b.Payload) == 0 {
		return nil
	}

	var fields []string
	values := make(map[string]map[string]interface{})
	for field, av := range a.Payload {
		bv, ok := b.Payload[field]
		if !ok || reflect.DeepEqual(av, bv) {
			continue
		}
		fields = append(fields, field)
		values[field] = map[string]interface{}{
			a.UserID: av,
			b.UserID: bv,
		}
	}
	if len(fields) == 0 {
		return nil
	}
	sort.Strings(fields)
	return &models.SemanticEvidence{Fields: fields, Values: values}
}

// spatialEvidence fires when both operations carry geometry and the bounding
// boxes overlap beyond the configured fraction of the smaller box
func (d *Detector) spatialEvidence(a, b *models.Operation) *models.SpatialEvidence {
	ba, okA := models.BoundsFromPayload(a.Payload)
	bb, okB := models.BoundsFromPayload(b.Payload)
	if !okA || !okB {
		return nil
	}

	overlap, ok := ba.Intersect(bb)
	if !ok {
		return nil
	}

	smaller := ba.Area()
	if bb.Area() < smaller {
		smaller = bb.Area()
	}
	if smaller <= 0 {
		return nil
	}
	percent := overlap.Area() / smaller
	if percent < d.config.SpatialOverlapThreshold {
		return nil
	}
	return &models.SpatialEvidence{
		Overlap:        overlap,
		OverlapArea:    overlap.Area(),
		OverlapPercent: percent,
	}
}

// temporalEvidence fires when operations on the same element land within the
// proximity window, regardless of field overlap
func (d *Detector) temporalEvidence(a, b *models.Operation) *models.TemporalEvidence {
	if a.ElementID == "" || a.ElementID != b.ElementID {
		return nil
	}
	delta := a.Timestamp.Sub(b.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	if delta > d.config.TemporalProximityWindow {
		return nil
	}
	return &models.TemporalEvidence{
		ProximityMs:  delta.Milliseconds(),
		Simultaneous: delta <= d.config.TemporalProximityWindow/5,
	}
}

func spatialSeverity(e *models.SpatialEvidence, threshold float64) models.Severity {
	if e.OverlapPercent >= 0.75 || e.OverlapPercent >= threshold*3 {
		return models.SeverityHigh
	}
	return models.SeverityMedium
}

// prune drops pair records older than the recency window. Callers hold d.mu.
func (d *Detector) prune() {
	cutoff := time.Now().Add(-d.config.RecencyWindow)
	for key, at := range d.seenPairs {
		if at.Before(cutoff) {
			delete(d.seenPairs, key)
		}
	}
}
