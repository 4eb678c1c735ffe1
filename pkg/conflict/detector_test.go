package conflict

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardmesh/boardmesh/pkg/crdt"
	"github.com/boardmesh/boardmesh/pkg/models"
)

func makeOp(opType models.OperationType, elementID, userID string, at time.Time, payload map[string]interface{}) *models.Operation {
	return &models.Operation{
		ID:           uuid.New(),
		Type:         opType,
		ElementID:    elementID,
		UserID:       userID,
		Clock:        crdt.VectorClock{userID: 1},
		Timestamp:    at,
		Payload:      payload,
		WhiteboardID: "wb-1",
	}
}

func defaultDetector() *Detector {
	return NewDetector(DetectorConfig{
		SpatialOverlapThreshold: 0.25,
		TemporalProximityWindow: 500 * time.Millisecond,
		RecencyWindow:           5 * time.Second,
	})
}

func TestSemanticConflict(t *testing.T) {
	d := defaultDetector()
	now := time.Now()

	a := makeOp(models.OperationUpdate, "E1", "user1", now, map[string]interface{}{"width": 100.0})
	b := makeOp(models.OperationUpdate, "E1", "user2", now.Add(50*time.Millisecond), map[string]interface{}{"width": 150.0})

	c := d.Classify(a, b)
	require.NotNil(t, c)
	assert.Equal(t, models.ConflictSemantic, c.Type)
	assert.Equal(t, models.SeverityMedium, c.Severity)

	ev, ok := c.Evidence.(*models.SemanticEvidence)
	require.True(t, ok)
	assert.Equal(t, []string{"width"}, ev.Fields)
	assert.Equal(t, 100.0, ev.Values["width"]["user1"])
	assert.Equal(t, 150.0, ev.Values["width"]["user2"])
}

func TestDeleteVersusUpdateIsCompoundCritical(t *testing.T) {
	d := defaultDetector()
	now := time.Now()

	del := makeOp(models.OperationDelete, "E1", "user1", now, nil)
	upd := makeOp(models.OperationStyle, "E1", "user2", now.Add(100*time.Millisecond), map[string]interface{}{"fill": "red"})

	c := d.Classify(del, upd)
	require.NotNil(t, c)
	assert.Equal(t, models.ConflictCompound, c.Type)
	assert.Equal(t, models.SeverityCritical, c.Severity)

	ev, ok := c.Evidence.(*models.CompoundEvidence)
	require.True(t, ok)
	assert.NotEmpty(t, ev.SubConflicts)
}

func TestTemporalConflictWithoutFieldOverlap(t *testing.T) {
	d := defaultDetector()
	now := time.Now()

	a := makeOp(models.OperationUpdate, "E1", "user1", now, map[string]interface{}{"rotation": 45.0})
	b := makeOp(models.OperationUpdate, "E1", "user2", now.Add(60*time.Millisecond), map[string]interface{}{"opacity": 0.5})

	c := d.Classify(a, b)
	require.NotNil(t, c)
	assert.Equal(t, models.ConflictTemporal, c.Type)
	assert.Equal(t, models.SeverityLow, c.Severity)

	ev, ok := c.Evidence.(*models.TemporalEvidence)
	require.True(t, ok)
	assert.Equal(t, int64(60), ev.ProximityMs)
	assert.True(t, ev.Simultaneous)
}

func TestSpatialConflict(t *testing.T) {
	d := defaultDetector()
	now := time.Now()

	a := makeOp(models.OperationMove, "E1", "user1", now, map[string]interface{}{
		"x": 0.0, "y": 0.0, "width": 100.0, "height": 100.0,
	})
	b := makeOp(models.OperationMove, "E2", "user2", now.Add(10*time.Second), map[string]interface{}{
		"x": 50.0, "y": 50.0, "width": 100.0, "height": 100.0,
	})

	c := d.Classify(a, b)
	require.NotNil(t, c)
	assert.Equal(t, models.ConflictSpatial, c.Type)

	ev, ok := c.Evidence.(*models.SpatialEvidence)
	require.True(t, ok)
	assert.InDelta(t, 0.25, ev.OverlapPercent, 1e-9)
	assert.ElementsMatch(t, []string{"E1", "E2"}, c.ElementIDs)
}

func TestSpatialBelowThresholdIgnored(t *testing.T) {
	d := defaultDetector()
	now := time.Now()

	a := makeOp(models.OperationMove, "E1", "user1", now, map[string]interface{}{
		"x": 0.0, "y": 0.0, "width": 100.0, "height": 100.0,
	})
	b := makeOp(models.OperationMove, "E2", "user2", now.Add(10*time.Second), map[string]interface{}{
		"x": 90.0, "y": 90.0, "width": 100.0, "height": 100.0,
	})

	assert.Nil(t, d.Classify(a, b))
}

func TestCausallyOrderedEditsNeverConflict(t *testing.T) {
	d := defaultDetector()
	now := time.Now()

	t.Run("observed field edit is sequential, not semantic", func(t *testing.T) {
		first := makeOp(models.OperationUpdate, "E1", "user1", now, map[string]interface{}{"width": 100.0})
		second := makeOp(models.OperationUpdate, "E1", "user2", now.Add(50*time.Millisecond), map[string]interface{}{"width": 150.0})
		// user2 emitted the second edit having already seen the first
		second.Clock = crdt.VectorClock{"user1": 1, "user2": 1}

		assert.Nil(t, d.Classify(first, second))
		assert.Nil(t, d.Classify(second, first))
	})

	t.Run("observed delete after update is not critical", func(t *testing.T) {
		upd := makeOp(models.OperationStyle, "E1", "user1", now, map[string]interface{}{"fill": "red"})
		del := makeOp(models.OperationDelete, "E1", "user2", now.Add(100*time.Millisecond), nil)
		del.Clock = crdt.VectorClock{"user1": 1, "user2": 1}

		assert.Nil(t, d.Classify(upd, del))
	})

	t.Run("concurrent clocks still conflict", func(t *testing.T) {
		a := makeOp(models.OperationUpdate, "E1", "user1", now, map[string]interface{}{"width": 100.0})
		b := makeOp(models.OperationUpdate, "E1", "user2", now.Add(50*time.Millisecond), map[string]interface{}{"width": 150.0})

		c := d.Classify(a, b)
		require.NotNil(t, c)
		assert.Equal(t, models.ConflictSemantic, c.Type)
	})
}

func TestSameUserNeverConflicts(t *testing.T) {
	d := defaultDetector()
	now := time.Now()

	a := makeOp(models.OperationUpdate, "E1", "user1", now, map[string]interface{}{"width": 1.0})
	b := makeOp(models.OperationUpdate, "E1", "user1", now, map[string]interface{}{"width": 2.0})

	assert.Nil(t, d.Classify(a, b))
}

func TestClassifySymmetry(t *testing.T) {
	d := defaultDetector()
	now := time.Now()

	a := makeOp(models.OperationUpdate, "E1", "user1", now, map[string]interface{}{"width": 100.0})
	b := makeOp(models.OperationUpdate, "E1", "user2", now.Add(30*time.Millisecond), map[string]interface{}{"width": 150.0})

	ab := d.Classify(a, b)
	ba := d.Classify(b, a)
	require.NotNil(t, ab)
	require.NotNil(t, ba)

	assert.Equal(t, ab.Type, ba.Type)
	assert.Equal(t, ab.Severity, ba.Severity)
	assert.Equal(t, ab.Evidence, ba.Evidence)
	assert.Equal(t, ab.Operations, ba.Operations)
}

func TestDetectSuppressesDuplicatePairs(t *testing.T) {
	d := defaultDetector()
	now := time.Now()

	a := makeOp(models.OperationUpdate, "E1", "user1", now, map[string]interface{}{"width": 100.0})
	b := makeOp(models.OperationUpdate, "E1", "user2", now.Add(30*time.Millisecond), map[string]interface{}{"width": 150.0})

	first := d.Detect(a, []*models.Operation{b})
	require.Len(t, first, 1)

	second := d.Detect(b, []*models.Operation{a})
	assert.Empty(t, second)
}

func TestDetectIsSafeAcrossWhiteboardActors(t *testing.T) {
	d := defaultDetector()
	now := time.Now()

	const actors = 8
	const edits = 50
	var wg sync.WaitGroup
	found := make([]int, actors)
	for w := 0; w < actors; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			element := fmt.Sprintf("E%d", w)
			for i := 0; i < edits; i++ {
				a := makeOp(models.OperationUpdate, element, "user1", now, map[string]interface{}{"width": 100.0})
				b := makeOp(models.OperationUpdate, element, "user2", now, map[string]interface{}{"width": 150.0})
				found[w] += len(d.Detect(a, []*models.Operation{b}))
			}
		}(w)
	}
	wg.Wait()

	total := 0
	for _, n := range found {
		total += n
	}
	assert.Equal(t, actors*edits, total)
}

func TestDetectScansWholeWindow(t *testing.T) {
	d := defaultDetector()
	now := time.Now()

	incoming := makeOp(models.OperationUpdate, "E1", "user1", now, map[string]interface{}{"width": 100.0})
	window := []*models.Operation{
		makeOp(models.OperationUpdate, "E1", "user2", now.Add(10*time.Millisecond), map[string]interface{}{"width": 150.0}),
		makeOp(models.OperationUpdate, "E1", "user3", now.Add(20*time.Millisecond), map[string]interface{}{"width": 175.0}),
		incoming,
	}

	conflicts := d.Detect(incoming, window)
	assert.Len(t, conflicts, 2)
}
