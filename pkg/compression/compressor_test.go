package compression

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardmesh/boardmesh/pkg/crdt"
	"github.com/boardmesh/boardmesh/pkg/models"
)

func op(opType models.OperationType, elementID, userID string, lamport uint64, payload map[string]interface{}) *models.Operation {
	return &models.Operation{
		ID:           uuid.New(),
		Type:         opType,
		ElementID:    elementID,
		UserID:       userID,
		Clock:        crdt.VectorClock{userID: lamport},
		Lamport:      lamport,
		Payload:      payload,
		Timestamp:    time.Now(),
		WhiteboardID: "wb-1",
	}
}

// replay applies a sequence to empty element state maps the way a canvas
// would: deletes remove the element, everything else overlays fields
func replay(ops []*models.Operation) map[string]map[string]interface{} {
	elements := make(map[string]map[string]interface{})
	for _, o := range ops {
		switch o.Type {
		case models.OperationDelete:
			delete(elements, o.ElementID)
		default:
			fields := elements[o.ElementID]
			if fields == nil {
				fields = make(map[string]interface{})
				elements[o.ElementID] = fields
			}
			for k, v := range o.Payload {
				fields[k] = v
			}
		}
	}
	return elements
}

func TestCompressRapidMoves(t *testing.T) {
	c := NewCompressor()

	ops := make([]*models.Operation, 0, 100)
	for i := 0; i < 100; i++ {
		ops = append(ops, op(models.OperationMove, "E1", "user1", uint64(i+1), map[string]interface{}{
			"x": float64(i), "y": float64(i * 2),
		}))
	}

	out := c.Compress(ops, nil)
	require.Len(t, out, 1)
	assert.Equal(t, float64(99), out[0].Payload["x"])
	assert.Equal(t, float64(198), out[0].Payload["y"])
	assert.Equal(t, ops[99].ID, out[0].ID)
}

func TestCompressReplayEquivalence(t *testing.T) {
	c := NewCompressor()

	ops := []*models.Operation{
		op(models.OperationCreate, "E1", "user1", 1, map[string]interface{}{"width": 10.0}),
		op(models.OperationUpdate, "E1", "user1", 2, map[string]interface{}{"width": 20.0}),
		op(models.OperationUpdate, "E1", "user1", 3, map[string]interface{}{"height": 5.0}),
		op(models.OperationStyle, "E1", "user2", 4, map[string]interface{}{"fill": "red"}),
		op(models.OperationMove, "E2", "user1", 5, map[string]interface{}{"x": 1.0}),
		op(models.OperationMove, "E2", "user1", 6, map[string]interface{}{"x": 2.0}),
	}

	out := c.Compress(ops, nil)
	assert.LessOrEqual(t, len(out), len(ops))
	assert.Equal(t, replay(ops), replay(out))
}

func TestCompressIdempotent(t *testing.T) {
	c := NewCompressor()

	ops := []*models.Operation{
		op(models.OperationCreate, "E1", "user1", 1, map[string]interface{}{"width": 10.0}),
		op(models.OperationUpdate, "E1", "user1", 2, map[string]interface{}{"width": 20.0}),
		op(models.OperationMove, "E1", "user2", 3, map[string]interface{}{"x": 4.0}),
		op(models.OperationMove, "E1", "user2", 4, map[string]interface{}{"x": 5.0}),
		op(models.OperationDelete, "E2", "user1", 5, nil),
	}

	once := c.Compress(ops, nil)
	twice := c.Compress(once, nil)
	assert.Equal(t, once, twice)
}

func TestDeleteAbsorbsPriorOperations(t *testing.T) {
	c := NewCompressor()

	ops := []*models.Operation{
		op(models.OperationCreate, "E1", "user1", 1, map[string]interface{}{"width": 10.0}),
		op(models.OperationUpdate, "E1", "user2", 2, map[string]interface{}{"width": 30.0}),
		op(models.OperationDelete, "E1", "user1", 3, nil),
		op(models.OperationUpdate, "E2", "user1", 4, map[string]interface{}{"x": 1.0}),
	}

	out := c.Compress(ops, nil)
	require.Len(t, out, 2)
	assert.Equal(t, models.OperationDelete, out[0].Type)
	assert.Equal(t, "E2", out[1].ElementID)
}

func TestCreateAfterDeleteSurvives(t *testing.T) {
	c := NewCompressor()

	ops := []*models.Operation{
		op(models.OperationCreate, "E1", "user1", 1, map[string]interface{}{"w": 1.0}),
		op(models.OperationDelete, "E1", "user1", 2, nil),
		op(models.OperationCreate, "E1", "user2", 3, map[string]interface{}{"w": 2.0}),
	}

	out := c.Compress(ops, nil)
	require.Len(t, out, 2)
	assert.Equal(t, models.OperationDelete, out[0].Type)
	assert.Equal(t, models.OperationCreate, out[1].Type)
	assert.Equal(t, "user2", out[1].UserID)
}

func TestCreateFoldsOwnUpdates(t *testing.T) {
	c := NewCompressor()

	ops := []*models.Operation{
		op(models.OperationCreate, "E1", "user1", 1, map[string]interface{}{"width": 10.0}),
		op(models.OperationUpdate, "E1", "user1", 2, map[string]interface{}{"width": 25.0, "height": 5.0}),
	}

	out := c.Compress(ops, nil)
	require.Len(t, out, 1)
	assert.Equal(t, models.OperationCreate, out[0].Type)
	assert.Equal(t, ops[0].ID, out[0].ID)
	assert.Equal(t, 25.0, out[0].Payload["width"])
	assert.Equal(t, 5.0, out[0].Payload["height"])
}

func TestCreateFoldStopsAtOtherUser(t *testing.T) {
	c := NewCompressor()

	ops := []*models.Operation{
		op(models.OperationCreate, "E1", "user1", 1, map[string]interface{}{"width": 10.0}),
		op(models.OperationUpdate, "E1", "user2", 2, map[string]interface{}{"width": 30.0}),
		op(models.OperationUpdate, "E1", "user1", 3, map[string]interface{}{"width": 40.0}),
	}

	out := c.Compress(ops, nil)
	// user2 observed the element, so the create must remain distinct
	require.Len(t, out, 3)
	assert.Equal(t, models.OperationCreate, out[0].Type)
	assert.Equal(t, 10.0, out[0].Payload["width"])
}

func TestProtectedOperationsSurvive(t *testing.T) {
	c := NewCompressor()

	conflicted := op(models.OperationUpdate, "E1", "user1", 2, map[string]interface{}{"width": 20.0})
	ops := []*models.Operation{
		op(models.OperationUpdate, "E1", "user1", 1, map[string]interface{}{"width": 10.0}),
		conflicted,
		op(models.OperationUpdate, "E1", "user1", 3, map[string]interface{}{"width": 30.0}),
		op(models.OperationDelete, "E1", "user2", 4, nil),
	}
	protected := map[uuid.UUID]bool{conflicted.ID: true}

	out := c.Compress(ops, protected)

	ids := make(map[uuid.UUID]bool)
	for _, o := range out {
		ids[o.ID] = true
	}
	assert.True(t, ids[conflicted.ID], "conflicted operation must not be compressed away")
}

func TestCompressShortSequencesUntouched(t *testing.T) {
	c := NewCompressor()

	assert.Empty(t, c.Compress(nil, nil))

	single := []*models.Operation{op(models.OperationUpdate, "E1", "user1", 1, nil)}
	out := c.Compress(single, nil)
	require.Len(t, out, 1)
	assert.Equal(t, single[0], out[0])
}

func TestCompressNeverGrows(t *testing.T) {
	c := NewCompressor()

	for n := 2; n <= 20; n += 6 {
		ops := make([]*models.Operation, 0, n)
		for i := 0; i < n; i++ {
			user := fmt.Sprintf("user%d", i%3)
			ops = append(ops, op(models.OperationUpdate, "E1", user, uint64(i+1), map[string]interface{}{"v": i}))
		}
		out := c.Compress(ops, nil)
		assert.LessOrEqual(t, len(out), len(ops))
		assert.Equal(t, replay(ops), replay(out))
	}
}
