// Package models defines the shared value types of the whiteboard sync
// engine: operations, conflicts, predictions and resolution records. Values
// in this package are immutable once emitted; annotated variants are produced
// as copies, never by mutating a shared record.
package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/boardmesh/boardmesh/pkg/crdt"
)

// OperationType identifies the kind of edit an operation carries
type OperationType string

// Operation types
const (
	OperationCreate      OperationType = "create"
	OperationUpdate      OperationType = "update"
	OperationDelete      OperationType = "delete"
	OperationMove        OperationType = "move"
	OperationStyle       OperationType = "style"
	OperationLayerChange OperationType = "layer_change"
	OperationCompound    OperationType = "compound"
)

// Valid reports whether t is a recognized operation type
func (t OperationType) Valid() bool {
	switch t {
	case OperationCreate, OperationUpdate, OperationDelete,
		OperationMove, OperationStyle, OperationLayerChange, OperationCompound:
		return true
	}
	return false
}

// Operation is an atomic, idempotent edit intent on a whiteboard element.
// The vector clock snapshot captures the emitting client's causal history at
// emission time; the Lamport timestamp is a globally comparable tie-breaker
// used only when clocks are concurrent. The wall-clock Timestamp is advisory.
type Operation struct {
	ID           uuid.UUID              `json:"id" db:"id"`
	Type         OperationType          `json:"type" db:"type"`
	ElementID    string                 `json:"element_id" db:"element_id"`
	UserID       string                 `json:"user_id" db:"user_id"`
	Clock        crdt.VectorClock       `json:"clock"`
	Lamport      uint64                 `json:"lamport" db:"lamport"`
	Version      int                    `json:"version" db:"version"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	ParentIDs    []uuid.UUID            `json:"parent_ids,omitempty"`
	Timestamp    time.Time              `json:"timestamp" db:"timestamp"`
	WhiteboardID string                 `json:"whiteboard_id" db:"whiteboard_id"`
}

// Clone returns a deep copy of the operation. Used when an annotated variant
// of an already-shared operation is needed.
func (o *Operation) Clone() *Operation {
	cp := *o
	cp.Clock = o.Clock.Clone()
	if o.Payload != nil {
		cp.Payload = make(map[string]interface{}, len(o.Payload))
		for k, v := range o.Payload {
			cp.Payload[k] = v
		}
	}
	if o.ParentIDs != nil {
		cp.ParentIDs = append([]uuid.UUID(nil), o.ParentIDs...)
	}
	return &cp
}

// TouchesExistence reports whether the operation changes whether the target
// element exists at all
func (o *Operation) TouchesExistence() bool {
	return o.Type == OperationCreate || o.Type == OperationDelete
}

// Bounds is an axis-aligned bounding box in canvas coordinates
type Bounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the area of the box
func (b Bounds) Area() float64 {
	return b.Width * b.Height
}

// Intersect returns the overlapping region of two boxes and whether they
// overlap at all
func (b Bounds) Intersect(other Bounds) (Bounds, bool) {
	x1 := maxFloat(b.X, other.X)
	y1 := maxFloat(b.Y, other.Y)
	x2 := minFloat(b.X+b.Width, other.X+other.Width)
	y2 := minFloat(b.Y+b.Height, other.Y+other.Height)
	if x2 <= x1 || y2 <= y1 {
		return Bounds{}, false
	}
	return Bounds{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}, true
}

// BoundsFromPayload extracts a bounding box from an operation payload.
// Geometry is carried under the conventional x/y/width/height keys; numeric
// values may arrive as float64 or int depending on the decoder.
func BoundsFromPayload(payload map[string]interface{}) (Bounds, bool) {
	if payload == nil {
		return Bounds{}, false
	}
	x, okX := numericField(payload, "x")
	y, okY := numericField(payload, "y")
	w, okW := numericField(payload, "width")
	h, okH := numericField(payload, "height")
	if !okX || !okY || !okW || !okH {
		return Bounds{}, false
	}
	return Bounds{X: x, Y: y, Width: w, Height: h}, true
}

func numericField(payload map[string]interface{}, key string) (float64, bool) {
	v, ok := payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
