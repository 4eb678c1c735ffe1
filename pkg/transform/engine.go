package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boardmesh/boardmesh/pkg/conflict"
	"github.com/boardmesh/boardmesh/pkg/crdt"
	bmerrors "github.com/boardmesh/boardmesh/pkg/errors"
	"github.com/boardmesh/boardmesh/pkg/models"
	"github.com/boardmesh/boardmesh/pkg/observability"
)

// payloadSchema constrains the conventional payload fields; unknown fields
// pass through untouched
const payloadSchema = `{
	"type": "object",
	"properties": {
		"x":        {"type": "number"},
		"y":        {"type": "number"},
		"width":    {"type": "number", "minimum": 0},
		"height":   {"type": "number", "minimum": 0},
		"rotation": {"type": "number"},
		"opacity":  {"type": "number", "minimum": 0, "maximum": 1},
		"layer":    {"type": "integer"}
	}
}`

// Result is the outcome of one transform call
type Result struct {
	Operation   *models.Operation  `json:"operation"`
	Conflicts   []*models.Conflict `json:"conflicts,omitempty"`
	Performance Performance        `json:"performance"`
}

// EngineConfig holds the engine dependencies
type EngineConfig struct {
	Tracker  *crdt.ClockTracker
	Detector *conflict.Detector
	Logger   observability.Logger
	Metrics  observability.MetricsClient
	Tracer   observability.StartSpanFunc
}

// Engine establishes a causally-consistent order among concurrently
// generated operations and annotates them with detected conflicts. The
// engine itself is stateless across whiteboards; all per-whiteboard state
// lives in the Context passed to Transform.
type Engine struct {
	tracker  *crdt.ClockTracker
	detector *conflict.Detector
	logger   observability.Logger
	metrics  observability.MetricsClient
	tracer   observability.StartSpanFunc
	schema   *gojsonschema.Schema
}

// NewEngine creates a transform engine
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.Tracker == nil {
		config.Tracker = crdt.NewClockTracker()
	}
	if config.Detector == nil {
		config.Detector = conflict.NewDetector(conflict.DetectorConfig{})
	}
	if config.Logger == nil {
		config.Logger = observability.NewNoopLogger()
	}
	if config.Metrics == nil {
		config.Metrics = observability.NewNoopMetrics()
	}
	if config.Tracer == nil {
		config.Tracer = observability.NoopStartSpan
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(payloadSchema))
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile payload schema")
	}
	return &Engine{
		tracker:  config.Tracker,
		detector: config.Detector,
		logger:   config.Logger,
		metrics:  config.Metrics,
		tracer:   config.Tracer,
		schema:   schema,
	}, nil
}

// Transform validates the incoming operation, merges its causal metadata
// into the whiteboard clock, inserts it at its causal position in the
// pending queue and scans the recency window for conflicts. A validation
// failure rejects only this operation, never the stream.
func (e *Engine) Transform(ctx context.Context, op *models.Operation, tc *Context) (*Result, error) {
	ctx, span := e.tracer(ctx, "Engine.Transform",
		attribute.String("whiteboard_id", tc.WhiteboardID),
		attribute.String("operation_type", string(op.Type)))
	defer span.End()
	_ = ctx

	start := time.Now()

	if err := e.validate(op); err != nil {
		e.metrics.IncrementCounterWithLabels("transform_rejected_total", 1, map[string]string{
			"whiteboard_id": tc.WhiteboardID,
		})
		span.RecordError(err)
		return nil, err
	}

	stamped := e.stamp(op, tc)
	tc.Queue.Insert(stamped)

	conflicts := e.detector.Detect(stamped, tc.RecentOperations())
	tc.RecordConflicts(conflicts)
	tc.ApplyToSnapshot(stamped)

	latency := time.Since(start)
	tc.recordCall(latency)
	e.metrics.RecordDuration("transform_latency", latency)
	e.metrics.RecordGauge("transform_queue_size", float64(tc.Queue.Len()), map[string]string{
		"whiteboard_id": tc.WhiteboardID,
	})
	if len(conflicts) > 0 {
		e.metrics.IncrementCounterWithLabels("conflicts_detected_total", float64(len(conflicts)), map[string]string{
			"whiteboard_id": tc.WhiteboardID,
		})
		e.logger.Debug("Conflicts detected", map[string]interface{}{
			"whiteboard_id": tc.WhiteboardID,
			"operation_id":  stamped.ID,
			"count":         len(conflicts),
		})
	}

	return &Result{
		Operation:   stamped,
		Conflicts:   conflicts,
		Performance: tc.Metrics(),
	}, nil
}

// validate checks the operation's structural integrity
func (e *Engine) validate(op *models.Operation) error {
	if op == nil {
		return &bmerrors.ValidationError{Reason: "operation is nil"}
	}
	if op.ID == uuid.Nil {
		return &bmerrors.ValidationError{Field: "id", Reason: "is required"}
	}
	if !op.Type.Valid() {
		return &bmerrors.ValidationError{OperationID: op.ID.String(), Field: "type", Reason: fmt.Sprintf("unknown type %q", op.Type)}
	}
	if op.UserID == "" {
		return &bmerrors.ValidationError{OperationID: op.ID.String(), Field: "user_id", Reason: "is required"}
	}
	if op.ElementID == "" && op.Type != models.OperationCompound {
		return &bmerrors.ValidationError{OperationID: op.ID.String(), Field: "element_id", Reason: "is required"}
	}
	if op.Type == models.OperationCompound && len(op.ParentIDs) == 0 {
		return &bmerrors.ValidationError{OperationID: op.ID.String(), Field: "parent_ids", Reason: "compound operations must reference parents"}
	}

	if len(op.Payload) > 0 {
		result, err := e.schema.Validate(gojsonschema.NewGoLoader(op.Payload))
		if err != nil {
			return &bmerrors.ValidationError{OperationID: op.ID.String(), Field: "payload", Reason: err.Error()}
		}
		if !result.Valid() {
			first := result.Errors()[0]
			return &bmerrors.ValidationError{OperationID: op.ID.String(), Field: "payload." + first.Field(), Reason: first.Description()}
		}
	}
	return nil
}

// stamp produces the annotated copy of the operation that enters the queue:
// the whiteboard clock is merged with the operation's snapshot and the
// Lamport counter witnesses the remote value. Missing causal metadata is
// assigned engine-side so replayed test fixtures stay valid.
func (e *Engine) stamp(op *models.Operation, tc *Context) *models.Operation {
	stamped := op.Clone()
	if stamped.WhiteboardID == "" {
		stamped.WhiteboardID = tc.WhiteboardID
	}
	if stamped.Timestamp.IsZero() {
		stamped.Timestamp = time.Now()
	}

	if len(stamped.Clock) == 0 {
		// A clock-less submission carries no evidence of having observed
		// anyone else's edits, so it is stamped with only the author's own
		// counter and stays concurrent with other users' pending operations.
		merged := e.tracker.Increment(tc.WhiteboardID, stamped.UserID)
		stamped.Clock = crdt.VectorClock{stamped.UserID: merged[stamped.UserID]}
	} else {
		e.tracker.Observe(tc.WhiteboardID, stamped.Clock)
	}
	tc.Clock.Merge(stamped.Clock)

	if stamped.Lamport == 0 {
		// Deriving the Lamport from the clock keeps it consistent with
		// causal order even when related operations arrive out of order;
		// the sum grows by at least one along every causal edge.
		stamped.Lamport = clockSum(stamped.Clock)
	}
	tc.Lamport.Witness(stamped.Lamport)
	return stamped
}

// clockSum folds a vector clock into a scalar. Along any causal chain each
// step increments at least one component, so the sum is strictly increasing
// with causal order.
func clockSum(clock crdt.VectorClock) uint64 {
	var sum uint64
	for _, counter := range clock {
		sum += counter
	}
	return sum
}
