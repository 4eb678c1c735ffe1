package transform

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/boardmesh/boardmesh/pkg/crdt"
	"github.com/boardmesh/boardmesh/pkg/models"
)

// ElementState is the last known snapshot of one canvas element
type ElementState struct {
	ElementID string                 `json:"element_id"`
	Version   int                    `json:"version"`
	Fields    map[string]interface{} `json:"fields"`
	Deleted   bool                   `json:"deleted"`
	UpdatedAt time.Time              `json:"updated_at"`
	LastUser  string                 `json:"last_user"`
}

// Performance is the rolling metrics view returned with every transform call
// and exposed to the transport layer for backpressure decisions
type Performance struct {
	LastLatency       time.Duration `json:"last_latency"`
	AvgLatency        time.Duration `json:"avg_latency"`
	ConflictRate      float64       `json:"conflict_rate"`
	ResolutionSuccess float64       `json:"resolution_success"`
	Throughput        float64       `json:"throughput"` // operations per second
	QueueSize         int           `json:"queue_size"`
	OperationCount    uint64        `json:"operation_count"`
	ConflictCount     uint64        `json:"conflict_count"`
}

// ContextConfig holds the per-context tunables
type ContextConfig struct {
	// RecencyWindow bounds the conflict scan over pending operations.
	RecencyWindow time.Duration
	// ConflictHistorySize bounds the retained conflict history.
	ConflictHistorySize int
	// MaxQueueSize is reported against in the performance view; enforcement
	// is the transport layer's job.
	MaxQueueSize int
	// ThrottleRate caps operations per second before the adaptive throttle
	// reports pressure. Zero disables the throttle.
	ThrottleRate float64
}

// Context is the per-whiteboard working state of the transform engine. It is
// exclusively owned by the whiteboard's processing actor and mutated in
// place; it must never be shared across goroutines.
type Context struct {
	WhiteboardID  string
	CanvasVersion int64

	Queue    *CausalQueue
	Elements map[string]*ElementState
	Clock    crdt.VectorClock
	Lamport  *crdt.LamportClock

	// UserPriorities weights users for resolution tie-breaks; unknown users
	// default to 1.
	UserPriorities map[string]float64

	config          ContextConfig
	conflictHistory []*models.Conflict
	throttle        *rate.Limiter

	opCount       uint64
	conflictCount uint64
	latencySum    time.Duration
	lastLatency   time.Duration
	resolvedOK    uint64
	resolvedTried uint64
	startedAt     time.Time
}

// NewContext creates the working state for one whiteboard session
func NewContext(whiteboardID string, config ContextConfig) *Context {
	if config.RecencyWindow <= 0 {
		config.RecencyWindow = 5 * time.Second
	}
	if config.ConflictHistorySize <= 0 {
		config.ConflictHistorySize = 256
	}
	var throttle *rate.Limiter
	if config.ThrottleRate > 0 {
		throttle = rate.NewLimiter(rate.Limit(config.ThrottleRate), int(config.ThrottleRate))
	}
	return &Context{
		WhiteboardID:   whiteboardID,
		Queue:          NewCausalQueue(),
		Elements:       make(map[string]*ElementState),
		Clock:          crdt.NewVectorClock(),
		Lamport:        crdt.NewLamportClock(),
		UserPriorities: make(map[string]float64),
		config:         config,
		throttle:       throttle,
		startedAt:      time.Now(),
	}
}

// RecentOperations returns the pending operations inside the recency window
func (c *Context) RecentOperations() []*models.Operation {
	return c.Queue.Since(time.Now().Add(-c.config.RecencyWindow))
}

// PriorityOf returns the user's resolution weight
func (c *Context) PriorityOf(userID string) float64 {
	if w, ok := c.UserPriorities[userID]; ok {
		return w
	}
	return 1
}

// RecordConflicts appends to the bounded conflict history
func (c *Context) RecordConflicts(conflicts []*models.Conflict) {
	c.conflictCount += uint64(len(conflicts))
	c.conflictHistory = append(c.conflictHistory, conflicts...)
	if over := len(c.conflictHistory) - c.config.ConflictHistorySize; over > 0 {
		c.conflictHistory = append([]*models.Conflict(nil), c.conflictHistory[over:]...)
	}
}

// ConflictHistory returns the retained conflicts, oldest first
func (c *Context) ConflictHistory() []*models.Conflict {
	return append([]*models.Conflict(nil), c.conflictHistory...)
}

// RecordResolution feeds the rolling resolution success rate
func (c *Context) RecordResolution(success bool) {
	c.resolvedTried++
	if success {
		c.resolvedOK++
	}
}

// Throttled reports whether the adaptive throttle is under pressure; the
// transport layer may use this to shed load. Operations are never rejected
// here.
func (c *Context) Throttled() bool {
	if c.throttle == nil {
		return false
	}
	return !c.throttle.Allow()
}

// ApplyToSnapshot folds a transformed operation into the element state map
func (c *Context) ApplyToSnapshot(op *models.Operation) {
	state := c.Elements[op.ElementID]
	if state == nil {
		state = &ElementState{ElementID: op.ElementID, Fields: make(map[string]interface{})}
		c.Elements[op.ElementID] = state
	}

	switch op.Type {
	case models.OperationDelete:
		state.Deleted = true
		state.Fields = make(map[string]interface{})
	case models.OperationCreate:
		state.Deleted = false
		state.Fields = make(map[string]interface{}, len(op.Payload))
		for k, v := range op.Payload {
			state.Fields[k] = v
		}
	default:
		for k, v := range op.Payload {
			state.Fields[k] = v
		}
	}
	state.Version++
	state.UpdatedAt = op.Timestamp
	state.LastUser = op.UserID
	c.CanvasVersion++
}

func (c *Context) recordCall(latency time.Duration) {
	c.opCount++
	c.latencySum += latency
	c.lastLatency = latency
}

// Metrics returns the rolling performance snapshot
func (c *Context) Metrics() Performance {
	perf := Performance{
		LastLatency:    c.lastLatency,
		QueueSize:      c.Queue.Len(),
		OperationCount: c.opCount,
		ConflictCount:  c.conflictCount,
	}
	if c.opCount > 0 {
		perf.AvgLatency = c.latencySum / time.Duration(c.opCount)
		perf.ConflictRate = float64(c.conflictCount) / float64(c.opCount)
	}
	if c.resolvedTried > 0 {
		perf.ResolutionSuccess = float64(c.resolvedOK) / float64(c.resolvedTried)
	}
	if elapsed := time.Since(c.startedAt).Seconds(); elapsed > 0 {
		perf.Throughput = float64(c.opCount) / elapsed
	}
	return perf
}
