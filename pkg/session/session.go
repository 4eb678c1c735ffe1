// Package session hosts the per-whiteboard processing actors. Each open
// whiteboard gets one goroutine that exclusively owns its transform context;
// all edits for a whiteboard funnel through that actor, so the engine's
// single-writer state needs no locking. Resolution, audit and notification
// happen inline in the actor but their cold paths are asynchronous, keeping
// per-operation latency bounded.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/boardmesh/boardmesh/pkg/compression"
	"github.com/boardmesh/boardmesh/pkg/config"
	"github.com/boardmesh/boardmesh/pkg/conflict"
	"github.com/boardmesh/boardmesh/pkg/models"
	"github.com/boardmesh/boardmesh/pkg/observability"
	"github.com/boardmesh/boardmesh/pkg/services"
	"github.com/boardmesh/boardmesh/pkg/transform"
)

// SubmitResult is the outcome of one edit routed through a session
type SubmitResult struct {
	Operation   *models.Operation          `json:"operation"`
	Conflicts   []*models.Conflict         `json:"conflicts,omitempty"`
	Resolutions []*models.ResolutionResult `json:"resolutions,omitempty"`
	Performance transform.Performance      `json:"performance"`
	// Throttled tells the transport layer to shed load; the operation was
	// still accepted and ordered.
	Throttled bool `json:"throttled"`
}

type submitRequest struct {
	ctx   context.Context
	op    *models.Operation
	reply chan submitReply
}

type submitReply struct {
	result *SubmitResult
	err    error
}

type queryRequest struct {
	fn   func(*session)
	done chan struct{}
}

// session is one whiteboard actor. All fields below inbox are owned by the
// actor goroutine and must only be touched from run().
type session struct {
	whiteboardID string
	inbox        chan interface{}
	quit         chan struct{}
	done         chan struct{}

	engine     *transform.Engine
	resolver   *services.ConflictResolutionService
	predictor  *conflict.Predictor
	compressor *compression.Compressor
	cfg        config.EngineConfig
	logger     observability.Logger
	metrics    observability.MetricsClient

	tc            *transform.Context
	history       []*models.Operation
	protected     map[uuid.UUID]bool
	sinceCompress int
}

func newSession(whiteboardID string, deps sessionDeps) *session {
	inboxSize := deps.cfg.MaxQueueSize
	if inboxSize <= 0 {
		inboxSize = 1024
	}
	s := &session{
		whiteboardID: whiteboardID,
		inbox:        make(chan interface{}, inboxSize),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		engine:       deps.engine,
		resolver:     deps.resolver,
		predictor:    deps.predictor,
		compressor:   deps.compressor,
		cfg:          deps.cfg,
		logger:       deps.logger.WithPrefix("session:" + whiteboardID),
		metrics:      deps.metrics,
		tc: transform.NewContext(whiteboardID, transform.ContextConfig{
			RecencyWindow:       deps.cfg.RecencyWindow,
			ConflictHistorySize: deps.cfg.ConflictHistorySize,
			MaxQueueSize:        deps.cfg.MaxQueueSize,
		}),
		protected: make(map[uuid.UUID]bool),
	}
	go s.run()
	return s
}

func (s *session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case msg := <-s.inbox:
			switch req := msg.(type) {
			case submitRequest:
				result, err := s.handleSubmit(req.ctx, req.op)
				req.reply <- submitReply{result: result, err: err}
			case queryRequest:
				req.fn(s)
				close(req.done)
			}
		}
	}
}

func (s *session) handleSubmit(ctx context.Context, op *models.Operation) (*SubmitResult, error) {
	throttled := s.tc.Throttled()

	result, err := s.engine.Transform(ctx, op, s.tc)
	if err != nil {
		return nil, err
	}

	resolutions := make([]*models.ResolutionResult, 0, len(result.Conflicts))
	for _, c := range result.Conflicts {
		res := s.resolver.ResolveConflictAutomatically(ctx, c, s.tc)
		if !res.Success {
			// only operations in unresolved conflicts are held back from
			// compression; a settled conflict leaves its operations free
			for _, id := range c.OperationIDs() {
				s.protected[id] = true
			}
		}
		resolutions = append(resolutions, res)
	}

	if s.predictor != nil {
		s.predictor.Observe(models.UserActivity{
			WhiteboardID:  s.whiteboardID,
			UserID:        result.Operation.UserID,
			ActiveElement: result.Operation.ElementID,
			SeenAt:        time.Now(),
		})
	}

	s.sinceCompress++
	if s.cfg.CompressionRunLimit > 0 && s.sinceCompress >= s.cfg.CompressionRunLimit {
		s.compactSettled()
	}

	return &SubmitResult{
		Operation:   result.Operation,
		Conflicts:   result.Conflicts,
		Resolutions: resolutions,
		Performance: result.Performance,
		Throttled:   throttled,
	}, nil
}

// compactSettled moves operations that have aged out of the conflict recency
// window into the compressed history log. Operations still involved in
// conflicts are carried through untouched.
func (s *session) compactSettled() {
	s.sinceCompress = 0
	cutoff := time.Now().Add(-s.cfg.RecencyWindow)
	settled := s.tc.Queue.PopBefore(cutoff)
	if len(settled) == 0 {
		return
	}

	before := len(s.history) + len(settled)
	s.history = s.compressor.Compress(append(s.history, settled...), s.protected)
	s.metrics.RecordGauge("session_history_size", float64(len(s.history)), map[string]string{
		"whiteboard_id": s.whiteboardID,
	})
	if saved := before - len(s.history); saved > 0 {
		s.logger.Debug("Compacted settled operations", map[string]interface{}{
			"settled":    len(settled),
			"saved":      saved,
			"log_length": len(s.history),
		})
	}
}

// historySnapshot returns the compressed log followed by the pending queue,
// the replay stream a late joiner needs
func (s *session) historySnapshot() []*models.Operation {
	out := make([]*models.Operation, 0, len(s.history)+s.tc.Queue.Len())
	out = append(out, s.history...)
	out = append(out, s.tc.Queue.Ops()...)
	return out
}
