package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/boardmesh/boardmesh/pkg/compression"
	"github.com/boardmesh/boardmesh/pkg/config"
	"github.com/boardmesh/boardmesh/pkg/conflict"
	"github.com/boardmesh/boardmesh/pkg/models"
	"github.com/boardmesh/boardmesh/pkg/observability"
	"github.com/boardmesh/boardmesh/pkg/services"
	"github.com/boardmesh/boardmesh/pkg/transform"
)

// ErrClosed is returned for submissions after the manager shut down
var ErrClosed = errors.New("session manager is closed")

type sessionDeps struct {
	engine     *transform.Engine
	resolver   *services.ConflictResolutionService
	predictor  *conflict.Predictor
	compressor *compression.Compressor
	cfg        config.EngineConfig
	logger     observability.Logger
	metrics    observability.MetricsClient
}

// ManagerConfig holds the manager dependencies
type ManagerConfig struct {
	Engine     *transform.Engine
	Resolver   *services.ConflictResolutionService
	Predictor  *conflict.Predictor
	Compressor *compression.Compressor
	EngineCfg  config.EngineConfig
	Logger     observability.Logger
	Metrics    observability.MetricsClient
}

// Manager routes edits to per-whiteboard session actors, creating them on
// first use
type Manager struct {
	deps sessionDeps

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// NewManager creates a session manager
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Engine == nil {
		return nil, errors.New("session manager needs a transform engine")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("session manager needs a resolution service")
	}
	if cfg.Compressor == nil {
		cfg.Compressor = compression.NewCompressor()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNoopMetrics()
	}
	return &Manager{
		deps: sessionDeps{
			engine:     cfg.Engine,
			resolver:   cfg.Resolver,
			predictor:  cfg.Predictor,
			compressor: cfg.Compressor,
			cfg:        cfg.EngineCfg,
			logger:     cfg.Logger,
			metrics:    cfg.Metrics,
		},
		sessions: make(map[string]*session),
	}, nil
}

func (m *Manager) sessionFor(whiteboardID string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	s, ok := m.sessions[whiteboardID]
	if !ok {
		s = newSession(whiteboardID, m.deps)
		m.sessions[whiteboardID] = s
		m.deps.metrics.RecordGauge("sessions_open", float64(len(m.sessions)), nil)
	}
	return s, nil
}

// Submit routes one edit to its whiteboard's actor and waits for the outcome
func (m *Manager) Submit(ctx context.Context, whiteboardID string, op *models.Operation) (*SubmitResult, error) {
	s, err := m.sessionFor(whiteboardID)
	if err != nil {
		return nil, err
	}

	req := submitRequest{ctx: ctx, op: op, reply: make(chan submitReply, 1)}
	select {
	case s.inbox <- req:
	case <-s.quit:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "submission abandoned before processing")
	}

	select {
	case reply := <-req.reply:
		return reply.result, reply.err
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "submission abandoned awaiting result")
	}
}

// query runs fn inside the actor goroutine and waits for it to finish
func (m *Manager) query(ctx context.Context, whiteboardID string, fn func(*session)) error {
	s, err := m.sessionFor(whiteboardID)
	if err != nil {
		return err
	}
	req := queryRequest{fn: fn, done: make(chan struct{})}
	select {
	case s.inbox <- req:
	case <-s.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// History returns the whiteboard's replay stream: the compressed settled log
// followed by the pending causal queue
func (m *Manager) History(ctx context.Context, whiteboardID string) ([]*models.Operation, error) {
	var ops []*models.Operation
	err := m.query(ctx, whiteboardID, func(s *session) {
		ops = s.historySnapshot()
	})
	return ops, err
}

// Performance returns the whiteboard's rolling performance view
func (m *Manager) Performance(ctx context.Context, whiteboardID string) (transform.Performance, error) {
	var perf transform.Performance
	err := m.query(ctx, whiteboardID, func(s *session) {
		perf = s.tc.Metrics()
	})
	return perf, err
}

// SetUserPriority weights a user for resolution tie-breaks on one whiteboard
func (m *Manager) SetUserPriority(ctx context.Context, whiteboardID, userID string, weight float64) error {
	return m.query(ctx, whiteboardID, func(s *session) {
		s.tc.UserPriorities[userID] = weight
	})
}

// Observe feeds a live activity signal to the predictor. Activity is
// advisory and bypasses the actor; the predictor is safe for concurrent use.
func (m *Manager) Observe(activity models.UserActivity) {
	if m.deps.predictor != nil {
		m.deps.predictor.Observe(activity)
	}
}

// Predict returns advisory conflict forecasts for a whiteboard
func (m *Manager) Predict(ctx context.Context, whiteboardID string) ([]models.ConflictPrediction, error) {
	if m.deps.predictor == nil {
		return nil, nil
	}
	var predictions []models.ConflictPrediction
	err := m.query(ctx, whiteboardID, func(s *session) {
		predictions = s.predictor.Predict(whiteboardID, s.tc.RecentOperations())
	})
	return predictions, err
}

// Close stops all session actors and waits for them to drain
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		close(s.quit)
		<-s.done
	}
	return nil
}
