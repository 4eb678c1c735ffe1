// Package services hosts the conflict resolution service: the consumer of
// conflicts emitted by the transform engine. It analyzes risk, applies
// automatic strategies with retry and fallback, escalates to manual
// intervention, and aggregates the audit trail into analytics.
package services

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/boardmesh/boardmesh/pkg/models"
	"github.com/boardmesh/boardmesh/pkg/observability"
)

// AuditStore is the injected persistence collaborator. Writes are append
// only; failures are cold-path and must never block resolution.
type AuditStore interface {
	AppendAuditRecord(ctx context.Context, record *models.AuditRecord) error
	ListAuditRecords(ctx context.Context, whiteboardID string, since, until time.Time) ([]*models.AuditRecord, error)
}

// Notifier is the injected notification collaborator delivering user-visible
// conflict and resolution notices
type Notifier interface {
	NotifyUsers(ctx context.Context, userIDs []string, notice models.Notification) error
}

// ServiceConfig provides the common dependencies for services
type ServiceConfig struct {
	Logger  observability.Logger
	Metrics observability.MetricsClient
	Tracer  observability.StartSpanFunc

	// CircuitBreaker guards the cold-path audit writes.
	CircuitBreaker *gobreaker.Settings
	// ColdPathBackoff builds the retry policy for audit and notification
	// writes. Nil means two retries of exponential backoff.
	ColdPathBackoff func() backoff.BackOff
}

// BaseService provides common functionality for services
type BaseService struct {
	config ServiceConfig
}

// NewBaseService creates a base service, filling in noop observability for
// any dependency left nil
func NewBaseService(config ServiceConfig) BaseService {
	if config.Logger == nil {
		config.Logger = observability.NewNoopLogger()
	}
	if config.Metrics == nil {
		config.Metrics = observability.NewNoopMetrics()
	}
	if config.Tracer == nil {
		config.Tracer = observability.NoopStartSpan
	}
	if config.CircuitBreaker == nil {
		config.CircuitBreaker = &gobreaker.Settings{
			Name:        "audit-store",
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
		}
	}
	if config.ColdPathBackoff == nil {
		config.ColdPathBackoff = func() backoff.BackOff {
			policy := backoff.NewExponentialBackOff()
			policy.InitialInterval = 50 * time.Millisecond
			policy.MaxElapsedTime = 2 * time.Second
			return backoff.WithMaxRetries(policy, 2)
		}
	}
	return BaseService{config: config}
}
