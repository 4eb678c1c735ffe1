package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/boardmesh/boardmesh/pkg/config"
	bmerrors "github.com/boardmesh/boardmesh/pkg/errors"
	"github.com/boardmesh/boardmesh/pkg/models"
	"github.com/boardmesh/boardmesh/pkg/transform"
)

// ConflictResolutionService drives a conflict through the resolution state
// machine: detected, analyzing, then resolved automatically, parked for
// manual review, or failed. Resolution is the hot path and returns typed
// results; audit and notification are cold paths dispatched asynchronously
// behind a circuit breaker so storage trouble never blocks editing.
type ConflictResolutionService struct {
	BaseService

	engine     config.EngineConfig
	store      AuditStore
	notifier   Notifier
	strategies map[models.ResolutionStrategy]Strategy
	breaker    *gobreaker.CircuitBreaker

	mu      sync.Mutex
	pending map[uuid.UUID]*models.ManualIntervention

	coldPath sync.WaitGroup
}

// NewConflictResolutionService creates the resolution service. The store and
// notifier may be nil; the corresponding cold paths become no-ops.
func NewConflictResolutionService(cfg ServiceConfig, engine config.EngineConfig, store AuditStore, notifier Notifier) *ConflictResolutionService {
	base := NewBaseService(cfg)
	if engine.MaxResolutionAttempts <= 0 {
		engine.MaxResolutionAttempts = 3
	}
	return &ConflictResolutionService{
		BaseService: base,
		engine:      engine,
		store:       store,
		notifier:    notifier,
		strategies:  builtinStrategies(),
		breaker:     gobreaker.NewCircuitBreaker(*base.config.CircuitBreaker),
		pending:     make(map[uuid.UUID]*models.ManualIntervention),
	}
}

// AnalyzeConflict inspects a conflict and recommends a resolution strategy
// with a confidence score, risk level and ordered fallbacks. Critical
// conflicts and anything touching element existence are always routed to
// manual review.
func (s *ConflictResolutionService) AnalyzeConflict(ctx context.Context, conflict *models.Conflict) (*models.ResolutionRecommendation, error) {
	_, span := s.config.Tracer(ctx, "services.AnalyzeConflict")
	defer span.End()
	span.SetAttribute("conflict.id", conflict.ID.String())
	span.SetAttribute("conflict.type", string(conflict.Type))

	if len(conflict.Operations) < 2 {
		return nil, &bmerrors.ValidationError{
			OperationID: conflict.ID.String(),
			Reason:      "conflict involves fewer than two operations",
		}
	}

	rec := s.recommend(conflict)
	s.config.Metrics.IncrementCounterWithLabels("conflict.analyzed", 1, map[string]string{
		"type":     string(conflict.Type),
		"strategy": string(rec.Strategy),
	})
	return rec, nil
}

func (s *ConflictResolutionService) recommend(conflict *models.Conflict) *models.ResolutionRecommendation {
	if conflict.Severity == models.SeverityCritical || conflict.TouchesExistence() {
		return &models.ResolutionRecommendation{
			Strategy:      models.StrategyManual,
			Confidence:    0.4,
			Reasoning:     "conflict involves element existence or is critical; automatic merging could lose work",
			EstimatedTime: 2 * time.Minute,
			Risk:          models.RiskHigh,
		}
	}

	switch conflict.Type {
	case models.ConflictSemantic:
		return &models.ResolutionRecommendation{
			Strategy:      models.StrategyLastWriterWins,
			Confidence:    0.9,
			Reasoning:     "both users set the same fields; the causally later write wins deterministically",
			EstimatedTime: 50 * time.Millisecond,
			Risk:          models.RiskLow,
			Alternatives:  []models.ResolutionStrategy{models.StrategyMerge, models.StrategyPriorityUser},
		}
	case models.ConflictSpatial:
		risk := models.RiskLow
		confidence := 0.8
		if conflict.Severity.AtLeast(models.SeverityHigh) {
			risk = models.RiskMedium
			confidence = 0.6
		}
		return &models.ResolutionRecommendation{
			Strategy:      models.StrategySpatialOffset,
			Confidence:    confidence,
			Reasoning:     "elements overlap but both edits can survive if one is nudged clear",
			EstimatedTime: 50 * time.Millisecond,
			Risk:          risk,
			Alternatives:  []models.ResolutionStrategy{models.StrategyLastWriterWins},
		}
	case models.ConflictTemporal:
		return &models.ResolutionRecommendation{
			Strategy:      models.StrategyLastWriterWins,
			Confidence:    0.7,
			Reasoning:     "near-simultaneous edits with no field or geometry collision; latest write wins",
			EstimatedTime: 50 * time.Millisecond,
			Risk:          models.RiskLow,
			Alternatives:  []models.ResolutionStrategy{models.StrategyPriorityUser},
		}
	default:
		return &models.ResolutionRecommendation{
			Strategy:      models.StrategyManual,
			Confidence:    0.3,
			Reasoning:     fmt.Sprintf("no automatic strategy covers conflict type %s", conflict.Type),
			EstimatedTime: 2 * time.Minute,
			Risk:          models.RiskHigh,
		}
	}
}

// ResolveConflictAutomatically attempts to resolve a conflict without human
// involvement. It analyzes first, declines high-risk conflicts, then walks
// the recommended strategy and its fallbacks, bounded by the configured
// attempt limit. Every outcome is a typed ResolutionResult; when automatic
// resolution is disabled or exhausted the conflict is parked for manual
// review instead of failing the edit.
func (s *ConflictResolutionService) ResolveConflictAutomatically(ctx context.Context, conflict *models.Conflict, tc *transform.Context) *models.ResolutionResult {
	ctx, span := s.config.Tracer(ctx, "services.ResolveConflictAutomatically")
	defer span.End()
	span.SetAttribute("conflict.id", conflict.ID.String())

	s.auditAsync(conflict, models.ResolutionDetected, "")

	if !s.engine.AutomaticResolution {
		s.parkForManual(ctx, conflict, nil)
		return &models.ResolutionResult{
			Success:                    false,
			RequiresManualIntervention: true,
		}
	}

	rec, err := s.AnalyzeConflict(ctx, conflict)
	if err != nil {
		span.RecordError(err)
		return &models.ResolutionResult{Success: false, Err: err}
	}
	s.auditAsync(conflict, models.ResolutionAnalyzing, rec.Strategy)

	if rec.Risk == models.RiskHigh || rec.Strategy == models.StrategyManual {
		declined := &bmerrors.RiskTooHighError{
			ConflictID: conflict.ID.String(),
			Risk:       string(rec.Risk),
		}
		span.RecordError(declined)
		s.parkForManual(ctx, conflict, rec)
		return &models.ResolutionResult{
			Success:                    false,
			RequiresManualIntervention: true,
			Err:                        declined,
		}
	}

	candidates := append([]models.ResolutionStrategy{rec.Strategy}, rec.Alternatives...)
	if len(candidates) > s.engine.MaxResolutionAttempts {
		candidates = candidates[:s.engine.MaxResolutionAttempts]
	}

	attempted := make([]models.ResolutionStrategy, 0, len(candidates))
	history := make([]bmerrors.AttemptRecord, 0, len(candidates))
	for i, name := range candidates {
		if i > 0 {
			if err := ctx.Err(); err != nil {
				break
			}
		}
		strategy, ok := s.strategies[name]
		if !ok {
			continue
		}
		attempted = append(attempted, name)

		resolution, err := strategy.Apply(conflict, tc)
		if err != nil {
			history = append(history, bmerrors.AttemptRecord{
				Strategy: string(name),
				Err:      err,
				At:       time.Now(),
			})
			s.config.Logger.Debug("resolution strategy failed, trying fallback", map[string]interface{}{
				"conflict_id": conflict.ID.String(),
				"strategy":    string(name),
				"error":       err.Error(),
			})
			continue
		}

		resolution.Attempts = len(attempted)
		if tc != nil {
			tc.RecordResolution(true)
		}
		s.auditAsync(conflict, models.ResolutionResolvedAutomatic, name)
		s.notifyAsync(conflict, models.Notification{
			Kind:         models.NotificationConflictResolved,
			WhiteboardID: s.whiteboardOf(conflict),
			ConflictID:   conflict.ID,
			Strategy:     name,
			Message:      fmt.Sprintf("conflict resolved automatically via %s", name),
			SentAt:       time.Now(),
		})
		s.config.Metrics.IncrementCounterWithLabels("conflict.resolved", 1, map[string]string{
			"strategy": string(name),
		})
		return &models.ResolutionResult{
			Success:             true,
			Resolution:          resolution,
			AttemptedStrategies: attempted,
		}
	}

	exhausted := &bmerrors.ResolutionExhaustedError{
		ConflictID: conflict.ID.String(),
		Attempts:   history,
	}
	span.RecordError(exhausted)
	if tc != nil {
		tc.RecordResolution(false)
	}
	s.config.Metrics.IncrementCounter("conflict.resolution_exhausted", 1)
	s.parkForManual(ctx, conflict, rec)
	return &models.ResolutionResult{
		Success:                    false,
		RequiresManualIntervention: true,
		AttemptedStrategies:        attempted,
		Err:                        exhausted,
	}
}

// RequestManualIntervention parks a conflict for human review and notifies
// the involved users with non-blocking suggestions
func (s *ConflictResolutionService) RequestManualIntervention(ctx context.Context, conflict *models.Conflict, rec *models.ResolutionRecommendation) (*models.ManualIntervention, error) {
	_, span := s.config.Tracer(ctx, "services.RequestManualIntervention")
	defer span.End()

	intervention := s.parkForManual(ctx, conflict, rec)
	return intervention, nil
}

func (s *ConflictResolutionService) parkForManual(ctx context.Context, conflict *models.Conflict, rec *models.ResolutionRecommendation) *models.ManualIntervention {
	intervention := &models.ManualIntervention{
		ID:             uuid.New(),
		Conflict:       conflict,
		Recommendation: rec,
		RequestedAt:    time.Now(),
		WhiteboardID:   s.whiteboardOf(conflict),
	}
	s.mu.Lock()
	s.pending[intervention.ID] = intervention
	s.mu.Unlock()

	s.auditAsync(conflict, models.ResolutionResolvedManualPending, models.StrategyManual)
	s.notifyAsync(conflict, models.Notification{
		Kind:         models.NotificationManualReview,
		WhiteboardID: intervention.WhiteboardID,
		ConflictID:   conflict.ID,
		Message:      "a conflicting edit needs your review",
		Suggestions:  suggestionsFor(conflict),
		SentAt:       time.Now(),
	})
	s.config.Metrics.IncrementCounter("conflict.manual_pending", 1)
	return intervention
}

// CompleteManualIntervention records a human decision for a pending
// intervention and removes it from the queue
func (s *ConflictResolutionService) CompleteManualIntervention(ctx context.Context, interventionID uuid.UUID, resolution *models.Resolution) error {
	s.mu.Lock()
	intervention, ok := s.pending[interventionID]
	if ok {
		delete(s.pending, interventionID)
	}
	s.mu.Unlock()
	if !ok {
		return &bmerrors.ValidationError{
			OperationID: interventionID.String(),
			Reason:      "no pending manual intervention with this id",
		}
	}

	s.auditAsync(intervention.Conflict, models.ResolutionResolvedManual, resolution.Strategy)
	s.notifyAsync(intervention.Conflict, models.Notification{
		Kind:         models.NotificationConflictResolved,
		WhiteboardID: intervention.WhiteboardID,
		ConflictID:   intervention.Conflict.ID,
		Strategy:     resolution.Strategy,
		Message:      "conflict resolved by manual review",
		SentAt:       time.Now(),
	})
	return nil
}

// GetPendingManualInterventions returns the parked conflicts for one
// whiteboard, oldest first
func (s *ConflictResolutionService) GetPendingManualInterventions(whiteboardID string) []*models.ManualIntervention {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.ManualIntervention, 0, len(s.pending))
	for _, intervention := range s.pending {
		if whiteboardID == "" || intervention.WhiteboardID == whiteboardID {
			out = append(out, intervention)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

// GetConflictAnalytics aggregates the audit log into a reporting view. A
// storage failure degrades the report instead of failing it: the caller gets
// whatever could be aggregated with Degraded set.
func (s *ConflictResolutionService) GetConflictAnalytics(ctx context.Context, whiteboardID string, since, until time.Time) (*models.ConflictAnalytics, error) {
	ctx, span := s.config.Tracer(ctx, "services.GetConflictAnalytics")
	defer span.End()

	analytics := &models.ConflictAnalytics{
		WhiteboardID:      whiteboardID,
		ByType:            make(map[models.ConflictType]int),
		BySeverity:        make(map[models.Severity]int),
		UserParticipation: make(map[string]int),
		GeneratedAt:       time.Now(),
	}

	if s.store == nil {
		analytics.Degraded = true
		return analytics, nil
	}

	records, err := s.store.ListAuditRecords(ctx, whiteboardID, since, until)
	if err != nil {
		perr := &bmerrors.PersistenceError{Op: "ListAuditRecords", Cause: err}
		span.RecordError(perr)
		s.config.Logger.Warn("analytics aggregation degraded by storage failure", map[string]interface{}{
			"whiteboard_id": whiteboardID,
			"error":         perr.Error(),
		})
		analytics.Degraded = true
		return analytics, nil
	}

	seen := make(map[uuid.UUID]struct{})
	outcomes := make(map[uuid.UUID]models.ResolutionState)
	hourCounts := make(map[int]int)
	buckets := make(map[time.Time]int)
	for _, record := range records {
		if _, ok := seen[record.ConflictID]; !ok {
			seen[record.ConflictID] = struct{}{}
			analytics.TotalConflicts++
			analytics.ByType[record.ConflictType]++
			analytics.BySeverity[record.Severity]++
			hourCounts[record.CreatedAt.Hour()]++
			buckets[record.CreatedAt.Truncate(time.Hour)]++
			for _, userID := range record.UserIDs {
				analytics.UserParticipation[userID]++
			}
		}
		switch record.State {
		case models.ResolutionResolvedAutomatic, models.ResolutionResolvedManual, models.ResolutionResolvedManualPending:
			// later transitions override earlier ones for the same conflict
			outcomes[record.ConflictID] = record.State
		}
	}

	if analytics.TotalConflicts > 0 {
		automatic, resolved := 0, 0
		for _, state := range outcomes {
			switch state {
			case models.ResolutionResolvedAutomatic:
				automatic++
				resolved++
			case models.ResolutionResolvedManual:
				resolved++
			case models.ResolutionResolvedManualPending:
				// parked for review, not yet a resolution
				analytics.PendingManual++
			}
		}
		analytics.ResolutionRate = float64(resolved) / float64(analytics.TotalConflicts)
		analytics.AutomaticRate = float64(automatic) / float64(analytics.TotalConflicts)
	}
	analytics.PeakHours = peakHours(hourCounts)
	analytics.TrendBuckets = trendBuckets(buckets)
	return analytics, nil
}

// Close waits for in-flight cold-path writes to drain
func (s *ConflictResolutionService) Close() error {
	s.coldPath.Wait()
	return nil
}

// auditAsync persists one state transition off the hot path. Writes go
// through the circuit breaker with bounded retries; a failure is logged and
// suppressed.
func (s *ConflictResolutionService) auditAsync(conflict *models.Conflict, state models.ResolutionState, strategy models.ResolutionStrategy) {
	if s.store == nil {
		return
	}
	record := &models.AuditRecord{
		ID:           uuid.New(),
		WhiteboardID: s.whiteboardOf(conflict),
		ConflictID:   conflict.ID,
		ConflictType: conflict.Type,
		Severity:     conflict.Severity,
		State:        state,
		Strategy:     strategy,
		UserIDs:      conflict.UserIDs(),
		CreatedAt:    time.Now(),
	}

	s.coldPath.Add(1)
	go func() {
		defer s.coldPath.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, backoff.Retry(func() error {
				return s.store.AppendAuditRecord(ctx, record)
			}, s.config.ColdPathBackoff())
		})
		if err != nil {
			perr := &bmerrors.PersistenceError{Op: "AppendAuditRecord", Cause: err}
			s.config.Logger.Warn("audit write dropped", map[string]interface{}{
				"conflict_id": conflict.ID.String(),
				"state":       string(state),
				"error":       perr.Error(),
			})
			s.config.Metrics.IncrementCounter("audit.write_failed", 1)
		}
	}()
}

func (s *ConflictResolutionService) notifyAsync(conflict *models.Conflict, notice models.Notification) {
	if s.notifier == nil {
		return
	}
	userIDs := conflict.UserIDs()

	s.coldPath.Add(1)
	go func() {
		defer s.coldPath.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := backoff.Retry(func() error {
			return s.notifier.NotifyUsers(ctx, userIDs, notice)
		}, s.config.ColdPathBackoff())
		if err != nil {
			s.config.Logger.Warn("notification dropped", map[string]interface{}{
				"conflict_id": conflict.ID.String(),
				"kind":        string(notice.Kind),
				"error":       err.Error(),
			})
		}
	}()
}

func (s *ConflictResolutionService) whiteboardOf(conflict *models.Conflict) string {
	for _, op := range conflict.Operations {
		if op.WhiteboardID != "" {
			return op.WhiteboardID
		}
	}
	return ""
}

func suggestionsFor(conflict *models.Conflict) []string {
	if conflict.TouchesExistence() {
		return []string{"restore the deleted element", "confirm the deletion"}
	}
	return []string{"keep your version", "keep the other version", "merge both edits"}
}

func peakHours(counts map[int]int) []int {
	type hourCount struct {
		hour  int
		count int
	}
	ranked := make([]hourCount, 0, len(counts))
	for h, c := range counts {
		ranked = append(ranked, hourCount{h, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].hour < ranked[j].hour
	})
	top := make([]int, 0, 3)
	for i := 0; i < len(ranked) && i < 3; i++ {
		top = append(top, ranked[i].hour)
	}
	return top
}

func trendBuckets(counts map[time.Time]int) []models.TrendBucket {
	buckets := make([]models.TrendBucket, 0, len(counts))
	for start, count := range counts {
		buckets = append(buckets, models.TrendBucket{Start: start, Count: count})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Start.Before(buckets[j].Start) })
	return buckets
}
