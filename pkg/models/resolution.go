package models

import (
	"time"

	"github.com/google/uuid"
)

// ResolutionStrategy names a deterministic procedure for resolving a conflict
type ResolutionStrategy string

// Resolution strategies
const (
	StrategyAutomatic      ResolutionStrategy = "automatic"
	StrategyManual         ResolutionStrategy = "manual"
	StrategyMerge          ResolutionStrategy = "merge"
	StrategyLastWriterWins ResolutionStrategy = "last_writer_wins"
	StrategySpatialOffset  ResolutionStrategy = "spatial_offset"
	StrategyPriorityUser   ResolutionStrategy = "priority_user"
)

// RiskLevel ranks how dangerous applying an automatic resolution would be
type RiskLevel string

// Risk levels
const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ResolutionState tracks a conflict through the resolution state machine
type ResolutionState string

// Resolution states
const (
	ResolutionDetected              ResolutionState = "detected"
	ResolutionAnalyzing             ResolutionState = "analyzing"
	ResolutionResolvedAutomatic     ResolutionState = "resolved_automatic"
	ResolutionResolvedManualPending ResolutionState = "resolved_manual_pending"
	ResolutionResolvedManual        ResolutionState = "resolved_manual"
	ResolutionFailed                ResolutionState = "failed"
)

// ResolutionRecommendation is the analyzer's advice for a conflict
type ResolutionRecommendation struct {
	Strategy      ResolutionStrategy   `json:"strategy"`
	Confidence    float64              `json:"confidence"`
	Reasoning     string               `json:"reasoning"`
	EstimatedTime time.Duration        `json:"estimated_time"`
	Risk          RiskLevel            `json:"risk"`
	Alternatives  []ResolutionStrategy `json:"alternatives,omitempty"`
}

// Resolution records the outcome of a successful strategy application
type Resolution struct {
	ConflictID uuid.UUID          `json:"conflict_id"`
	Strategy   ResolutionStrategy `json:"strategy"`
	// WinningOperation is the operation whose effect survives, when the
	// strategy selects a winner (last-writer-wins, priority-user).
	WinningOperation *Operation `json:"winning_operation,omitempty"`
	// MergedPayload carries the combined element state for merge strategies.
	MergedPayload map[string]interface{} `json:"merged_payload,omitempty"`
	ResolvedAt    time.Time              `json:"resolved_at"`
	Attempts      int                    `json:"attempts"`
}

// ResolutionResult is the typed outcome of an automatic resolution attempt.
// When Success is false and RequiresManualIntervention is true the conflict
// has been routed to a human; Err carries the typed failure for the caller.
type ResolutionResult struct {
	Success                    bool                 `json:"success"`
	Resolution                 *Resolution          `json:"resolution,omitempty"`
	RequiresManualIntervention bool                 `json:"requires_manual_intervention"`
	AttemptedStrategies        []ResolutionStrategy `json:"attempted_strategies,omitempty"`
	Err                        error                `json:"-"`
}

// ManualIntervention is a pending request for a human to resolve a conflict
type ManualIntervention struct {
	ID             uuid.UUID                 `json:"id"`
	Conflict       *Conflict                 `json:"conflict"`
	Recommendation *ResolutionRecommendation `json:"recommendation,omitempty"`
	RequestedAt    time.Time                 `json:"requested_at"`
	WhiteboardID   string                    `json:"whiteboard_id"`
}

// AuditRecord is the append-only row persisted for every detection,
// resolution and escalation event
type AuditRecord struct {
	ID           uuid.UUID          `json:"id" db:"id"`
	WhiteboardID string             `json:"whiteboard_id" db:"whiteboard_id"`
	ConflictID   uuid.UUID          `json:"conflict_id" db:"conflict_id"`
	ConflictType ConflictType       `json:"conflict_type" db:"conflict_type"`
	Severity     Severity           `json:"severity" db:"severity"`
	State        ResolutionState    `json:"state" db:"state"`
	Strategy     ResolutionStrategy `json:"strategy,omitempty" db:"strategy"`
	UserIDs      []string           `json:"user_ids" db:"-"`
	CreatedAt    time.Time          `json:"created_at" db:"created_at"`
}

// ConflictAnalytics aggregates the audit log into a reporting view
type ConflictAnalytics struct {
	WhiteboardID      string               `json:"whiteboard_id,omitempty"`
	TotalConflicts    int                  `json:"total_conflicts"`
	ByType            map[ConflictType]int `json:"by_type"`
	BySeverity        map[Severity]int     `json:"by_severity"`
	ResolutionRate    float64              `json:"resolution_rate"`
	AutomaticRate     float64              `json:"automatic_rate"`
	PendingManual     int                  `json:"pending_manual"`
	UserParticipation map[string]int       `json:"user_participation"`
	PeakHours         []int                `json:"peak_hours"`
	TrendBuckets      []TrendBucket        `json:"trend_buckets"`
	GeneratedAt       time.Time            `json:"generated_at"`
	// Degraded is set when a storage failure forced a partial aggregation.
	Degraded bool `json:"degraded,omitempty"`
}

// TrendBucket is one time slice of conflict volume
type TrendBucket struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}
