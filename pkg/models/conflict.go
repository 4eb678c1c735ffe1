package models

import (
	"time"

	"github.com/google/uuid"
)

// ConflictType classifies the kind of collision between operations
type ConflictType string

// Conflict types
const (
	ConflictSpatial  ConflictType = "spatial"
	ConflictTemporal ConflictType = "temporal"
	ConflictSemantic ConflictType = "semantic"
	ConflictCompound ConflictType = "compound"
)

// Severity ranks how disruptive a conflict is
type Severity string

// Severity levels, ordered low to critical
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s ranks at or above other
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Max returns the higher of two severities
func (s Severity) Max(other Severity) Severity {
	if severityRank[other] > severityRank[s] {
		return other
	}
	return s
}

// ConflictEvidence is the closed set of type-specific evidence payloads.
// Exactly one concrete evidence type accompanies each conflict type, so
// resolution strategies can switch on the static shape instead of probing an
// open bag of optional fields.
type ConflictEvidence interface {
	evidenceKind() ConflictType
}

// SpatialEvidence records the geometric overlap between two operations
type SpatialEvidence struct {
	Overlap        Bounds  `json:"overlap"`
	OverlapArea    float64 `json:"overlap_area"`
	OverlapPercent float64 `json:"overlap_percent"`
}

func (SpatialEvidence) evidenceKind() ConflictType { return ConflictSpatial }

// TemporalEvidence records how close in time two operations landed
type TemporalEvidence struct {
	ProximityMs  int64 `json:"proximity_ms"`
	Simultaneous bool  `json:"simultaneous"`
}

func (TemporalEvidence) evidenceKind() ConflictType { return ConflictTemporal }

// SemanticEvidence records the fields both operations set to different values
type SemanticEvidence struct {
	Fields []string                          `json:"fields"`
	Values map[string]map[string]interface{} `json:"values"` // field -> user id -> value
}

func (SemanticEvidence) evidenceKind() ConflictType { return ConflictSemantic }

// CompoundEvidence wraps the sub-conflicts that make up a compound conflict
type CompoundEvidence struct {
	SubConflicts []*Conflict `json:"sub_conflicts"`
}

func (CompoundEvidence) evidenceKind() ConflictType { return ConflictCompound }

// Conflict is a detected collision between two or more operations from
// different users on overlapping element scope. Conflicts are immutable once
// created; resolution outcomes are recorded separately.
type Conflict struct {
	ID         uuid.UUID          `json:"id"`
	Type       ConflictType       `json:"type"`
	Severity   Severity           `json:"severity"`
	Operations []*Operation       `json:"operations"`
	ElementIDs []string           `json:"element_ids"`
	Evidence   ConflictEvidence   `json:"evidence,omitempty"`
	Strategy   ResolutionStrategy `json:"strategy,omitempty"`
	DetectedAt time.Time          `json:"detected_at"`
	ResolvedAt *time.Time         `json:"resolved_at,omitempty"`
}

// UserIDs returns the distinct users whose operations are involved
func (c *Conflict) UserIDs() []string {
	seen := make(map[string]struct{}, len(c.Operations))
	users := make([]string, 0, len(c.Operations))
	for _, op := range c.Operations {
		if _, ok := seen[op.UserID]; ok {
			continue
		}
		seen[op.UserID] = struct{}{}
		users = append(users, op.UserID)
	}
	return users
}

// OperationIDs returns the ids of the involved operations
func (c *Conflict) OperationIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Operations))
	for _, op := range c.Operations {
		ids = append(ids, op.ID)
	}
	return ids
}

// TouchesExistence reports whether any involved operation creates or deletes
// the target element
func (c *Conflict) TouchesExistence() bool {
	for _, op := range c.Operations {
		if op.TouchesExistence() {
			return true
		}
	}
	return false
}
