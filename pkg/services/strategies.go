package services

import (
	"fmt"
	"time"

	"github.com/boardmesh/boardmesh/pkg/models"
	"github.com/boardmesh/boardmesh/pkg/transform"
)

// Strategy applies one resolution procedure to a conflict. Implementations
// are pure with respect to shared state: they compute the resolution without
// mutating the conflict, its operations or the transform context, so a
// failed attempt leaves nothing to roll back (apply-or-discard).
type Strategy interface {
	Name() models.ResolutionStrategy
	Apply(conflict *models.Conflict, tc *transform.Context) (*models.Resolution, error)
}

// builtinStrategies returns the automatic strategies in a name-indexed map
func builtinStrategies() map[models.ResolutionStrategy]Strategy {
	strategies := map[models.ResolutionStrategy]Strategy{}
	for _, s := range []Strategy{lastWriterWins{}, priorityUser{}, mergeFields{}, spatialOffset{}} {
		strategies[s.Name()] = s
	}
	return strategies
}

// lastWriterWins selects the operation with the highest Lamport timestamp;
// ties fall to the lexically larger user id so the choice is deterministic
type lastWriterWins struct{}

func (lastWriterWins) Name() models.ResolutionStrategy { return models.StrategyLastWriterWins }

func (lastWriterWins) Apply(conflict *models.Conflict, tc *transform.Context) (*models.Resolution, error) {
	if len(conflict.Operations) < 2 {
		return nil, fmt.Errorf("conflict %s has fewer than two operations", conflict.ID)
	}
	winner := conflict.Operations[0]
	for _, op := range conflict.Operations[1:] {
		if op.Lamport > winner.Lamport ||
			(op.Lamport == winner.Lamport && op.UserID > winner.UserID) {
			winner = op
		}
	}
	return &models.Resolution{
		ConflictID:       conflict.ID,
		Strategy:         models.StrategyLastWriterWins,
		WinningOperation: winner,
		ResolvedAt:       time.Now(),
	}, nil
}

// priorityUser selects the operation of the user with the highest configured
// priority weight; it refuses when weights do not discriminate
type priorityUser struct{}

func (priorityUser) Name() models.ResolutionStrategy { return models.StrategyPriorityUser }

func (priorityUser) Apply(conflict *models.Conflict, tc *transform.Context) (*models.Resolution, error) {
	if tc == nil {
		return nil, fmt.Errorf("priority resolution needs a transform context")
	}
	var winner *models.Operation
	tied := false
	best := 0.0
	for _, op := range conflict.Operations {
		w := tc.PriorityOf(op.UserID)
		switch {
		case winner == nil || w > best:
			winner, best, tied = op, w, false
		case w == best && op.UserID != winner.UserID:
			tied = true
		}
	}
	if winner == nil || tied {
		return nil, fmt.Errorf("user priorities do not discriminate for conflict %s", conflict.ID)
	}
	return &models.Resolution{
		ConflictID:       conflict.ID,
		Strategy:         models.StrategyPriorityUser,
		WinningOperation: winner,
		ResolvedAt:       time.Now(),
	}, nil
}

// mergeFields combines the conflicting payloads field-wise, later writers
// winning per field; it applies only to semantic conflicts whose evidence
// names the contested fields
type mergeFields struct{}

func (mergeFields) Name() models.ResolutionStrategy { return models.StrategyMerge }

func (mergeFields) Apply(conflict *models.Conflict, tc *transform.Context) (*models.Resolution, error) {
	if _, ok := conflict.Evidence.(*models.SemanticEvidence); !ok {
		return nil, fmt.Errorf("merge applies to semantic conflicts, got %s", conflict.Type)
	}

	// replay payloads in Lamport order so later writers win per field
	ordered := append([]*models.Operation(nil), conflict.Operations...)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && lamportBefore(ordered[j], ordered[j-1]); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	merged := make(map[string]interface{})
	for _, op := range ordered {
		for k, v := range op.Payload {
			merged[k] = v
		}
	}
	return &models.Resolution{
		ConflictID:    conflict.ID,
		Strategy:      models.StrategyMerge,
		MergedPayload: merged,
		ResolvedAt:    time.Now(),
	}, nil
}

// spatialOffset keeps both elements by nudging the later operation's
// geometry clear of the overlap; it applies only to spatial conflicts
type spatialOffset struct{}

func (spatialOffset) Name() models.ResolutionStrategy { return models.StrategySpatialOffset }

func (spatialOffset) Apply(conflict *models.Conflict, tc *transform.Context) (*models.Resolution, error) {
	evidence, ok := conflict.Evidence.(*models.SpatialEvidence)
	if !ok {
		return nil, fmt.Errorf("spatial offset applies to spatial conflicts, got %s", conflict.Type)
	}
	if len(conflict.Operations) < 2 {
		return nil, fmt.Errorf("conflict %s has fewer than two operations", conflict.ID)
	}

	later := conflict.Operations[0]
	for _, op := range conflict.Operations[1:] {
		if lamportBefore(later, op) {
			later = op
		}
	}
	bounds, ok := models.BoundsFromPayload(later.Payload)
	if !ok {
		return nil, fmt.Errorf("operation %s carries no geometry", later.ID)
	}

	// shift right past the overlap, with a small gap
	offset := evidence.Overlap.Width + 8
	adjusted := make(map[string]interface{}, len(later.Payload))
	for k, v := range later.Payload {
		adjusted[k] = v
	}
	adjusted["x"] = bounds.X + offset

	return &models.Resolution{
		ConflictID:    conflict.ID,
		Strategy:      models.StrategySpatialOffset,
		MergedPayload: adjusted,
		ResolvedAt:    time.Now(),
	}, nil
}

func lamportBefore(a, b *models.Operation) bool {
	if a.Lamport != b.Lamport {
		return a.Lamport < b.Lamport
	}
	return a.UserID < b.UserID
}
