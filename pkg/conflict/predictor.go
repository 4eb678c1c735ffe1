package conflict

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/boardmesh/boardmesh/pkg/cache"
	"github.com/boardmesh/boardmesh/pkg/models"
)

// PredictorConfig holds the prediction tunables
type PredictorConfig struct {
	// ProximityThreshold is the cursor distance in canvas units below which
	// a spatial prediction fires.
	ProximityThreshold float64
	// ActivityTTL is how long a live activity sample stays relevant.
	ActivityTTL time.Duration
	// SampleRate caps activity samples accepted per second; excess samples
	// are dropped, which is acceptable for an advisory signal.
	SampleRate float64
	// ActivityCacheSize bounds the number of tracked users.
	ActivityCacheSize int
}

// Predictor forecasts likely conflicts from ephemeral live signals (cursor
// and viewport positions) before any operation is committed. Predictions are
// advisory only: they never block or mutate engine state, and the predictor
// is allowed to drop or coalesce updates under load.
type Predictor struct {
	config   PredictorConfig
	limiter  *rate.Limiter
	activity cache.BoundedCache[models.UserActivity]

	mu    sync.Mutex
	users map[string]struct{}
}

// NewPredictor creates a predictor with a bounded activity store
func NewPredictor(config PredictorConfig) (*Predictor, error) {
	if config.ProximityThreshold <= 0 {
		config.ProximityThreshold = 80
	}
	if config.ActivityTTL <= 0 {
		config.ActivityTTL = 3 * time.Second
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 20
	}
	if config.ActivityCacheSize <= 0 {
		config.ActivityCacheSize = 256
	}

	store, err := cache.New[models.UserActivity](cache.Config{
		Size: config.ActivityCacheSize,
		TTL:  config.ActivityTTL,
	})
	if err != nil {
		return nil, err
	}
	return &Predictor{
		config:   config,
		limiter:  rate.NewLimiter(rate.Limit(config.SampleRate), int(config.SampleRate)),
		activity: store,
		users:    make(map[string]struct{}),
	}, nil
}

// Observe records a live activity sample. Samples arriving faster than the
// configured rate are dropped; Observe never blocks.
func (p *Predictor) Observe(activity models.UserActivity) {
	if !p.limiter.Allow() {
		return
	}
	if activity.SeenAt.IsZero() {
		activity.SeenAt = time.Now()
	}
	p.mu.Lock()
	p.users[activity.UserID] = struct{}{}
	p.mu.Unlock()
	p.activity.Set(activityKey(activity.WhiteboardID, activity.UserID), activity)
}

// Predict forecasts conflicts for a whiteboard from current activity and the
// recent committed operations
func (p *Predictor) Predict(whiteboardID string, recentOps []*models.Operation) []models.ConflictPrediction {
	live := p.liveActivity(whiteboardID)

	var predictions []models.ConflictPrediction
	predictions = append(predictions, p.cursorProximity(live)...)
	predictions = append(predictions, p.sharedElement(live)...)
	predictions = append(predictions, p.hotElement(live, recentOps)...)
	return predictions
}

// Close releases the activity store
func (p *Predictor) Close() {
	p.activity.Close()
}

func (p *Predictor) liveActivity(whiteboardID string) []models.UserActivity {
	p.mu.Lock()
	userIDs := make([]string, 0, len(p.users))
	for userID := range p.users {
		userIDs = append(userIDs, userID)
	}
	p.mu.Unlock()

	var live []models.UserActivity
	for _, userID := range userIDs {
		if a, ok := p.activity.Get(activityKey(whiteboardID, userID)); ok {
			live = append(live, a)
		}
	}
	return live
}

// cursorProximity fires a spatial prediction when two users' cursors fall
// within the proximity threshold
func (p *Predictor) cursorProximity(live []models.UserActivity) []models.ConflictPrediction {
	var out []models.ConflictPrediction
	for i := 0; i < len(live); i++ {
		for j := i + 1; j < len(live); j++ {
			a, b := live[i], live[j]
			dist := math.Hypot(a.CursorX-b.CursorX, a.CursorY-b.CursorY)
			if dist >= p.config.ProximityThreshold {
				continue
			}
			// closer cursors mean a likelier collision
			probability := 1 - dist/p.config.ProximityThreshold
			region := regionAround((a.CursorX+b.CursorX)/2, (a.CursorY+b.CursorY)/2, p.config.ProximityThreshold)
			out = append(out, models.ConflictPrediction{
				Type:        models.ConflictSpatial,
				Probability: clampProbability(0.3 + 0.6*probability),
				Severity:    models.SeverityMedium,
				UserIDs:     []string{a.UserID, b.UserID},
				Region:      &region,
				Prevention:  models.PreventionStaggerEdits,
				PredictedAt: time.Now(),
			})
		}
	}
	return out
}

// sharedElement fires a semantic prediction when two users are manipulating
// the same element right now
func (p *Predictor) sharedElement(live []models.UserActivity) []models.ConflictPrediction {
	byElement := make(map[string][]string)
	for _, a := range live {
		if a.ActiveElement == "" {
			continue
		}
		byElement[a.ActiveElement] = append(byElement[a.ActiveElement], a.UserID)
	}

	var out []models.ConflictPrediction
	for elementID, users := range byElement {
		if len(users) < 2 {
			continue
		}
		out = append(out, models.ConflictPrediction{
			Type:        models.ConflictSemantic,
			Probability: 0.8,
			Severity:    models.SeverityHigh,
			UserIDs:     users,
			ElementID:   elementID,
			Prevention:  models.PreventionLockRegion,
			PredictedAt: time.Now(),
		})
	}
	return out
}

// hotElement fires a temporal prediction when a user hovers an element that
// another user has just edited
func (p *Predictor) hotElement(live []models.UserActivity, recentOps []*models.Operation) []models.ConflictPrediction {
	lastEditor := make(map[string]string)
	for _, op := range recentOps {
		if op.ElementID != "" {
			lastEditor[op.ElementID] = op.UserID
		}
	}

	var out []models.ConflictPrediction
	for _, a := range live {
		if a.ActiveElement == "" {
			continue
		}
		editor, ok := lastEditor[a.ActiveElement]
		if !ok || editor == a.UserID {
			continue
		}
		out = append(out, models.ConflictPrediction{
			Type:        models.ConflictTemporal,
			Probability: 0.5,
			Severity:    models.SeverityLow,
			UserIDs:     []string{a.UserID, editor},
			ElementID:   a.ActiveElement,
			Prevention:  models.PreventionNotifyUsers,
			PredictedAt: time.Now(),
		})
	}
	return out
}

func activityKey(whiteboardID, userID string) string {
	return whiteboardID + "/" + userID
}

func regionAround(x, y, radius float64) models.Bounds {
	return models.Bounds{X: x - radius, Y: y - radius, Width: 2 * radius, Height: 2 * radius}
}

func clampProbability(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
