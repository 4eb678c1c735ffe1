// Package api exposes the sync engine over HTTP: a REST surface for
// submissions, history, analytics and manual review, and a websocket gateway
// for live editing sessions.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	bmerrors "github.com/boardmesh/boardmesh/pkg/errors"
	"github.com/boardmesh/boardmesh/pkg/models"
	"github.com/boardmesh/boardmesh/pkg/notify"
	"github.com/boardmesh/boardmesh/pkg/observability"
	"github.com/boardmesh/boardmesh/pkg/services"
	"github.com/boardmesh/boardmesh/pkg/session"
)

// ServerConfig holds the API server dependencies
type ServerConfig struct {
	Sessions *session.Manager
	Resolver *services.ConflictResolutionService
	Notifier *notify.RedisNotifier
	Logger   observability.Logger
	Metrics  observability.MetricsClient

	// ReadyCheck verifies downstream readiness for /readyz; nil means the
	// process is ready once it serves.
	ReadyCheck func() error
}

// Server is the HTTP surface of the sync engine
type Server struct {
	cfg    ServerConfig
	router *gin.Engine
}

// NewServer builds the router and its routes
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNoopMetrics()
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{cfg: cfg, router: router}

	router.GET("/healthz", s.health)
	router.GET("/readyz", s.ready)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/whiteboards/:id/operations", s.submitOperation)
		v1.GET("/whiteboards/:id/history", s.getHistory)
		v1.GET("/whiteboards/:id/performance", s.getPerformance)
		v1.GET("/whiteboards/:id/predictions", s.getPredictions)
		v1.GET("/whiteboards/:id/analytics", s.getAnalytics)
		v1.PUT("/whiteboards/:id/priorities/:user", s.setPriority)
		v1.GET("/whiteboards/:id/interventions", s.listInterventions)
		v1.POST("/interventions/:id/complete", s.completeIntervention)
		v1.GET("/ws/whiteboards/:id", s.serveWebsocket)
	}
	return s
}

// Handler returns the underlying http handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ready(c *gin.Context) {
	if s.cfg.ReadyCheck != nil {
		if err := s.cfg.ReadyCheck(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) submitOperation(c *gin.Context) {
	var op models.Operation
	if err := c.ShouldBindJSON(&op); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.cfg.Sessions.Submit(c.Request.Context(), c.Param("id"), &op)
	if err != nil {
		if bmerrors.IsValidation(err) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		s.cfg.Logger.Error("Operation submission failed", map[string]interface{}{
			"whiteboard_id": c.Param("id"),
			"error":         err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process operation"})
		return
	}

	if result.Throttled {
		c.Header("Retry-After", "1")
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getHistory(c *gin.Context) {
	ops, err := s.cfg.Sessions.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations": ops, "count": len(ops)})
}

func (s *Server) getPerformance(c *gin.Context) {
	perf, err := s.cfg.Sessions.Performance(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load performance"})
		return
	}
	c.JSON(http.StatusOK, perf)
}

func (s *Server) getPredictions(c *gin.Context) {
	predictions, err := s.cfg.Sessions.Predict(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to predict"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"predictions": predictions, "count": len(predictions)})
}

func (s *Server) getAnalytics(c *gin.Context) {
	until := time.Now()
	since := until.Add(-24 * time.Hour)
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		since = parsed
	}
	if raw := c.Query("until"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "until must be RFC3339"})
			return
		}
		until = parsed
	}

	analytics, err := s.cfg.Resolver.GetConflictAnalytics(c.Request.Context(), c.Param("id"), since, until)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate analytics"})
		return
	}
	c.JSON(http.StatusOK, analytics)
}

func (s *Server) setPriority(c *gin.Context) {
	var body struct {
		Weight float64 `json:"weight" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Weight <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "weight must be positive"})
		return
	}
	if err := s.cfg.Sessions.SetUserPriority(c.Request.Context(), c.Param("id"), c.Param("user"), body.Weight); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set priority"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"whiteboard_id": c.Param("id"), "user_id": c.Param("user"), "weight": body.Weight})
}

func (s *Server) listInterventions(c *gin.Context) {
	pending := s.cfg.Resolver.GetPendingManualInterventions(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"interventions": pending, "count": len(pending)})
}

func (s *Server) completeIntervention(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid intervention id"})
		return
	}
	var resolution models.Resolution
	if err := c.ShouldBindJSON(&resolution); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if resolution.Strategy == "" {
		resolution.Strategy = models.StrategyManual
	}
	if resolution.ResolvedAt.IsZero() {
		resolution.ResolvedAt = time.Now()
	}

	if err := s.cfg.Resolver.CompleteManualIntervention(c.Request.Context(), id, &resolution); err != nil {
		if bmerrors.IsValidation(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to complete intervention"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "intervention completed"})
}
