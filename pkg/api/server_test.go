package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardmesh/boardmesh/pkg/config"
	"github.com/boardmesh/boardmesh/pkg/models"
	"github.com/boardmesh/boardmesh/pkg/services"
	"github.com/boardmesh/boardmesh/pkg/session"
	"github.com/boardmesh/boardmesh/pkg/transform"
)

func newTestServer(t *testing.T) (*Server, *services.ConflictResolutionService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engineCfg := config.EngineConfig{AutomaticResolution: true, MaxResolutionAttempts: 3}
	engine, err := transform.NewEngine(transform.EngineConfig{})
	require.NoError(t, err)
	resolver := services.NewConflictResolutionService(services.ServiceConfig{}, engineCfg, nil, nil)
	sessions, err := session.NewManager(session.ManagerConfig{
		Engine:    engine,
		Resolver:  resolver,
		EngineCfg: engineCfg,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, sessions.Close())
		require.NoError(t, resolver.Close())
	})

	return NewServer(ServerConfig{Sessions: sessions, Resolver: resolver}), resolver
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func apiOp(userID, elementID string, payload map[string]interface{}) *models.Operation {
	return &models.Operation{
		ID:        uuid.New(),
		Type:      models.OperationStyle,
		ElementID: elementID,
		UserID:    userID,
		Payload:   payload,
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv.Handler(), http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	t.Run("failing readiness check", func(t *testing.T) {
		srv, _ := newTestServer(t)
		srv.cfg.ReadyCheck = func() error { return errors.New("database down") }
		w := doJSON(t, srv.Handler(), http.MethodGet, "/readyz", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestSubmitOperationEndpoint(t *testing.T) {
	t.Run("accepts a valid operation", func(t *testing.T) {
		srv, _ := newTestServer(t)
		w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/whiteboards/wb-1/operations",
			apiOp("user-a", "elem-1", map[string]interface{}{"color": "red"}))
		require.Equal(t, http.StatusOK, w.Code)

		var result session.SubmitResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.Equal(t, "wb-1", result.Operation.WhiteboardID)
		assert.NotZero(t, result.Operation.Lamport)
	})

	t.Run("rejects an invalid operation with 422", func(t *testing.T) {
		srv, _ := newTestServer(t)
		bad := apiOp("", "elem-1", nil)
		w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/whiteboards/wb-1/operations", bad)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, w.Body.String(), "user_id")
	})

	t.Run("rejects malformed json with 400", func(t *testing.T) {
		srv, _ := newTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/whiteboards/wb-1/operations",
			bytes.NewReader([]byte("{not json")))
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("conflicting edits return conflicts and resolutions", func(t *testing.T) {
		srv, _ := newTestServer(t)
		w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/whiteboards/wb-1/operations",
			apiOp("user-a", "elem-1", map[string]interface{}{"color": "red"}))
		require.Equal(t, http.StatusOK, w.Code)

		w = doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/whiteboards/wb-1/operations",
			apiOp("user-b", "elem-1", map[string]interface{}{"color": "blue"}))
		require.Equal(t, http.StatusOK, w.Code)

		var result session.SubmitResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		require.NotEmpty(t, result.Conflicts)
		require.NotEmpty(t, result.Resolutions)
		assert.True(t, result.Resolutions[0].Success)
	})
}

func TestHistoryAndPerformanceEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/whiteboards/wb-1/operations",
			apiOp("user-a", "elem-1", map[string]interface{}{"opacity": 0.5}))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/whiteboards/wb-1/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	assert.Equal(t, 3, history.Count)

	w = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/whiteboards/wb-1/performance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var perf transform.Performance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &perf))
	assert.Equal(t, uint64(3), perf.OperationCount)
}

func TestAnalyticsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	t.Run("degraded without a store", func(t *testing.T) {
		w := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/whiteboards/wb-1/analytics", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var analytics models.ConflictAnalytics
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &analytics))
		assert.True(t, analytics.Degraded)
	})

	t.Run("rejects malformed time range", func(t *testing.T) {
		w := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/whiteboards/wb-1/analytics?since=yesterday", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPriorityEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv.Handler(), http.MethodPut, "/api/v1/whiteboards/wb-1/priorities/user-a",
		map[string]interface{}{"weight": 5.0})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv.Handler(), http.MethodPut, "/api/v1/whiteboards/wb-1/priorities/user-a",
		map[string]interface{}{"weight": -1.0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInterventionEndpoints(t *testing.T) {
	srv, resolver := newTestServer(t)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	del := &models.Operation{
		ID: uuid.New(), Type: models.OperationDelete, ElementID: "elem-1",
		UserID: "user-a", Lamport: 1, WhiteboardID: "wb-1", Timestamp: time.Now(),
	}
	style := &models.Operation{
		ID: uuid.New(), Type: models.OperationStyle, ElementID: "elem-1",
		UserID: "user-b", Lamport: 2, WhiteboardID: "wb-1", Timestamp: time.Now(),
		Payload: map[string]interface{}{"color": "blue"},
	}
	conflict := &models.Conflict{
		ID: uuid.New(), Type: models.ConflictCompound, Severity: models.SeverityCritical,
		Operations: []*models.Operation{del, style}, DetectedAt: time.Now(),
	}
	intervention, err := resolver.RequestManualIntervention(ctx, conflict, nil)
	require.NoError(t, err)

	w := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/whiteboards/wb-1/interventions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Equal(t, 1, listed.Count)

	w = doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/interventions/"+intervention.ID.String()+"/complete",
		map[string]interface{}{"conflict_id": conflict.ID})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/interventions/"+intervention.ID.String()+"/complete",
		map[string]interface{}{"conflict_id": conflict.ID})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/interventions/not-a-uuid/complete",
		map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
