package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapsedb/engine/pkg/engine"
	"github.com/synapsedb/engine/pkg/hnsw"
	"github.com/synapsedb/engine/pkg/vector"
)

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := engine.Config{
		DataDir:   t.TempDir(),
		NumShards: 1,
		VectorConfig: vector.Config{
			D: 4, M: 2, K: 4,
			MaxTrainIterations: 5,
			MinTrainingVectors: 5,
		},
		HNSWConfig:           hnsw.Config{M: 8, EfConstruction: 32, EfSearch: 16},
		ReconcileMinInterval: time.Millisecond,
		ReconcileMaxInterval: 10 * time.Millisecond,
		TxTimeout:            time.Second,
	}
	e, err := engine.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, e.Close()) })
	return e
}

func TestHealthHandler(t *testing.T) {
	hs := NewHealthServer(nil)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{name: "GET request succeeds", method: http.MethodGet, expectedStatus: http.StatusOK},
		{name: "POST request fails", method: http.MethodPost, expectedStatus: http.StatusMethodNotAllowed},
		{name: "PUT request fails", method: http.MethodPut, expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			hs.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				var response HealthResponse
				require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
				assert.Equal(t, "healthy", response.Status)
				assert.False(t, response.Timestamp.IsZero())
			}
		})
	}
}

func TestReadyHandlerNoEngine(t *testing.T) {
	hs := NewHealthServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	hs.readyHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "not ready", response.Status)
	assert.Contains(t, response.Checks["engine"], "not initialized")
}

func TestReadyHandlerWithEngine(t *testing.T) {
	hs := NewHealthServer(testEngine(t))

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	hs.readyHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "ready", response.Status)
	assert.Equal(t, "open", response.Checks["engine"])
}

func TestStatsHandlerRequiresEngine(t *testing.T) {
	hs := NewHealthServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	hs.statsHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCheckpointHandlerRejectsGet(t *testing.T) {
	hs := NewHealthServer(testEngine(t))

	req := httptest.NewRequest(http.MethodGet, "/checkpoint", nil)
	w := httptest.NewRecorder()
	hs.checkpointHandler(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCheckpointHandlerRunsOnPost(t *testing.T) {
	hs := NewHealthServer(testEngine(t))

	req := httptest.NewRequest(http.MethodPost, "/checkpoint", nil)
	w := httptest.NewRecorder()
	hs.checkpointHandler(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestNewHealthServerRoutesRegistered(t *testing.T) {
	hs := NewHealthServer(nil)
	assert.NotNil(t, hs)
	assert.NotNil(t, hs.mux)
	assert.Nil(t, hs.engine)

	tests := []struct {
		path           string
		expectedStatus int
	}{
		{path: "/health", expectedStatus: http.StatusOK},
		{path: "/ready", expectedStatus: http.StatusServiceUnavailable},
		{path: "/metrics", expectedStatus: http.StatusOK},
		{path: "/nonexistent", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()
			hs.mux.ServeHTTP(w, req)
			assert.Equal(t, tt.expectedStatus, w.Code, "path: %s", tt.path)
		})
	}
}

func TestGetHandler(t *testing.T) {
	hs := NewHealthServer(nil)

	handler := hs.GetHandler()
	require.NotNil(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadOnlyMiddlewareBlocksWrites(t *testing.T) {
	hs := NewHealthServer(testEngine(t))
	handler := ReadOnlyMiddleware(hs.GetHandler())

	req := httptest.NewRequest(http.MethodPost, "/checkpoint", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHealthServerConcurrency(t *testing.T) {
	hs := NewHealthServer(testEngine(t))

	done := make(chan bool, 20)
	for i := 0; i < 10; i++ {
		go func() {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()
			hs.healthHandler(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		go func() {
			req := httptest.NewRequest(http.MethodGet, "/ready", nil)
			w := httptest.NewRecorder()
			hs.readyHandler(w, req)
			assert.Contains(t, []int{http.StatusOK, http.StatusServiceUnavailable}, w.Code)
			done <- true
		}()
	}
	for i := 0; i < 20; i++ {
		<-done
	}
}
