// Package api exposes the engine's administrative surface: liveness and
// readiness probes, a Prometheus scrape endpoint, and small JSON endpoints
// for stats and checkpoint — the control plane a deployment's orchestrator
// or an operator's tooling talks to, kept separate from pkg/wire's binary
// request protocol.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/synapsedb/engine/pkg/engine"
	"github.com/synapsedb/engine/pkg/metrics"
)

// HealthServer provides HTTP health, readiness, stats, and checkpoint
// endpoints over a single engine handle.
type HealthServer struct {
	engine *engine.Engine
	mux    *http.ServeMux
}

// NewHealthServer creates a new admin HTTP server. A nil engine is
// accepted so liveness checks can run before the engine finishes opening.
func NewHealthServer(e *engine.Engine) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{engine: e, mux: mux}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.HandleFunc("/stats", hs.statsHandler)
	mux.HandleFunc("/checkpoint", hs.checkpointHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start starts the admin HTTP server; it blocks until the server stops.
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// HealthResponse is the /health liveness response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is the /ready readiness response.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler is a liveness check: it returns 200 as long as the process
// is alive, regardless of engine state.
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

// readyHandler checks whether the engine is actually able to serve
// requests: the engine handle exists, and a stats read succeeds (which
// touches every shard's reconciler snapshot).
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.engine == nil {
		checks["engine"] = "not initialized"
		ready = false
		message = "engine not initialized"
	} else {
		checks["engine"] = "open"
		st := hs.engine.Stats()
		if st.WALDropped > 0 {
			checks["wal"] = "backpressure"
		} else {
			checks["wal"] = "ok"
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}

// statsHandler returns the engine's aggregate counters as JSON, the HTTP
// analog of the wire protocol's Stats request tag.
func (hs *HealthServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if hs.engine == nil {
		http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, hs.engine.Stats())
}

// checkpointHandler forces an out-of-band checkpoint: a reconciler cycle,
// a compaction pass, and a WAL truncation on every shard.
func (hs *HealthServer) checkpointHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if hs.engine == nil {
		http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
		return
	}
	if err := hs.engine.Checkpoint(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetHandler returns the HTTP handler for embedding in another server.
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
