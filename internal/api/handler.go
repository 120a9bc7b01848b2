// Package api provides HTTP response helpers and the health endpoint.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

const healthTimeout = 2 * time.Second

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CallCounter reports how many calls are held in memory.
type CallCounter interface {
	ActiveCount() int
}

// GeneratorInfo describes the configured text generation backend. Backends
// that can probe their remote end also implement Health.
type GeneratorInfo interface {
	Name() string
}

type generatorHealth interface {
	Health(ctx context.Context) error
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	Generator   string `json:"generator"`
	GenStatus   string `json:"generator_status"`
	ActiveCalls int    `json:"active_calls"`
}

// HealthHandler serves GET /api/health.
type HealthHandler struct {
	db     Pinger
	calls  CallCounter
	gen    GeneratorInfo
	logger *slog.Logger
}

// NewHealthHandler creates a health handler. db and gen may be nil.
func NewHealthHandler(db Pinger, calls CallCounter, gen GeneratorInfo, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{db: db, calls: calls, gen: gen, logger: logger}
}

// ServeHTTP reports 200 when every probed dependency is up, 503 otherwise.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Database: "disabled", GenStatus: "unknown"}
	if h.calls != nil {
		resp.ActiveCalls = h.calls.ActiveCount()
	}

	if h.db != nil {
		resp.Database = "ok"
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("health check: database unreachable", "error", err)
			resp.Database = "unreachable"
			resp.Status = "degraded"
		}
	}

	if h.gen != nil {
		resp.Generator = h.gen.Name()
		if probe, ok := h.gen.(generatorHealth); ok {
			resp.GenStatus = "ok"
			if err := probe.Health(ctx); err != nil {
				h.logger.Warn("health check: generator unreachable", "generator", resp.Generator, "error", err)
				resp.GenStatus = "unreachable"
				resp.Status = "degraded"
			}
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	JSON(w, status, resp)
}
