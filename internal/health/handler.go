// Package health serves the process health endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SessionCounter reports the size of the session store
type SessionCounter interface {
	Len(ctx context.Context) (int, error)
}

// CheckFunc checks one dependency
type CheckFunc func(ctx context.Context) error

// StatusResponse is the /health payload
type StatusResponse struct {
	Status    string  `json:"status"`
	Uptime    float64 `json:"uptime"`
	Sessions  int     `json:"sessions"`
	Timestamp string  `json:"timestamp"`
}

// Check is the outcome of one dependency check
type Check struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// ReadinessResponse is the /readyz payload
type ReadinessResponse struct {
	Status string  `json:"status"`
	Checks []Check `json:"checks"`
}

// Handler serves /health, /healthz and /readyz
type Handler struct {
	sessions SessionCounter
	checks   map[string]CheckFunc
	logger   *zap.Logger
	started  time.Time
	now      func() time.Time
	shutdown atomic.Bool
}

// NewHandler creates a health handler
func NewHandler(sessions SessionCounter, checks map[string]CheckFunc, logger *zap.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		checks:   checks,
		logger:   logger,
		started:  time.Now(),
		now:      time.Now,
	}
}

// Routes returns the chi router with the health endpoints mounted
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Get("/healthz", h.Liveness)
	r.Get("/readyz", h.Readiness)
	return r
}

// SetShuttingDown makes every endpoint report 503
func (h *Handler) SetShuttingDown() {
	h.shutdown.Store(true)
}

// Health reports uptime and session count
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	resp := StatusResponse{
		Status:    "ok",
		Uptime:    now.Sub(h.started).Seconds(),
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if h.shutdown.Load() {
		resp.Status = "shutting_down"
		code = http.StatusServiceUnavailable
	}

	n, err := h.sessions.Len(r.Context())
	if err != nil {
		h.logger.Warn("Failed to count sessions", zap.Error(err))
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	resp.Sessions = n

	writeJSON(w, code, resp)
}

// Liveness answers as long as the process serves requests
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	if h.shutdown.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness checks every configured dependency
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.shutdown.Load() {
		writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{Status: "shutting_down"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := ReadinessResponse{Status: "ok", Checks: make([]Check, 0, len(names))}
	code := http.StatusOK
	for _, name := range names {
		c := Check{Name: name, Healthy: true}
		if err := h.checks[name](ctx); err != nil {
			c.Healthy = false
			c.Error = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		resp.Checks = append(resp.Checks, c)
	}

	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
