// Package health provides health and readiness endpoints for the service.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"github.com/edupulse/event-pipeline/internal/router"
)

// HealthResponse is the liveness payload
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// ReadinessResponse reports database connectivity and router state
type ReadinessResponse struct {
	Ready    bool          `json:"ready"`
	Database string        `json:"database"`
	Router   *router.Stats `json:"router,omitempty"`
}

// Handler handles health check requests
type Handler struct {
	db      *sqlx.DB
	router  *router.Router
	version string
	timeout time.Duration
}

// NewHandler creates a health handler. A zero timeout defaults to 5s.
func NewHandler(db *sqlx.DB, rt *router.Router, version string, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Handler{
		db:      db,
		router:  rt,
		version: version,
		timeout: timeout,
	}
}

// Health handles GET /health, a cheap liveness probe for load balancers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: "event-pipeline",
		Version: h.version,
	})
}

// Readiness handles GET /readiness: verifies database connectivity and
// reports router statistics.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{
			Ready:    false,
			Database: "disconnected",
		})
		return
	}

	stats := h.router.Stats()
	writeJSON(w, http.StatusOK, ReadinessResponse{
		Ready:    true,
		Database: "connected",
		Router:   &stats,
	})
}

// RegisterRoutes registers the health endpoints with the Chi router.
func RegisterRoutes(r chi.Router, handler *Handler) {
	r.Get("/health", handler.Health)
	r.Get("/readiness", handler.Readiness)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
