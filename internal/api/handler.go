// Package api provides the HTTP handlers for event ingestion, history
// queries, and pipeline administration.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edupulse/event-pipeline/internal/auth"
	"github.com/edupulse/event-pipeline/internal/events"
	"github.com/edupulse/event-pipeline/internal/repository"
	"github.com/edupulse/event-pipeline/internal/router"
)

// APIResponse represents the standard API response format
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents the error detail in API response
type APIError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// EventRouter is the live-routing surface the handlers depend on.
type EventRouter interface {
	Publish(ev events.Event) bool
	Stats() router.Stats
}

// Archiver exports events to long-term storage before a purge.
type Archiver interface {
	Archive(ctx context.Context, evs []events.Event) (string, error)
}

// StatsResponse combines store and router statistics.
type StatsResponse struct {
	*repository.PipelineStats
	Router router.Stats `json:"router"`
}

// Handler handles HTTP requests for the event pipeline endpoints
type Handler struct {
	repo      repository.EventRepositoryInterface
	router    EventRouter
	validator *events.Validator
	tokens    *auth.TokenService
	archiver  Archiver // nil when archiving is not configured
	logger    *slog.Logger
}

// NewHandler creates a new Handler instance
func NewHandler(repo repository.EventRepositoryInterface, rt EventRouter, validator *events.Validator, tokens *auth.TokenService, archiver Archiver, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:      repo,
		router:    rt,
		validator: validator,
		tokens:    tokens,
		archiver:  archiver,
		logger:    logger,
	}
}

// PublishEvent handles POST /api/v1/events.
// The event is persisted first; live routing is best-effort; a full
// queue is logged and counted, never surfaced to the publisher.
func (h *Handler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	var req events.PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON", nil)
		return
	}

	if errs := h.validator.ValidatePublish(req); len(errs) > 0 {
		h.writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Event validation failed", errs)
		return
	}

	ev := req.ToEvent()

	if err := h.repo.Insert(r.Context(), ev); err != nil {
		h.logger.Error("failed to persist event", slog.String("event_id", ev.ID), slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to persist event", nil)
		return
	}

	if !h.router.Publish(ev) {
		h.logger.Warn("queue full, event persisted but not routed live",
			slog.String("event_id", ev.ID))
	}

	h.writeData(w, http.StatusCreated, ev)
}

// ListEvents handles GET /api/v1/events with optional filters.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	params := repository.QueryParams{
		EventType: r.URL.Query().Get("event_type"),
		SessionID: r.URL.Query().Get("session_id"),
		UserID:    r.URL.Query().Get("user_id"),
		Limit:     100,
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 1000 {
			h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be an integer between 1 and 1000", nil)
			return
		}
		params.Limit = limit
	}

	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "since must be an RFC 3339 timestamp", nil)
			return
		}
		params.Since = &since
	}

	evs, err := h.repo.Query(r.Context(), params)
	if err != nil {
		h.logger.Error("failed to query events", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to query events", nil)
		return
	}

	h.writeData(w, http.StatusOK, evs)
}

// GetEvent handles GET /api/v1/events/{id}.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ev, err := h.repo.GetByID(r.Context(), id)
	if errors.Is(err, repository.ErrEventNotFound) {
		h.writeError(w, http.StatusNotFound, "NOT_FOUND", "Event not found", nil)
		return
	}
	if err != nil {
		h.logger.Error("failed to get event", slog.String("event_id", id), slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to get event", nil)
		return
	}

	h.writeData(w, http.StatusOK, ev)
}

// GetStats handles GET /api/v1/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to get stats", nil)
		return
	}

	h.writeData(w, http.StatusOK, StatsResponse{
		PipelineStats: stats,
		Router:        h.router.Stats(),
	})
}

// DeleteEvents handles DELETE /api/v1/events (admin). When an archiver
// is configured the affected events are exported before the purge.
func (h *Handler) DeleteEvents(w http.ResponseWriter, r *http.Request) {
	var before *time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "before must be an RFC 3339 timestamp", nil)
			return
		}
		before = &t
	}

	archived := ""
	if h.archiver != nil {
		evs, err := h.repo.ListBefore(r.Context(), before)
		if err != nil {
			h.logger.Error("failed to list events for archive", slog.Any("error", err))
			h.writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to archive events", nil)
			return
		}
		if len(evs) > 0 {
			key, err := h.archiver.Archive(r.Context(), evs)
			if err != nil {
				h.logger.Error("failed to archive events", slog.Any("error", err))
				h.writeError(w, http.StatusInternalServerError, "ARCHIVE_ERROR", "Failed to archive events", nil)
				return
			}
			archived = key
		}
	}

	deleted, err := h.repo.DeleteBefore(r.Context(), before)
	if err != nil {
		h.logger.Error("failed to delete events", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to delete events", nil)
		return
	}

	h.logger.Info("deleted events",
		slog.Int64("deleted", deleted),
		slog.Any("before", before),
		slog.String("archive_key", archived))

	result := map[string]interface{}{"deleted": deleted}
	if archived != "" {
		result["archive_key"] = archived
	}
	h.writeData(w, http.StatusOK, result)
}

// ListEventTypes handles GET /api/v1/event-types.
func (h *Handler) ListEventTypes(w http.ResponseWriter, r *http.Request) {
	h.writeData(w, http.StatusOK, events.Types)
}

// CreateToken handles POST /api/v1/tokens, issuing a stream token for
// WebSocket subscribers.
func (h *Handler) CreateToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Client string `json:"client"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON", nil)
		return
	}
	if req.Client == "" {
		h.writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "client is required", nil)
		return
	}

	token, err := h.tokens.GenerateStreamToken(req.Client)
	if errors.Is(err, auth.ErrNoTokenSecret) {
		h.writeError(w, http.StatusServiceUnavailable, "TOKENS_DISABLED", "Stream tokens are not configured", nil)
		return
	}
	if err != nil {
		h.logger.Error("failed to issue stream token", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "TOKEN_ERROR", "Failed to issue token", nil)
		return
	}

	h.writeData(w, http.StatusCreated, token)
}

func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string, details []string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
	})
}
