package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/edupulse/event-pipeline/internal/middleware"
)

// RateLimiters holds the per-group rate limit middleware. Any nil
// entry disables limiting for that group.
type RateLimiters struct {
	Publish func(http.Handler) http.Handler
	Query   func(http.Handler) http.Handler
	Admin   func(http.Handler) http.Handler
}

// RegisterRoutes mounts the event pipeline API under /api/v1.
func RegisterRoutes(r chi.Router, h *Handler, authMW *mw.AuthMiddleware, limits RateLimiters) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authMW.RequireAuth)
			withLimit(r, limits.Publish).Post("/events", h.PublishEvent)
			withLimit(r, limits.Publish).Post("/tokens", h.CreateToken)

			withLimit(r, limits.Query).Get("/events", h.ListEvents)
			withLimit(r, limits.Query).Get("/events/{id}", h.GetEvent)
			withLimit(r, limits.Query).Get("/stats", h.GetStats)
			withLimit(r, limits.Query).Get("/event-types", h.ListEventTypes)
		})

		r.Group(func(r chi.Router) {
			r.Use(authMW.RequireAdmin)
			withLimit(r, limits.Admin).Delete("/events", h.DeleteEvents)
		})
	})
}

func withLimit(r chi.Router, limit func(http.Handler) http.Handler) chi.Router {
	if limit == nil {
		return r
	}
	return r.With(limit)
}
