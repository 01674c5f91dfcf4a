package ws

import "github.com/go-chi/chi/v5"

// RegisterRoutes mounts the WebSocket endpoints. They sit outside
// /api/v1 and handle auth themselves (close codes, not HTTP statuses).
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/ws/subscribe", h.Subscribe)
	r.Get("/ws/publish", h.Publish)
}
