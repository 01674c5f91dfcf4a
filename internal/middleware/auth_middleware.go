// Package middleware provides HTTP middleware for the event pipeline API.
package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/edupulse/event-pipeline/internal/auth"
)

// APIKeyHeader is the header publishers and operators present their key in.
const APIKeyHeader = "X-API-Key"

// AuthMiddleware enforces API key authentication on protected endpoints.
// When RequireAuth is false every request passes through.
type AuthMiddleware struct {
	apiKey      string
	requireAuth bool
}

// NewAuthMiddleware creates a new AuthMiddleware instance
func NewAuthMiddleware(apiKey string, requireAuth bool) *AuthMiddleware {
	return &AuthMiddleware{
		apiKey:      apiKey,
		requireAuth: requireAuth,
	}
}

// RequireAuth returns middleware protecting publish and query endpoints.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return m.check(next)
}

// RequireAdmin returns middleware protecting admin endpoints. The same
// key is accepted today; kept separate so role-based keys can slot in.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return m.check(next)
}

func (m *AuthMiddleware) check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.requireAuth {
			next.ServeHTTP(w, r)
			return
		}
		if err := auth.VerifyAPIKey(r.Header.Get(APIKeyHeader), m.apiKey); err != nil {
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)

	response := map[string]interface{}{
		"success": false,
		"error": map[string]interface{}{
			"code":    "UNAUTHORIZED",
			"message": "Invalid or missing API key",
		},
		"timestamp": time.Now().UTC(),
	}
	json.NewEncoder(w).Encode(response)
}
