package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/nimbase/gate/internal/api/response"
	"github.com/nimbase/gate/internal/session"
)

const sessionClaimsKey contextKey = "session_claims"

// SessionAuth guards the dashboard/CLI admin routes with short-lived
// signed session tokens instead of raw API keys.
type SessionAuth struct {
	sessions *session.Service
}

// NewSessionAuth creates the session middleware.
func NewSessionAuth(s *session.Service) *SessionAuth {
	return &SessionAuth{sessions: s}
}

// Require validates the bearer session token and stores its claims in
// the request context.
func (sa *SessionAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(w, http.StatusUnauthorized,
				"KEY_INVALID", "Missing or invalid Authorization header", nil)
			return
		}

		claims, err := sa.sessions.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(w, http.StatusUnauthorized,
				"KEY_INVALID", "Invalid session token", nil)
			return
		}

		ctx := context.WithValue(r.Context(), sessionClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetSessionClaims returns the verified session claims, when present.
func GetSessionClaims(r *http.Request) (*session.AccessClaims, bool) {
	claims, ok := r.Context().Value(sessionClaimsKey).(*session.AccessClaims)
	return claims, ok
}
