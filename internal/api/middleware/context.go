package middleware

import (
	"context"
	"net/http"

	"github.com/nimbase/gate/internal/gate"
)

type contextKey string

const (
	authContextKey contextKey = "auth_context"
	requestIDKey   contextKey = "request_id"
)

func setAuthContext(ctx context.Context, ac *gate.AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// GetAuthContext returns the validated identity set by the
// authentication middleware.
func GetAuthContext(r *http.Request) (*gate.AuthContext, bool) {
	ac, ok := r.Context().Value(authContextKey).(*gate.AuthContext)
	return ac, ok
}

func setRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the correlation id assigned to the request.
func GetRequestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}
