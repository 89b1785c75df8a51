package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	mw "github.com/nimbase/gate/internal/api/middleware"
	"github.com/nimbase/gate/pkg/scopes"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Gate        *mw.Gate
	Audit       *mw.Audit
	RateLimit   *mw.RateLimit
	Idempotency *mw.Idempotency
	SessionAuth *mw.SessionAuth
	Handlers    *Handlers
}

// NewRouter builds the Chi router. The gated groups encode the hard
// ordering contract: authenticate, then project status, then scope
// enforcement, then idempotency, then the handler; metering and audit
// run detached once the handler completes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type",
			mw.APIKeyHeader, mw.IdempotencyKeyHeader, mw.RequestIDHeader},
		MaxAge: 300,
	}))

	// Public routes
	r.Get("/api/v1/health", deps.Handlers.Health)
	r.Post("/api/v1/session/refresh", deps.Handlers.RefreshToken)

	// Session issuance needs a live API key; the session it mints is
	// what unlocks the admin read surface.
	r.With(deps.Gate.Authenticate).Post("/api/v1/session/token", deps.Handlers.IssueToken)

	// Gated service routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Gate.Authenticate)
		r.Use(deps.Audit.Record)
		r.Use(deps.Gate.CheckProject)
		r.Use(deps.RateLimit.Limit)

		op := deps.Gate.RequireOperation
		idem := deps.Idempotency.Handle

		r.With(op(scopes.DBSelect)).Post("/api/v1/db/query", deps.Handlers.DBQuery)
		r.With(op(scopes.DBInsert), idem).Post("/api/v1/db/rows", deps.Handlers.DBWrite)
		r.With(op(scopes.DBUpdate), idem).Patch("/api/v1/db/rows", deps.Handlers.DBWrite)
		r.With(op(scopes.DBDelete), idem).Delete("/api/v1/db/rows", deps.Handlers.DBWrite)

		r.With(op(scopes.StorageRead)).Get("/api/v1/storage/objects/{objectID}", deps.Handlers.StorageRead)
		r.With(op(scopes.StorageWrite), idem).Post("/api/v1/storage/objects", deps.Handlers.StorageWrite)

		r.With(op(scopes.AuthRead)).Get("/api/v1/auth/users", deps.Handlers.Ack)
		r.With(op(scopes.AuthManage), idem).Post("/api/v1/auth/users", deps.Handlers.AuthAdmin)

		r.With(op(scopes.FunctionsInvoke), idem).Post("/api/v1/functions/invoke", deps.Handlers.Ack)

		r.With(op(scopes.RealtimeSubscribe)).Get("/api/v1/realtime/channels", deps.Handlers.Ack)
		r.With(op(scopes.RealtimePublish)).Post("/api/v1/realtime/publish", deps.Handlers.Ack)
	})

	// Admin routes, session-token authenticated
	r.Group(func(r chi.Router) {
		r.Use(deps.SessionAuth.Require)

		r.Get("/api/v1/admin/usage/daily", deps.Handlers.UsageDaily)
		r.Get("/api/v1/admin/usage/window", deps.Handlers.UsageWindow)
		r.Get("/api/v1/admin/audit", deps.Handlers.AuditList)
	})

	return r
}
