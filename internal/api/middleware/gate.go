package middleware

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/nimbase/gate/internal/api/response"
	"github.com/nimbase/gate/internal/audit"
	"github.com/nimbase/gate/internal/gate"
	"github.com/nimbase/gate/pkg/models"
)

// APIKeyHeader is the credential header checked before the
// Authorization bearer value.
const APIKeyHeader = "X-API-Key"

// Gate wires the synchronous checks into the middleware chain:
// Authenticate, then CheckProject, then RequireOperation. The order is
// a hard contract enforced by router construction.
type Gate struct {
	authenticator *gate.Authenticator
	statusGate    *gate.StatusGate
	enforcer      *gate.Enforcer
	auditor       *audit.Logger
}

// NewGate creates the gate middleware set.
func NewGate(a *gate.Authenticator, sg *gate.StatusGate, e *gate.Enforcer, auditor *audit.Logger) *Gate {
	return &Gate{authenticator: a, statusGate: sg, enforcer: e, auditor: auditor}
}

// Authenticate validates the request credential and stores the
// resulting identity in the request context. Failed attempts are
// audited without a resolved identity.
func (g *Gate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractCredential(r)
		if raw == "" {
			g.auditor.RecordAuthFailure(GetRequestID(r), clientIP(r), r.UserAgent(), "missing credential")
			response.Error(w, http.StatusUnauthorized,
				gate.CodeKeyInvalid, "Missing API key", nil)
			return
		}

		authCtx, err := g.authenticator.Authenticate(r.Context(), raw)
		if err != nil {
			g.auditor.RecordAuthFailure(GetRequestID(r), clientIP(r), r.UserAgent(), "credential rejected")
			writeGateError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(setAuthContext(r.Context(), authCtx)))
	})
}

// CheckProject rejects requests whose owning project is not accepting
// traffic. It always re-reads project status; that is the point of the
// gate.
func (g *Gate) CheckProject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx, ok := GetAuthContext(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized,
				gate.CodeKeyInvalid, "Missing API key", nil)
			return
		}

		if err := g.statusGate.CheckProject(r.Context(), authCtx.ProjectID); err != nil {
			writeGateError(w, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireOperation returns middleware enforcing that the authenticated
// identity may perform operation. Denials are audited with the reason
// and the tier or scope the caller would need.
func (g *Gate) RequireOperation(operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, ok := GetAuthContext(r)
			if !ok {
				response.Error(w, http.StatusUnauthorized,
					gate.CodeKeyInvalid, "Missing API key", nil)
				return
			}

			if err := g.enforcer.Enforce(authCtx, operation); err != nil {
				var gerr *gate.Error
				if errors.As(err, &gerr) {
					g.auditor.RecordScopeDenial(auditEventFor(r, authCtx), operation, gerr)
				}
				writeGateError(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func auditEventFor(r *http.Request, authCtx *gate.AuthContext) audit.Event {
	actorType := models.ActorAPIKey
	if authCtx.IsMCP() {
		actorType = models.ActorMCPToken
	}
	projectID := authCtx.ProjectID
	return audit.Event{
		ActorType:  actorType,
		ActorID:    authCtx.KeyID.String(),
		Action:     r.Method + " " + r.URL.Path,
		ProjectID:  &projectID,
		RequestID:  GetRequestID(r),
		IPAddress:  clientIP(r),
		UserAgent:  r.UserAgent(),
		HTTPStatus: http.StatusForbidden,
	}
}

// extractCredential returns the raw API key from the X-API-Key header
// or the Authorization bearer value. Session JWTs use their own routes
// and middleware; a bearer value with JWT structure is not treated as
// an API key.
func extractCredential(r *http.Request) string {
	if v := r.Header.Get(APIKeyHeader); v != "" {
		return v
	}

	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	token := strings.TrimSpace(parts[1])
	if strings.Count(token, ".") == 2 {
		return ""
	}
	return token
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeGateError maps a gate error onto the JSON error envelope.
func writeGateError(w http.ResponseWriter, err error) {
	var gerr *gate.Error
	if errors.As(err, &gerr) {
		var details any
		if len(gerr.Details) > 0 {
			details = gerr.Details
		}
		response.Error(w, gerr.HTTPStatus(), gerr.Code, gerr.Message, details)
		return
	}
	response.Error(w, http.StatusInternalServerError,
		gate.CodeInternalError, "An unexpected error occurred", nil)
}

// ProjectIDFromRequest is a convenience for handlers needing the
// authenticated project id.
func ProjectIDFromRequest(r *http.Request) (uuid.UUID, bool) {
	authCtx, ok := GetAuthContext(r)
	if !ok {
		return uuid.Nil, false
	}
	return authCtx.ProjectID, true
}
