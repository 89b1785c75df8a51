package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/nimbase/gate/internal/audit"
	"github.com/nimbase/gate/pkg/models"
)

// maxAuditBody bounds how much of a request payload is captured for the
// audit record.
const maxAuditBody = 64 << 10

// Audit records an entry for every authenticated request once the
// handler completes: identity, action, redacted payload, client ip,
// user agent, severity from the response status. The write is detached;
// for MCP tokens the enqueue is guaranteed.
type Audit struct {
	auditor *audit.Logger
}

// NewAudit creates the audit middleware.
func NewAudit(a *audit.Logger) *Audit {
	return &Audit{auditor: a}
}

// Record wraps downstream handlers, including the remaining gate
// checks, so lifecycle and scope denials are audited alongside
// successful traffic.
func (a *Audit) Record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx, ok := GetAuthContext(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		payload := capturePayload(r)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		actorType := models.ActorAPIKey
		if authCtx.IsMCP() {
			actorType = models.ActorMCPToken
		}
		projectID := authCtx.ProjectID

		a.auditor.Record(audit.Event{
			ActorType:  actorType,
			ActorID:    authCtx.KeyID.String(),
			Action:     r.Method + " " + r.URL.Path,
			TargetType: "endpoint",
			TargetID:   r.URL.Path,
			ProjectID:  &projectID,
			RequestID:  GetRequestID(r),
			Payload:    payload,
			IPAddress:  clientIP(r),
			UserAgent:  r.UserAgent(),
			HTTPStatus: rec.status,
		})
	})
}

// capturePayload reads a bounded copy of a JSON request body for the
// audit record. The captured bytes are stitched back in front of the
// unread remainder, so downstream handlers always see the full body;
// payloads over the capture limit are passed through unparsed.
func capturePayload(r *http.Request) map[string]any {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxAuditBody+1))
	r.Body = replayBody{io.MultiReader(bytes.NewReader(raw), r.Body), r.Body}
	if err != nil || len(raw) == 0 || len(raw) > maxAuditBody {
		return nil
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	return payload
}

// replayBody re-serves captured bytes ahead of the unread remainder of
// the original body, keeping the original closer.
type replayBody struct {
	io.Reader
	io.Closer
}
