package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nimbase/gate/internal/api/response"
	"github.com/nimbase/gate/internal/gate"
	"github.com/nimbase/gate/internal/idempotency"
)

// IdempotencyKeyHeader is the client-supplied retry deduplication key.
const IdempotencyKeyHeader = "Idempotency-Key"

// storedResponse is the snapshot replayed to retries. Body is base64 in
// the stored JSON.
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// serverError carries a 5xx downstream response out of the executor.
// Returning it as an error releases the idempotency key, so a transient
// failure is not replayed for the record's full TTL.
type serverError struct {
	snap storedResponse
}

func (e *serverError) Error() string { return "downstream handler failed" }

// responseRecorder buffers the downstream response so it can be
// snapshotted for storage and replay.
type responseRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header), status: http.StatusOK}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) { r.status = status }

func (r *responseRecorder) Write(b []byte) (int, error) { return r.body.Write(b) }

// Idempotency replays the first response for repeated write requests
// carrying the same Idempotency-Key. Requests without the header pass
// straight through. Keys are scoped to the authenticated project so
// tenants cannot collide.
type Idempotency struct {
	executor *idempotency.Executor
}

// NewIdempotency creates the idempotency middleware.
func NewIdempotency(e *idempotency.Executor) *Idempotency {
	return &Idempotency{executor: e}
}

// Handle wraps a write handler with at-most-once execution.
func (i *Idempotency) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientKey := r.Header.Get(IdempotencyKeyHeader)
		if clientKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authCtx, ok := GetAuthContext(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized,
				gate.CodeKeyInvalid, "Missing API key", nil)
			return
		}
		key := authCtx.ProjectID.String() + ":" + clientKey

		result, err := i.executor.Execute(r.Context(), key, func(_ context.Context) ([]byte, error) {
			rec := newResponseRecorder()
			next.ServeHTTP(rec, r)

			snap := storedResponse{
				Status:      rec.status,
				ContentType: rec.header.Get("Content-Type"),
				Body:        rec.body.Bytes(),
			}
			if snap.Status >= http.StatusInternalServerError {
				return nil, &serverError{snap: snap}
			}
			return json.Marshal(snap)
		})
		if err != nil {
			var srvErr *serverError
			if errors.As(err, &srvErr) {
				writeSnapshot(w, srvErr.snap)
				return
			}
			writeGateError(w, err)
			return
		}

		var snap storedResponse
		if err := json.Unmarshal(result, &snap); err != nil {
			response.Error(w, http.StatusInternalServerError,
				gate.CodeInternalError, "Stored idempotent response is unreadable", nil)
			return
		}
		writeSnapshot(w, snap)
	})
}

func writeSnapshot(w http.ResponseWriter, snap storedResponse) {
	if snap.ContentType != "" {
		w.Header().Set("Content-Type", snap.ContentType)
	}
	w.WriteHeader(snap.Status)
	w.Write(snap.Body)
}
