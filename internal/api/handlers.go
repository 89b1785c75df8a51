package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	mw "github.com/nimbase/gate/internal/api/middleware"
	"github.com/nimbase/gate/internal/api/response"
	"github.com/nimbase/gate/internal/cache"
	"github.com/nimbase/gate/internal/metering"
	"github.com/nimbase/gate/internal/session"
	"github.com/nimbase/gate/internal/store"
	"github.com/nimbase/gate/pkg/models"
)

// Handlers holds the request handlers behind the gate. The service
// handlers are intentionally thin: the platform's data, storage, auth,
// and function services own the real work, and the gate only proves a
// request was allowed through and meters what it consumed.
type Handlers struct {
	store    store.Store
	cache    cache.Cache
	metering *metering.Recorder
	sessions *session.Service
}

// NewHandlers creates the handler set.
func NewHandlers(s store.Store, c cache.Cache, m *metering.Recorder, sess *session.Service) *Handlers {
	return &Handlers{store: s, cache: c, metering: m, sessions: sess}
}

// Health checks database and cache connectivity.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"database": "ok",
		"cache":    "ok",
	}

	if err := h.store.Ping(r.Context()); err != nil {
		checks["database"] = "degraded"
	}
	if err := h.cache.Ping(r.Context()); err != nil {
		checks["cache"] = "degraded"
	}

	if checks["database"] != "ok" || checks["cache"] != "ok" {
		response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
			"One or more services degraded", checks)
		return
	}

	response.JSON(w, map[string]any{
		"status":   "ok",
		"services": checks,
	})
}

// --- Session tokens ---

// IssueToken mints an access/refresh token pair for the developer who
// owns the presenting API key. Issuance requires a live key credential,
// so the session-guarded admin surface is never reachable without one.
// MCP tokens cannot open a session.
func (h *Handlers) IssueToken(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := mw.GetAuthContext(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "KEY_INVALID", "Missing API key", nil)
		return
	}
	if authCtx.IsMCP() {
		response.Error(w, http.StatusForbidden, "PERMISSION_DENIED",
			"MCP tokens cannot open a session", nil)
		return
	}

	projectID := authCtx.ProjectID
	access, err := h.sessions.Issue(authCtx.DeveloperID, &projectID)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue token", nil)
		return
	}
	refresh, err := h.sessions.IssueRefresh(authCtx.DeveloperID)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue token", nil)
		return
	}

	response.JSON(w, map[string]string{
		"access_token":  access,
		"refresh_token": refresh,
	})
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshToken exchanges a refresh token for a new access token.
func (h *Handlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid JSON body", nil)
		return
	}

	claims, err := h.sessions.VerifyRefresh(req.RefreshToken)
	if err != nil {
		response.Error(w, http.StatusUnauthorized, "KEY_INVALID", "Invalid refresh token", nil)
		return
	}

	developerID, err := uuid.Parse(claims.DeveloperID)
	if err != nil {
		response.Error(w, http.StatusUnauthorized, "KEY_INVALID", "Invalid refresh token", nil)
		return
	}

	access, err := h.sessions.Issue(developerID, nil)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue token", nil)
		return
	}

	response.JSON(w, map[string]string{"access_token": access})
}

// --- Gated service endpoints ---

// DBQuery acknowledges a read query and meters it.
func (h *Handlers) DBQuery(w http.ResponseWriter, r *http.Request) {
	projectID, ok := mw.ProjectIDFromRequest(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "KEY_INVALID", "Missing API key", nil)
		return
	}

	var body struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Query == "" {
		response.Error(w, http.StatusBadRequest, "BAD_REQUEST", "query is required", nil)
		return
	}

	// Row counts come back from the data service; modeled here as a
	// single-row read.
	h.metering.TrackDatabaseQuery(projectID, 1, 0)
	response.JSON(w, map[string]any{"accepted": true})
}

// DBWrite acknowledges a write and meters the rows written.
func (h *Handlers) DBWrite(w http.ResponseWriter, r *http.Request) {
	projectID, ok := mw.ProjectIDFromRequest(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "KEY_INVALID", "Missing API key", nil)
		return
	}

	var body struct {
		Rows []map[string]any `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid JSON body", nil)
		return
	}

	h.metering.TrackDatabaseQuery(projectID, 0, int64(len(body.Rows)))
	response.JSON(w, map[string]any{
		"accepted":  true,
		"row_count": len(body.Rows),
		"txn_id":    uuid.NewString(),
	})
}

// StorageRead acknowledges an object read and meters bytes downloaded.
func (h *Handlers) StorageRead(w http.ResponseWriter, r *http.Request) {
	projectID, ok := mw.ProjectIDFromRequest(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "KEY_INVALID", "Missing API key", nil)
		return
	}

	h.metering.TrackStorageTransfer(projectID, "bytes_downloaded", 1)
	response.JSON(w, map[string]any{"accepted": true})
}

// StorageWrite acknowledges an object upload and meters bytes uploaded.
func (h *Handlers) StorageWrite(w http.ResponseWriter, r *http.Request) {
	projectID, ok := mw.ProjectIDFromRequest(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "KEY_INVALID", "Missing API key", nil)
		return
	}

	size := r.ContentLength
	if size < 0 {
		size = 0
	}
	h.metering.TrackStorageTransfer(projectID, "bytes_uploaded", size)
	response.Created(w, map[string]any{"object_id": uuid.NewString()})
}

// AuthAdmin acknowledges a user-management operation and meters it.
func (h *Handlers) AuthAdmin(w http.ResponseWriter, r *http.Request) {
	projectID, ok := mw.ProjectIDFromRequest(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "KEY_INVALID", "Missing API key", nil)
		return
	}

	h.metering.TrackAuthEvent(projectID, "signups")
	response.JSON(w, map[string]any{"accepted": true})
}

// Ack acknowledges an operation without metering, for endpoints whose
// consumption is billed by the owning service.
func (h *Handlers) Ack(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, map[string]any{"accepted": true})
}

// --- Admin reads ---

// UsageDaily returns per-day usage totals for a project and service.
func (h *Handlers) UsageDaily(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.URL.Query().Get("project_id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "BAD_REQUEST", "project_id must be a UUID", nil)
		return
	}
	service := models.Service(r.URL.Query().Get("service"))
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))

	breakdown, err := h.metering.DailyBreakdown(r.Context(), projectID, service, days)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read usage", nil)
		return
	}
	response.JSON(w, breakdown)
}

// UsageWindow returns the rolling-window total for one metric type.
func (h *Handlers) UsageWindow(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.URL.Query().Get("project_id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "BAD_REQUEST", "project_id must be a UUID", nil)
		return
	}
	metricType := r.URL.Query().Get("metric_type")
	if metricType == "" {
		response.Error(w, http.StatusBadRequest, "BAD_REQUEST", "metric_type is required", nil)
		return
	}

	window := 30 * 24 * time.Hour
	if hours, err := strconv.Atoi(r.URL.Query().Get("hours")); err == nil && hours > 0 {
		window = time.Duration(hours) * time.Hour
	}

	total, err := h.metering.WindowTotal(r.Context(), projectID, metricType, window)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read usage", nil)
		return
	}
	response.JSON(w, map[string]any{
		"metric_type": metricType,
		"window":      window.String(),
		"total":       total,
	})
}

// AuditList returns recent audit entries, newest first.
func (h *Handlers) AuditList(w http.ResponseWriter, r *http.Request) {
	filter := store.AuditFilter{
		ActorType: models.ActorType(r.URL.Query().Get("actor_type")),
		Severity:  models.Severity(r.URL.Query().Get("severity")),
	}
	if v := r.URL.Query().Get("project_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "BAD_REQUEST", "project_id must be a UUID", nil)
			return
		}
		filter.ProjectID = &id
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		filter.Limit = limit
	}

	entries, err := h.store.ListAuditLogs(r.Context(), filter)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read audit log", nil)
		return
	}
	response.JSON(w, entries)
}
