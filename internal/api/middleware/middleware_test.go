package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nimbase/gate/internal/audit"
	"github.com/nimbase/gate/internal/cache"
	"github.com/nimbase/gate/internal/gate"
	"github.com/nimbase/gate/internal/idempotency"
	"github.com/nimbase/gate/internal/store"
	"github.com/nimbase/gate/pkg/models"
	"github.com/nimbase/gate/pkg/scopes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *store.MemoryStore
	gate  *Gate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	auditor := audit.NewLogger(s, nil, nil)
	return &fixture{
		store: s,
		gate: NewGate(
			gate.NewAuthenticator(s, nil, nil),
			gate.NewStatusGate(s, nil),
			gate.NewEnforcer(),
			auditor,
		),
	}
}

func (f *fixture) seed(t *testing.T, raw string, projectStatus models.ProjectStatus, mutate func(*models.APIKey)) *models.APIKey {
	t.Helper()
	now := time.Now().UTC()
	project := &models.Project{
		ID:        uuid.New(),
		Name:      "acme",
		Status:    projectStatus,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.store.CreateProject(context.Background(), project))

	key := &models.APIKey{
		ID:          uuid.New(),
		ProjectID:   project.ID,
		DeveloperID: uuid.New(),
		KeyType:     models.KeyTypeSecret,
		KeyPrefix:   raw[:min(11, len(raw))],
		KeyHash:     gate.HashKey(raw),
		Scopes:      []string{scopes.DBSelect, scopes.DBInsert},
		Environment: models.EnvironmentLive,
		Status:      models.KeyStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if mutate != nil {
		mutate(key)
	}
	require.NoError(t, f.store.CreateAPIKey(context.Background(), key))
	return key
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (code, message string) {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code, body.Error.Message
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// --- Authenticate ---

func TestAuthenticate_MissingCredential(t *testing.T) {
	f := newFixture(t)
	handler := f.gate.Authenticate(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/db/query", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	code, _ := decodeError(t, rec)
	assert.Equal(t, gate.CodeKeyInvalid, code)

	// The failed attempt is audited with no resolved identity.
	entries := f.store.AuditLogs()
	require.Len(t, entries, 1)
	assert.Equal(t, "auth.failed", entries[0].Action)
	assert.Equal(t, models.ActorSystem, entries[0].ActorType)
}

func TestAuthenticate_UnknownKey(t *testing.T) {
	f := newFixture(t)
	handler := f.gate.Authenticate(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/db/query", nil)
	req.Header.Set(APIKeyHeader, "nm_live_sk_unknown")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	code, _ := decodeError(t, rec)
	assert.Equal(t, gate.CodeKeyInvalid, code)
}

func TestAuthenticate_ValidKeySetsContext(t *testing.T) {
	f := newFixture(t)
	key := f.seed(t, "nm_live_sk_abc123", models.ProjectStatusActive, nil)

	var got *gate.AuthContext
	handler := f.gate.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetAuthContext(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/db/query", nil)
	req.Header.Set(APIKeyHeader, "nm_live_sk_abc123")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, key.ProjectID, got.ProjectID)
	assert.Equal(t, key.ID, got.KeyID)
}

func TestAuthenticate_BearerCredential(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "nm_live_sk_bearer1", models.ProjectStatusActive, nil)

	handler := f.gate.Authenticate(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/db/query", nil)
	req.Header.Set("Authorization", "Bearer nm_live_sk_bearer1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExtractCredential(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
		want   string
	}{
		{"api key header", APIKeyHeader, "nm_live_sk_a", "nm_live_sk_a"},
		{"bearer", "Authorization", "Bearer nm_live_sk_a", "nm_live_sk_a"},
		{"bearer lowercase scheme", "Authorization", "bearer nm_live_sk_a", "nm_live_sk_a"},
		{"basic scheme ignored", "Authorization", "Basic dXNlcjpwYXNz", ""},
		{"jwt bearer not an api key", "Authorization", "Bearer aaa.bbb.ccc", ""},
		{"none", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			assert.Equal(t, tt.want, extractCredential(req))
		})
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:4431"
	assert.Equal(t, "192.0.2.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", clientIP(req))
}

// --- CheckProject ---

func TestCheckProject_SuspendedProjectBlocksValidKey(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "nm_live_sk_susp1", models.ProjectStatusSuspended, nil)

	handler := f.gate.Authenticate(f.gate.CheckProject(okHandler()))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/db/rows", nil)
	req.Header.Set(APIKeyHeader, "nm_live_sk_susp1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	code, _ := decodeError(t, rec)
	assert.Equal(t, gate.CodeProjectSuspended, code)
}

func TestCheckProject_ActiveProjectPasses(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "nm_live_sk_act1", models.ProjectStatusActive, nil)

	handler := f.gate.Authenticate(f.gate.CheckProject(okHandler()))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/db/query", nil)
	req.Header.Set(APIKeyHeader, "nm_live_sk_act1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// --- RequireOperation ---

func TestRequireOperation_ScopeMissing(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "nm_live_sk_scp1", models.ProjectStatusActive, nil)

	handler := f.gate.Authenticate(f.gate.RequireOperation(scopes.StorageWrite)(okHandler()))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/storage/objects", nil)
	req.Header.Set(APIKeyHeader, "nm_live_sk_scp1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	code, _ := decodeError(t, rec)
	assert.Equal(t, gate.CodePermissionDenied, code)

	entries := f.store.AuditLogs()
	require.Len(t, entries, 1)
	assert.Equal(t, "scope.denied", entries[0].Action)
	assert.Equal(t, scopes.StorageWrite, entries[0].Metadata["operation"])
}

func TestRequireOperation_MCPReadOnlyDeniedAdminOp(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "mcp_ro_abc123", models.ProjectStatusActive, func(k *models.APIKey) {
		k.KeyType = models.KeyTypeMCP
		k.KeyPrefix = "mcp_ro_"
		k.Scopes = scopes.CanonicalScopes(scopes.TierReadOnly)
	})

	handler := f.gate.Authenticate(f.gate.RequireOperation(scopes.DBDelete)(okHandler()))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/db/rows", nil)
	req.Header.Set(APIKeyHeader, "mcp_ro_abc123")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	code, msg := decodeError(t, rec)
	assert.Equal(t, gate.CodePermissionDenied, code)
	assert.Contains(t, msg, "admin")

	entries := f.store.AuditLogs()
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActorMCPToken, entries[0].ActorType)
}

func TestRequireOperation_MCPReadWriteAllowedWriteOp(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "mcp_rw_abc123", models.ProjectStatusActive, func(k *models.APIKey) {
		k.KeyType = models.KeyTypeMCP
		k.KeyPrefix = "mcp_rw_"
		k.Scopes = scopes.CanonicalScopes(scopes.TierReadWrite)
	})

	handler := f.gate.Authenticate(f.gate.RequireOperation(scopes.DBInsert)(okHandler()))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/db/rows", nil)
	req.Header.Set(APIKeyHeader, "mcp_rw_abc123")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// --- Idempotency ---

func idemRequest(key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/db/rows", strings.NewReader(`{"table":"orders"}`))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	ac := &gate.AuthContext{
		KeyID:     uuid.New(),
		ProjectID: uuid.MustParse("7b9f3f8e-13a2-4a6c-90de-01f2a3b4c5d6"),
	}
	return req.WithContext(setAuthContext(req.Context(), ac))
}

func TestIdempotency_ReplaysFirstResponse(t *testing.T) {
	mw := NewIdempotency(idempotency.NewExecutor(store.NewMemoryStore(), nil, time.Hour, nil))

	var calls int
	handler := mw.Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": uuid.NewString()})
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, idemRequest("retry-1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, idemRequest("retry-1"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
}

func TestIdempotency_NoHeaderPassesThrough(t *testing.T) {
	mw := NewIdempotency(idempotency.NewExecutor(store.NewMemoryStore(), nil, time.Hour, nil))

	var calls int
	handler := mw.Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), idemRequest(""))
	handler.ServeHTTP(httptest.NewRecorder(), idemRequest(""))

	assert.Equal(t, 2, calls)
}

func TestIdempotency_ServerErrorNotReplayed(t *testing.T) {
	mw := NewIdempotency(idempotency.NewExecutor(store.NewMemoryStore(), nil, time.Hour, nil))

	var calls int
	handler := mw.Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"boom"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, idemRequest("retry-5xx"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, idemRequest("retry-5xx"))
	third := httptest.NewRecorder()
	handler.ServeHTTP(third, idemRequest("retry-5xx"))

	// The 5xx reaches the first caller but releases the key; the retry
	// re-executes and its success is what gets replayed.
	assert.Equal(t, http.StatusInternalServerError, first.Code)
	assert.Equal(t, `{"error":"boom"}`, first.Body.String())
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, http.StatusCreated, third.Code)
	assert.Equal(t, 2, calls)
}

func TestIdempotency_DistinctKeysExecuteSeparately(t *testing.T) {
	mw := NewIdempotency(idempotency.NewExecutor(store.NewMemoryStore(), nil, time.Hour, nil))

	var calls int
	handler := mw.Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), idemRequest("key-a"))
	handler.ServeHTTP(httptest.NewRecorder(), idemRequest("key-b"))

	assert.Equal(t, 2, calls)
}

// --- RateLimit ---

type fakeCache struct {
	cache.Cache
	count int64
	fail  bool
}

func (f *fakeCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	if f.fail {
		return 0, errors.New("redis down")
	}
	f.count++
	return f.count, nil
}

func limitedRequest() *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/db/query", nil)
	ac := &gate.AuthContext{KeyID: uuid.New(), ProjectID: uuid.New(), KeyPrefix: "nm_live_sk_"}
	return req.WithContext(setAuthContext(req.Context(), ac))
}

func TestRateLimit_UnderLimit(t *testing.T) {
	rl := NewRateLimit(&fakeCache{}, 5)
	handler := rl.Limit(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimit_OverLimit(t *testing.T) {
	rl := NewRateLimit(&fakeCache{count: 5}, 5)
	handler := rl.Limit(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest())

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	code, _ := decodeError(t, rec)
	assert.Equal(t, gate.CodeRateLimitExceeded, code)
}

func TestRateLimit_FailsOpenOnCacheError(t *testing.T) {
	rl := NewRateLimit(&fakeCache{fail: true}, 5)
	handler := rl.Limit(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest())
	assert.Equal(t, http.StatusOK, rec.Code)
}

// --- RequestID ---

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	_, err := uuid.Parse(seen)
	assert.NoError(t, err)
}

func TestRequestID_PropagatesInbound(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-42")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

// --- Audit middleware ---

func TestAuditRecord_PersistsRequestEntry(t *testing.T) {
	s := store.NewMemoryStore()
	mw := NewAudit(audit.NewLogger(s, nil, nil))

	handler := mw.Record(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/db/rows",
		strings.NewReader(`{"table":"orders","password":"x"}`))
	req.Header.Set("User-Agent", "claude-code/1.0")
	ac := &gate.AuthContext{KeyID: uuid.New(), ProjectID: uuid.New(), KeyType: models.KeyTypeMCP, KeyPrefix: "mcp_rw_"}
	req = req.WithContext(setAuthContext(req.Context(), ac))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	entries := s.AuditLogs()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, models.ActorMCPToken, e.ActorType)
	assert.Equal(t, "POST /api/v1/db/rows", e.Action)
	assert.Equal(t, models.SeverityInfo, e.Severity)
	assert.Equal(t, "orders", e.Metadata["table"])
	assert.Equal(t, audit.RedactionMarker, e.Metadata["password"])
	assert.Equal(t, "Claude Code", e.AITool)
}

func TestAuditRecord_BodyRestoredForHandler(t *testing.T) {
	s := store.NewMemoryStore()
	mw := NewAudit(audit.NewLogger(s, nil, nil))

	var got map[string]any
	handler := mw.Record(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/db/rows", strings.NewReader(`{"table":"orders"}`))
	ac := &gate.AuthContext{KeyID: uuid.New(), ProjectID: uuid.New()}
	req = req.WithContext(setAuthContext(req.Context(), ac))

	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "orders", got["table"])
}

func TestAuditRecord_LargeBodyReachesHandlerIntact(t *testing.T) {
	s := store.NewMemoryStore()
	mw := NewAudit(audit.NewLogger(s, nil, nil))

	body := `{"pad":"` + strings.Repeat("x", 100<<10) + `"}`

	var got int
	handler := mw.Record(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		got = len(raw)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/db/rows", strings.NewReader(body))
	ac := &gate.AuthContext{KeyID: uuid.New(), ProjectID: uuid.New()}
	req = req.WithContext(setAuthContext(req.Context(), ac))

	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, len(body), got)

	// Payloads over the capture limit are audited without metadata.
	entries := s.AuditLogs()
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].Metadata)
}

func TestAuditRecord_SkipsUnauthenticated(t *testing.T) {
	s := store.NewMemoryStore()
	mw := NewAudit(audit.NewLogger(s, nil, nil))

	handler := mw.Record(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Empty(t, s.AuditLogs())
}
