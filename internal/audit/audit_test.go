package audit_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/nimbase/gate/internal/audit"
	"github.com/nimbase/gate/internal/gate"
	"github.com/nimbase/gate/internal/store"
	"github.com/nimbase/gate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedact(t *testing.T) {
	payload := map[string]any{
		"email":    "dev@example.com",
		"password": "hunter2",
		"Token":    "abc",
		"profile": map[string]any{
			"name":       "acme",
			"secret_key": "sk-123",
		},
		"attempts": []any{
			map[string]any{"api_key": "nm_live_sk_x", "ip": "10.0.0.1"},
		},
	}

	out := audit.Redact(payload)

	assert.Equal(t, "dev@example.com", out["email"])
	assert.Equal(t, audit.RedactionMarker, out["password"])
	assert.Equal(t, audit.RedactionMarker, out["Token"])

	profile := out["profile"].(map[string]any)
	assert.Equal(t, "acme", profile["name"])
	assert.Equal(t, audit.RedactionMarker, profile["secret_key"])

	attempt := out["attempts"].([]any)[0].(map[string]any)
	assert.Equal(t, audit.RedactionMarker, attempt["api_key"])
	assert.Equal(t, "10.0.0.1", attempt["ip"])

	// The original payload stays intact.
	assert.Equal(t, "hunter2", payload["password"])
	assert.Equal(t, "sk-123", payload["profile"].(map[string]any)["secret_key"])
}

func TestRedact_Nil(t *testing.T) {
	assert.Nil(t, audit.Redact(nil))
}

func TestDetectAITool(t *testing.T) {
	tests := []struct {
		userAgent string
		tool      string
		matched   bool
	}{
		{"claude-code/1.2.3 (external, cli)", "Claude Code", true},
		{"Claude-Desktop/0.9", "Claude Desktop", true},
		{"Cursor/0.42 (darwin)", "Cursor", true},
		{"aider/0.60.1", "Aider", true},
		{"GitHubCopilotChat/0.22", "GitHub Copilot", true},
		{"node-mcp-sdk/1.0", "mcp-client", true},
		{"vscode-restclient", "VS Code", true},
		{"Mozilla/5.0 (Macintosh) Safari/605.1", "", false},
		{"curl/8.4.0", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		tool, ok := audit.DetectAITool(tt.userAgent)
		assert.Equal(t, tt.matched, ok, tt.userAgent)
		assert.Equal(t, tt.tool, tool, tt.userAgent)
	}
}

func TestDetectAITool_SpecificBeforeGeneric(t *testing.T) {
	// Claude Code speaks MCP; the agent signature must win over the
	// generic mcp fragment.
	tool, ok := audit.DetectAITool("claude-code/1.0 mcp-transport/2024-11-05")
	require.True(t, ok)
	assert.Equal(t, "Claude Code", tool)
}

func TestSeverityFromStatus(t *testing.T) {
	tests := []struct {
		status   int
		severity models.Severity
	}{
		{200, models.SeverityInfo},
		{201, models.SeverityInfo},
		{301, models.SeverityInfo},
		{400, models.SeverityWarning},
		{403, models.SeverityWarning},
		{429, models.SeverityWarning},
		{500, models.SeverityCritical},
		{503, models.SeverityCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.severity, audit.SeverityFromStatus(tt.status), tt.status)
	}
}

func TestRecord_PersistsRedactedEntry(t *testing.T) {
	s := store.NewMemoryStore()
	l := audit.NewLogger(s, nil, nil)

	projectID := uuid.New()
	l.Record(audit.Event{
		ActorType:  models.ActorAPIKey,
		ActorID:    "nm_live_sk_abc",
		Action:     "db.rows.insert",
		TargetType: "table",
		TargetID:   "orders",
		ProjectID:  &projectID,
		RequestID:  "req-1",
		Payload:    map[string]any{"rows": 3, "password": "x"},
		IPAddress:  "10.0.0.9",
		UserAgent:  "curl/8.4.0",
		HTTPStatus: 201,
	})

	entries := s.AuditLogs()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, models.ActorAPIKey, e.ActorType)
	assert.Equal(t, "db.rows.insert", e.Action)
	assert.Equal(t, "req-1", e.RequestID)
	assert.Equal(t, models.SeverityInfo, e.Severity)
	assert.Equal(t, audit.RedactionMarker, e.Metadata["password"])
	assert.Equal(t, 3, e.Metadata["rows"])
	assert.Empty(t, e.AITool)
	assert.Equal(t, "curl/8.4.0", e.UserAgent)
}

func TestRecord_FingerprintsAITool(t *testing.T) {
	s := store.NewMemoryStore()
	l := audit.NewLogger(s, nil, nil)

	l.Record(audit.Event{
		ActorType:  models.ActorMCPToken,
		Action:     "db.query",
		UserAgent:  "claude-code/1.2.3",
		HTTPStatus: 200,
	})

	entries := s.AuditLogs()
	require.Len(t, entries, 1)
	assert.Equal(t, "Claude Code", entries[0].AITool)
	assert.Equal(t, "claude-code/1.2.3 [ai:Claude Code]", entries[0].UserAgent)
}

func TestRecord_FillsMissingRequestID(t *testing.T) {
	s := store.NewMemoryStore()
	l := audit.NewLogger(s, nil, nil)

	l.Record(audit.Event{ActorType: models.ActorSystem, Action: "auth.failed", HTTPStatus: 401})

	entries := s.AuditLogs()
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].RequestID)
}

func TestRecordScopeDenial(t *testing.T) {
	s := store.NewMemoryStore()
	l := audit.NewLogger(s, nil, nil)

	denial := &gate.Error{Code: gate.CodePermissionDenied, Message: "operation db:delete requires tier admin"}
	l.RecordScopeDenial(audit.Event{
		ActorType:  models.ActorMCPToken,
		ActorID:    "mcp_ro_abc",
		HTTPStatus: 403,
	}, "db:delete", denial)

	entries := s.AuditLogs()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "scope.denied", e.Action)
	assert.Equal(t, models.SeverityWarning, e.Severity)
	assert.Equal(t, "db:delete", e.Metadata["operation"])
	assert.Equal(t, gate.CodePermissionDenied, e.Metadata["denial_code"])
}

func TestRecordAuthFailure(t *testing.T) {
	s := store.NewMemoryStore()
	l := audit.NewLogger(s, nil, nil)

	l.RecordAuthFailure("req-9", "10.0.0.1", "cursor/0.42", "key not found")

	entries := s.AuditLogs()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, models.ActorSystem, e.ActorType)
	assert.Equal(t, "auth.failed", e.Action)
	assert.Equal(t, models.SeverityWarning, e.Severity)
	assert.Equal(t, "key not found", e.Metadata["reason"])
	assert.Equal(t, "Cursor", e.AITool)
}
