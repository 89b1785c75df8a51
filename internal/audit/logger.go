// Package audit writes immutable, redacted records of every gate
// decision and outcome. Audit writes are best-effort: a failed persist
// is logged operationally and never fails or delays the request that
// produced it.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nimbase/gate/internal/gate"
	"github.com/nimbase/gate/internal/store"
	"github.com/nimbase/gate/internal/task"
	"github.com/nimbase/gate/pkg/models"
)

// Event is the request-side input to the audit logger.
type Event struct {
	ActorType  models.ActorType
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	ProjectID  *uuid.UUID
	RequestID  string
	Payload    map[string]any
	IPAddress  string
	UserAgent  string
	HTTPStatus int
}

// SeverityFromStatus derives an entry severity from the eventual HTTP
// status: >=500 critical, >=400 warning, else info.
func SeverityFromStatus(status int) models.Severity {
	switch {
	case status >= 500:
		return models.SeverityCritical
	case status >= 400:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

// Logger builds and persists audit entries.
type Logger struct {
	store  store.Store
	tasks  *task.Runner
	logger *slog.Logger
	now    func() time.Time
}

// NewLogger creates an audit Logger.
func NewLogger(s store.Store, tasks *task.Runner, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{store: s, tasks: tasks, logger: logger, now: time.Now}
}

// build assembles the persisted entry: payload redacted, severity
// derived, request id filled, AI tool fingerprinted. For matched user
// agents the match is appended to the stored user-agent field and kept
// as a structured column for analytics.
func (l *Logger) build(ev Event) *models.AuditLogEntry {
	entry := &models.AuditLogEntry{
		ID:         uuid.New(),
		ActorType:  ev.ActorType,
		ActorID:    ev.ActorID,
		Action:     ev.Action,
		TargetType: ev.TargetType,
		TargetID:   ev.TargetID,
		ProjectID:  ev.ProjectID,
		RequestID:  ev.RequestID,
		Metadata:   Redact(ev.Payload),
		IPAddress:  ev.IPAddress,
		UserAgent:  ev.UserAgent,
		Severity:   SeverityFromStatus(ev.HTTPStatus),
		CreatedAt:  l.now().UTC(),
	}

	if entry.RequestID == "" {
		entry.RequestID = uuid.NewString()
	}

	if tool, ok := DetectAITool(ev.UserAgent); ok {
		entry.AITool = tool
		entry.UserAgent = ev.UserAgent + " [ai:" + tool + "]"
	}

	return entry
}

func (l *Logger) persist(ctx context.Context, entry *models.AuditLogEntry) {
	if err := l.store.InsertAuditLog(ctx, entry); err != nil {
		l.logger.Error("audit log write failed",
			"action", entry.Action, "request_id", entry.RequestID, "error", err)
	}
}

// Record persists an audit entry detached from the request. For MCP
// actors the enqueue is guaranteed (blocking submit); for everything
// else a full queue drops the entry.
func (l *Logger) Record(ev Event) {
	entry := l.build(ev)

	if l.tasks == nil {
		l.persist(context.Background(), entry)
		return
	}

	submit := l.tasks.TrySubmit
	if ev.ActorType == models.ActorMCPToken {
		submit = l.tasks.Submit
	}
	submit("audit-record", func(ctx context.Context) {
		l.persist(ctx, entry)
	})
}

// RecordScopeDenial records a denied scope or tier check with the
// reason, so denied attempts are visible alongside successful traffic.
func (l *Logger) RecordScopeDenial(ev Event, operation string, denial *gate.Error) {
	if ev.Payload == nil {
		ev.Payload = map[string]any{}
	}
	ev.Payload["operation"] = operation
	ev.Payload["denial_code"] = denial.Code
	ev.Payload["denial_reason"] = denial.Message
	if ev.Action == "" {
		ev.Action = "scope.denied"
	}
	l.Record(ev)
}

// RecordAuthFailure records a failed credential attempt. No identity
// was resolved, so the actor is the system; the user agent is still
// fingerprinted for AI-tool analytics.
func (l *Logger) RecordAuthFailure(requestID, ip, userAgent, reason string) {
	l.Record(Event{
		ActorType:  models.ActorSystem,
		Action:     "auth.failed",
		RequestID:  requestID,
		Payload:    map[string]any{"reason": reason},
		IPAddress:  ip,
		UserAgent:  userAgent,
		HTTPStatus: 401,
	})
}
