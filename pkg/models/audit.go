package models

import (
	"time"

	"github.com/google/uuid"
)

// ActorType identifies who performed an audited action.
type ActorType string

const (
	ActorUser     ActorType = "user"
	ActorSystem   ActorType = "system"
	ActorAPIKey   ActorType = "api_key"
	ActorMCPToken ActorType = "mcp_token"
)

// Severity of an audit entry, derived from the eventual HTTP status.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AuditLogEntry is an append-only record of a gate decision and its
// outcome. Entries are never updated or deleted by the gate; payload
// redaction happens before persistence.
type AuditLogEntry struct {
	ID         uuid.UUID      `db:"id"          json:"id"`
	ActorType  ActorType      `db:"actor_type"  json:"actor_type"`
	ActorID    string         `db:"actor_id"    json:"actor_id"`
	Action     string         `db:"action"      json:"action"`
	TargetType string         `db:"target_type" json:"target_type"`
	TargetID   string         `db:"target_id"   json:"target_id"`
	ProjectID  *uuid.UUID     `db:"project_id"  json:"project_id,omitempty"`
	RequestID  string         `db:"request_id"  json:"request_id"`
	Metadata   map[string]any `db:"metadata"    json:"metadata,omitempty"`
	IPAddress  string         `db:"ip_address"  json:"ip_address"`
	UserAgent  string         `db:"user_agent"  json:"user_agent"`
	AITool     string         `db:"ai_tool"     json:"ai_tool,omitempty"`
	Severity   Severity       `db:"severity"    json:"severity"`
	CreatedAt  time.Time      `db:"created_at"  json:"created_at"`
}
