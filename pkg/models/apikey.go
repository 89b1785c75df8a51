package models

import (
	"time"

	"github.com/google/uuid"
)

// KeyType identifies the class of an API key.
type KeyType string

const (
	KeyTypePublic      KeyType = "public"
	KeyTypeSecret      KeyType = "secret"
	KeyTypeServiceRole KeyType = "service_role"
	KeyTypeMCP         KeyType = "mcp"
)

// KeyStatus is the lifecycle state of an API key. Transitions are one-way:
// active -> revoked, nothing else.
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRevoked KeyStatus = "revoked"
)

// Environment separates live traffic from test traffic.
type Environment string

const (
	EnvironmentLive Environment = "live"
	EnvironmentTest Environment = "test"
)

// APIKey represents a platform credential. Raw keys are shown once at
// creation; only the deterministic digest is stored, and the digest is
// unique across all keys.
type APIKey struct {
	ID          uuid.UUID   `db:"id"           json:"id"`
	ProjectID   uuid.UUID   `db:"project_id"   json:"project_id"`
	DeveloperID uuid.UUID   `db:"developer_id" json:"developer_id"`
	KeyType     KeyType     `db:"key_type"     json:"key_type"`
	KeyPrefix   string      `db:"key_prefix"   json:"key_prefix"`
	KeyHash     string      `db:"key_hash"     json:"-"`
	Scopes      []string    `db:"scopes"       json:"scopes"`
	Environment Environment `db:"environment"  json:"environment"`
	Status      KeyStatus   `db:"status"       json:"status"`
	ExpiresAt   *time.Time  `db:"expires_at"   json:"expires_at,omitempty"`
	UsageCount  int64       `db:"usage_count"  json:"usage_count"`
	LastUsedAt  *time.Time  `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt   time.Time   `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"   json:"updated_at"`
}

// IsExpired reports whether the key carries an expiry that has passed.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
