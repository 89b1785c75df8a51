package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nimbase/gate/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	// API keys. Creation and revocation belong to the key-management
	// flows; the gate itself only reads keys and bumps usage counters.
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error)
	TouchAPIKey(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	// Projects. Lifecycle transitions belong to the admin flows; the
	// gate re-reads status on every request.
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	CreateProject(ctx context.Context, p *models.Project) error
	UpdateProjectStatus(ctx context.Context, id uuid.UUID, status models.ProjectStatus) error

	// Idempotency records. The placeholder insert is the atomic
	// insert-if-absent that gives at-most-once execution.
	InsertIdempotencyPlaceholder(ctx context.Context, key string, expiresAt time.Time) (bool, error)
	GetIdempotencyRecord(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	CompleteIdempotencyRecord(ctx context.Context, key string, response []byte) error
	DeleteIdempotencyRecord(ctx context.Context, key string) error
	DeleteExpiredIdempotencyRecords(ctx context.Context) (int64, error)
	IdempotencyStats(ctx context.Context) (count int64, oldest *time.Time, err error)

	// Usage metrics, append-only.
	InsertUsageMetric(ctx context.Context, m *models.UsageMetric) error
	InsertUsageMetrics(ctx context.Context, metrics []*models.UsageMetric) error
	UsageDailyBreakdown(ctx context.Context, projectID uuid.UUID, service models.Service, days int) ([]models.UsageDaily, error)
	UsageWindowTotal(ctx context.Context, projectID uuid.UUID, metricType string, window time.Duration) (float64, error)

	// Audit log, append-only.
	InsertAuditLog(ctx context.Context, entry *models.AuditLogEntry) error
	ListAuditLogs(ctx context.Context, filter AuditFilter) ([]*models.AuditLogEntry, error)
}

// AuditFilter narrows audit log reads for the admin endpoint.
type AuditFilter struct {
	ProjectID *uuid.UUID
	ActorType models.ActorType
	Severity  models.Severity
	Since     time.Time
	Limit     int
}
