package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nimbase/gate/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

const apiKeyColumns = `id, project_id, developer_id, key_type, key_prefix, key_hash, scopes,
	 environment, status, expires_at, usage_count, last_used_at, created_at, updated_at`

func scanAPIKey(row pgx.Row) (*models.APIKey, error) {
	var k models.APIKey
	err := row.Scan(&k.ID, &k.ProjectID, &k.DeveloperID, &k.KeyType, &k.KeyPrefix, &k.KeyHash,
		&k.Scopes, &k.Environment, &k.Status, &k.ExpiresAt, &k.UsageCount, &k.LastUsedAt,
		&k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *PostgresStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	k, err := scanAPIKey(s.pool.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, keyHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return k, nil
}

func (s *PostgresStore) TouchAPIKey(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), usage_count = usage_count + 1, updated_at = NOW()
		 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, project_id, developer_id, key_type, key_prefix, key_hash, scopes,
		   environment, status, expires_at, usage_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		key.ID, key.ProjectID, key.DeveloperID, key.KeyType, key.KeyPrefix, key.KeyHash, key.Scopes,
		key.Environment, key.Status, key.ExpiresAt, key.UsageCount, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET status = 'revoked', updated_at = NOW()
		 WHERE id = $1 AND status = 'active'`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Projects ---

func (s *PostgresStore) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var p models.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, status, created_at, updated_at FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, p *models.Project) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (id, name, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.Name, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProjectStatus(ctx context.Context, id uuid.UUID, status models.ProjectStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update project status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Idempotency Records ---

// InsertIdempotencyPlaceholder attempts the atomic insert-if-absent for
// key. It returns true when this caller won the insert. An existing but
// expired record is replaced, so expired-but-unswept keys behave as
// absent.
func (s *PostgresStore) InsertIdempotencyPlaceholder(ctx context.Context, key string, expiresAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_keys (key, status, created_at, expires_at)
		 VALUES ($1, 'pending', NOW(), $2)
		 ON CONFLICT (key) DO UPDATE SET
		   status = 'pending', response = NULL, created_at = NOW(), expires_at = EXCLUDED.expires_at
		 WHERE idempotency_keys.expires_at <= NOW()`,
		key, expiresAt)
	if err != nil {
		return false, fmt.Errorf("insert idempotency placeholder: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetIdempotencyRecord(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	var r models.IdempotencyRecord
	err := s.pool.QueryRow(ctx,
		`SELECT key, status, response, created_at, expires_at
		 FROM idempotency_keys WHERE key = $1`, key,
	).Scan(&r.Key, &r.Status, &r.Response, &r.CreatedAt, &r.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) CompleteIdempotencyRecord(ctx context.Context, key string, response []byte) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE idempotency_keys SET status = 'completed', response = $2
		 WHERE key = $1 AND status = 'pending'`, key, response)
	if err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteIdempotencyRecord(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete idempotency record: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteExpiredIdempotencyRecords(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) IdempotencyStats(ctx context.Context) (int64, *time.Time, error) {
	var count int64
	var oldest *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM idempotency_keys`,
	).Scan(&count, &oldest)
	if err != nil {
		return 0, nil, fmt.Errorf("idempotency stats: %w", err)
	}
	return count, oldest, nil
}

// --- Usage Metrics ---

func (s *PostgresStore) InsertUsageMetric(ctx context.Context, m *models.UsageMetric) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_metrics (id, project_id, service, metric_type, quantity, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.ProjectID, m.Service, m.MetricType, m.Quantity, m.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert usage metric: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertUsageMetrics(ctx context.Context, metrics []*models.UsageMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range metrics {
		batch.Queue(
			`INSERT INTO usage_metrics (id, project_id, service, metric_type, quantity, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			m.ID, m.ProjectID, m.Service, m.MetricType, m.Quantity, m.RecordedAt)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range metrics {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert usage metrics batch: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) UsageDailyBreakdown(ctx context.Context, projectID uuid.UUID, service models.Service, days int) ([]models.UsageDaily, error) {
	if days <= 0 {
		days = 30
	}

	rows, err := s.pool.Query(ctx,
		`SELECT date_trunc('day', recorded_at) AS day, metric_type, SUM(quantity) AS total
		 FROM usage_metrics
		 WHERE project_id = $1 AND service = $2 AND recorded_at >= NOW() - make_interval(days => $3)
		 GROUP BY day, metric_type
		 ORDER BY day DESC, metric_type`,
		projectID, service, days)
	if err != nil {
		return nil, fmt.Errorf("usage daily breakdown: %w", err)
	}
	defer rows.Close()

	var out []models.UsageDaily
	for rows.Next() {
		var d models.UsageDaily
		if err := rows.Scan(&d.Day, &d.MetricType, &d.Total); err != nil {
			return nil, fmt.Errorf("scan usage daily: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UsageWindowTotal(ctx context.Context, projectID uuid.UUID, metricType string, window time.Duration) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0)
		 FROM usage_metrics
		 WHERE project_id = $1 AND metric_type = $2 AND recorded_at >= $3`,
		projectID, metricType, time.Now().UTC().Add(-window),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("usage window total: %w", err)
	}
	return total, nil
}

// --- Audit Logs ---

func (s *PostgresStore) InsertAuditLog(ctx context.Context, entry *models.AuditLogEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_logs (id, actor_type, actor_id, action, target_type, target_id,
		   project_id, request_id, metadata, ip_address, user_agent, ai_tool, severity, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		entry.ID, entry.ActorType, entry.ActorID, entry.Action, entry.TargetType, entry.TargetID,
		entry.ProjectID, entry.RequestID, entry.Metadata, entry.IPAddress, entry.UserAgent,
		entry.AITool, entry.Severity, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditLogs(ctx context.Context, filter AuditFilter) ([]*models.AuditLogEntry, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.ProjectID != nil {
		conditions = append(conditions, fmt.Sprintf("project_id = $%d", argIdx))
		args = append(args, *filter.ProjectID)
		argIdx++
	}
	if filter.ActorType != "" {
		conditions = append(conditions, fmt.Sprintf("actor_type = $%d", argIdx))
		args = append(args, filter.ActorType)
		argIdx++
	}
	if filter.Severity != "" {
		conditions = append(conditions, fmt.Sprintf("severity = $%d", argIdx))
		args = append(args, filter.Severity)
		argIdx++
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, filter.Since)
		argIdx++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	query := fmt.Sprintf(
		`SELECT id, actor_type, actor_id, action, target_type, target_id, project_id,
		   request_id, metadata, ip_address, user_agent, ai_tool, severity, created_at
		 FROM audit_logs WHERE %s ORDER BY created_at DESC LIMIT $%d`,
		joinConditions(conditions), argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		if err := rows.Scan(&e.ID, &e.ActorType, &e.ActorID, &e.Action, &e.TargetType, &e.TargetID,
			&e.ProjectID, &e.RequestID, &e.Metadata, &e.IPAddress, &e.UserAgent,
			&e.AITool, &e.Severity, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func joinConditions(conditions []string) string {
	out := conditions[0]
	for _, c := range conditions[1:] {
		out += " AND " + c
	}
	return out
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
