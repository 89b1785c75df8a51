package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nimbase/gate/pkg/models"
)

// MemoryStore is an in-memory Store implementation used in tests and
// local development. It mirrors PostgresStore semantics, including the
// atomicity of the idempotency placeholder insert.
type MemoryStore struct {
	mu          sync.Mutex
	keys        map[uuid.UUID]*models.APIKey
	keysByHash  map[string]uuid.UUID
	projects    map[uuid.UUID]*models.Project
	idempotency map[string]*models.IdempotencyRecord
	metrics     []*models.UsageMetric
	auditLogs   []*models.AuditLogEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:        make(map[uuid.UUID]*models.APIKey),
		keysByHash:  make(map[string]uuid.UUID),
		projects:    make(map[uuid.UUID]*models.Project),
		idempotency: make(map[string]*models.IdempotencyRecord),
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// --- API Keys ---

func (s *MemoryStore) GetAPIKeyByHash(_ context.Context, keyHash string) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.keysByHash[keyHash]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *s.keys[id]
	return &copied, nil
}

func (s *MemoryStore) TouchAPIKey(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	key.LastUsedAt = &now
	key.UsageCount++
	key.UpdatedAt = now
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keysByHash[key.KeyHash]; exists {
		return ErrDuplicateKey
	}
	copied := *key
	s.keys[key.ID] = &copied
	s.keysByHash[key.KeyHash] = key.ID
	return nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[id]
	if !ok || key.Status != models.KeyStatusActive {
		return ErrNotFound
	}
	key.Status = models.KeyStatusRevoked
	key.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Projects ---

func (s *MemoryStore) GetProject(_ context.Context, id uuid.UUID) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *MemoryStore) CreateProject(_ context.Context, p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[p.ID]; exists {
		return ErrDuplicateKey
	}
	copied := *p
	s.projects[p.ID] = &copied
	return nil
}

func (s *MemoryStore) UpdateProjectStatus(_ context.Context, id uuid.UUID, status models.ProjectStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Idempotency Records ---

func (s *MemoryStore) InsertIdempotencyPlaceholder(_ context.Context, key string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.idempotency[key]
	if ok && existing.ExpiresAt.After(time.Now()) {
		return false, nil
	}
	s.idempotency[key] = &models.IdempotencyRecord{
		Key:       key,
		Status:    models.IdempotencyPending,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	return true, nil
}

func (s *MemoryStore) GetIdempotencyRecord(_ context.Context, key string) (*models.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.idempotency[key]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *r
	return &copied, nil
}

func (s *MemoryStore) CompleteIdempotencyRecord(_ context.Context, key string, response []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.idempotency[key]
	if !ok || r.Status != models.IdempotencyPending {
		return ErrNotFound
	}
	r.Status = models.IdempotencyCompleted
	r.Response = append([]byte(nil), response...)
	return nil
}

func (s *MemoryStore) DeleteIdempotencyRecord(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.idempotency, key)
	return nil
}

func (s *MemoryStore) DeleteExpiredIdempotencyRecords(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	now := time.Now()
	for k, r := range s.idempotency {
		if !r.ExpiresAt.After(now) {
			delete(s.idempotency, k)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) IdempotencyStats(_ context.Context) (int64, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *time.Time
	for _, r := range s.idempotency {
		if oldest == nil || r.CreatedAt.Before(*oldest) {
			t := r.CreatedAt
			oldest = &t
		}
	}
	return int64(len(s.idempotency)), oldest, nil
}

// --- Usage Metrics ---

func (s *MemoryStore) InsertUsageMetric(_ context.Context, m *models.UsageMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *m
	s.metrics = append(s.metrics, &copied)
	return nil
}

func (s *MemoryStore) InsertUsageMetrics(ctx context.Context, metrics []*models.UsageMetric) error {
	for _, m := range metrics {
		if err := s.InsertUsageMetric(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Metrics returns a snapshot of recorded metrics, for assertions.
func (s *MemoryStore) Metrics() []*models.UsageMetric {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.UsageMetric, len(s.metrics))
	copy(out, s.metrics)
	return out
}

func (s *MemoryStore) UsageDailyBreakdown(_ context.Context, projectID uuid.UUID, service models.Service, days int) ([]models.UsageDaily, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	s.mu.Lock()
	defer s.mu.Unlock()
	totals := make(map[string]*models.UsageDaily)
	for _, m := range s.metrics {
		if m.ProjectID != projectID || m.Service != service || m.RecordedAt.Before(since) {
			continue
		}
		day := m.RecordedAt.Truncate(24 * time.Hour)
		k := day.Format("2006-01-02") + "|" + m.MetricType
		if _, ok := totals[k]; !ok {
			totals[k] = &models.UsageDaily{Day: day, MetricType: m.MetricType}
		}
		totals[k].Total += m.Quantity
	}

	out := make([]models.UsageDaily, 0, len(totals))
	for _, d := range totals {
		out = append(out, *d)
	}
	return out, nil
}

func (s *MemoryStore) UsageWindowTotal(_ context.Context, projectID uuid.UUID, metricType string, window time.Duration) (float64, error) {
	since := time.Now().UTC().Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, m := range s.metrics {
		if m.ProjectID == projectID && m.MetricType == metricType && !m.RecordedAt.Before(since) {
			total += m.Quantity
		}
	}
	return total, nil
}

// --- Audit Logs ---

func (s *MemoryStore) InsertAuditLog(_ context.Context, entry *models.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *entry
	s.auditLogs = append(s.auditLogs, &copied)
	return nil
}

// AuditLogs returns a snapshot of stored audit entries, for assertions.
func (s *MemoryStore) AuditLogs() []*models.AuditLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.AuditLogEntry, len(s.auditLogs))
	copy(out, s.auditLogs)
	return out
}

func (s *MemoryStore) ListAuditLogs(_ context.Context, filter AuditFilter) ([]*models.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var out []*models.AuditLogEntry
	for i := len(s.auditLogs) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.auditLogs[i]
		if filter.ProjectID != nil && (e.ProjectID == nil || *e.ProjectID != *filter.ProjectID) {
			continue
		}
		if filter.ActorType != "" && e.ActorType != filter.ActorType {
			continue
		}
		if filter.Severity != "" && e.Severity != filter.Severity {
			continue
		}
		if !filter.Since.IsZero() && e.CreatedAt.Before(filter.Since) {
			continue
		}
		copied := *e
		out = append(out, &copied)
	}
	return out, nil
}
