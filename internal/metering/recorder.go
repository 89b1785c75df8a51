// Package metering records sampled, extrapolated consumption metrics.
// Recording is fire-and-forget from the request's perspective: write
// failures are logged, never surfaced, and never add latency to the
// response path.
package metering

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/nimbase/gate/internal/store"
	"github.com/nimbase/gate/internal/task"
	"github.com/nimbase/gate/pkg/models"
)

// allowedMetricTypes is the per-service allow-list for metric types.
var allowedMetricTypes = map[models.Service]map[string]bool{
	models.ServiceDatabase: {
		"queries":      true,
		"rows_read":    true,
		"rows_written": true,
	},
	models.ServiceStorage: {
		"bytes_uploaded":   true,
		"bytes_downloaded": true,
		"objects":          true,
	},
	models.ServiceAuth: {
		"signups":         true,
		"signins":         true,
		"token_refreshes": true,
	},
}

// Recorder writes usage metrics with probabilistic sampling. A metric
// survives the sample draw with probability sampleRate, and its
// quantity is multiplied by 1/sampleRate so downstream aggregates
// approximate true totals without persisting every event.
type Recorder struct {
	store      store.Store
	tasks      *task.Runner
	sampleRate float64
	logger     *slog.Logger
	randFloat  func() float64
	now        func() time.Time
}

// NewRecorder creates a Recorder with the given sample rate in (0, 1].
func NewRecorder(s store.Store, tasks *task.Runner, sampleRate float64, logger *slog.Logger) *Recorder {
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:      s,
		tasks:      tasks,
		sampleRate: sampleRate,
		logger:     logger,
		randFloat:  rand.Float64,
		now:        time.Now,
	}
}

func validate(projectID uuid.UUID, service models.Service, metricType string, quantity float64) error {
	if projectID == uuid.Nil {
		return fmt.Errorf("project id is required")
	}
	types, ok := allowedMetricTypes[service]
	if !ok {
		return fmt.Errorf("unknown service %q", service)
	}
	if !types[metricType] {
		return fmt.Errorf("metric type %q is not allowed for service %q", metricType, service)
	}
	if quantity < 0 {
		return fmt.Errorf("quantity must be >= 0; got %v", quantity)
	}
	return nil
}

// sample decides whether this event is physically recorded and returns
// the extrapolated quantity when it is.
func (r *Recorder) sample(quantity float64) (float64, bool) {
	if r.randFloat() >= r.sampleRate {
		return 0, false
	}
	return quantity / r.sampleRate, true
}

// Record validates and writes a single usage metric, subject to
// sampling. Validation failures are returned; write failures are logged
// and swallowed.
func (r *Recorder) Record(ctx context.Context, projectID uuid.UUID, service models.Service, metricType string, quantity float64) error {
	if err := validate(projectID, service, metricType, quantity); err != nil {
		return err
	}

	extrapolated, keep := r.sample(quantity)
	if !keep {
		return nil
	}

	m := &models.UsageMetric{
		ID:         uuid.New(),
		ProjectID:  projectID,
		Service:    service,
		MetricType: metricType,
		Quantity:   extrapolated,
		RecordedAt: r.now().UTC(),
	}
	if err := r.store.InsertUsageMetric(ctx, m); err != nil {
		r.logger.Error("usage metric write failed",
			"project_id", projectID, "metric_type", metricType, "error", err)
	}
	return nil
}

// RecordBatch validates and bulk-inserts a set of metrics, applying the
// sample draw per metric.
func (r *Recorder) RecordBatch(ctx context.Context, metrics []*models.UsageMetric) error {
	kept := make([]*models.UsageMetric, 0, len(metrics))
	for _, m := range metrics {
		if err := validate(m.ProjectID, m.Service, m.MetricType, m.Quantity); err != nil {
			return err
		}
		extrapolated, keep := r.sample(m.Quantity)
		if !keep {
			continue
		}
		kept = append(kept, &models.UsageMetric{
			ID:         uuid.New(),
			ProjectID:  m.ProjectID,
			Service:    m.Service,
			MetricType: m.MetricType,
			Quantity:   extrapolated,
			RecordedAt: r.now().UTC(),
		})
	}

	if len(kept) == 0 {
		return nil
	}
	if err := r.store.InsertUsageMetrics(ctx, kept); err != nil {
		r.logger.Error("usage metric batch write failed", "count", len(kept), "error", err)
	}
	return nil
}

// TrackDatabaseQuery records one query with its row counts, detached
// from the response path.
func (r *Recorder) TrackDatabaseQuery(projectID uuid.UUID, rowsRead, rowsWritten int64) {
	r.detach("usage-db-query", func(ctx context.Context) {
		_ = r.Record(ctx, projectID, models.ServiceDatabase, "queries", 1)
		if rowsRead > 0 {
			_ = r.Record(ctx, projectID, models.ServiceDatabase, "rows_read", float64(rowsRead))
		}
		if rowsWritten > 0 {
			_ = r.Record(ctx, projectID, models.ServiceDatabase, "rows_written", float64(rowsWritten))
		}
	})
}

// TrackStorageTransfer records bytes moved in or out of storage,
// detached from the response path.
func (r *Recorder) TrackStorageTransfer(projectID uuid.UUID, metricType string, bytes int64) {
	r.detach("usage-storage", func(ctx context.Context) {
		if err := r.Record(ctx, projectID, models.ServiceStorage, metricType, float64(bytes)); err != nil {
			r.logger.Warn("storage usage rejected", "error", err)
		}
	})
}

// TrackAuthEvent records one auth service event, detached from the
// response path.
func (r *Recorder) TrackAuthEvent(projectID uuid.UUID, metricType string) {
	r.detach("usage-auth", func(ctx context.Context) {
		if err := r.Record(ctx, projectID, models.ServiceAuth, metricType, 1); err != nil {
			r.logger.Warn("auth usage rejected", "error", err)
		}
	})
}

func (r *Recorder) detach(name string, t task.Task) {
	if r.tasks != nil {
		r.tasks.TrySubmit(name, t)
		return
	}
	// No runner in tests; run inline.
	t(context.Background())
}

// DailyBreakdown returns per-day totals by metric type for a project
// and service over the trailing window of days.
func (r *Recorder) DailyBreakdown(ctx context.Context, projectID uuid.UUID, service models.Service, days int) ([]models.UsageDaily, error) {
	return r.store.UsageDailyBreakdown(ctx, projectID, service, days)
}

// WindowTotal returns the rolling-window total for one metric type,
// for quota-checking consumers.
func (r *Recorder) WindowTotal(ctx context.Context, projectID uuid.UUID, metricType string, window time.Duration) (float64, error) {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return r.store.UsageWindowTotal(ctx, projectID, metricType, window)
}
