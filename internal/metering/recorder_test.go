package metering

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nimbase/gate/internal/store"
	"github.com/nimbase/gate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequenceRand returns the given draws in order, cycling.
func sequenceRand(draws ...float64) func() float64 {
	i := 0
	return func() float64 {
		d := draws[i%len(draws)]
		i++
		return d
	}
}

func TestRecord_FullSampling(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewRecorder(s, nil, 1.0, nil)

	projectID := uuid.New()
	require.NoError(t, r.Record(context.Background(), projectID, models.ServiceDatabase, "queries", 1))

	metrics := s.Metrics()
	require.Len(t, metrics, 1)
	assert.Equal(t, projectID, metrics[0].ProjectID)
	assert.Equal(t, models.ServiceDatabase, metrics[0].Service)
	assert.Equal(t, "queries", metrics[0].MetricType)
	assert.Equal(t, 1.0, metrics[0].Quantity)
}

func TestRecord_SampledOutWritesNothing(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewRecorder(s, nil, 0.1, nil)
	r.randFloat = sequenceRand(0.9)

	require.NoError(t, r.Record(context.Background(), uuid.New(), models.ServiceDatabase, "queries", 1))
	assert.Empty(t, s.Metrics())
}

func TestRecord_ExtrapolatesQuantity(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewRecorder(s, nil, 0.1, nil)
	r.randFloat = sequenceRand(0.05)

	require.NoError(t, r.Record(context.Background(), uuid.New(), models.ServiceStorage, "bytes_uploaded", 4096))

	metrics := s.Metrics()
	require.Len(t, metrics, 1)
	assert.InDelta(t, 40960, metrics[0].Quantity, 0.001)
}

func TestRecord_SampledTotalsApproximateTrueTotals(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewRecorder(s, nil, 0.1, nil)

	// Deterministic draw cycle: exactly 1 in 10 events survives.
	r.randFloat = sequenceRand(0.95, 0.95, 0.95, 0.95, 0.05, 0.95, 0.95, 0.95, 0.95, 0.95)

	projectID := uuid.New()
	for i := 0; i < 1000; i++ {
		require.NoError(t, r.Record(context.Background(), projectID, models.ServiceDatabase, "queries", 1))
	}

	metrics := s.Metrics()
	assert.Len(t, metrics, 100)

	var total float64
	for _, m := range metrics {
		total += m.Quantity
	}
	assert.InDelta(t, 1000, total, 0.001)
}

func TestRecord_Validation(t *testing.T) {
	r := NewRecorder(store.NewMemoryStore(), nil, 1.0, nil)

	tests := []struct {
		name       string
		projectID  uuid.UUID
		service    models.Service
		metricType string
		quantity   float64
	}{
		{"nil project", uuid.Nil, models.ServiceDatabase, "queries", 1},
		{"unknown service", uuid.New(), models.Service("email"), "sends", 1},
		{"wrong type for service", uuid.New(), models.ServiceAuth, "queries", 1},
		{"negative quantity", uuid.New(), models.ServiceDatabase, "rows_read", -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Record(context.Background(), tt.projectID, tt.service, tt.metricType, tt.quantity)
			assert.Error(t, err)
		})
	}
}

func TestRecordBatch(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewRecorder(s, nil, 0.5, nil)
	r.randFloat = sequenceRand(0.25, 0.75)

	projectID := uuid.New()
	batch := []*models.UsageMetric{
		{ProjectID: projectID, Service: models.ServiceAuth, MetricType: "signups", Quantity: 2},
		{ProjectID: projectID, Service: models.ServiceAuth, MetricType: "signins", Quantity: 4},
	}
	require.NoError(t, r.RecordBatch(context.Background(), batch))

	metrics := s.Metrics()
	require.Len(t, metrics, 1)
	assert.Equal(t, "signups", metrics[0].MetricType)
	assert.Equal(t, 4.0, metrics[0].Quantity)
}

func TestRecordBatch_ValidationAborts(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewRecorder(s, nil, 1.0, nil)

	batch := []*models.UsageMetric{
		{ProjectID: uuid.New(), Service: models.ServiceAuth, MetricType: "signups", Quantity: 1},
		{ProjectID: uuid.New(), Service: models.ServiceAuth, MetricType: "bogus", Quantity: 1},
	}
	assert.Error(t, r.RecordBatch(context.Background(), batch))
	assert.Empty(t, s.Metrics())
}

func TestTrackDatabaseQuery(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewRecorder(s, nil, 1.0, nil)

	projectID := uuid.New()
	r.TrackDatabaseQuery(projectID, 12, 3)

	metrics := s.Metrics()
	require.Len(t, metrics, 3)

	byType := make(map[string]float64)
	for _, m := range metrics {
		byType[m.MetricType] = m.Quantity
	}
	assert.Equal(t, 1.0, byType["queries"])
	assert.Equal(t, 12.0, byType["rows_read"])
	assert.Equal(t, 3.0, byType["rows_written"])
}

func TestTrackDatabaseQuery_ZeroRowsSkipped(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewRecorder(s, nil, 1.0, nil)

	r.TrackDatabaseQuery(uuid.New(), 0, 0)

	metrics := s.Metrics()
	require.Len(t, metrics, 1)
	assert.Equal(t, "queries", metrics[0].MetricType)
}

func TestWindowTotal(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewRecorder(s, nil, 1.0, nil)

	projectID := uuid.New()
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Record(context.Background(), projectID, models.ServiceStorage, "bytes_uploaded", 100))
	}
	require.NoError(t, r.Record(context.Background(), uuid.New(), models.ServiceStorage, "bytes_uploaded", 999))

	total, err := r.WindowTotal(context.Background(), projectID, "bytes_uploaded", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 300.0, total)
}

func TestDailyBreakdown(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewRecorder(s, nil, 1.0, nil)

	projectID := uuid.New()
	require.NoError(t, r.Record(context.Background(), projectID, models.ServiceDatabase, "queries", 5))
	require.NoError(t, r.Record(context.Background(), projectID, models.ServiceDatabase, "rows_read", 50))

	days, err := r.DailyBreakdown(context.Background(), projectID, models.ServiceDatabase, 7)
	require.NoError(t, err)
	require.Len(t, days, 2)

	byType := make(map[string]float64)
	for _, d := range days {
		byType[d.MetricType] = d.Total
	}
	assert.Equal(t, 5.0, byType["queries"])
	assert.Equal(t, 50.0, byType["rows_read"])
}
