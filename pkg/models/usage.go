package models

import (
	"time"

	"github.com/google/uuid"
)

// Service names the platform service a usage metric belongs to.
type Service string

const (
	ServiceDatabase Service = "database"
	ServiceStorage  Service = "storage"
	ServiceAuth     Service = "auth"
)

// UsageMetric is an append-only consumption fact. Quantities accumulate
// per metric type per day through aggregation queries; rows are never
// mutated in place. Under sampling, Quantity is the observed value
// already extrapolated by the inverse sample rate.
type UsageMetric struct {
	ID         uuid.UUID `db:"id"          json:"id"`
	ProjectID  uuid.UUID `db:"project_id"  json:"project_id"`
	Service    Service   `db:"service"     json:"service"`
	MetricType string    `db:"metric_type" json:"metric_type"`
	Quantity   float64   `db:"quantity"    json:"quantity"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// UsageDaily is one row of a per-day aggregation.
type UsageDaily struct {
	Day        time.Time `db:"day"         json:"day"`
	MetricType string    `db:"metric_type" json:"metric_type"`
	Total      float64   `db:"total"       json:"total"`
}
