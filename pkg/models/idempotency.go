package models

import "time"

// IdempotencyStatus marks whether the owning request has finished.
type IdempotencyStatus string

const (
	IdempotencyPending   IdempotencyStatus = "pending"
	IdempotencyCompleted IdempotencyStatus = "completed"
)

// IdempotencyRecord stores the first response produced for a
// client-supplied idempotency key. The key is the primary key; once a
// response is written the record is immutable until expiry-driven
// deletion by the cleanup sweep.
type IdempotencyRecord struct {
	Key       string            `db:"key"        json:"key"`
	Status    IdempotencyStatus `db:"status"     json:"status"`
	Response  []byte            `db:"response"   json:"-"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	ExpiresAt time.Time         `db:"expires_at" json:"expires_at"`
}
