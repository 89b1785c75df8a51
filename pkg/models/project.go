package models

import (
	"time"

	"github.com/google/uuid"
)

// ProjectStatus is the lifecycle state of a project. The lifecycle is
// created -> active -> {suspended, archived} -> deleted; deleted is
// terminal, suspended and archived can be brought back to active by the
// admin flows that own project lifecycle. The gate only reads status.
type ProjectStatus string

const (
	ProjectStatusCreated   ProjectStatus = "created"
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusSuspended ProjectStatus = "suspended"
	ProjectStatusArchived  ProjectStatus = "archived"
	ProjectStatusDeleted   ProjectStatus = "deleted"
)

// Project is the tenant unit. Status is the single source of truth for
// whether any of the project's keys may authenticate, so it is re-read
// on every request rather than cached.
type Project struct {
	ID        uuid.UUID     `db:"id"         json:"id"`
	Name      string        `db:"name"       json:"name"`
	Status    ProjectStatus `db:"status"     json:"status"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// AcceptsTraffic reports whether keys belonging to the project may be
// used at all.
func (s ProjectStatus) AcceptsTraffic() bool {
	return s == ProjectStatusCreated || s == ProjectStatusActive
}
