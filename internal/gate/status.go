package gate

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nimbase/gate/internal/store"
	"github.com/nimbase/gate/pkg/models"
)

// StatusGate rejects requests whose owning project is not in a
// traffic-accepting lifecycle state. The check re-reads project status
// on every request: its purpose is to cut off a suspended tenant's
// already-issued, otherwise-valid keys immediately, so the status is
// never cached across requests.
type StatusGate struct {
	store  store.Store
	logger *slog.Logger
}

// NewStatusGate creates a StatusGate.
func NewStatusGate(s store.Store, logger *slog.Logger) *StatusGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusGate{store: s, logger: logger}
}

// CheckProject returns nil when the project accepts traffic, and the
// status-matching gate error otherwise. A missing project row fails
// closed with NOT_FOUND.
func (g *StatusGate) CheckProject(ctx context.Context, projectID uuid.UUID) error {
	project, err := g.store.GetProject(ctx, projectID)
	if err == store.ErrNotFound {
		return &Error{Code: CodeNotFound, Message: "Project not found"}
	}
	if err != nil {
		g.logger.Error("project lookup failed", "project_id", projectID, "error", err)
		return internalError("Failed to check project status")
	}

	switch project.Status {
	case models.ProjectStatusCreated, models.ProjectStatusActive:
		return nil
	case models.ProjectStatusSuspended:
		return &Error{
			Code:    CodeProjectSuspended,
			Message: "Project is suspended; contact support to restore access",
		}
	case models.ProjectStatusArchived:
		return &Error{
			Code:    CodeProjectArchived,
			Message: "Project is archived; unarchive it to restore access",
		}
	case models.ProjectStatusDeleted:
		return &Error{
			Code:    CodeProjectDeleted,
			Message: "Project has been deleted",
		}
	default:
		// Unknown status fails closed.
		g.logger.Warn("unknown project status", "project_id", projectID, "status", project.Status)
		return &Error{Code: CodeNotFound, Message: "Project not found"}
	}
}
