package board

import (
	"context"

	"flowboard/internal/models"
	"flowboard/internal/ordering"
)

// Remote is the session's view of the source of truth: a keyed document
// store with last-write-wins writes. Every write carries the updatedAt
// stamp the session already applied to its mirror, so an acknowledged write
// and the local state agree. Implementations must return classified
// *Error values (NotFound when the target document or container vanished,
// Stale when a newer write already landed) so the session can decide
// between rollback and retry.
type Remote interface {
	CreateTask(ctx context.Context, task *models.Task) error
	UpdateTask(ctx context.Context, task *models.Task) error
	MoveTask(ctx context.Context, projectID, taskID, targetColumnID string, orderKey float64, updatedAt int64) error
	DeleteTask(ctx context.Context, projectID, taskID string) error
	AppendActivity(ctx context.Context, projectID, taskID string, entry models.ActivityEntry, updatedAt int64) error
	RekeyTasks(ctx context.Context, projectID, columnID string, items []ordering.Item, updatedAt int64) error

	CreateColumn(ctx context.Context, column *models.Column) error
	RenameColumn(ctx context.Context, projectID, columnID, title string, updatedAt int64) error
	SetColumnTerminal(ctx context.Context, projectID, columnID string, terminal bool, updatedAt int64) error
	MoveColumn(ctx context.Context, projectID, columnID string, orderKey float64, updatedAt int64) error
	DeleteColumn(ctx context.Context, projectID, columnID string) error
	RekeyColumns(ctx context.Context, projectID string, items []ordering.Item, updatedAt int64) error

	RenameProject(ctx context.Context, projectID, name string, updatedAt int64) error
	UpdateProjectSettings(ctx context.Context, projectID string, features *models.FeatureFlags, policy *models.ArchivePolicy, updatedAt int64) error
	AddLabel(ctx context.Context, projectID string, label models.Label, updatedAt int64) error
	UpdateLabel(ctx context.Context, projectID string, label models.Label, updatedAt int64) error
	DeleteLabel(ctx context.Context, projectID, labelID string, updatedAt int64) error
}

// Snapshot is the initial board state a session is seeded with.
type Snapshot struct {
	Project *models.Project
	Columns []*models.Column
	Tasks   []*models.Task
}
