package services

import (
	"context"
	"log"
	"time"

	"flowboard/internal/board"
	"flowboard/internal/models"
	"flowboard/internal/ordering"
)

// BoardRemote is the store-backed implementation of the board session's
// Remote seam. Every acknowledged write is fanned out as a BoardEvent on
// the local bus and, when Redis is up, to the other instances; sessions on
// any instance reconcile the event by last-write-wins, which also swallows
// the echo of the writer's own change.
type BoardRemote struct {
	projects *ProjectStore
	columns  *ColumnStore
	tasks    *TaskStore
	bus      *BoardEventBus
	pubsub   *PubSubService // Optional
	actorID  string
}

// NewBoardRemote builds the remote for one user's board session.
func NewBoardRemote(projects *ProjectStore, columns *ColumnStore, tasks *TaskStore, bus *BoardEventBus, pubsub *PubSubService, actorID string) *BoardRemote {
	return &BoardRemote{
		projects: projects,
		columns:  columns,
		tasks:    tasks,
		bus:      bus,
		pubsub:   pubsub,
		actorID:  actorID,
	}
}

// publish fans an event out locally and cross-instance. Publish failures
// are logged, never surfaced — the write already succeeded, and sessions
// recover from a lossy stream by refetching the snapshot.
func (r *BoardRemote) publish(ctx context.Context, event models.BoardEvent) {
	event.ActorID = r.actorID
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	r.bus.Publish(event.ProjectID, event)
	if r.pubsub != nil {
		if err := r.pubsub.PublishBoardEvent(ctx, event); err != nil {
			log.Printf("⚠️ [BOARD-REMOTE] Cross-instance publish failed for %s: %v", event.Type, err)
		}
	}
}

// observe times a store write for the persistence latency histogram.
func observe(start time.Time) {
	if m := GetMetrics(); m != nil {
		m.RecordPersistenceLatency(time.Since(start).Seconds())
	}
}

// ==================== TASKS ====================

func (r *BoardRemote) CreateTask(ctx context.Context, task *models.Task) error {
	defer observe(time.Now())
	if err := r.tasks.Create(ctx, task); err != nil {
		return err
	}
	r.publish(ctx, models.BoardEvent{
		Type:      models.EventTaskUpserted,
		ProjectID: task.ProjectID,
		Task:      task,
		Timestamp: task.UpdatedAt,
	})
	return nil
}

func (r *BoardRemote) UpdateTask(ctx context.Context, task *models.Task) error {
	defer observe(time.Now())
	updated, err := r.tasks.Replace(ctx, task)
	if err != nil {
		return err
	}
	r.publish(ctx, models.BoardEvent{
		Type:      models.EventTaskUpserted,
		ProjectID: updated.ProjectID,
		Task:      updated,
		Timestamp: updated.UpdatedAt,
	})
	return nil
}

func (r *BoardRemote) MoveTask(ctx context.Context, projectID, taskID, targetColumnID string, orderKey float64, updatedAt int64) error {
	defer observe(time.Now())
	// The target column can have been deleted by another session after
	// this mover's mirror was last reconciled.
	exists, err := r.columns.Exists(ctx, projectID, targetColumnID)
	if err != nil {
		return err
	}
	if !exists {
		return board.NotFoundf("column %s no longer exists", targetColumnID)
	}
	moved, err := r.tasks.Move(ctx, projectID, taskID, targetColumnID, orderKey, updatedAt)
	if err != nil {
		return err
	}
	r.publish(ctx, models.BoardEvent{
		Type:      models.EventTaskUpserted,
		ProjectID: projectID,
		Task:      moved,
		Timestamp: updatedAt,
	})
	return nil
}

func (r *BoardRemote) DeleteTask(ctx context.Context, projectID, taskID string) error {
	defer observe(time.Now())
	deleted, err := r.tasks.Delete(ctx, projectID, taskID)
	if err != nil {
		return err
	}
	for _, id := range deleted {
		r.publish(ctx, models.BoardEvent{
			Type:      models.EventTaskDeleted,
			ProjectID: projectID,
			TaskID:    id,
		})
	}
	return nil
}

func (r *BoardRemote) AppendActivity(ctx context.Context, projectID, taskID string, entry models.ActivityEntry, updatedAt int64) error {
	defer observe(time.Now())
	updated, err := r.tasks.AppendActivity(ctx, projectID, taskID, entry, updatedAt)
	if err != nil {
		return err
	}
	r.publish(ctx, models.BoardEvent{
		Type:      models.EventTaskUpserted,
		ProjectID: projectID,
		Task:      updated,
		Timestamp: updatedAt,
	})
	return nil
}

func (r *BoardRemote) RekeyTasks(ctx context.Context, projectID, columnID string, items []ordering.Item, updatedAt int64) error {
	defer observe(time.Now())
	if m := GetMetrics(); m != nil {
		m.RecordRebalance()
	}
	rekeyed, err := r.tasks.Rekey(ctx, projectID, items, updatedAt)
	if err != nil {
		return err
	}
	log.Printf("[BOARD-REMOTE] Rebalanced %d tasks in column %s", len(rekeyed), columnID)
	for _, task := range rekeyed {
		r.publish(ctx, models.BoardEvent{
			Type:      models.EventTaskUpserted,
			ProjectID: projectID,
			Task:      task,
			Timestamp: updatedAt,
		})
	}
	return nil
}

// ==================== COLUMNS ====================

func (r *BoardRemote) CreateColumn(ctx context.Context, column *models.Column) error {
	defer observe(time.Now())
	if err := r.columns.Create(ctx, column); err != nil {
		return err
	}
	r.publish(ctx, models.BoardEvent{
		Type:      models.EventColumnUpserted,
		ProjectID: column.ProjectID,
		Column:    column,
		Timestamp: column.UpdatedAt,
	})
	return nil
}

func (r *BoardRemote) RenameColumn(ctx context.Context, projectID, columnID, title string, updatedAt int64) error {
	defer observe(time.Now())
	updated, err := r.columns.Rename(ctx, projectID, columnID, title, updatedAt)
	if err != nil {
		return err
	}
	r.publish(ctx, models.BoardEvent{
		Type:      models.EventColumnUpserted,
		ProjectID: projectID,
		Column:    updated,
		Timestamp: updatedAt,
	})
	return nil
}

func (r *BoardRemote) SetColumnTerminal(ctx context.Context, projectID, columnID string, terminal bool, updatedAt int64) error {
	defer observe(time.Now())
	updated, err := r.columns.SetTerminal(ctx, projectID, columnID, terminal, updatedAt)
	if err != nil {
		return err
	}
	r.publish(ctx, models.BoardEvent{
		Type:      models.EventColumnUpserted,
		ProjectID: projectID,
		Column:    updated,
		Timestamp: updatedAt,
	})
	return nil
}

func (r *BoardRemote) MoveColumn(ctx context.Context, projectID, columnID string, orderKey float64, updatedAt int64) error {
	defer observe(time.Now())
	moved, err := r.columns.Move(ctx, projectID, columnID, orderKey, updatedAt)
	if err != nil {
		return err
	}
	r.publish(ctx, models.BoardEvent{
		Type:      models.EventColumnUpserted,
		ProjectID: projectID,
		Column:    moved,
		Timestamp: updatedAt,
	})
	return nil
}

func (r *BoardRemote) DeleteColumn(ctx context.Context, projectID, columnID string) error {
	defer observe(time.Now())

	// Tasks first, so a crash between the two writes leaves an empty
	// column rather than orphaned tasks.
	deletedTasks, err := r.tasks.DeleteByColumn(ctx, projectID, columnID)
	if err != nil {
		return err
	}
	if err := r.columns.Delete(ctx, projectID, columnID); err != nil {
		return err
	}

	for _, id := range deletedTasks {
		r.publish(ctx, models.BoardEvent{
			Type:      models.EventTaskDeleted,
			ProjectID: projectID,
			TaskID:    id,
		})
	}
	r.publish(ctx, models.BoardEvent{
		Type:      models.EventColumnDeleted,
		ProjectID: projectID,
		ColumnID:  columnID,
	})
	return nil
}

func (r *BoardRemote) RekeyColumns(ctx context.Context, projectID string, items []ordering.Item, updatedAt int64) error {
	defer observe(time.Now())
	if m := GetMetrics(); m != nil {
		m.RecordRebalance()
	}
	rekeyed, err := r.columns.Rekey(ctx, projectID, items, updatedAt)
	if err != nil {
		return err
	}
	for _, column := range rekeyed {
		r.publish(ctx, models.BoardEvent{
			Type:      models.EventColumnUpserted,
			ProjectID: projectID,
			Column:    column,
			Timestamp: updatedAt,
		})
	}
	return nil
}

// ==================== PROJECT ====================

func (r *BoardRemote) RenameProject(ctx context.Context, projectID, name string, updatedAt int64) error {
	defer observe(time.Now())
	updated, err := r.projects.Rename(ctx, projectID, name, updatedAt)
	if err != nil {
		return err
	}
	r.publishProject(ctx, updated, updatedAt)
	return nil
}

func (r *BoardRemote) UpdateProjectSettings(ctx context.Context, projectID string, features *models.FeatureFlags, policy *models.ArchivePolicy, updatedAt int64) error {
	defer observe(time.Now())
	updated, err := r.projects.UpdateSettings(ctx, projectID, features, policy, updatedAt)
	if err != nil {
		return err
	}
	r.publishProject(ctx, updated, updatedAt)
	return nil
}

func (r *BoardRemote) AddLabel(ctx context.Context, projectID string, label models.Label, updatedAt int64) error {
	defer observe(time.Now())
	updated, err := r.projects.AddLabel(ctx, projectID, label, updatedAt)
	if err != nil {
		return err
	}
	r.publishProject(ctx, updated, updatedAt)
	return nil
}

func (r *BoardRemote) UpdateLabel(ctx context.Context, projectID string, label models.Label, updatedAt int64) error {
	defer observe(time.Now())
	updated, err := r.projects.UpdateLabel(ctx, projectID, label, updatedAt)
	if err != nil {
		return err
	}
	r.publishProject(ctx, updated, updatedAt)
	return nil
}

func (r *BoardRemote) DeleteLabel(ctx context.Context, projectID, labelID string, updatedAt int64) error {
	defer observe(time.Now())
	updated, err := r.projects.PullLabel(ctx, projectID, labelID, updatedAt)
	if err != nil {
		return err
	}
	stripped, err := r.tasks.PullLabel(ctx, projectID, labelID, updatedAt)
	if err != nil {
		return err
	}

	r.publishProject(ctx, updated, updatedAt)
	for _, task := range stripped {
		r.publish(ctx, models.BoardEvent{
			Type:      models.EventTaskUpserted,
			ProjectID: projectID,
			Task:      task,
			Timestamp: updatedAt,
		})
	}
	return nil
}

func (r *BoardRemote) publishProject(ctx context.Context, project *models.Project, updatedAt int64) {
	r.publish(ctx, models.BoardEvent{
		Type:      models.EventProjectUpdated,
		ProjectID: project.ID,
		Project:   project,
		Timestamp: updatedAt,
	})
}
