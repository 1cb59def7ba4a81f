package board

import (
	"flowboard/internal/models"
)

// ColumnView is a column plus its visible tasks in board order.
type ColumnView struct {
	Column models.Column `json:"column"`
	Tasks  []models.Task `json:"tasks"`
}

// BoardSnapshot is a point-in-time rendering of the mirror, computed on
// demand. Archived tasks are excluded.
type BoardSnapshot struct {
	Project models.Project `json:"project"`
	Columns []ColumnView   `json:"columns"`
}

// Snapshot renders the current board state. The result holds copies and is
// safe to serialize or mutate after the call.
func (s *Session) Snapshot() BoardSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := BoardSnapshot{Project: *cloneProject(s.project)}
	for _, it := range s.columnOrderLocked() {
		col := s.columns[it.ID]
		view := ColumnView{Column: *col, Tasks: []models.Task{}}
		for _, ti := range s.columnItemsLocked(col.ID) {
			view.Tasks = append(view.Tasks, *cloneTask(s.tasks[ti.ID]))
		}
		snap.Columns = append(snap.Columns, view)
	}
	return snap
}

// Task returns a copy of one task, or nil when it does not exist.
func (s *Session) Task(taskID string) *models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil
	}
	return cloneTask(t)
}

// Column returns a copy of one column, or nil when it does not exist.
func (s *Session) Column(columnID string) *models.Column {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.columns[columnID]
	if !ok {
		return nil
	}
	cc := *c
	return &cc
}

// Project returns a copy of the project document.
func (s *Session) Project() *models.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneProject(s.project)
}

// ColumnTasks returns the visible tasks of a column in board order.
func (s *Session) ColumnTasks(columnID string) []models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Task
	for _, it := range s.columnItemsLocked(columnID) {
		out = append(out, *cloneTask(s.tasks[it.ID]))
	}
	return out
}

// SubtaskProgress counts a task's direct subtasks and how many of them are
// completed. Archived subtasks do not count.
func (s *Session) SubtaskProgress(taskID string) (done, total int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.ParentID != taskID || t.Archived {
			continue
		}
		total++
		if t.IsCompleted() {
			done++
		}
	}
	return done, total
}

// DeadlineProgress reports how far a task has advanced toward its deadline
// as a fraction in [0, 1], and whether the deadline has passed. Completed
// tasks report 1 and are never overdue. A deadline at or before the task's
// creation yields 1 immediately. Tasks without a deadline report 0.
func DeadlineProgress(t *models.Task, nowMillis int64) (progress float64, overdue bool) {
	if t.Deadline == nil {
		return 0, false
	}
	if t.IsCompleted() {
		return 1, false
	}
	deadline := *t.Deadline
	if nowMillis >= deadline {
		return 1, true
	}
	span := deadline - t.CreatedAt
	if span <= 0 {
		return 1, false
	}
	elapsed := nowMillis - t.CreatedAt
	if elapsed <= 0 {
		return 0, false
	}
	return float64(elapsed) / float64(span), false
}

// orderedTaskIDs is a test hook: ids of a column's visible tasks in order.
func (s *Session) orderedTaskIDs(columnID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.columnItemsLocked(columnID)
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}
