// Package board holds the per-client board state store: an in-memory
// normalized mirror of one project's documents. Client intents are applied
// to the mirror optimistically, persisted through the Remote, and rolled
// back when the write definitively fails. Pushes from other writers arrive
// through ApplyRemote and reconcile against the mirror by per-entity
// last-write-wins on the updatedAt stamp.
package board

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"flowboard/internal/models"
	"flowboard/internal/ordering"
)

const (
	maxProjectNameLen = 100
	maxColumnTitleLen = 50
	maxTaskTitleLen   = 255
	maxDescriptionLen = 4000
	maxCommentLen     = 1000
	maxLabelNameLen   = 50
)

// Session is one user's live view of one project. All operations are safe
// for concurrent use; in practice a session is driven by a single WebSocket
// read loop plus the event forwarder calling ApplyRemote.
type Session struct {
	userID    string
	projectID string
	remote    Remote
	cancel    func() // Unsubscribes the event stream, invoked once on Close

	mu        sync.RWMutex
	project   *models.Project
	columns   map[string]*models.Column
	tasks     map[string]*models.Task
	lastStamp int64
	closed    bool
}

// NewSession seeds a session from an initial snapshot. cancel may be nil;
// when set it is called exactly once on Close to tear down the event
// subscription.
func NewSession(userID string, snap Snapshot, remote Remote, cancel func()) *Session {
	s := &Session{
		userID:    userID,
		projectID: snap.Project.ID,
		remote:    remote,
		cancel:    cancel,
		columns:   make(map[string]*models.Column, len(snap.Columns)),
		tasks:     make(map[string]*models.Task, len(snap.Tasks)),
	}
	p := *snap.Project
	s.project = &p
	for _, c := range snap.Columns {
		cc := *c
		s.columns[c.ID] = &cc
	}
	for _, t := range snap.Tasks {
		tt := cloneTask(t)
		s.tasks[t.ID] = tt
	}
	return s
}

// ProjectID returns the project this session mirrors.
func (s *Session) ProjectID() string {
	return s.projectID
}

// UserID returns the session owner.
func (s *Session) UserID() string {
	return s.userID
}

// Close tears the session down. Operations and ApplyRemote become no-ops;
// the event subscription is cancelled. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if !already && cancel != nil {
		cancel()
	}
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// stampLocked issues the updatedAt stamp for the next write. Stamps are
// strictly increasing within a session: two edits landing in the same
// millisecond would otherwise leave the second unable to pass the store's
// updatedAt-less-than guard and fail as stale.
func (s *Session) stampLocked() int64 {
	now := time.Now().UnixMilli()
	if now <= s.lastStamp {
		now = s.lastStamp + 1
	}
	s.lastStamp = now
	return now
}

func cloneTask(t *models.Task) *models.Task {
	c := *t
	c.AssigneeIDs = append([]string(nil), t.AssigneeIDs...)
	c.LabelIDs = append([]string(nil), t.LabelIDs...)
	c.Activity = append([]models.ActivityEntry(nil), t.Activity...)
	if t.Deadline != nil {
		d := *t.Deadline
		c.Deadline = &d
	}
	if t.CompletedAt != nil {
		d := *t.CompletedAt
		c.CompletedAt = &d
	}
	return &c
}

func cloneProject(p *models.Project) *models.Project {
	c := *p
	c.MemberIDs = append([]string(nil), p.MemberIDs...)
	c.Pending = append([]models.Invitation(nil), p.Pending...)
	c.Labels = append([]models.Label(nil), p.Labels...)
	return &c
}

// writeRemote performs the persistence step. Definitive rejections
// (NotFound, Stale, ValidationFailed, Unauthorized) surface immediately;
// anything else gets exactly one retry before being reported as a
// persistence failure.
func (s *Session) writeRemote(ctx context.Context, write func(context.Context) error) error {
	err := write(ctx)
	if err == nil {
		return nil
	}
	switch KindOf(err) {
	case KindNotFound, KindStale, KindValidationFailed, KindUnauthorized:
		return err
	}
	if err = write(ctx); err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return PersistenceFailed("remote write failed after retry", err)
}

func validateTitle(title string, max int, what string) (string, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return "", Invalidf("%s title cannot be empty", what)
	}
	if len(trimmed) > max {
		return "", Invalidf("%s title cannot exceed %d characters", what, max)
	}
	return trimmed, nil
}

// ==================== TASK OPERATIONS ====================

// TaskDraft describes a task to create.
type TaskDraft struct {
	ColumnID    string
	Title       string
	Description string
	Priority    models.Priority // empty = medium
	Deadline    *int64
	ParentID    string
	AssigneeIDs []string
	LabelIDs    []string
}

// AddTask creates a task at the end of the target column.
func (s *Session) AddTask(ctx context.Context, draft TaskDraft) (*models.Task, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}

	title, err := validateTitle(draft.Title, maxTaskTitleLen, "task")
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if len(draft.Description) > maxDescriptionLen {
		s.mu.Unlock()
		return nil, Invalidf("description cannot exceed %d characters", maxDescriptionLen)
	}
	if draft.Priority == "" {
		draft.Priority = models.PriorityMedium
	}
	if !models.ValidPriority(draft.Priority) {
		s.mu.Unlock()
		return nil, Invalidf("invalid priority %q", draft.Priority)
	}
	if _, ok := s.columns[draft.ColumnID]; !ok {
		s.mu.Unlock()
		return nil, NotFoundf("column %s does not exist", draft.ColumnID)
	}
	if draft.ParentID != "" {
		if err := s.validateParentLocked(draft.ParentID, ""); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	if draft.Deadline != nil && !s.project.Features.Deadlines {
		s.mu.Unlock()
		return nil, Invalidf("deadlines are disabled for this project")
	}
	if len(draft.LabelIDs) > 0 {
		if err := s.validateLabelsLocked(draft.LabelIDs); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}

	now := s.stampLocked()
	siblings := s.columnItemsLocked(draft.ColumnID)
	placement := ordering.Place(siblings, "", len(siblings))

	task := &models.Task{
		ID:          uuid.New().String(),
		ProjectID:   s.projectID,
		ColumnID:    draft.ColumnID,
		OrderKey:    placement.Key,
		Title:       title,
		Description: draft.Description,
		AssigneeIDs: append([]string(nil), draft.AssigneeIDs...),
		Priority:    draft.Priority,
		Deadline:    draft.Deadline,
		ParentID:    draft.ParentID,
		LabelIDs:    append([]string(nil), draft.LabelIDs...),
		Activity: []models.ActivityEntry{{
			Kind:      models.ActivityLog,
			Text:      "created the task",
			UserID:    s.userID,
			Timestamp: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.tasks[task.ID] = task
	s.mu.Unlock()

	if err := s.writeRemote(ctx, func(ctx context.Context) error {
		return s.remote.CreateTask(ctx, task)
	}); err != nil {
		s.mu.Lock()
		if cur, ok := s.tasks[task.ID]; ok && cur.UpdatedAt == now {
			delete(s.tasks, task.ID)
		}
		s.mu.Unlock()
		return nil, err
	}
	return cloneTask(task), nil
}

// TaskUpdate carries optional field changes; nil fields stay untouched.
type TaskUpdate struct {
	Title       *string
	Description *string
	Priority    *models.Priority
	Deadline    *int64  // 0 clears the deadline
	ParentID    *string // "" clears the parent
	AssigneeIDs []string
}

// UpdateTask applies field changes to a task.
func (s *Session) UpdateTask(ctx context.Context, taskID string, update TaskUpdate) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return NotFoundf("task %s does not exist", taskID)
	}

	next := cloneTask(task)
	if update.Title != nil {
		title, err := validateTitle(*update.Title, maxTaskTitleLen, "task")
		if err != nil {
			s.mu.Unlock()
			return err
		}
		next.Title = title
	}
	if update.Description != nil {
		if len(*update.Description) > maxDescriptionLen {
			s.mu.Unlock()
			return Invalidf("description cannot exceed %d characters", maxDescriptionLen)
		}
		next.Description = *update.Description
	}
	if update.Priority != nil {
		if !models.ValidPriority(*update.Priority) {
			s.mu.Unlock()
			return Invalidf("invalid priority %q", *update.Priority)
		}
		next.Priority = *update.Priority
	}
	if update.Deadline != nil {
		if *update.Deadline == 0 {
			next.Deadline = nil
		} else {
			if !s.project.Features.Deadlines {
				s.mu.Unlock()
				return Invalidf("deadlines are disabled for this project")
			}
			d := *update.Deadline
			next.Deadline = &d
		}
	}
	if update.ParentID != nil {
		if *update.ParentID == "" {
			next.ParentID = ""
		} else {
			if err := s.validateParentLocked(*update.ParentID, taskID); err != nil {
				s.mu.Unlock()
				return err
			}
			next.ParentID = *update.ParentID
		}
	}
	if update.AssigneeIDs != nil {
		next.AssigneeIDs = append([]string(nil), update.AssigneeIDs...)
	}

	old := task
	now := s.stampLocked()
	next.UpdatedAt = now
	s.tasks[taskID] = next
	s.mu.Unlock()

	if err := s.writeRemote(ctx, func(ctx context.Context) error {
		return s.remote.UpdateTask(ctx, next)
	}); err != nil {
		s.rollbackTask(old, now)
		return err
	}
	return nil
}

// MoveTask places a task at targetIndex within targetColumnID. The column
// reference and order key change together; untouched siblings keep their
// keys unless float64 precision forced a rebalance.
func (s *Session) MoveTask(ctx context.Context, taskID, targetColumnID string, targetIndex int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return NotFoundf("task %s does not exist", taskID)
	}
	if task.IsSubtask() {
		s.mu.Unlock()
		return Invalidf("subtasks cannot be moved independently")
	}
	if _, ok := s.columns[targetColumnID]; !ok {
		s.mu.Unlock()
		return NotFoundf("column %s does not exist", targetColumnID)
	}

	siblings := s.columnItemsLocked(targetColumnID)
	placement := ordering.Place(siblings, taskID, targetIndex)
	if placement.NoOp && task.ColumnID == targetColumnID {
		s.mu.Unlock()
		return nil
	}

	now := s.stampLocked()
	old := cloneTask(task)
	var rekeyedOld []*models.Task
	for _, it := range placement.Rekeyed {
		if sib, ok := s.tasks[it.ID]; ok && sib.ID != taskID {
			rekeyedOld = append(rekeyedOld, cloneTask(sib))
			sib.OrderKey = it.Key
			sib.UpdatedAt = now
		}
	}
	task.ColumnID = targetColumnID
	task.OrderKey = placement.Key
	task.UpdatedAt = now
	s.mu.Unlock()

	err := s.writeRemote(ctx, func(ctx context.Context) error {
		if placement.Rekeyed != nil {
			if err := s.remote.RekeyTasks(ctx, s.projectID, targetColumnID, placement.Rekeyed, now); err != nil {
				return err
			}
		}
		return s.remote.MoveTask(ctx, s.projectID, taskID, targetColumnID, placement.Key, now)
	})
	if err != nil {
		s.rollbackTask(old, now)
		for _, sib := range rekeyedOld {
			s.rollbackTask(sib, now)
		}
		return err
	}
	return nil
}

// ToggleComplete flips a task's completion timestamp.
func (s *Session) ToggleComplete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return NotFoundf("task %s does not exist", taskID)
	}

	old := task
	next := cloneTask(task)
	now := s.stampLocked()
	if next.CompletedAt == nil {
		next.CompletedAt = &now
		next.Activity = append(next.Activity, models.ActivityEntry{
			Kind: models.ActivityLog, Text: "completed the task", UserID: s.userID, Timestamp: now,
		})
	} else {
		next.CompletedAt = nil
		next.Activity = append(next.Activity, models.ActivityEntry{
			Kind: models.ActivityLog, Text: "reopened the task", UserID: s.userID, Timestamp: now,
		})
	}
	next.UpdatedAt = now
	s.tasks[taskID] = next
	s.mu.Unlock()

	if err := s.writeRemote(ctx, func(ctx context.Context) error {
		return s.remote.UpdateTask(ctx, next)
	}); err != nil {
		s.rollbackTask(old, now)
		return err
	}
	return nil
}

// ArchiveTask soft-deletes a task: hidden from default views, kept for
// history.
func (s *Session) ArchiveTask(ctx context.Context, taskID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return NotFoundf("task %s does not exist", taskID)
	}
	if task.Archived {
		s.mu.Unlock()
		return nil
	}

	old := task
	next := cloneTask(task)
	now := s.stampLocked()
	next.Archived = true
	next.UpdatedAt = now
	next.Activity = append(next.Activity, models.ActivityEntry{
		Kind: models.ActivityLog, Text: "archived the task", UserID: s.userID, Timestamp: now,
	})
	s.tasks[taskID] = next
	s.mu.Unlock()

	if err := s.writeRemote(ctx, func(ctx context.Context) error {
		return s.remote.UpdateTask(ctx, next)
	}); err != nil {
		s.rollbackTask(old, now)
		return err
	}
	return nil
}

// DeleteTask removes a task and its subtasks permanently.
func (s *Session) DeleteTask(ctx context.Context, taskID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return NotFoundf("task %s does not exist", taskID)
	}

	removed := []*models.Task{task}
	delete(s.tasks, taskID)
	for id, t := range s.tasks {
		if t.ParentID == taskID {
			removed = append(removed, t)
			delete(s.tasks, id)
		}
	}
	s.mu.Unlock()

	if err := s.writeRemote(ctx, func(ctx context.Context) error {
		return s.remote.DeleteTask(ctx, s.projectID, taskID)
	}); err != nil {
		s.mu.Lock()
		for _, t := range removed {
			if _, exists := s.tasks[t.ID]; !exists {
				s.tasks[t.ID] = t
			}
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// SetTaskLabels replaces a task's label set. Every id must exist in the
// project's label collection.
func (s *Session) SetTaskLabels(ctx context.Context, taskID string, labelIDs []string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return NotFoundf("task %s does not exist", taskID)
	}
	if err := s.validateLabelsLocked(labelIDs); err != nil {
		s.mu.Unlock()
		return err
	}

	old := task
	next := cloneTask(task)
	now := s.stampLocked()
	next.LabelIDs = append([]string(nil), labelIDs...)
	next.UpdatedAt = now
	s.tasks[taskID] = next
	s.mu.Unlock()

	if err := s.writeRemote(ctx, func(ctx context.Context) error {
		return s.remote.UpdateTask(ctx, next)
	}); err != nil {
		s.rollbackTask(old, now)
		return err
	}
	return nil
}

// AddComment appends a comment entry to a task's activity log.
func (s *Session) AddComment(ctx context.Context, taskID, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Invalidf("comment cannot be empty")
	}
	if len(trimmed) > maxCommentLen {
		return Invalidf("comment cannot exceed %d characters", maxCommentLen)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return NotFoundf("task %s does not exist", taskID)
	}

	old := task
	now := s.stampLocked()
	entry := models.ActivityEntry{
		Kind:      models.ActivityComment,
		Text:      trimmed,
		UserID:    s.userID,
		Timestamp: now,
	}
	next := cloneTask(task)
	next.Activity = append(next.Activity, entry)
	next.UpdatedAt = now
	s.tasks[taskID] = next
	s.mu.Unlock()

	if err := s.writeRemote(ctx, func(ctx context.Context) error {
		return s.remote.AppendActivity(ctx, s.projectID, taskID, entry, now)
	}); err != nil {
		s.rollbackTask(old, now)
		return err
	}
	return nil
}

// ==================== COLUMN OPERATIONS ====================

// AddColumn creates a column at the end of the board.
func (s *Session) AddColumn(ctx context.Context, title string) (*models.Column, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	trimmed, err := validateTitle(title, maxColumnTitleLen, "column")
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	now := s.stampLocked()
	items := s.columnOrderLocked()
	placement := ordering.Place(items, "", len(items))
	column := &models.Column{
		ID:        uuid.New().String(),
		ProjectID: s.projectID,
		Title:     trimmed,
		OrderKey:  placement.Key,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.columns[column.ID] = column
	s.mu.Unlock()

	if err := s.writeRemote(ctx, func(ctx context.Context) error {
		return s.remote.CreateColumn(ctx, column)
	}); err != nil {
		s.mu.Lock()
		if cur, ok := s.columns[column.ID]; ok && cur.UpdatedAt == now {
			delete(s.columns, column.ID)
		}
		s.mu.Unlock()
		return nil, err
	}
	c := *column
	return &c, nil
}

// RenameColumn retitles a column.
func (s *Session) RenameColumn(ctx context.Context, columnID, title string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	column, ok := s.columns[columnID]
	if !ok {
		s.mu.Unlock()
		return NotFoundf("column %s does not exist", columnID)
	}
	trimmed, err := validateTitle(title, maxColumnTitleLen, "column")
	if err != nil {
		s.mu.Unlock()
		return err
	}

	old := *column
	now := s.stampLocked()
	column.Title = trimmed
	column.UpdatedAt = now
	s.mu.Unlock()

	if err := s.writeRemote(ctx, func(ctx context.Context) error {
		return s.remote.RenameColumn(ctx, s.projectID, columnID, trimmed, now)
	}); err != nil {
		s.rollbackColumn(&old, now)
		return err
	}
	return nil
}

// SetColumnTerminal marks or unmarks a column as a terminal lane, the
// resting place whose completed tasks age into the archive.
func (s *Session) SetColumnTerminal(ctx context.Context, columnID string, terminal bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	column, ok := s.columns[columnID]
	if !ok {
		s.mu.Unlock()
		return NotFoundf("column %s does not exist", columnID)
	}
	if column.Terminal == terminal {
		s.mu.Unlock()
		return nil
	}

	old := *column
	now := s.stampLocked()
	column.Terminal = terminal
	column.UpdatedAt = now
	s.mu.Unlock()

	if err := s.writeRemote(ctx, func(ctx context.Context) error {
		return s.remote.SetColumnTerminal(ctx, s.projectID, columnID, terminal, now)
	}); err != nil {
		s.rollbackColumn(&old, now)
		return err
	}
	return nil
}

// MoveColumn reorders a column to targetIndex within the project.
func (s *Session) MoveColumn(ctx context.Context, columnID string, targetIndex int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	column, ok := s.columns[columnID]
	if !ok {
		s.mu.Unlock()
		return NotFoundf("column %s does not exist", columnID)
	}

	items := s.columnOrderLocked()
	placement := ordering.Place(items, columnID, targetIndex)
	if placement.NoOp {
		s.mu.Unlock()
		return nil
	}

	now := s.stampLocked()
	old := *column
	var rekeyedOld []models.Column
	for _, it := range placement.Rekeyed {
		if sib, ok := s.columns[it.ID]; ok && sib.ID != columnID {
			rekeyedOld = append(rekeyedOld, *sib)
			sib.OrderKey = it.Key
			sib.UpdatedAt = now
		}
	}
	column.OrderKey = placement.Key
	column.UpdatedAt = now
	s.mu.Unlock()

	err := s.writeRemote(ctx, func(ctx context.Context) error {
		if placement.Rekeyed != nil {
			if err := s.remote.RekeyColumns(ctx, s.projectID, placement.Rekeyed, now); err != nil {
				return err
			}
		}
		return s.remote.MoveColumn(ctx, s.projectID, columnID, placement.Key, now)
	})
	if err != nil {
		s.rollbackColumn(&old, now)
		for i := range rekeyedOld {
			s.rollbackColumn(&rekeyedOld[i], now)
		}
		return err
	}
	return nil
}

// DeleteColumn removes a column and every task in it.
func (s *Session) DeleteColumn(ctx context.Context, columnID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	column, ok := s.columns[columnID]
	if !ok {
		s.mu.Unlock()
		return NotFoundf("column %s does not exist", columnID)
	}

	delete(s.columns, columnID)
	var removedTasks []*models.Task
	for id, t := range s.tasks {
		if t.ColumnID == columnID {
			removedTasks = append(removedTasks, t)
			delete(s.tasks, id)
		}
	}
	s.mu.Unlock()

	if err := s.writeRemote(ctx, func(ctx context.Context) error {
		return s.remote.DeleteColumn(ctx, s.projectID, columnID)
	}); err != nil {
		s.mu.Lock()
		if _, exists := s.columns[columnID]; !exists {
			s.columns[columnID] = column
		}
		for _, t := range removedTasks {
			if _, exists := s.tasks[t.ID]; !exists {
				s.tasks[t.ID] = t
			}
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// ==================== PROJECT OPERATIONS ====================

// RenameProject changes the project name.
func (s *Session) RenameProject(ctx context.Context, name string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	trimmed, err := validateTitle(name, maxProjectNameLen, "project")
	if err != nil {
		s.mu.Unlock()
		return err
	}

	old := s.project
	next := cloneProject(old)
	now := s.stampLocked()
	next.Name = trimmed
	next.UpdatedAt = now
	s.project = next
	s.mu.Unlock()

	if err := s.writeRemote(ctx, func(ctx context.Context) error {
		return s.remote.RenameProject(ctx, s.projectID, trimmed, now)
	}); err != nil {
		s.rollbackProject(old, now)
		return err
	}
	return nil
}

// UpdateSettings changes feature flags and/or the auto-archive policy.
func (s *Session) UpdateSettings(ctx context.Context, features *models.FeatureFlags, policy *models.ArchivePolicy) error {
	if features == nil && policy == nil {
		return nil
	}
	if policy != nil && !models.ValidArchivePolicy(*policy) {
		return Invalidf("invalid archive policy %q", *policy)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	old := s.project
	next := cloneProject(old)
	now := s.stampLocked()
	if features != nil {
		next.Features = *features
	}
	if policy != nil {
		next.ArchivePolicy = *policy
	}
	next.UpdatedAt = now
	s.project = next
	s.mu.Unlock()

	if err := s.writeRemote(ctx, func(ctx context.Context) error {
		return s.remote.UpdateProjectSettings(ctx, s.projectID, features, policy, now)
	}); err != nil {
		s.rollbackProject(old, now)
		return err
	}
	return nil
}

// AddLabel creates a project label.
func (s *Session) AddLabel(ctx context.Context, name, color string) (*models.Label, error) {
	trimmed, err := validateTitle(name, maxLabelNameLen, "label")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}

	label := models.Label{ID: uuid.New().String(), Name: trimmed, Color: color}
	old := s.project
	next := cloneProject(old)
	now := s.stampLocked()
	next.Labels = append(next.Labels, label)
	next.UpdatedAt = now
	s.project = next
	s.mu.Unlock()

	if err := s.writeRemote(ctx, func(ctx context.Context) error {
		return s.remote.AddLabel(ctx, s.projectID, label, now)
	}); err != nil {
		s.rollbackProject(old, now)
		return nil, err
	}
	return &label, nil
}

// UpdateLabel renames or recolors a project label.
func (s *Session) UpdateLabel(ctx context.Context, labelID, name, color string) error {
	trimmed, err := validateTitle(name, maxLabelNameLen, "label")
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.project.LabelByID(labelID) == nil {
		s.mu.Unlock()
		return NotFoundf("label %s does not exist", labelID)
	}

	label := models.Label{ID: labelID, Name: trimmed, Color: color}
	old := s.project
	next := cloneProject(old)
	now := s.stampLocked()
	for i := range next.Labels {
		if next.Labels[i].ID == labelID {
			next.Labels[i] = label
		}
	}
	next.UpdatedAt = now
	s.project = next
	s.mu.Unlock()

	if err := s.writeRemote(ctx, func(ctx context.Context) error {
		return s.remote.UpdateLabel(ctx, s.projectID, label, now)
	}); err != nil {
		s.rollbackProject(old, now)
		return err
	}
	return nil
}

// DeleteLabel removes a label from the project and from every task that
// references it.
func (s *Session) DeleteLabel(ctx context.Context, labelID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.project.LabelByID(labelID) == nil {
		s.mu.Unlock()
		return NotFoundf("label %s does not exist", labelID)
	}

	oldProject := s.project
	next := cloneProject(oldProject)
	now := s.stampLocked()
	kept := next.Labels[:0]
	for _, l := range next.Labels {
		if l.ID != labelID {
			kept = append(kept, l)
		}
	}
	next.Labels = kept
	next.UpdatedAt = now
	s.project = next

	var affected []*models.Task
	for _, t := range s.tasks {
		if !t.HasLabel(labelID) {
			continue
		}
		affected = append(affected, t)
		stripped := cloneTask(t)
		ids := stripped.LabelIDs[:0]
		for _, id := range stripped.LabelIDs {
			if id != labelID {
				ids = append(ids, id)
			}
		}
		stripped.LabelIDs = ids
		stripped.UpdatedAt = now
		s.tasks[t.ID] = stripped
	}
	s.mu.Unlock()

	if err := s.writeRemote(ctx, func(ctx context.Context) error {
		return s.remote.DeleteLabel(ctx, s.projectID, labelID, now)
	}); err != nil {
		s.rollbackProject(oldProject, now)
		for _, t := range affected {
			s.rollbackTask(t, now)
		}
		return err
	}
	return nil
}

// ==================== RECONCILIATION ====================

// ApplyRemote merges a pushed event into the mirror. Returns true when the
// mirror changed (the push was newer than local state), false when the push
// was stale or the session is closed. Last-write-wins: strictly newer
// updatedAt replaces the local entity; anything else is discarded, which
// also swallows the echo of this session's own acknowledged writes.
func (s *Session) ApplyRemote(ev models.BoardEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || ev.ProjectID != s.projectID {
		return false
	}

	switch ev.Type {
	case models.EventTaskUpserted:
		if ev.Task == nil {
			return false
		}
		local, ok := s.tasks[ev.Task.ID]
		if ok && local.UpdatedAt >= ev.Task.UpdatedAt {
			return false
		}
		s.tasks[ev.Task.ID] = cloneTask(ev.Task)
		return true

	case models.EventTaskDeleted:
		if _, ok := s.tasks[ev.TaskID]; !ok {
			return false
		}
		delete(s.tasks, ev.TaskID)
		for id, t := range s.tasks {
			if t.ParentID == ev.TaskID {
				delete(s.tasks, id)
			}
		}
		return true

	case models.EventColumnUpserted:
		if ev.Column == nil {
			return false
		}
		local, ok := s.columns[ev.Column.ID]
		if ok && local.UpdatedAt >= ev.Column.UpdatedAt {
			return false
		}
		c := *ev.Column
		s.columns[c.ID] = &c
		return true

	case models.EventColumnDeleted:
		if _, ok := s.columns[ev.ColumnID]; !ok {
			return false
		}
		delete(s.columns, ev.ColumnID)
		for id, t := range s.tasks {
			if t.ColumnID == ev.ColumnID {
				delete(s.tasks, id)
			}
		}
		return true

	case models.EventProjectUpdated:
		if ev.Project == nil {
			return false
		}
		if s.project.UpdatedAt >= ev.Project.UpdatedAt {
			return false
		}
		s.project = cloneProject(ev.Project)
		return true

	case models.EventProjectDeleted:
		s.closed = true
		if s.cancel != nil {
			cancel := s.cancel
			s.cancel = nil
			go cancel()
		}
		return true
	}
	return false
}

// ==================== INTERNAL HELPERS ====================

// columnItemsLocked returns the ordered visible tasks of a column as
// ordering items. Archived tasks hold their keys but are excluded from the
// sequence the user sees.
func (s *Session) columnItemsLocked(columnID string) []ordering.Item {
	var items []ordering.Item
	for _, t := range s.tasks {
		if t.ColumnID == columnID && !t.Archived {
			items = append(items, ordering.Item{ID: t.ID, Key: t.OrderKey})
		}
	}
	ordering.Sort(items)
	return items
}

func (s *Session) columnOrderLocked() []ordering.Item {
	items := make([]ordering.Item, 0, len(s.columns))
	for _, c := range s.columns {
		items = append(items, ordering.Item{ID: c.ID, Key: c.OrderKey})
	}
	ordering.Sort(items)
	return items
}

// validateParentLocked checks a parent reference: it must exist, must not
// be a subtask itself (one level deep), and must not create a cycle.
func (s *Session) validateParentLocked(parentID, childID string) error {
	if parentID == childID {
		return Invalidf("task cannot be its own parent")
	}
	parent, ok := s.tasks[parentID]
	if !ok {
		return NotFoundf("parent task %s does not exist", parentID)
	}
	if parent.IsSubtask() {
		return Invalidf("subtasks cannot have their own subtasks")
	}
	if !s.project.Features.Subtasks {
		return Invalidf("subtasks are disabled for this project")
	}
	if childID != "" {
		for _, t := range s.tasks {
			if t.ParentID == childID {
				return Invalidf("task with subtasks cannot become a subtask")
			}
		}
	}
	return nil
}

func (s *Session) validateLabelsLocked(labelIDs []string) error {
	if len(labelIDs) > 0 && !s.project.Features.Labels {
		return Invalidf("labels are disabled for this project")
	}
	for _, id := range labelIDs {
		if s.project.LabelByID(id) == nil {
			return NotFoundf("label %s does not exist", id)
		}
	}
	return nil
}

// rollbackTask restores a task unless something newer already replaced the
// optimistic write.
func (s *Session) rollbackTask(old *models.Task, stamp int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[old.ID]
	if ok && cur.UpdatedAt == stamp {
		s.tasks[old.ID] = old
	}
}

func (s *Session) rollbackColumn(old *models.Column, stamp int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.columns[old.ID]
	if ok && cur.UpdatedAt == stamp {
		restored := *old
		s.columns[old.ID] = &restored
	}
}

func (s *Session) rollbackProject(old *models.Project, stamp int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.project.UpdatedAt == stamp {
		s.project = old
	}
}
