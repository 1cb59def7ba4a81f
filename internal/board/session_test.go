package board

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"flowboard/internal/models"
	"flowboard/internal/ordering"
)

// ==================== FAKE REMOTE ====================

// fakeRemote records calls and pops queued errors per method, so tests can
// make specific writes fail once, fail twice (exhausting the retry), or
// succeed.
type fakeRemote struct {
	mu     sync.Mutex
	calls  []string
	queued map[string][]error
	onCall func(method string)
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{queued: make(map[string][]error)}
}

func (f *fakeRemote) failWith(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued[method] = append(f.queued[method], errs...)
}

func (f *fakeRemote) take(method string) error {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	var err error
	if q := f.queued[method]; len(q) > 0 {
		err = q[0]
		f.queued[method] = q[1:]
	}
	hook := f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook(method)
	}
	return err
}

func (f *fakeRemote) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (f *fakeRemote) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRemote) sequence() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) CreateTask(ctx context.Context, task *models.Task) error {
	return f.take("CreateTask")
}
func (f *fakeRemote) UpdateTask(ctx context.Context, task *models.Task) error {
	return f.take("UpdateTask")
}
func (f *fakeRemote) MoveTask(ctx context.Context, projectID, taskID, targetColumnID string, orderKey float64, updatedAt int64) error {
	return f.take("MoveTask")
}
func (f *fakeRemote) DeleteTask(ctx context.Context, projectID, taskID string) error {
	return f.take("DeleteTask")
}
func (f *fakeRemote) AppendActivity(ctx context.Context, projectID, taskID string, entry models.ActivityEntry, updatedAt int64) error {
	return f.take("AppendActivity")
}
func (f *fakeRemote) RekeyTasks(ctx context.Context, projectID, columnID string, items []ordering.Item, updatedAt int64) error {
	return f.take("RekeyTasks")
}
func (f *fakeRemote) CreateColumn(ctx context.Context, column *models.Column) error {
	return f.take("CreateColumn")
}
func (f *fakeRemote) RenameColumn(ctx context.Context, projectID, columnID, title string, updatedAt int64) error {
	return f.take("RenameColumn")
}
func (f *fakeRemote) SetColumnTerminal(ctx context.Context, projectID, columnID string, terminal bool, updatedAt int64) error {
	return f.take("SetColumnTerminal")
}
func (f *fakeRemote) MoveColumn(ctx context.Context, projectID, columnID string, orderKey float64, updatedAt int64) error {
	return f.take("MoveColumn")
}
func (f *fakeRemote) DeleteColumn(ctx context.Context, projectID, columnID string) error {
	return f.take("DeleteColumn")
}
func (f *fakeRemote) RekeyColumns(ctx context.Context, projectID string, items []ordering.Item, updatedAt int64) error {
	return f.take("RekeyColumns")
}
func (f *fakeRemote) RenameProject(ctx context.Context, projectID, name string, updatedAt int64) error {
	return f.take("RenameProject")
}
func (f *fakeRemote) UpdateProjectSettings(ctx context.Context, projectID string, features *models.FeatureFlags, policy *models.ArchivePolicy, updatedAt int64) error {
	return f.take("UpdateProjectSettings")
}
func (f *fakeRemote) AddLabel(ctx context.Context, projectID string, label models.Label, updatedAt int64) error {
	return f.take("AddLabel")
}
func (f *fakeRemote) UpdateLabel(ctx context.Context, projectID string, label models.Label, updatedAt int64) error {
	return f.take("UpdateLabel")
}
func (f *fakeRemote) DeleteLabel(ctx context.Context, projectID, labelID string, updatedAt int64) error {
	return f.take("DeleteLabel")
}

// ==================== FIXTURES ====================

const seedStamp = int64(1000)

func seedTask(id, columnID string, key float64) *models.Task {
	return &models.Task{
		ID:        id,
		ProjectID: "proj-1",
		ColumnID:  columnID,
		OrderKey:  key,
		Title:     "task " + id,
		Priority:  models.PriorityMedium,
		CreatedAt: seedStamp,
		UpdatedAt: seedStamp,
	}
}

func seedSnapshot() Snapshot {
	return Snapshot{
		Project: &models.Project{
			ID:        "proj-1",
			Name:      "Launch Plan",
			OwnerID:   "user-1",
			MemberIDs: []string{"user-1", "user-2"},
			Features:  models.FeatureFlags{Subtasks: true, Deadlines: true, Labels: true},
			Labels: []models.Label{
				{ID: "lab-red", Name: "bug", Color: "#ef4444"},
				{ID: "lab-blue", Name: "idea", Color: "#3b82f6"},
			},
			ArchivePolicy: models.ArchiveNever,
			CreatedAt:     seedStamp,
			UpdatedAt:     seedStamp,
		},
		Columns: []*models.Column{
			{ID: "col-todo", ProjectID: "proj-1", Title: "To Do", OrderKey: 1024, CreatedAt: seedStamp, UpdatedAt: seedStamp},
			{ID: "col-doing", ProjectID: "proj-1", Title: "Doing", OrderKey: 2048, CreatedAt: seedStamp, UpdatedAt: seedStamp},
		},
		Tasks: []*models.Task{
			seedTask("task-a", "col-todo", 1024),
			seedTask("task-b", "col-todo", 2048),
			seedTask("task-c", "col-todo", 3072),
			seedTask("task-d", "col-doing", 1024),
		},
	}
}

func newTestSession(remote Remote) *Session {
	return NewSession("user-1", seedSnapshot(), remote, nil)
}

func futureStamp() int64 {
	return time.Now().UnixMilli() + 60_000
}

// ==================== TASK CREATION ====================

func TestAddTaskAppendsToColumn(t *testing.T) {
	remote := newFakeRemote()
	s := newTestSession(remote)

	task, err := s.AddTask(context.Background(), TaskDraft{ColumnID: "col-todo", Title: "  ship it  "})
	if err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}
	if task.Title != "ship it" {
		t.Errorf("expected trimmed title, got %q", task.Title)
	}
	if task.Priority != models.PriorityMedium {
		t.Errorf("expected default priority medium, got %q", task.Priority)
	}
	if task.OrderKey <= 3072 {
		t.Errorf("expected order key beyond current max 3072, got %v", task.OrderKey)
	}
	if got := s.orderedTaskIDs("col-todo"); len(got) != 4 || got[3] != task.ID {
		t.Errorf("expected new task at end of column, got %v", got)
	}
	if remote.count("CreateTask") != 1 {
		t.Errorf("expected one CreateTask call, got %d", remote.count("CreateTask"))
	}
}

func TestAddTaskValidation(t *testing.T) {
	deadline := int64(99)
	tests := []struct {
		name     string
		draft    TaskDraft
		features *models.FeatureFlags
		wantKind Kind
	}{
		{
			name:     "empty title",
			draft:    TaskDraft{ColumnID: "col-todo", Title: "   "},
			wantKind: KindValidationFailed,
		},
		{
			name:     "missing column",
			draft:    TaskDraft{ColumnID: "col-ghost", Title: "x"},
			wantKind: KindNotFound,
		},
		{
			name:     "invalid priority",
			draft:    TaskDraft{ColumnID: "col-todo", Title: "x", Priority: "whenever"},
			wantKind: KindValidationFailed,
		},
		{
			name:     "unknown label",
			draft:    TaskDraft{ColumnID: "col-todo", Title: "x", LabelIDs: []string{"lab-ghost"}},
			wantKind: KindNotFound,
		},
		{
			name:     "missing parent",
			draft:    TaskDraft{ColumnID: "col-todo", Title: "x", ParentID: "task-ghost"},
			wantKind: KindNotFound,
		},
		{
			name:     "deadline while deadlines disabled",
			draft:    TaskDraft{ColumnID: "col-todo", Title: "x", Deadline: &deadline},
			features: &models.FeatureFlags{Subtasks: true, Labels: true},
			wantKind: KindValidationFailed,
		},
		{
			name:     "label while labels disabled",
			draft:    TaskDraft{ColumnID: "col-todo", Title: "x", LabelIDs: []string{"lab-red"}},
			features: &models.FeatureFlags{Subtasks: true, Deadlines: true},
			wantKind: KindValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := newFakeRemote()
			snap := seedSnapshot()
			if tt.features != nil {
				snap.Project.Features = *tt.features
			}
			s := NewSession("user-1", snap, remote, nil)

			_, err := s.AddTask(context.Background(), tt.draft)
			if KindOf(err) != tt.wantKind {
				t.Fatalf("expected kind %v, got %v (err=%v)", tt.wantKind, KindOf(err), err)
			}
			if remote.total() != 0 {
				t.Errorf("rejected intent must not reach the remote, saw %v", remote.sequence())
			}
		})
	}
}

func TestAddTaskRollsBackWhenCreateFails(t *testing.T) {
	remote := newFakeRemote()
	remote.failWith("CreateTask", errors.New("boom"), errors.New("boom again"))
	s := newTestSession(remote)

	_, err := s.AddTask(context.Background(), TaskDraft{ColumnID: "col-todo", Title: "doomed"})
	if KindOf(err) != KindPersistenceFailed {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	if remote.count("CreateTask") != 2 {
		t.Errorf("expected exactly one retry (2 calls), got %d", remote.count("CreateTask"))
	}
	if got := s.orderedTaskIDs("col-todo"); len(got) != 3 {
		t.Errorf("expected mirror restored to 3 tasks, got %v", got)
	}
}

// ==================== PERSISTENCE FAILURE HANDLING ====================

func TestUpdateTaskRetriesOnceThenSucceeds(t *testing.T) {
	remote := newFakeRemote()
	remote.failWith("UpdateTask", errors.New("transient"))
	s := newTestSession(remote)

	title := "retitled"
	if err := s.UpdateTask(context.Background(), "task-a", TaskUpdate{Title: &title}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if remote.count("UpdateTask") != 2 {
		t.Errorf("expected 2 attempts, got %d", remote.count("UpdateTask"))
	}
	if got := s.Task("task-a"); got.Title != "retitled" {
		t.Errorf("expected mirror to keep the edit, got %q", got.Title)
	}
}

func TestUpdateTaskRollsBackAfterRetryExhausted(t *testing.T) {
	remote := newFakeRemote()
	remote.failWith("UpdateTask", errors.New("down"), errors.New("still down"))
	s := newTestSession(remote)

	title := "never lands"
	err := s.UpdateTask(context.Background(), "task-a", TaskUpdate{Title: &title})
	if KindOf(err) != KindPersistenceFailed {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	got := s.Task("task-a")
	if got.Title != "task task-a" {
		t.Errorf("expected rollback to original title, got %q", got.Title)
	}
	if got.UpdatedAt != seedStamp {
		t.Errorf("expected rollback to original stamp %d, got %d", seedStamp, got.UpdatedAt)
	}
}

func TestDefinitiveRejectionsDoNotRetry(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind Kind
	}{
		{"stale", Stalef("someone else resolved it"), KindStale},
		{"not found", NotFoundf("gone"), KindNotFound},
		{"validation", Invalidf("server said no"), KindValidationFailed},
		{"unauthorized", Unauthorizedf("not a member"), KindUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := newFakeRemote()
			remote.failWith("UpdateTask", tt.err)
			s := newTestSession(remote)

			title := "nope"
			err := s.UpdateTask(context.Background(), "task-a", TaskUpdate{Title: &title})
			if KindOf(err) != tt.wantKind {
				t.Fatalf("expected kind %v, got %v", tt.wantKind, KindOf(err))
			}
			if remote.count("UpdateTask") != 1 {
				t.Errorf("definitive rejection must not retry, got %d calls", remote.count("UpdateTask"))
			}
			if got := s.Task("task-a"); got.Title != "task task-a" {
				t.Errorf("expected rollback, mirror has %q", got.Title)
			}
		})
	}
}

func TestRollbackSkipsWhenNewerRemoteStateArrived(t *testing.T) {
	remote := newFakeRemote()
	remote.failWith("UpdateTask", errors.New("down"), errors.New("still down"))
	s := newTestSession(remote)

	// While the doomed write is in flight, a newer push for the same task
	// lands. The rollback must not resurrect the pre-edit state over it.
	newer := seedTask("task-a", "col-todo", 1024)
	newer.Title = "remote wins"
	newer.UpdatedAt = futureStamp()
	remote.onCall = func(method string) {
		if method == "UpdateTask" {
			s.ApplyRemote(models.BoardEvent{
				Type:      models.EventTaskUpserted,
				ProjectID: "proj-1",
				Task:      newer,
			})
		}
	}

	title := "local edit"
	if err := s.UpdateTask(context.Background(), "task-a", TaskUpdate{Title: &title}); KindOf(err) != KindPersistenceFailed {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	if got := s.Task("task-a"); got.Title != "remote wins" {
		t.Errorf("rollback clobbered a newer remote state, mirror has %q", got.Title)
	}
}

// ==================== WRITE STAMPS ====================

func TestSuccessiveWritesGetStrictlyIncreasingStamps(t *testing.T) {
	remote := newFakeRemote()
	s := newTestSession(remote)
	ctx := context.Background()

	// Back-to-back edits land well inside one millisecond; their stamps
	// must still increase so each write can pass the store's updatedAt
	// guard instead of bouncing as stale.
	var stamps []int64
	for _, title := range []string{"one", "two", "three", "four"} {
		title := title
		if err := s.UpdateTask(ctx, "task-a", TaskUpdate{Title: &title}); err != nil {
			t.Fatalf("UpdateTask %q failed: %v", title, err)
		}
		stamps = append(stamps, s.Task("task-a").UpdatedAt)
	}
	for i := 1; i < len(stamps); i++ {
		if stamps[i] <= stamps[i-1] {
			t.Fatalf("stamp %d is not greater than its predecessor %d", stamps[i], stamps[i-1])
		}
	}
}

func TestStampsIncreaseAcrossEntityKinds(t *testing.T) {
	remote := newFakeRemote()
	s := newTestSession(remote)
	ctx := context.Background()

	if err := s.RenameColumn(ctx, "col-todo", "Backlog"); err != nil {
		t.Fatalf("RenameColumn failed: %v", err)
	}
	if err := s.RenameProject(ctx, "Relaunch"); err != nil {
		t.Fatalf("RenameProject failed: %v", err)
	}
	title := "after"
	if err := s.UpdateTask(ctx, "task-a", TaskUpdate{Title: &title}); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}

	colStamp := s.Column("col-todo").UpdatedAt
	projStamp := s.Project().UpdatedAt
	taskStamp := s.Task("task-a").UpdatedAt
	if projStamp <= colStamp || taskStamp <= projStamp {
		t.Errorf("expected increasing stamps across entities, got column=%d project=%d task=%d",
			colStamp, projStamp, taskStamp)
	}
}

// ==================== MOVE SEMANTICS ====================

func TestMoveTaskAcrossColumns(t *testing.T) {
	remote := newFakeRemote()
	s := newTestSession(remote)

	if err := s.MoveTask(context.Background(), "task-b", "col-doing", 0); err != nil {
		t.Fatalf("MoveTask failed: %v", err)
	}
	if got := s.orderedTaskIDs("col-doing"); len(got) != 2 || got[0] != "task-b" || got[1] != "task-d" {
		t.Errorf("expected [task-b task-d] in doing, got %v", got)
	}
	if got := s.orderedTaskIDs("col-todo"); len(got) != 2 {
		t.Errorf("expected task-b gone from todo, got %v", got)
	}
	moved := s.Task("task-b")
	if moved.OrderKey >= 1024 {
		t.Errorf("expected key below sibling min 1024, got %v", moved.OrderKey)
	}
	// Untouched siblings keep their keys.
	if d := s.Task("task-d"); d.OrderKey != 1024 || d.UpdatedAt != seedStamp {
		t.Errorf("sibling task-d must be untouched, got key=%v stamp=%d", d.OrderKey, d.UpdatedAt)
	}
	if remote.count("MoveTask") != 1 || remote.count("RekeyTasks") != 0 {
		t.Errorf("unexpected remote calls: %v", remote.sequence())
	}
}

func TestMoveTaskWithinColumn(t *testing.T) {
	remote := newFakeRemote()
	s := newTestSession(remote)

	// [a b c] -> move c to index 0.
	if err := s.MoveTask(context.Background(), "task-c", "col-todo", 0); err != nil {
		t.Fatalf("MoveTask failed: %v", err)
	}
	if got := s.orderedTaskIDs("col-todo"); got[0] != "task-c" || got[1] != "task-a" || got[2] != "task-b" {
		t.Errorf("expected [task-c task-a task-b], got %v", got)
	}
}

func TestMoveTaskNoOp(t *testing.T) {
	remote := newFakeRemote()
	s := newTestSession(remote)

	// task-b already sits at index 1 of its own column.
	if err := s.MoveTask(context.Background(), "task-b", "col-todo", 1); err != nil {
		t.Fatalf("expected no-op move to succeed, got %v", err)
	}
	if remote.total() != 0 {
		t.Errorf("no-op move must not touch the remote, saw %v", remote.sequence())
	}
	if got := s.Task("task-b"); got.OrderKey != 2048 || got.UpdatedAt != seedStamp {
		t.Errorf("no-op move must not rewrite the task, got key=%v stamp=%d", got.OrderKey, got.UpdatedAt)
	}
}

func TestMoveTaskRejections(t *testing.T) {
	sub := seedTask("task-sub", "col-todo", 4096)
	sub.ParentID = "task-a"

	tests := []struct {
		name     string
		taskID   string
		columnID string
		wantKind Kind
	}{
		{"missing task", "task-ghost", "col-todo", KindNotFound},
		{"missing column", "task-a", "col-ghost", KindNotFound},
		{"subtask", "task-sub", "col-doing", KindValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := newFakeRemote()
			snap := seedSnapshot()
			snap.Tasks = append(snap.Tasks, sub)
			s := NewSession("user-1", snap, remote, nil)

			err := s.MoveTask(context.Background(), tt.taskID, tt.columnID, 0)
			if KindOf(err) != tt.wantKind {
				t.Fatalf("expected kind %v, got %v", tt.wantKind, KindOf(err))
			}
			if remote.total() != 0 {
				t.Errorf("rejected move must not reach the remote, saw %v", remote.sequence())
			}
		})
	}
}

func TestMoveTaskToDeletedColumn(t *testing.T) {
	remote := newFakeRemote()
	s := newTestSession(remote)

	// Another session deletes the doing column; the push lands first.
	if !s.ApplyRemote(models.BoardEvent{Type: models.EventColumnDeleted, ProjectID: "proj-1", ColumnID: "col-doing"}) {
		t.Fatal("expected column deletion to apply")
	}
	err := s.MoveTask(context.Background(), "task-a", "col-doing", 0)
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected NotFound for move into deleted column, got %v", err)
	}
	if s.Task("task-d") != nil {
		t.Error("expected tasks of deleted column to be gone from the mirror")
	}
}

func TestMoveTaskRebalancesOnPrecisionExhaustion(t *testing.T) {
	remote := newFakeRemote()
	snap := seedSnapshot()
	// Two adjacent float64 keys leave no representable midpoint.
	lo := 100.5
	hi := math.Nextafter(lo, math.MaxFloat64)
	snap.Tasks = []*models.Task{
		seedTask("task-a", "col-todo", lo),
		seedTask("task-b", "col-todo", hi),
		seedTask("task-d", "col-doing", 1024),
	}
	s := NewSession("user-1", snap, remote, nil)

	if err := s.MoveTask(context.Background(), "task-d", "col-todo", 1); err != nil {
		t.Fatalf("MoveTask failed: %v", err)
	}
	if got := s.orderedTaskIDs("col-todo"); got[0] != "task-a" || got[1] != "task-d" || got[2] != "task-b" {
		t.Errorf("expected [task-a task-d task-b], got %v", got)
	}
	seq := remote.sequence()
	if len(seq) != 2 || seq[0] != "RekeyTasks" || seq[1] != "MoveTask" {
		t.Errorf("expected RekeyTasks then MoveTask, got %v", seq)
	}
	a, b := s.Task("task-a"), s.Task("task-b")
	if a.OrderKey == lo || b.OrderKey == hi {
		t.Error("expected rebalance to rewrite sibling keys")
	}
	if a.OrderKey != math.Trunc(a.OrderKey) || b.OrderKey != math.Trunc(b.OrderKey) {
		t.Errorf("expected integer-spaced keys after rebalance, got %v and %v", a.OrderKey, b.OrderKey)
	}
}

func TestMoveTaskRollsBackRekeyedSiblings(t *testing.T) {
	remote := newFakeRemote()
	remote.failWith("RekeyTasks", errors.New("down"), errors.New("still down"))
	snap := seedSnapshot()
	lo := 100.5
	hi := math.Nextafter(lo, math.MaxFloat64)
	snap.Tasks = []*models.Task{
		seedTask("task-a", "col-todo", lo),
		seedTask("task-b", "col-todo", hi),
		seedTask("task-d", "col-doing", 1024),
	}
	s := NewSession("user-1", snap, remote, nil)

	err := s.MoveTask(context.Background(), "task-d", "col-todo", 1)
	if KindOf(err) != KindPersistenceFailed {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	if got := s.Task("task-a"); got.OrderKey != lo {
		t.Errorf("expected task-a key restored to %v, got %v", lo, got.OrderKey)
	}
	if got := s.Task("task-b"); got.OrderKey != hi {
		t.Errorf("expected task-b key restored to %v, got %v", hi, got.OrderKey)
	}
	if got := s.Task("task-d"); got.ColumnID != "col-doing" || got.OrderKey != 1024 {
		t.Errorf("expected task-d back in doing at 1024, got col=%s key=%v", got.ColumnID, got.OrderKey)
	}
}

// ==================== COMPLETION, ARCHIVAL, DELETION ====================

func TestToggleCompleteFlips(t *testing.T) {
	remote := newFakeRemote()
	s := newTestSession(remote)
	ctx := context.Background()

	if err := s.ToggleComplete(ctx, "task-a"); err != nil {
		t.Fatalf("first toggle failed: %v", err)
	}
	if got := s.Task("task-a"); !got.IsCompleted() {
		t.Error("expected task completed after first toggle")
	}
	if err := s.ToggleComplete(ctx, "task-a"); err != nil {
		t.Fatalf("second toggle failed: %v", err)
	}
	got := s.Task("task-a")
	if got.IsCompleted() {
		t.Error("expected task reopened after second toggle")
	}
	if len(got.Activity) != 2 {
		t.Errorf("expected 2 activity entries, got %d", len(got.Activity))
	}
}

func TestArchiveTaskIsIdempotent(t *testing.T) {
	remote := newFakeRemote()
	s := newTestSession(remote)
	ctx := context.Background()

	if err := s.ArchiveTask(ctx, "task-a"); err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if err := s.ArchiveTask(ctx, "task-a"); err != nil {
		t.Fatalf("second archive failed: %v", err)
	}
	if remote.count("UpdateTask") != 1 {
		t.Errorf("archiving an archived task must not write, got %d calls", remote.count("UpdateTask"))
	}
	if got := s.orderedTaskIDs("col-todo"); len(got) != 2 {
		t.Errorf("expected archived task hidden from column order, got %v", got)
	}
	if s.Task("task-a") == nil {
		t.Error("archived task must stay in the mirror")
	}
}

func TestDeleteTaskCascadesToSubtasks(t *testing.T) {
	remote := newFakeRemote()
	snap := seedSnapshot()
	sub := seedTask("task-sub", "col-todo", 4096)
	sub.ParentID = "task-a"
	snap.Tasks = append(snap.Tasks, sub)
	s := NewSession("user-1", snap, remote, nil)

	if err := s.DeleteTask(context.Background(), "task-a"); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	if s.Task("task-a") != nil || s.Task("task-sub") != nil {
		t.Error("expected parent and subtask removed from mirror")
	}
	if remote.count("DeleteTask") != 1 {
		t.Errorf("expected a single DeleteTask call, got %d", remote.count("DeleteTask"))
	}
}

func TestDeleteTaskRestoresCascadeOnFailure(t *testing.T) {
	remote := newFakeRemote()
	remote.failWith("DeleteTask", errors.New("down"), errors.New("still down"))
	snap := seedSnapshot()
	sub := seedTask("task-sub", "col-todo", 4096)
	sub.ParentID = "task-a"
	snap.Tasks = append(snap.Tasks, sub)
	s := NewSession("user-1", snap, remote, nil)

	if err := s.DeleteTask(context.Background(), "task-a"); KindOf(err) != KindPersistenceFailed {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	if s.Task("task-a") == nil || s.Task("task-sub") == nil {
		t.Error("expected parent and subtask restored after failed delete")
	}
}

func TestDeleteColumnCascadesTasks(t *testing.T) {
	remote := newFakeRemote()
	s := newTestSession(remote)

	if err := s.DeleteColumn(context.Background(), "col-todo"); err != nil {
		t.Fatalf("DeleteColumn failed: %v", err)
	}
	if s.Column("col-todo") != nil {
		t.Error("expected column removed")
	}
	for _, id := range []string{"task-a", "task-b", "task-c"} {
		if s.Task(id) != nil {
			t.Errorf("expected %s removed with its column", id)
		}
	}
	if s.Task("task-d") == nil {
		t.Error("tasks of other columns must survive")
	}
}

// ==================== LABELS ====================

func TestSetTaskLabels(t *testing.T) {
	remote := newFakeRemote()
	s := newTestSession(remote)

	if err := s.SetTaskLabels(context.Background(), "task-a", []string{"lab-red", "lab-blue"}); err != nil {
		t.Fatalf("SetTaskLabels failed: %v", err)
	}
	if got := s.Task("task-a"); len(got.LabelIDs) != 2 {
		t.Errorf("expected 2 labels, got %v", got.LabelIDs)
	}

	err := s.SetTaskLabels(context.Background(), "task-a", []string{"lab-ghost"})
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected NotFound for unknown label, got %v", err)
	}
}

func TestDeleteLabelStripsTasks(t *testing.T) {
	remote := newFakeRemote()
	snap := seedSnapshot()
	snap.Tasks[0].LabelIDs = []string{"lab-red", "lab-blue"}
	snap.Tasks[1].LabelIDs = []string{"lab-red"}
	s := NewSession("user-1", snap, remote, nil)

	if err := s.DeleteLabel(context.Background(), "lab-red"); err != nil {
		t.Fatalf("DeleteLabel failed: %v", err)
	}
	if s.Project().LabelByID("lab-red") != nil {
		t.Error("expected label removed from project")
	}
	if got := s.Task("task-a").LabelIDs; len(got) != 1 || got[0] != "lab-blue" {
		t.Errorf("expected task-a stripped to [lab-blue], got %v", got)
	}
	if got := s.Task("task-b").LabelIDs; len(got) != 0 {
		t.Errorf("expected task-b stripped empty, got %v", got)
	}
}

func TestDeleteLabelRollsBackEverything(t *testing.T) {
	remote := newFakeRemote()
	remote.failWith("DeleteLabel", errors.New("down"), errors.New("still down"))
	snap := seedSnapshot()
	snap.Tasks[0].LabelIDs = []string{"lab-red"}
	s := NewSession("user-1", snap, remote, nil)

	if err := s.DeleteLabel(context.Background(), "lab-red"); KindOf(err) != KindPersistenceFailed {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	if s.Project().LabelByID("lab-red") == nil {
		t.Error("expected label restored on project")
	}
	if got := s.Task("task-a").LabelIDs; len(got) != 1 || got[0] != "lab-red" {
		t.Errorf("expected task-a labels restored, got %v", got)
	}
}

// ==================== COMMENTS ====================

func TestAddComment(t *testing.T) {
	remote := newFakeRemote()
	s := newTestSession(remote)

	if err := s.AddComment(context.Background(), "task-a", "looks good"); err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}
	got := s.Task("task-a")
	if len(got.Activity) != 1 || got.Activity[0].Kind != models.ActivityComment {
		t.Fatalf("expected one comment entry, got %+v", got.Activity)
	}
	if got.Activity[0].UserID != "user-1" {
		t.Errorf("expected comment attributed to session user, got %q", got.Activity[0].UserID)
	}
	if remote.count("AppendActivity") != 1 {
		t.Errorf("expected one AppendActivity call, got %d", remote.count("AppendActivity"))
	}

	if err := s.AddComment(context.Background(), "task-a", "   "); KindOf(err) != KindValidationFailed {
		t.Errorf("expected validation failure for blank comment, got %v", err)
	}
}

// ==================== COLUMN AND PROJECT OPERATIONS ====================

func TestColumnLifecycle(t *testing.T) {
	remote := newFakeRemote()
	s := newTestSession(remote)
	ctx := context.Background()

	col, err := s.AddColumn(ctx, "Review")
	if err != nil {
		t.Fatalf("AddColumn failed: %v", err)
	}
	if col.OrderKey <= 2048 {
		t.Errorf("expected new column after current max, got %v", col.OrderKey)
	}
	// The returned column is detached from the mirror.
	col.Title = "scribbled"
	if got := s.Column(col.ID); got.Title != "Review" {
		t.Errorf("mutating the returned column must not touch the mirror, got %q", got.Title)
	}
	if err := s.RenameColumn(ctx, col.ID, "In Review"); err != nil {
		t.Fatalf("RenameColumn failed: %v", err)
	}
	if got := s.Column(col.ID); got.Title != "In Review" {
		t.Errorf("expected renamed column, got %q", got.Title)
	}
	if err := s.MoveColumn(ctx, col.ID, 0); err != nil {
		t.Fatalf("MoveColumn failed: %v", err)
	}
	snap := s.Snapshot()
	if snap.Columns[0].Column.ID != col.ID {
		t.Errorf("expected moved column first, got %v", snap.Columns[0].Column.ID)
	}

	if err := s.RenameColumn(ctx, col.ID, string(make([]byte, 51))); KindOf(err) != KindValidationFailed {
		t.Error("expected validation failure for 51-char column title")
	}
}

func TestSetColumnTerminal(t *testing.T) {
	remote := newFakeRemote()
	s := newTestSession(remote)
	ctx := context.Background()

	if err := s.SetColumnTerminal(ctx, "col-doing", true); err != nil {
		t.Fatalf("SetColumnTerminal failed: %v", err)
	}
	if got := s.Column("col-doing"); !got.Terminal {
		t.Error("expected column marked terminal")
	}
	// Setting the flag to its current value is a no-op.
	if err := s.SetColumnTerminal(ctx, "col-doing", true); err != nil {
		t.Fatalf("repeat SetColumnTerminal failed: %v", err)
	}
	if remote.count("SetColumnTerminal") != 1 {
		t.Errorf("expected one remote write, got %d", remote.count("SetColumnTerminal"))
	}

	if err := s.SetColumnTerminal(ctx, "col-ghost", true); KindOf(err) != KindNotFound {
		t.Errorf("expected NotFound for unknown column, got %v", err)
	}
}

func TestSetColumnTerminalRollsBackOnFailure(t *testing.T) {
	remote := newFakeRemote()
	remote.failWith("SetColumnTerminal", errors.New("down"), errors.New("still down"))
	s := newTestSession(remote)

	err := s.SetColumnTerminal(context.Background(), "col-doing", true)
	if KindOf(err) != KindPersistenceFailed {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	got := s.Column("col-doing")
	if got.Terminal {
		t.Error("expected terminal flag rolled back")
	}
	if got.UpdatedAt != seedStamp {
		t.Errorf("expected stamp restored to %d, got %d", seedStamp, got.UpdatedAt)
	}
}

func TestProjectSettings(t *testing.T) {
	remote := newFakeRemote()
	s := newTestSession(remote)
	ctx := context.Background()

	if err := s.RenameProject(ctx, "Relaunch"); err != nil {
		t.Fatalf("RenameProject failed: %v", err)
	}
	if got := s.Project(); got.Name != "Relaunch" {
		t.Errorf("expected renamed project, got %q", got.Name)
	}

	policy := models.ArchiveWeek
	if err := s.UpdateSettings(ctx, nil, &policy); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if got := s.Project(); got.ArchivePolicy != models.ArchiveWeek {
		t.Errorf("expected 1week policy, got %q", got.ArchivePolicy)
	}

	bad := models.ArchivePolicy("fortnight")
	if err := s.UpdateSettings(ctx, nil, &bad); KindOf(err) != KindValidationFailed {
		t.Errorf("expected validation failure for bad policy, got %v", err)
	}

	if err := s.UpdateSettings(ctx, nil, nil); err != nil || remote.count("UpdateProjectSettings") != 1 {
		t.Errorf("empty settings update must be a no-op, err=%v calls=%d", err, remote.count("UpdateProjectSettings"))
	}
}

// ==================== REMOTE RECONCILIATION ====================

func TestApplyRemoteLastWriteWins(t *testing.T) {
	older := seedTask("task-a", "col-todo", 1024)
	older.Title = "older"
	older.UpdatedAt = seedStamp - 1

	equal := seedTask("task-a", "col-todo", 1024)
	equal.Title = "echo"
	equal.UpdatedAt = seedStamp

	newer := seedTask("task-a", "col-todo", 1024)
	newer.Title = "newer"
	newer.UpdatedAt = seedStamp + 1

	tests := []struct {
		name      string
		task      *models.Task
		wantApply bool
		wantTitle string
	}{
		{"older push discarded", older, false, "task task-a"},
		{"equal stamp treated as echo", equal, false, "task task-a"},
		{"newer push replaces", newer, true, "newer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(newFakeRemote())
			applied := s.ApplyRemote(models.BoardEvent{
				Type:      models.EventTaskUpserted,
				ProjectID: "proj-1",
				Task:      tt.task,
			})
			if applied != tt.wantApply {
				t.Fatalf("expected applied=%v, got %v", tt.wantApply, applied)
			}
			if got := s.Task("task-a"); got.Title != tt.wantTitle {
				t.Errorf("expected title %q, got %q", tt.wantTitle, got.Title)
			}
		})
	}
}

func TestApplyRemoteConvergesRegardlessOfArrivalOrder(t *testing.T) {
	evA := models.BoardEvent{Type: models.EventTaskUpserted, ProjectID: "proj-1"}
	a := seedTask("task-a", "col-todo", 1024)
	a.Title = "first writer"
	a.UpdatedAt = 5000
	evA.Task = a

	evB := models.BoardEvent{Type: models.EventTaskUpserted, ProjectID: "proj-1"}
	b := seedTask("task-a", "col-todo", 1024)
	b.Title = "second writer"
	b.UpdatedAt = 6000
	evB.Task = b

	s1 := newTestSession(newFakeRemote())
	s1.ApplyRemote(evA)
	s1.ApplyRemote(evB)

	s2 := newTestSession(newFakeRemote())
	s2.ApplyRemote(evB)
	s2.ApplyRemote(evA)

	t1, t2 := s1.Task("task-a"), s2.Task("task-a")
	if t1.Title != t2.Title || t1.Title != "second writer" {
		t.Errorf("mirrors diverged: %q vs %q", t1.Title, t2.Title)
	}
}

func TestApplyRemoteNewTaskAndColumn(t *testing.T) {
	s := newTestSession(newFakeRemote())

	col := &models.Column{ID: "col-new", ProjectID: "proj-1", Title: "Blocked", OrderKey: 3072, UpdatedAt: 2000}
	if !s.ApplyRemote(models.BoardEvent{Type: models.EventColumnUpserted, ProjectID: "proj-1", Column: col}) {
		t.Fatal("expected new column to apply")
	}
	task := seedTask("task-new", "col-new", 1024)
	task.UpdatedAt = 2000
	if !s.ApplyRemote(models.BoardEvent{Type: models.EventTaskUpserted, ProjectID: "proj-1", Task: task}) {
		t.Fatal("expected new task to apply")
	}
	if got := s.orderedTaskIDs("col-new"); len(got) != 1 || got[0] != "task-new" {
		t.Errorf("expected task-new in new column, got %v", got)
	}
}

func TestApplyRemoteIgnoresOtherProjects(t *testing.T) {
	s := newTestSession(newFakeRemote())
	task := seedTask("task-x", "col-todo", 9999)
	task.ProjectID = "proj-other"
	if s.ApplyRemote(models.BoardEvent{Type: models.EventTaskUpserted, ProjectID: "proj-other", Task: task}) {
		t.Error("events for other projects must be discarded")
	}
	if s.Task("task-x") != nil {
		t.Error("mirror must not absorb foreign tasks")
	}
}

func TestApplyRemoteProjectUpdate(t *testing.T) {
	s := newTestSession(newFakeRemote())

	p := s.Project()
	p.Name = "Renamed Elsewhere"
	p.UpdatedAt = futureStamp()
	if !s.ApplyRemote(models.BoardEvent{Type: models.EventProjectUpdated, ProjectID: "proj-1", Project: p}) {
		t.Fatal("expected newer project push to apply")
	}
	if got := s.Project(); got.Name != "Renamed Elsewhere" {
		t.Errorf("expected project replaced, got %q", got.Name)
	}

	stale := s.Project()
	stale.Name = "Old News"
	stale.UpdatedAt = seedStamp
	if s.ApplyRemote(models.BoardEvent{Type: models.EventProjectUpdated, ProjectID: "proj-1", Project: stale}) {
		t.Error("stale project push must be discarded")
	}
}

// ==================== TEARDOWN ====================

func TestCloseStopsAllMutation(t *testing.T) {
	remote := newFakeRemote()
	cancelled := 0
	s := NewSession("user-1", seedSnapshot(), remote, func() { cancelled++ })

	s.Close()
	s.Close()
	if cancelled != 1 {
		t.Fatalf("expected cancel invoked exactly once, got %d", cancelled)
	}
	if !s.Closed() {
		t.Fatal("expected session closed")
	}

	if _, err := s.AddTask(context.Background(), TaskDraft{ColumnID: "col-todo", Title: "x"}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from AddTask, got %v", err)
	}
	if err := s.MoveTask(context.Background(), "task-a", "col-doing", 0); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from MoveTask, got %v", err)
	}

	fresh := seedTask("task-z", "col-todo", 9000)
	fresh.UpdatedAt = futureStamp()
	if s.ApplyRemote(models.BoardEvent{Type: models.EventTaskUpserted, ProjectID: "proj-1", Task: fresh}) {
		t.Error("closed session must discard pushes")
	}
	if remote.total() != 0 {
		t.Errorf("closed session must not write, saw %v", remote.sequence())
	}
}

func TestProjectDeletionClosesSession(t *testing.T) {
	done := make(chan struct{})
	s := NewSession("user-1", seedSnapshot(), newFakeRemote(), func() { close(done) })

	if !s.ApplyRemote(models.BoardEvent{Type: models.EventProjectDeleted, ProjectID: "proj-1"}) {
		t.Fatal("expected project deletion to apply")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected cancel to run after project deletion")
	}
	if !s.Closed() {
		t.Error("expected session closed after project deletion")
	}
}
