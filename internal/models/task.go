package models

// Priority is one of four ranked levels. Default is PriorityMedium.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ValidPriority reports whether p is one of the four levels.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Activity entry kinds. An entry is either a system log line or a user
// comment; there are no other shapes.
const (
	ActivityLog     = "log"
	ActivityComment = "comment"
)

// ActivityEntry is one line of a task's append-only activity log.
type ActivityEntry struct {
	Kind      string `bson:"kind" json:"kind"` // "log" or "comment"
	Text      string `bson:"text" json:"text"`
	UserID    string `bson:"userId" json:"user_id"`
	Timestamp int64  `bson:"timestamp" json:"timestamp"` // Unix milliseconds
}

// Task is a card on the board. Order within a column is determined by
// OrderKey; subtasks reference their parent via ParentID and are at most
// one level deep.
type Task struct {
	ID          string          `bson:"_id" json:"id"`
	ProjectID   string          `bson:"projectId" json:"project_id"`
	ColumnID    string          `bson:"columnId" json:"column_id"`
	OrderKey    float64         `bson:"orderKey" json:"order_key"`
	Title       string          `bson:"title" json:"title"`
	Description string          `bson:"description,omitempty" json:"description,omitempty"`
	AssigneeIDs []string        `bson:"assigneeIds" json:"assignee_ids"`
	Priority    Priority        `bson:"priority" json:"priority"`
	Deadline    *int64          `bson:"deadline,omitempty" json:"deadline,omitempty"`       // Unix milliseconds
	CompletedAt *int64          `bson:"completedAt,omitempty" json:"completed_at,omitempty"` // Unix milliseconds
	ParentID    string          `bson:"parentId,omitempty" json:"parent_id,omitempty"`
	LabelIDs    []string        `bson:"labelIds" json:"label_ids"`
	Activity    []ActivityEntry `bson:"activity" json:"activity"`
	Archived    bool            `bson:"archived" json:"archived"`
	CreatedAt   int64           `bson:"createdAt" json:"created_at"`
	UpdatedAt   int64           `bson:"updatedAt" json:"updated_at"` // Last-write-wins key
}

// IsSubtask reports whether the task has a parent.
func (t *Task) IsSubtask() bool {
	return t.ParentID != ""
}

// IsCompleted reports whether a completion timestamp is set.
func (t *Task) IsCompleted() bool {
	return t.CompletedAt != nil
}

// HasLabel reports whether labelID is in the task's label set.
func (t *Task) HasLabel(labelID string) bool {
	for _, id := range t.LabelIDs {
		if id == labelID {
			return true
		}
	}
	return false
}
