package models

// Board event types flowing from the stores through the event bus to every
// session subscribed to the project.
const (
	EventTaskUpserted   = "task_upserted"
	EventTaskDeleted    = "task_deleted"
	EventColumnUpserted = "column_upserted"
	EventColumnDeleted  = "column_deleted"
	EventProjectUpdated = "project_updated"
	EventProjectDeleted = "project_deleted"
	EventPresence       = "presence"
	EventPresenceLeft   = "presence_left"
)

// BoardEvent is the envelope for everything that happens on a board. It is
// a tagged variant: Type selects which payload pointer is set. Deletes carry
// only the entity id.
type BoardEvent struct {
	Type      string          `json:"type"`
	ProjectID string          `json:"project_id"`
	ActorID   string          `json:"actor_id,omitempty"` // User who caused the event
	Task      *Task           `json:"task,omitempty"`
	Column    *Column         `json:"column,omitempty"`
	Project   *Project        `json:"project,omitempty"`
	TaskID    string          `json:"task_id,omitempty"`
	ColumnID  string          `json:"column_id,omitempty"`
	Presence  *PresenceRecord `json:"presence,omitempty"`
	UserID    string          `json:"user_id,omitempty"`   // For presence_left
	Timestamp int64           `json:"timestamp"`           // Unix milliseconds
}
