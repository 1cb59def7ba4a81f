package models

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// BoardClientMessage is an intent from a connected board client.
type BoardClientMessage struct {
	Type string `json:"type"` // "add_task", "update_task", "move_task", "toggle_complete", "archive_task", "set_labels", "add_comment", "add_column", "rename_column", "set_column_terminal", "delete_column", "move_column", "rename_project", "update_settings", "add_label", "update_label", "delete_label", "cursor_move", "cursor_leave", "ping"

	// Intent id echoed back on acks so the client can match failures to
	// the optimistic change it needs to revert.
	OpID string `json:"op_id,omitempty"`

	TaskID   string `json:"task_id,omitempty"`
	ColumnID string `json:"column_id,omitempty"`

	// move_task / move_column
	TargetColumnID string `json:"target_column_id,omitempty"`
	TargetIndex    int    `json:"target_index"`

	// set_column_terminal
	Terminal bool `json:"terminal"`

	// add_task / update_task
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Priority    *string  `json:"priority,omitempty"`
	Deadline    *int64   `json:"deadline,omitempty"` // Unix milliseconds, 0 clears
	ParentID    *string  `json:"parent_id,omitempty"`
	AssigneeIDs []string `json:"assignee_ids,omitempty"`
	LabelIDs    []string `json:"label_ids,omitempty"`

	// add_comment
	Text string `json:"text,omitempty"`

	// add_label / update_label / delete_label
	LabelID string `json:"label_id,omitempty"`
	Color   string `json:"color,omitempty"`

	// update_settings
	ArchivePolicy *string       `json:"archive_policy,omitempty"`
	Features      *FeatureFlags `json:"features,omitempty"`

	// cursor_move
	Cursor *CursorPosition `json:"cursor,omitempty"`
}

// BoardServerMessage is a message pushed to a board client: board events,
// operation acks, or errors.
type BoardServerMessage struct {
	Type      string      `json:"type"`
	OpID      string      `json:"op_id,omitempty"`
	ErrorKind string      `json:"error_kind,omitempty"` // "not_found", "stale", "validation_failed", "persistence_failed", "unauthorized"
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// BoardConnection is one live WebSocket on a board.
type BoardConnection struct {
	ConnID      string
	UserID      string
	ProjectID   string
	DisplayName string
	Color       string
	Conn        *websocket.Conn
	CreatedAt   time.Time
	WriteChan   chan BoardServerMessage
	Mutex       sync.Mutex
	closed      bool
}

// SafeSend sends a message to WriteChan, returning false if the connection
// has been closed. Non-blocking: a full write buffer drops the message
// rather than stalling the board.
func (bc *BoardConnection) SafeSend(msg BoardServerMessage) bool {
	bc.Mutex.Lock()
	if bc.closed {
		bc.Mutex.Unlock()
		return false
	}
	bc.Mutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			bc.Mutex.Lock()
			bc.closed = true
			bc.Mutex.Unlock()
		}
	}()

	select {
	case bc.WriteChan <- msg:
		return true
	default:
		return false
	}
}

// MarkClosed marks the connection as closed.
func (bc *BoardConnection) MarkClosed() {
	bc.Mutex.Lock()
	bc.closed = true
	bc.Mutex.Unlock()
}

// IsClosed reports whether the connection has been marked closed.
func (bc *BoardConnection) IsClosed() bool {
	bc.Mutex.Lock()
	defer bc.Mutex.Unlock()
	return bc.closed
}
