package models

// CursorPosition is a live pointer coordinate in board space.
type CursorPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PresenceRecord is the ephemeral per-user broadcast: who is on the board
// and where their cursor is. Never persisted; lifetime is the session.
// A nil Cursor means the user is present but idle (pointer left the board).
type PresenceRecord struct {
	UserID      string          `json:"user_id"`
	DisplayName string          `json:"display_name"`
	Color       string          `json:"color"`
	Cursor      *CursorPosition `json:"cursor,omitempty"`
	UpdatedAt   int64           `json:"updated_at"` // Unix milliseconds, latest wins
}
