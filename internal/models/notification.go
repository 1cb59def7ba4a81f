package models

import "time"

// NotificationAction is the optional embedded accept/decline payload for
// invitation notifications.
type NotificationAction struct {
	ProjectID    string `bson:"projectId" json:"project_id"`
	InvitationID string `bson:"invitationId" json:"invitation_id"`
}

// Notification is a per-user inbox entry. Read state is one-way: once read
// it never reverts. Actioned marks invitation notifications as resolved.
type Notification struct {
	ID        string              `bson:"_id" json:"id"`
	UserID    string              `bson:"userId" json:"user_id"`
	Text      string              `bson:"text" json:"text"`
	Link      string              `bson:"link,omitempty" json:"link,omitempty"`
	Read      bool                `bson:"read" json:"read"`
	Actioned  bool                `bson:"actioned" json:"actioned"`
	Action    *NotificationAction `bson:"action,omitempty" json:"action,omitempty"`
	CreatedAt time.Time           `bson:"createdAt" json:"created_at"`
}
