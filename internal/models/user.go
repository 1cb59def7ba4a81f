package models

import "time"

// User is an account at the identity boundary. The sync engine only ever
// sees the id, display name and color.
type User struct {
	ID           string    `bson:"_id" json:"id"`
	Email        string    `bson:"email" json:"email"`
	DisplayName  string    `bson:"displayName" json:"display_name"`
	PasswordHash string    `bson:"passwordHash,omitempty" json:"-"` // Argon2id hash, never exposed in API
	Color        string    `bson:"color" json:"color"`              // Assigned at registration, used for presence cursors
	CreatedAt    time.Time `bson:"createdAt" json:"created_at"`
	LastLoginAt  time.Time `bson:"lastLoginAt" json:"last_login_at"`
}
