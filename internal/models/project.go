package models

// ArchivePolicy controls how long completed tasks stay on the board before
// the auto-archive sweep hides them.
type ArchivePolicy string

const (
	ArchiveNever ArchivePolicy = "never"
	ArchiveDay   ArchivePolicy = "1day"
	ArchiveWeek  ArchivePolicy = "1week"
	ArchiveMonth ArchivePolicy = "1month"
)

// ValidArchivePolicy reports whether p is one of the supported policies.
func ValidArchivePolicy(p ArchivePolicy) bool {
	switch p {
	case ArchiveNever, ArchiveDay, ArchiveWeek, ArchiveMonth:
		return true
	}
	return false
}

// WindowMillis returns the policy's age threshold in milliseconds.
// Returns 0 for ArchiveNever (callers must check the policy first).
func (p ArchivePolicy) WindowMillis() int64 {
	const day = int64(24 * 60 * 60 * 1000)
	switch p {
	case ArchiveDay:
		return day
	case ArchiveWeek:
		return 7 * day
	case ArchiveMonth:
		return 30 * day
	}
	return 0
}

// FeatureFlags gates optional board features per project.
type FeatureFlags struct {
	Subtasks  bool `bson:"subtasks" json:"subtasks"`
	Deadlines bool `bson:"deadlines" json:"deadlines"`
	Labels    bool `bson:"labels" json:"labels"`
	Dashboard bool `bson:"dashboard" json:"dashboard"`
}

// Label is a project-scoped tag referenced by tasks via id.
type Label struct {
	ID    string `bson:"id" json:"id"`
	Name  string `bson:"name" json:"name"`
	Color string `bson:"color" json:"color"` // Hex color
}

// Invitation is a pending membership offer. It exists only inside a
// project's pending set and is removed on accept or decline.
type Invitation struct {
	ID          string `bson:"id" json:"id"`
	UserID      string `bson:"userId" json:"user_id"`
	Email       string `bson:"email" json:"email"`
	DisplayName string `bson:"displayName" json:"display_name"`
	InvitedAt   int64  `bson:"invitedAt" json:"invited_at"` // Unix milliseconds
}

// Project is the root board document: settings, labels and membership live
// here; columns and tasks are separate documents keyed by project id.
type Project struct {
	ID            string        `bson:"_id" json:"id"`
	Name          string        `bson:"name" json:"name"`
	Description   string        `bson:"description,omitempty" json:"description,omitempty"`
	OwnerID       string        `bson:"ownerId" json:"owner_id"` // Immutable after creation
	MemberIDs     []string      `bson:"memberIds" json:"member_ids"`
	Pending       []Invitation  `bson:"pendingInvitations" json:"pending_invitations"`
	Features      FeatureFlags  `bson:"features" json:"features"`
	Labels        []Label       `bson:"labels" json:"labels"`
	ArchivePolicy ArchivePolicy `bson:"archivePolicy" json:"archive_policy"`
	CreatedAt     int64         `bson:"createdAt" json:"created_at"` // Unix milliseconds
	UpdatedAt     int64         `bson:"updatedAt" json:"updated_at"` // Unix milliseconds, last-write-wins key
}

// HasMember reports whether userID is in the members set.
func (p *Project) HasMember(userID string) bool {
	for _, id := range p.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// PendingFor returns the pending invitation addressed to userID, or nil.
func (p *Project) PendingFor(userID string) *Invitation {
	for i := range p.Pending {
		if p.Pending[i].UserID == userID {
			return &p.Pending[i]
		}
	}
	return nil
}

// InvitationByID returns the pending invitation with the given id, or nil.
func (p *Project) InvitationByID(invitationID string) *Invitation {
	for i := range p.Pending {
		if p.Pending[i].ID == invitationID {
			return &p.Pending[i]
		}
	}
	return nil
}

// LabelByID returns the project label with the given id, or nil.
func (p *Project) LabelByID(labelID string) *Label {
	for i := range p.Labels {
		if p.Labels[i].ID == labelID {
			return &p.Labels[i]
		}
	}
	return nil
}
