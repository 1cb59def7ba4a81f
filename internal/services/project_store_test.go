package services

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"flowboard/internal/models"
)

// The membership invariant (a user is never in both the pending set and
// the member set) is enforced by the shape of the conditional writes, not
// by application code that could race. These tests drive the filter and
// update documents against in-memory projects to prove the shapes encode
// the invariant.

func membershipProject() *models.Project {
	return &models.Project{
		ID:        "proj-1",
		OwnerID:   "owner",
		MemberIDs: []string{"owner", "alice"},
		Pending: []models.Invitation{
			{ID: "inv-1", UserID: "bob", Email: "bob@example.com", InvitedAt: 1000},
		},
		UpdatedAt: 1000,
	}
}

// matchesInvitationFilter evaluates the accept/decline precondition the
// way Mongo would: the project id matches and one pending entry carries
// both the invitation id and the invitee id.
func matchesInvitationFilter(t *testing.T, p *models.Project, filter bson.M) bool {
	t.Helper()
	if filter["_id"] != p.ID {
		return false
	}
	elem, ok := filter["pendingInvitations"].(bson.M)["$elemMatch"].(bson.M)
	if !ok {
		t.Fatal("filter must match the pending entry with $elemMatch")
	}
	for _, inv := range p.Pending {
		if inv.ID == elem["id"] && inv.UserID == elem["userId"] {
			return true
		}
	}
	return false
}

// applyAcceptUpdate mutates the project the way Mongo applies the accept
// command: $pull the invitation, $addToSet the member, $set the stamp.
func applyAcceptUpdate(t *testing.T, p *models.Project, update bson.M) {
	t.Helper()
	pulled, ok := update["$pull"].(bson.M)["pendingInvitations"].(bson.M)
	if !ok {
		t.Fatal("accept update must $pull the pending invitation")
	}
	kept := p.Pending[:0]
	for _, inv := range p.Pending {
		if inv.ID != pulled["id"] {
			kept = append(kept, inv)
		}
	}
	p.Pending = kept

	added, ok := update["$addToSet"].(bson.M)["memberIds"].(string)
	if !ok {
		t.Fatal("accept update must $addToSet the member id")
	}
	if !p.HasMember(added) {
		p.MemberIDs = append(p.MemberIDs, added)
	}
	p.UpdatedAt = update["$set"].(bson.M)["updatedAt"].(int64)
}

func TestAcceptInvitationMovesUserAtomically(t *testing.T) {
	p := membershipProject()
	filter := invitationFilter("proj-1", "inv-1", "bob")
	update := acceptInvitationUpdate("inv-1", "bob", 2000)

	// Pull and addToSet travel in one command against one document, so
	// there is no state where bob is in both sets or in neither.
	if _, ok := update["$pull"]; !ok {
		t.Fatal("accept must pull the invitation in the same command that adds the member")
	}
	if _, ok := update["$addToSet"]; !ok {
		t.Fatal("accept must add the member in the same command that pulls the invitation")
	}

	if !matchesInvitationFilter(t, p, filter) {
		t.Fatal("expected filter to match the pending invitation")
	}
	applyAcceptUpdate(t, p, update)
	if !p.HasMember("bob") {
		t.Error("expected bob in the member set after accept")
	}
	if p.PendingFor("bob") != nil {
		t.Error("expected bob gone from the pending set after accept")
	}
	if p.UpdatedAt != 2000 {
		t.Errorf("expected stamp 2000, got %d", p.UpdatedAt)
	}

	// A second accept of the same invitation finds no pending entry: the
	// concurrent-resolution case surfaces as a filter miss, never as a
	// duplicate membership write.
	if matchesInvitationFilter(t, p, filter) {
		t.Error("expected filter miss once the invitation is resolved")
	}
}

func TestDeclineInvitationNeverGrantsMembership(t *testing.T) {
	p := membershipProject()
	filter := invitationFilter("proj-1", "inv-1", "bob")
	update := declineInvitationUpdate("inv-1", 2000)

	if !matchesInvitationFilter(t, p, filter) {
		t.Fatal("expected filter to match the pending invitation")
	}
	if _, ok := update["$addToSet"]; ok {
		t.Fatal("decline must not touch the member set")
	}
	pulled := update["$pull"].(bson.M)["pendingInvitations"].(bson.M)
	if pulled["id"] != "inv-1" {
		t.Errorf("expected decline to pull inv-1, got %v", pulled["id"])
	}
}

func TestInvitationFilterRejectsWrongInvitee(t *testing.T) {
	p := membershipProject()

	tests := []struct {
		name         string
		invitationID string
		userID       string
	}{
		{"wrong user", "inv-1", "mallory"},
		{"wrong invitation", "inv-ghost", "bob"},
		{"already resolved", "inv-1", "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if matchesInvitationFilter(t, p, invitationFilter("proj-1", tt.invitationID, tt.userID)) {
				t.Error("expected filter miss")
			}
		})
	}
}

func TestAddInvitationFilterEncodesPreconditions(t *testing.T) {
	p := membershipProject()

	// matches evaluates the $and clauses against the in-memory project.
	matches := func(t *testing.T, inviterID, inviteeID string) bool {
		t.Helper()
		clauses, ok := addInvitationFilter(p.ID, inviterID, inviteeID)["$and"].([]bson.M)
		if !ok || len(clauses) != 4 {
			t.Fatal("invite filter must carry its four preconditions")
		}
		if clauses[0]["_id"] != p.ID {
			return false
		}
		if !p.HasMember(clauses[1]["memberIds"].(string)) {
			return false
		}
		if p.HasMember(clauses[2]["memberIds"].(bson.M)["$ne"].(string)) {
			return false
		}
		if p.PendingFor(clauses[3]["pendingInvitations.userId"].(bson.M)["$ne"].(string)) != nil {
			return false
		}
		return true
	}

	tests := []struct {
		name      string
		inviterID string
		inviteeID string
		want      bool
	}{
		{"member invites new user", "alice", "carol", true},
		{"non-member cannot invite", "mallory", "carol", false},
		{"existing member cannot be invited", "alice", "owner", false},
		{"pending invitee cannot be re-invited", "alice", "bob", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matches(t, tt.inviterID, tt.inviteeID); got != tt.want {
				t.Errorf("expected match=%v, got %v", tt.want, got)
			}
		})
	}
}
