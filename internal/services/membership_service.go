package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"

	"flowboard/internal/board"
	"flowboard/internal/database"
	"flowboard/internal/models"
)

// MembershipService drives the invitation state machine:
// none → pending → member (accept) or declined. The project's pending-set
// update and the invitee's notification commit together in one
// transaction, so an observer never sees an invitation without its
// notification or vice versa.
type MembershipService struct {
	mongodb       *database.MongoDB
	projects      *ProjectStore
	notifications *NotificationStore
	bus           *BoardEventBus
	pubsub        *PubSubService // Optional
}

// NewMembershipService creates the membership service.
func NewMembershipService(mongodb *database.MongoDB, projects *ProjectStore, notifications *NotificationStore, bus *BoardEventBus, pubsub *PubSubService) *MembershipService {
	return &MembershipService{
		mongodb:       mongodb,
		projects:      projects,
		notifications: notifications,
		bus:           bus,
		pubsub:        pubsub,
	}
}

// Invite creates a pending invitation for invitee and the notification
// carrying its accept/decline action. The inviter must be a member; an id
// already in members or pending is rejected before any write.
func (m *MembershipService) Invite(ctx context.Context, projectID, inviterID string, invitee *models.User) (*models.Project, error) {
	now := time.Now().UnixMilli()
	inv := models.Invitation{
		ID:          uuid.New().String(),
		UserID:      invitee.ID,
		Email:       invitee.Email,
		DisplayName: invitee.DisplayName,
		InvitedAt:   now,
	}

	var updated *models.Project
	err := m.mongodb.WithTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		project, err := m.projects.AddInvitation(sessCtx, projectID, inviterID, inv, now)
		if err != nil {
			return err
		}
		updated = project

		notification := &models.Notification{
			ID:     uuid.New().String(),
			UserID: invitee.ID,
			Text:   fmt.Sprintf("You have been invited to join %q", project.Name),
			Link:   "/projects/" + projectID,
			Action: &models.NotificationAction{
				ProjectID:    projectID,
				InvitationID: inv.ID,
			},
			CreatedAt: time.Now(),
		}
		return m.notifications.Create(sessCtx, notification)
	})
	if err != nil {
		return nil, err
	}

	m.publishProject(ctx, updated, now)
	return updated, nil
}

// Accept resolves a pending invitation into membership and marks the
// originating notification actioned. When the invitation was already
// resolved elsewhere, the notification is still marked actioned and the
// caller gets a Stale error — membership is never touched.
func (m *MembershipService) Accept(ctx context.Context, projectID, invitationID, userID string) (*models.Project, error) {
	now := time.Now().UnixMilli()

	var updated *models.Project
	err := m.mongodb.WithTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		project, err := m.projects.AcceptInvitation(sessCtx, projectID, invitationID, userID, now)
		if err != nil {
			return err
		}
		updated = project
		return m.actionNotification(sessCtx, userID, projectID, invitationID)
	})
	if err != nil {
		m.resolveStaleNotice(ctx, err, userID, projectID, invitationID)
		return nil, err
	}

	m.publishProject(ctx, updated, now)
	return updated, nil
}

// Decline removes the pending invitation, leaving membership unchanged.
// Terminal for this invitation id; a later re-invite mints a new one.
func (m *MembershipService) Decline(ctx context.Context, projectID, invitationID, userID string) (*models.Project, error) {
	now := time.Now().UnixMilli()

	var updated *models.Project
	err := m.mongodb.WithTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		project, err := m.projects.DeclineInvitation(sessCtx, projectID, invitationID, userID, now)
		if err != nil {
			return err
		}
		updated = project
		return m.actionNotification(sessCtx, userID, projectID, invitationID)
	})
	if err != nil {
		m.resolveStaleNotice(ctx, err, userID, projectID, invitationID)
		return nil, err
	}

	m.publishProject(ctx, updated, now)
	return updated, nil
}

// CancelInvitation lets a member revoke a pending invitation.
func (m *MembershipService) CancelInvitation(ctx context.Context, projectID, actorID, invitationID string) (*models.Project, error) {
	project, err := m.projects.GetForMember(ctx, projectID, actorID)
	if err != nil {
		return nil, err
	}
	if project.InvitationByID(invitationID) == nil {
		return nil, board.Stalef("invitation was already resolved")
	}

	now := time.Now().UnixMilli()
	updated, err := m.projects.RemoveInvitation(ctx, projectID, invitationID, now)
	if err != nil {
		return nil, err
	}
	m.publishProject(ctx, updated, now)
	return updated, nil
}

// RemoveMember takes memberID off the project. Only the owner removes
// others; anyone may remove themselves (leave). The owner cannot leave.
func (m *MembershipService) RemoveMember(ctx context.Context, projectID, actorID, memberID string) (*models.Project, error) {
	project, err := m.projects.GetForMember(ctx, projectID, actorID)
	if err != nil {
		return nil, err
	}
	if actorID != memberID && project.OwnerID != actorID {
		return nil, board.Unauthorizedf("only the owner can remove other members")
	}

	now := time.Now().UnixMilli()
	updated, err := m.projects.RemoveMember(ctx, projectID, memberID, now)
	if err != nil {
		return nil, err
	}
	m.publishProject(ctx, updated, now)
	return updated, nil
}

// actionNotification marks the invitation's notification actioned and
// read. A notification that cannot be found is not an error — the project
// write is the source of truth.
func (m *MembershipService) actionNotification(ctx context.Context, userID, projectID, invitationID string) error {
	notice, err := m.notifications.FindInvitationNotice(ctx, userID, projectID, invitationID)
	if err != nil || notice == nil {
		return nil
	}
	return m.notifications.MarkActioned(ctx, userID, notice.ID)
}

// resolveStaleNotice marks the notification resolved when accept/decline
// lost the race, so the invitee's inbox does not keep offering a dead
// invitation.
func (m *MembershipService) resolveStaleNotice(ctx context.Context, cause error, userID, projectID, invitationID string) {
	if board.KindOf(cause) != board.KindStale {
		return
	}
	if err := m.actionNotification(ctx, userID, projectID, invitationID); err != nil {
		log.Printf("⚠️ [MEMBERSHIP] Failed to resolve stale invitation notice: %v", err)
	}
}

func (m *MembershipService) publishProject(ctx context.Context, project *models.Project, updatedAt int64) {
	event := models.BoardEvent{
		Type:      models.EventProjectUpdated,
		ProjectID: project.ID,
		Project:   project,
		Timestamp: updatedAt,
	}
	m.bus.Publish(project.ID, event)
	if m.pubsub != nil {
		if err := m.pubsub.PublishBoardEvent(ctx, event); err != nil {
			log.Printf("⚠️ [MEMBERSHIP] Cross-instance publish failed: %v", err)
		}
	}
}
