package services

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"flowboard/internal/board"
	"flowboard/internal/database"
	"flowboard/internal/models"
)

// ProjectStore handles MongoDB CRUD for projects. The members set and the
// pending invitation set live on the project document, so every membership
// transition is a single atomic document update; cross-collection steps
// (notifications) are composed on top inside a transaction by
// InvitationService.
type ProjectStore struct {
	collection *mongo.Collection
}

// NewProjectStore creates a new project store
func NewProjectStore(mongodb *database.MongoDB) *ProjectStore {
	return &ProjectStore{
		collection: mongodb.Collection(database.CollectionProjects),
	}
}

// Create inserts a new project
func (s *ProjectStore) Create(ctx context.Context, project *models.Project) error {
	if _, err := s.collection.InsertOne(ctx, project); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return board.Stalef("project %s already exists", project.ID)
		}
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// Get retrieves a project by id
func (s *ProjectStore) Get(ctx context.Context, projectID string) (*models.Project, error) {
	var project models.Project
	err := s.collection.FindOne(ctx, bson.M{"_id": projectID}).Decode(&project)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, board.NotFoundf("project %s does not exist", projectID)
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &project, nil
}

// GetForMember retrieves a project and verifies the caller belongs to it.
func (s *ProjectStore) GetForMember(ctx context.Context, projectID, userID string) (*models.Project, error) {
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !project.HasMember(userID) {
		return nil, board.Unauthorizedf("user %s is not a member of project %s", userID, projectID)
	}
	return project, nil
}

// ListForUser returns the projects a user belongs to, most recently
// updated first.
func (s *ProjectStore) ListForUser(ctx context.Context, userID string) ([]*models.Project, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"memberIds": userID},
		options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer cursor.Close(ctx)

	var projects []*models.Project
	if err := cursor.All(ctx, &projects); err != nil {
		return nil, fmt.Errorf("failed to decode projects: %w", err)
	}
	return projects, nil
}

// ListPendingForUser returns projects holding a pending invitation for the
// user.
func (s *ProjectStore) ListPendingForUser(ctx context.Context, userID string) ([]*models.Project, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"pendingInvitations.userId": userID},
		options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer cursor.Close(ctx)

	var projects []*models.Project
	if err := cursor.All(ctx, &projects); err != nil {
		return nil, fmt.Errorf("failed to decode invited projects: %w", err)
	}
	return projects, nil
}

// ListSweepable returns projects whose auto-archive policy is active.
func (s *ProjectStore) ListSweepable(ctx context.Context) ([]*models.Project, error) {
	cursor, err := s.collection.Find(ctx, bson.M{
		"archivePolicy": bson.M{"$in": []models.ArchivePolicy{
			models.ArchiveDay, models.ArchiveWeek, models.ArchiveMonth,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sweepable projects: %w", err)
	}
	defer cursor.Close(ctx)

	var projects []*models.Project
	if err := cursor.All(ctx, &projects); err != nil {
		return nil, fmt.Errorf("failed to decode sweepable projects: %w", err)
	}
	return projects, nil
}

// Rename changes the project name, guarded by the timestamp.
func (s *ProjectStore) Rename(ctx context.Context, projectID, name string, updatedAt int64) (*models.Project, error) {
	var stored models.Project
	err := s.collection.FindOneAndUpdate(ctx, bson.M{
		"_id":       projectID,
		"updatedAt": bson.M{"$lt": updatedAt},
	}, bson.M{
		"$set": bson.M{"name": name, "updatedAt": updatedAt},
	}, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&stored)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, s.classifyMiss(ctx, projectID)
		}
		return nil, fmt.Errorf("failed to rename project: %w", err)
	}
	return &stored, nil
}

// UpdateSettings changes feature flags and/or the archive policy, guarded
// by the timestamp.
func (s *ProjectStore) UpdateSettings(ctx context.Context, projectID string, features *models.FeatureFlags, policy *models.ArchivePolicy, updatedAt int64) (*models.Project, error) {
	setFields := bson.M{"updatedAt": updatedAt}
	if features != nil {
		setFields["features"] = *features
	}
	if policy != nil {
		setFields["archivePolicy"] = *policy
	}

	var stored models.Project
	err := s.collection.FindOneAndUpdate(ctx, bson.M{
		"_id":       projectID,
		"updatedAt": bson.M{"$lt": updatedAt},
	}, bson.M{"$set": setFields},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&stored)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, s.classifyMiss(ctx, projectID)
		}
		return nil, fmt.Errorf("failed to update project settings: %w", err)
	}
	return &stored, nil
}

// ==================== LABELS ====================

// AddLabel appends a label to the project's label set.
func (s *ProjectStore) AddLabel(ctx context.Context, projectID string, label models.Label, updatedAt int64) (*models.Project, error) {
	var stored models.Project
	err := s.collection.FindOneAndUpdate(ctx, bson.M{
		"_id":       projectID,
		"updatedAt": bson.M{"$lt": updatedAt},
	}, bson.M{
		"$push": bson.M{"labels": label},
		"$set":  bson.M{"updatedAt": updatedAt},
	}, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&stored)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, s.classifyMiss(ctx, projectID)
		}
		return nil, fmt.Errorf("failed to add label: %w", err)
	}
	return &stored, nil
}

// UpdateLabel rewrites one label in place.
func (s *ProjectStore) UpdateLabel(ctx context.Context, projectID string, label models.Label, updatedAt int64) (*models.Project, error) {
	var stored models.Project
	err := s.collection.FindOneAndUpdate(ctx, bson.M{
		"_id":       projectID,
		"labels.id": label.ID,
		"updatedAt": bson.M{"$lt": updatedAt},
	}, bson.M{
		"$set": bson.M{
			"labels.$[l].name":  label.Name,
			"labels.$[l].color": label.Color,
			"updatedAt":         updatedAt,
		},
	}, options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetArrayFilters(options.ArrayFilters{Filters: []interface{}{bson.M{"l.id": label.ID}}}),
	).Decode(&stored)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, s.classifyLabelMiss(ctx, projectID, label.ID)
		}
		return nil, fmt.Errorf("failed to update label: %w", err)
	}
	return &stored, nil
}

// PullLabel removes a label from the project's label set. Stripping it
// from tasks is TaskStore.PullLabel's job.
func (s *ProjectStore) PullLabel(ctx context.Context, projectID, labelID string, updatedAt int64) (*models.Project, error) {
	var stored models.Project
	err := s.collection.FindOneAndUpdate(ctx, bson.M{
		"_id":       projectID,
		"labels.id": labelID,
	}, bson.M{
		"$pull": bson.M{"labels": bson.M{"id": labelID}},
		"$max":  bson.M{"updatedAt": updatedAt},
	}, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&stored)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, s.classifyLabelMiss(ctx, projectID, labelID)
		}
		return nil, fmt.Errorf("failed to delete label: %w", err)
	}
	return &stored, nil
}

// ==================== MEMBERSHIP ====================

// Membership writes ride on single-document conditional updates: the
// filter states the precondition and the update moves the user in one
// command, so a user can never end up in both the pending and member
// sets. The builders are separated out so the shapes can be tested
// without a live database.

func addInvitationFilter(projectID, inviterID, inviteeID string) bson.M {
	return bson.M{
		"$and": []bson.M{
			{"_id": projectID},
			{"memberIds": inviterID},
			{"memberIds": bson.M{"$ne": inviteeID}},
			{"pendingInvitations.userId": bson.M{"$ne": inviteeID}},
		},
	}
}

func invitationFilter(projectID, invitationID, userID string) bson.M {
	return bson.M{
		"_id": projectID,
		"pendingInvitations": bson.M{
			"$elemMatch": bson.M{"id": invitationID, "userId": userID},
		},
	}
}

func acceptInvitationUpdate(invitationID, userID string, updatedAt int64) bson.M {
	return bson.M{
		"$pull":     bson.M{"pendingInvitations": bson.M{"id": invitationID}},
		"$addToSet": bson.M{"memberIds": userID},
		"$set":      bson.M{"updatedAt": updatedAt},
	}
}

func declineInvitationUpdate(invitationID string, updatedAt int64) bson.M {
	return bson.M{
		"$pull": bson.M{"pendingInvitations": bson.M{"id": invitationID}},
		"$set":  bson.M{"updatedAt": updatedAt},
	}
}

// AddInvitation records a pending invitation. The filter enforces the
// membership invariants in one atomic step: the inviter must be a member,
// and the invitee must be neither a member nor already pending.
func (s *ProjectStore) AddInvitation(ctx context.Context, projectID, inviterID string, inv models.Invitation, updatedAt int64) (*models.Project, error) {
	var stored models.Project
	err := s.collection.FindOneAndUpdate(ctx,
		addInvitationFilter(projectID, inviterID, inv.UserID),
		bson.M{
			"$push": bson.M{"pendingInvitations": inv},
			"$set":  bson.M{"updatedAt": updatedAt},
		}, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&stored)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, s.classifyInviteMiss(ctx, projectID, inviterID, inv.UserID)
		}
		return nil, fmt.Errorf("failed to add invitation: %w", err)
	}
	return &stored, nil
}

// AcceptInvitation atomically moves a user from the pending set to the
// member set. A missing invitation on an existing project means someone
// resolved it concurrently.
func (s *ProjectStore) AcceptInvitation(ctx context.Context, projectID, invitationID, userID string, updatedAt int64) (*models.Project, error) {
	var stored models.Project
	err := s.collection.FindOneAndUpdate(ctx,
		invitationFilter(projectID, invitationID, userID),
		acceptInvitationUpdate(invitationID, userID, updatedAt),
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&stored)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, s.classifyInvitationMiss(ctx, projectID)
		}
		return nil, fmt.Errorf("failed to accept invitation: %w", err)
	}
	return &stored, nil
}

// DeclineInvitation removes a pending invitation without granting
// membership.
func (s *ProjectStore) DeclineInvitation(ctx context.Context, projectID, invitationID, userID string, updatedAt int64) (*models.Project, error) {
	var stored models.Project
	err := s.collection.FindOneAndUpdate(ctx,
		invitationFilter(projectID, invitationID, userID),
		declineInvitationUpdate(invitationID, updatedAt),
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&stored)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, s.classifyInvitationMiss(ctx, projectID)
		}
		return nil, fmt.Errorf("failed to decline invitation: %w", err)
	}
	return &stored, nil
}

// RemoveInvitation revokes a pending invitation regardless of invitee
// (owner cancelling an invite).
func (s *ProjectStore) RemoveInvitation(ctx context.Context, projectID, invitationID string, updatedAt int64) (*models.Project, error) {
	var stored models.Project
	err := s.collection.FindOneAndUpdate(ctx, bson.M{
		"_id":                   projectID,
		"pendingInvitations.id": invitationID,
	}, bson.M{
		"$pull": bson.M{"pendingInvitations": bson.M{"id": invitationID}},
		"$set":  bson.M{"updatedAt": updatedAt},
	}, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&stored)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, s.classifyInvitationMiss(ctx, projectID)
		}
		return nil, fmt.Errorf("failed to remove invitation: %w", err)
	}
	return &stored, nil
}

// RemoveMember takes a user out of the members set. The owner can never be
// removed.
func (s *ProjectStore) RemoveMember(ctx context.Context, projectID, memberID string, updatedAt int64) (*models.Project, error) {
	var stored models.Project
	err := s.collection.FindOneAndUpdate(ctx, bson.M{
		"_id":       projectID,
		"ownerId":   bson.M{"$ne": memberID},
		"memberIds": memberID,
	}, bson.M{
		"$pull": bson.M{"memberIds": memberID},
		"$set":  bson.M{"updatedAt": updatedAt},
	}, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&stored)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, s.classifyMemberMiss(ctx, projectID, memberID)
		}
		return nil, fmt.Errorf("failed to remove member: %w", err)
	}
	return &stored, nil
}

// Delete removes a project. Only the owner may do this; column, task and
// notification cascades are the caller's job.
func (s *ProjectStore) Delete(ctx context.Context, projectID, ownerID string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": projectID, "ownerId": ownerID})
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if result.DeletedCount == 0 {
		if _, getErr := s.Get(ctx, projectID); getErr != nil {
			return getErr
		}
		return board.Unauthorizedf("only the owner can delete project %s", projectID)
	}
	return nil
}

// ==================== MISS CLASSIFICATION ====================

func (s *ProjectStore) classifyMiss(ctx context.Context, projectID string) error {
	count, err := s.collection.CountDocuments(ctx, bson.M{"_id": projectID})
	if err != nil {
		return fmt.Errorf("failed to classify write miss: %w", err)
	}
	if count == 0 {
		return board.NotFoundf("project %s does not exist", projectID)
	}
	return board.Stalef("project %s has a newer version", projectID)
}

func (s *ProjectStore) classifyLabelMiss(ctx context.Context, projectID, labelID string) error {
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if project.LabelByID(labelID) == nil {
		return board.NotFoundf("label %s does not exist", labelID)
	}
	return board.Stalef("project %s has a newer version", projectID)
}

func (s *ProjectStore) classifyInviteMiss(ctx context.Context, projectID, inviterID, inviteeID string) error {
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if !project.HasMember(inviterID) {
		return board.Unauthorizedf("user %s is not a member of project %s", inviterID, projectID)
	}
	if project.HasMember(inviteeID) {
		return board.Invalidf("user is already a member")
	}
	if project.PendingFor(inviteeID) != nil {
		return board.Invalidf("user already has a pending invitation")
	}
	return board.Stalef("project %s changed concurrently", projectID)
}

func (s *ProjectStore) classifyInvitationMiss(ctx context.Context, projectID string) error {
	if _, err := s.Get(ctx, projectID); err != nil {
		return err
	}
	return board.Stalef("invitation was already resolved")
}

func (s *ProjectStore) classifyMemberMiss(ctx context.Context, projectID, memberID string) error {
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if project.OwnerID == memberID {
		return board.Invalidf("the owner cannot leave their own project")
	}
	if !project.HasMember(memberID) {
		return board.Stalef("user %s is no longer a member", memberID)
	}
	return board.Stalef("project %s changed concurrently", projectID)
}
