package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"flowboard/internal/board"
	"flowboard/internal/database"
	"flowboard/internal/models"
)

// NotificationStore handles MongoDB CRUD for user notifications. Delivery
// is one-way: the server writes, the user reads and marks read; nothing
// flows back into board state.
type NotificationStore struct {
	collection *mongo.Collection
}

// NewNotificationStore creates a new notification store
func NewNotificationStore(mongodb *database.MongoDB) *NotificationStore {
	return &NotificationStore{
		collection: mongodb.Collection(database.CollectionNotifications),
	}
}

// Create inserts a notification
func (s *NotificationStore) Create(ctx context.Context, n *models.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if _, err := s.collection.InsertOne(ctx, n); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListForUser returns a user's notifications newest-first.
func (s *NotificationStore) ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int64) ([]*models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	filter := bson.M{"userId": userID}
	if unreadOnly {
		filter["read"] = false
	}
	cursor, err := s.collection.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer cursor.Close(ctx)

	var notifications []*models.Notification
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}
	return notifications, nil
}

// CountUnread returns the user's unread notification count.
func (s *NotificationStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{"userId": userID, "read": false})
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead flags one notification as read.
func (s *NotificationStore) MarkRead(ctx context.Context, userID, notificationID string) error {
	result, err := s.collection.UpdateOne(ctx, bson.M{
		"_id":    notificationID,
		"userId": userID,
	}, bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if result.MatchedCount == 0 {
		return board.NotFoundf("notification %s does not exist", notificationID)
	}
	return nil
}

// MarkAllRead flags every unread notification of a user as read.
func (s *NotificationStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	result, err := s.collection.UpdateMany(ctx, bson.M{
		"userId": userID,
		"read":   false,
	}, bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return result.ModifiedCount, nil
}

// MarkActioned records that the notification's call to action (an
// invitation) has been resolved. Used inside the accept/decline
// transaction so the button cannot be pressed twice.
func (s *NotificationStore) MarkActioned(ctx context.Context, userID, notificationID string) error {
	result, err := s.collection.UpdateOne(ctx, bson.M{
		"_id":      notificationID,
		"userId":   userID,
		"actioned": false,
	}, bson.M{"$set": bson.M{"actioned": true, "read": true}})
	if err != nil {
		return fmt.Errorf("failed to mark notification actioned: %w", err)
	}
	if result.MatchedCount == 0 {
		return board.Stalef("notification %s was already actioned", notificationID)
	}
	return nil
}

// FindInvitationNotice locates the unactioned notification that carries a
// given invitation action, if any.
func (s *NotificationStore) FindInvitationNotice(ctx context.Context, userID, projectID, invitationID string) (*models.Notification, error) {
	var n models.Notification
	err := s.collection.FindOne(ctx, bson.M{
		"userId":              userID,
		"action.projectId":    projectID,
		"action.invitationId": invitationID,
		"actioned":            false,
	}).Decode(&n)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find invitation notice: %w", err)
	}
	return &n, nil
}

// DeleteOlderThan removes notifications created before the cutoff.
// Retention is enforced by a scheduled job rather than a TTL index so the
// window stays configurable at runtime.
func (s *NotificationStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.collection.DeleteMany(ctx, bson.M{
		"createdAt": bson.M{"$lt": cutoff},
		"read":      true,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune notifications: %w", err)
	}
	return result.DeletedCount, nil
}

// DeleteByProject removes notifications pointing at a deleted project.
func (s *NotificationStore) DeleteByProject(ctx context.Context, projectID string) error {
	if _, err := s.collection.DeleteMany(ctx, bson.M{"action.projectId": projectID}); err != nil {
		return fmt.Errorf("failed to delete project notifications: %w", err)
	}
	return nil
}
