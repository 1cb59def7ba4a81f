package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"flowboard/internal/board"
	"flowboard/internal/database"
	"flowboard/internal/models"
)

// UserStore handles MongoDB CRUD for user accounts
type UserStore struct {
	collection *mongo.Collection
}

// NewUserStore creates a new user store
func NewUserStore(mongodb *database.MongoDB) *UserStore {
	return &UserStore{
		collection: mongodb.Collection(database.CollectionUsers),
	}
}

// Create inserts a new user. Emails are unique.
func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if _, err := s.collection.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return board.Invalidf("email is already registered")
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by id
func (s *UserStore) GetByID(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.collection.FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, board.NotFoundf("user %s does not exist", userID)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetByEmail retrieves a user by normalized email
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.collection.FindOne(ctx, bson.M{
		"email": strings.ToLower(strings.TrimSpace(email)),
	}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, board.NotFoundf("no account for that email")
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &user, nil
}

// GetMany retrieves a batch of users by id (presence rosters, member
// lists). Missing ids are skipped, not errors.
func (s *UserStore) GetMany(ctx context.Context, userIDs []string) ([]*models.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	cursor, err := s.collection.Find(ctx, bson.M{"_id": bson.M{"$in": userIDs}})
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	defer cursor.Close(ctx)

	var users []*models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	return users, nil
}

// UpdateProfile changes the display name and/or cursor color.
func (s *UserStore) UpdateProfile(ctx context.Context, userID, displayName, color string) (*models.User, error) {
	setFields := bson.M{}
	if displayName != "" {
		setFields["displayName"] = displayName
	}
	if color != "" {
		setFields["color"] = color
	}
	if len(setFields) == 0 {
		return s.GetByID(ctx, userID)
	}

	var user models.User
	err := s.collection.FindOneAndUpdate(ctx, bson.M{"_id": userID},
		bson.M{"$set": setFields},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, board.NotFoundf("user %s does not exist", userID)
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return &user, nil
}

// TouchLogin records a successful login.
func (s *UserStore) TouchLogin(ctx context.Context, userID string) error {
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$set": bson.M{"lastLoginAt": time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}
