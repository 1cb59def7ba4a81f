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
	"flowboard/internal/ordering"
)

// ColumnStore handles MongoDB CRUD for board columns
type ColumnStore struct {
	collection *mongo.Collection
}

// NewColumnStore creates a new column store
func NewColumnStore(mongodb *database.MongoDB) *ColumnStore {
	return &ColumnStore{
		collection: mongodb.Collection(database.CollectionColumns),
	}
}

// Create inserts a new column
func (s *ColumnStore) Create(ctx context.Context, column *models.Column) error {
	if _, err := s.collection.InsertOne(ctx, column); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return board.Stalef("column %s already exists", column.ID)
		}
		return fmt.Errorf("failed to create column: %w", err)
	}
	return nil
}

// Get retrieves a column scoped to its project
func (s *ColumnStore) Get(ctx context.Context, projectID, columnID string) (*models.Column, error) {
	var column models.Column
	err := s.collection.FindOne(ctx, bson.M{
		"_id":       columnID,
		"projectId": projectID,
	}).Decode(&column)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, board.NotFoundf("column %s does not exist", columnID)
		}
		return nil, fmt.Errorf("failed to get column: %w", err)
	}
	return &column, nil
}

// Exists reports whether a column is present in the project.
func (s *ColumnStore) Exists(ctx context.Context, projectID, columnID string) (bool, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{"_id": columnID, "projectId": projectID})
	if err != nil {
		return false, fmt.Errorf("failed to check column: %w", err)
	}
	return count > 0, nil
}

// ListByProject returns a project's columns in board order
func (s *ColumnStore) ListByProject(ctx context.Context, projectID string) ([]*models.Column, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"projectId": projectID},
		options.Find().SetSort(bson.D{{Key: "orderKey", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list columns: %w", err)
	}
	defer cursor.Close(ctx)

	var columns []*models.Column
	if err := cursor.All(ctx, &columns); err != nil {
		return nil, fmt.Errorf("failed to decode columns: %w", err)
	}
	return columns, nil
}

// TerminalIDs returns the ids of a project's terminal columns (the lanes
// whose completed tasks age into the archive).
func (s *ColumnStore) TerminalIDs(ctx context.Context, projectID string) ([]string, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"projectId": projectID, "terminal": true},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list terminal columns: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode terminal columns: %w", err)
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

// Rename retitles a column, guarded by the timestamp.
func (s *ColumnStore) Rename(ctx context.Context, projectID, columnID, title string, updatedAt int64) (*models.Column, error) {
	var stored models.Column
	err := s.collection.FindOneAndUpdate(ctx, bson.M{
		"_id":       columnID,
		"projectId": projectID,
		"updatedAt": bson.M{"$lt": updatedAt},
	}, bson.M{
		"$set": bson.M{"title": title, "updatedAt": updatedAt},
	}, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&stored)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, s.classifyMiss(ctx, projectID, columnID)
		}
		return nil, fmt.Errorf("failed to rename column: %w", err)
	}
	return &stored, nil
}

// SetTerminal flips a column's terminal flag, guarded by the timestamp.
func (s *ColumnStore) SetTerminal(ctx context.Context, projectID, columnID string, terminal bool, updatedAt int64) (*models.Column, error) {
	var stored models.Column
	err := s.collection.FindOneAndUpdate(ctx, bson.M{
		"_id":       columnID,
		"projectId": projectID,
		"updatedAt": bson.M{"$lt": updatedAt},
	}, bson.M{
		"$set": bson.M{"terminal": terminal, "updatedAt": updatedAt},
	}, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&stored)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, s.classifyMiss(ctx, projectID, columnID)
		}
		return nil, fmt.Errorf("failed to set terminal flag: %w", err)
	}
	return &stored, nil
}

// Move rewrites a column's order key, guarded by the timestamp.
func (s *ColumnStore) Move(ctx context.Context, projectID, columnID string, orderKey float64, updatedAt int64) (*models.Column, error) {
	var stored models.Column
	err := s.collection.FindOneAndUpdate(ctx, bson.M{
		"_id":       columnID,
		"projectId": projectID,
		"updatedAt": bson.M{"$lt": updatedAt},
	}, bson.M{
		"$set": bson.M{"orderKey": orderKey, "updatedAt": updatedAt},
	}, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&stored)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, s.classifyMiss(ctx, projectID, columnID)
		}
		return nil, fmt.Errorf("failed to move column: %w", err)
	}
	return &stored, nil
}

// Rekey rewrites order keys after a rebalance.
func (s *ColumnStore) Rekey(ctx context.Context, projectID string, items []ordering.Item, updatedAt int64) ([]*models.Column, error) {
	if len(items) == 0 {
		return nil, nil
	}
	writes := make([]mongo.WriteModel, 0, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": it.ID, "projectId": projectID}).
			SetUpdate(bson.M{"$set": bson.M{"orderKey": it.Key, "updatedAt": updatedAt}}))
	}
	if _, err := s.collection.BulkWrite(ctx, writes); err != nil {
		return nil, fmt.Errorf("failed to rekey columns: %w", err)
	}

	cursor, err := s.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}, "projectId": projectID})
	if err != nil {
		return nil, fmt.Errorf("failed to load rekeyed columns: %w", err)
	}
	defer cursor.Close(ctx)
	var columns []*models.Column
	if err := cursor.All(ctx, &columns); err != nil {
		return nil, fmt.Errorf("failed to decode rekeyed columns: %w", err)
	}
	return columns, nil
}

// Delete removes a column. The task cascade is the caller's job so it can
// publish per-task deletion events.
func (s *ColumnStore) Delete(ctx context.Context, projectID, columnID string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": columnID, "projectId": projectID})
	if err != nil {
		return fmt.Errorf("failed to delete column: %w", err)
	}
	if result.DeletedCount == 0 {
		return board.NotFoundf("column %s does not exist", columnID)
	}
	return nil
}

// DeleteByProject removes every column of a project (project deletion
// cascade).
func (s *ColumnStore) DeleteByProject(ctx context.Context, projectID string) error {
	if _, err := s.collection.DeleteMany(ctx, bson.M{"projectId": projectID}); err != nil {
		return fmt.Errorf("failed to delete project columns: %w", err)
	}
	return nil
}

func (s *ColumnStore) classifyMiss(ctx context.Context, projectID, columnID string) error {
	count, err := s.collection.CountDocuments(ctx, bson.M{"_id": columnID, "projectId": projectID})
	if err != nil {
		return fmt.Errorf("failed to classify write miss: %w", err)
	}
	if count == 0 {
		return board.NotFoundf("column %s does not exist", columnID)
	}
	return board.Stalef("column %s has a newer version", columnID)
}
