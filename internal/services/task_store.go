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

// TaskStore handles MongoDB CRUD for tasks. Writes that carry a client
// timestamp are guarded so an older write can never clobber a newer
// document: the filter matches only documents with a smaller updatedAt, and
// a miss is classified as stale (document newer) or not found (document
// gone).
type TaskStore struct {
	collection *mongo.Collection
}

// NewTaskStore creates a new task store
func NewTaskStore(mongodb *database.MongoDB) *TaskStore {
	return &TaskStore{
		collection: mongodb.Collection(database.CollectionTasks),
	}
}

// Create inserts a new task
func (s *TaskStore) Create(ctx context.Context, task *models.Task) error {
	if _, err := s.collection.InsertOne(ctx, task); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return board.Stalef("task %s already exists", task.ID)
		}
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// Get retrieves a task scoped to its project
func (s *TaskStore) Get(ctx context.Context, projectID, taskID string) (*models.Task, error) {
	var task models.Task
	err := s.collection.FindOne(ctx, bson.M{
		"_id":       taskID,
		"projectId": projectID,
	}).Decode(&task)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, board.NotFoundf("task %s does not exist", taskID)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

// ListByProject returns all tasks of a project in board order. Archived
// tasks are included only when requested.
func (s *TaskStore) ListByProject(ctx context.Context, projectID string, includeArchived bool) ([]*models.Task, error) {
	filter := bson.M{"projectId": projectID}
	if !includeArchived {
		filter["archived"] = false
	}
	cursor, err := s.collection.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "columnId", Value: 1}, {Key: "orderKey", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer cursor.Close(ctx)

	var tasks []*models.Task
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}
	return tasks, nil
}

// Replace overwrites a task with the caller's version, guarded by its
// timestamp. Returns the stored document.
func (s *TaskStore) Replace(ctx context.Context, task *models.Task) (*models.Task, error) {
	var stored models.Task
	err := s.collection.FindOneAndReplace(ctx, bson.M{
		"_id":       task.ID,
		"projectId": task.ProjectID,
		"updatedAt": bson.M{"$lt": task.UpdatedAt},
	}, task, options.FindOneAndReplace().SetReturnDocument(options.After)).Decode(&stored)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, s.classifyMiss(ctx, task.ProjectID, task.ID)
		}
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	return &stored, nil
}

// Move re-parents a task into a column at the given order key, guarded by
// the timestamp.
func (s *TaskStore) Move(ctx context.Context, projectID, taskID, targetColumnID string, orderKey float64, updatedAt int64) (*models.Task, error) {
	var stored models.Task
	err := s.collection.FindOneAndUpdate(ctx, bson.M{
		"_id":       taskID,
		"projectId": projectID,
		"updatedAt": bson.M{"$lt": updatedAt},
	}, bson.M{
		"$set": bson.M{
			"columnId":  targetColumnID,
			"orderKey":  orderKey,
			"updatedAt": updatedAt,
		},
	}, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&stored)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, s.classifyMiss(ctx, projectID, taskID)
		}
		return nil, fmt.Errorf("failed to move task: %w", err)
	}
	return &stored, nil
}

// AppendActivity pushes a log or comment entry. Appends commute, so there
// is no timestamp guard; $max keeps the newest stamp on the document.
func (s *TaskStore) AppendActivity(ctx context.Context, projectID, taskID string, entry models.ActivityEntry, updatedAt int64) (*models.Task, error) {
	var stored models.Task
	err := s.collection.FindOneAndUpdate(ctx, bson.M{
		"_id":       taskID,
		"projectId": projectID,
	}, bson.M{
		"$push": bson.M{"activity": entry},
		"$max":  bson.M{"updatedAt": updatedAt},
	}, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&stored)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, board.NotFoundf("task %s does not exist", taskID)
		}
		return nil, fmt.Errorf("failed to append activity: %w", err)
	}
	return &stored, nil
}

// Rekey rewrites order keys after a rebalance. Rebalanced keys preserve
// relative order, so the writes go through unguarded in one bulk call.
func (s *TaskStore) Rekey(ctx context.Context, projectID string, items []ordering.Item, updatedAt int64) ([]*models.Task, error) {
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
		return nil, fmt.Errorf("failed to rekey tasks: %w", err)
	}

	cursor, err := s.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}, "projectId": projectID})
	if err != nil {
		return nil, fmt.Errorf("failed to load rekeyed tasks: %w", err)
	}
	defer cursor.Close(ctx)
	var tasks []*models.Task
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode rekeyed tasks: %w", err)
	}
	return tasks, nil
}

// Delete removes a task and its subtasks. Returns the ids that were
// removed so the caller can fan out deletion events.
func (s *TaskStore) Delete(ctx context.Context, projectID, taskID string) ([]string, error) {
	cursor, err := s.collection.Find(ctx, bson.M{
		"projectId": projectID,
		"$or":       []bson.M{{"_id": taskID}, {"parentId": taskID}},
	}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to find task tree: %w", err)
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode task tree: %w", err)
	}
	if len(docs) == 0 {
		return nil, board.NotFoundf("task %s does not exist", taskID)
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	if _, err := s.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}, "projectId": projectID}); err != nil {
		return nil, fmt.Errorf("failed to delete task tree: %w", err)
	}
	return ids, nil
}

// DeleteByColumn removes every task of a column (column deletion cascade).
func (s *TaskStore) DeleteByColumn(ctx context.Context, projectID, columnID string) ([]string, error) {
	cursor, err := s.collection.Find(ctx, bson.M{
		"projectId": projectID,
		"columnId":  columnID,
	}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to find column tasks: %w", err)
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode column tasks: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	if _, err := s.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}, "projectId": projectID}); err != nil {
		return nil, fmt.Errorf("failed to delete column tasks: %w", err)
	}
	return ids, nil
}

// DeleteByProject removes every task of a project (project deletion
// cascade).
func (s *TaskStore) DeleteByProject(ctx context.Context, projectID string) error {
	if _, err := s.collection.DeleteMany(ctx, bson.M{"projectId": projectID}); err != nil {
		return fmt.Errorf("failed to delete project tasks: %w", err)
	}
	return nil
}

// PullLabel strips a deleted label from every task referencing it and
// returns the affected documents.
func (s *TaskStore) PullLabel(ctx context.Context, projectID, labelID string, updatedAt int64) ([]*models.Task, error) {
	cursor, err := s.collection.Find(ctx, bson.M{
		"projectId": projectID,
		"labelIds":  labelID,
	}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to find labeled tasks: %w", err)
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode labeled tasks: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	if _, err := s.collection.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}, "projectId": projectID}, bson.M{
		"$pull": bson.M{"labelIds": labelID},
		"$max":  bson.M{"updatedAt": updatedAt},
	}); err != nil {
		return nil, fmt.Errorf("failed to pull label from tasks: %w", err)
	}

	updated, err := s.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}, "projectId": projectID})
	if err != nil {
		return nil, fmt.Errorf("failed to load stripped tasks: %w", err)
	}
	defer updated.Close(ctx)
	var tasks []*models.Task
	if err := updated.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode stripped tasks: %w", err)
	}
	return tasks, nil
}

// PullAssignee removes a departed member from every task assignment and
// returns the affected documents.
func (s *TaskStore) PullAssignee(ctx context.Context, projectID, userID string, updatedAt int64) ([]*models.Task, error) {
	cursor, err := s.collection.Find(ctx, bson.M{
		"projectId":   projectID,
		"assigneeIds": userID,
	}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to find assigned tasks: %w", err)
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode assigned tasks: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	if _, err := s.collection.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}, "projectId": projectID}, bson.M{
		"$pull": bson.M{"assigneeIds": userID},
		"$max":  bson.M{"updatedAt": updatedAt},
	}); err != nil {
		return nil, fmt.Errorf("failed to pull assignee from tasks: %w", err)
	}

	updated, err := s.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}, "projectId": projectID})
	if err != nil {
		return nil, fmt.Errorf("failed to load unassigned tasks: %w", err)
	}
	defer updated.Close(ctx)
	var tasks []*models.Task
	if err := updated.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode unassigned tasks: %w", err)
	}
	return tasks, nil
}

// ArchiveCompletedBefore marks completed tasks in the given columns as
// archived when they finished at or before the cutoff. Returns the
// archived documents for event fan-out.
func (s *TaskStore) ArchiveCompletedBefore(ctx context.Context, projectID string, columnIDs []string, cutoff, updatedAt int64) ([]*models.Task, error) {
	if len(columnIDs) == 0 {
		return nil, nil
	}
	filter := bson.M{
		"projectId":   projectID,
		"columnId":    bson.M{"$in": columnIDs},
		"archived":    false,
		"completedAt": bson.M{"$ne": nil, "$lte": cutoff},
	}
	cursor, err := s.collection.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to find archivable tasks: %w", err)
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode archivable tasks: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	if _, err := s.collection.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}, "projectId": projectID}, bson.M{
		"$set": bson.M{"archived": true, "updatedAt": updatedAt},
	}); err != nil {
		return nil, fmt.Errorf("failed to archive tasks: %w", err)
	}

	updated, err := s.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}, "projectId": projectID})
	if err != nil {
		return nil, fmt.Errorf("failed to load archived tasks: %w", err)
	}
	defer updated.Close(ctx)
	var tasks []*models.Task
	if err := updated.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode archived tasks: %w", err)
	}
	return tasks, nil
}

// CountByProject reports total and archived task counts for dashboards.
func (s *TaskStore) CountByProject(ctx context.Context, projectID string) (total, archived int64, err error) {
	total, err = s.collection.CountDocuments(ctx, bson.M{"projectId": projectID})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	archived, err = s.collection.CountDocuments(ctx, bson.M{"projectId": projectID, "archived": true})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count archived tasks: %w", err)
	}
	return total, archived, nil
}

// classifyMiss distinguishes a guarded write that lost the timestamp race
// from one whose document no longer exists.
func (s *TaskStore) classifyMiss(ctx context.Context, projectID, taskID string) error {
	count, err := s.collection.CountDocuments(ctx, bson.M{"_id": taskID, "projectId": projectID})
	if err != nil {
		return fmt.Errorf("failed to classify write miss: %w", err)
	}
	if count == 0 {
		return board.NotFoundf("task %s does not exist", taskID)
	}
	return board.Stalef("task %s has a newer version", taskID)
}
