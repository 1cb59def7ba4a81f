package models

// Column is an ordered lane inside a project. Columns within a project are
// totally ordered by OrderKey; tasks reference their column by id.
type Column struct {
	ID        string  `bson:"_id" json:"id"`
	ProjectID string  `bson:"projectId" json:"project_id"`
	Title     string  `bson:"title" json:"title"`
	OrderKey  float64 `bson:"orderKey" json:"order_key"`
	Terminal  bool    `bson:"terminal" json:"terminal"` // Completed tasks here are auto-archive candidates
	CreatedAt int64   `bson:"createdAt" json:"created_at"`
	UpdatedAt int64   `bson:"updatedAt" json:"updated_at"`
}
