package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/btimofeyev/tutor-ai-sub003/internal/models"
)

// WorkItemRepository reads learners' pending learning materials.
type WorkItemRepository struct {
	db *sqlx.DB
}

// NewWorkItemRepository constructs the repository.
func NewWorkItemRepository(db *sqlx.DB) *WorkItemRepository {
	return &WorkItemRepository{db: db}
}

// ListPending returns incomplete items for a learner that are due inside [from, to] or carry
// no due date.
func (r *WorkItemRepository) ListPending(ctx context.Context, learnerID string, from, to time.Time) ([]models.WorkItem, error) {
	const query = `SELECT id, learner_id, subject_name, title, content_type, due_date, estimated_minutes, max_grade_value
FROM work_items
WHERE learner_id = $1 AND completed_at IS NULL AND (due_date IS NULL OR due_date BETWEEN $2 AND $3)
ORDER BY due_date ASC NULLS LAST, id ASC`
	var items []models.WorkItem
	if err := r.db.SelectContext(ctx, &items, query, learnerID, from, to); err != nil {
		return nil, fmt.Errorf("list pending work items: %w", err)
	}
	return items, nil
}
