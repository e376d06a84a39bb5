package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/btimofeyev/tutor-ai-sub003/internal/models"
	appErrors "github.com/btimofeyev/tutor-ai-sub003/pkg/errors"
)

// SchedulePreferenceRepository reads stored learner scheduling preferences.
type SchedulePreferenceRepository struct {
	db *sqlx.DB
}

// NewSchedulePreferenceRepository constructs the repository.
func NewSchedulePreferenceRepository(db *sqlx.DB) *SchedulePreferenceRepository {
	return &SchedulePreferenceRepository{db: db}
}

// GetByLearner returns the learner's preferences or ErrNotFound.
func (r *SchedulePreferenceRepository) GetByLearner(ctx context.Context, learnerID string) (*models.SchedulePreference, error) {
	const query = `SELECT learner_id, preferred_start_time, preferred_end_time, max_daily_study_minutes, break_duration_minutes, difficult_subjects_morning, study_days, updated_at
FROM schedule_preferences WHERE learner_id = $1`
	var pref models.SchedulePreference
	if err := r.db.GetContext(ctx, &pref, query, learnerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule preferences not found")
		}
		return nil, fmt.Errorf("get schedule preferences: %w", err)
	}
	return &pref, nil
}
