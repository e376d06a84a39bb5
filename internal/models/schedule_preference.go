package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// SchedulePreference stores a learner's raw scheduling preferences. Any field may be
// missing or malformed; the scheduler merges it with defaults.
type SchedulePreference struct {
	LearnerID                string         `db:"learner_id" json:"learner_id"`
	PreferredStartTime       string         `db:"preferred_start_time" json:"preferred_start_time"`
	PreferredEndTime         string         `db:"preferred_end_time" json:"preferred_end_time"`
	MaxDailyStudyMinutes     *int           `db:"max_daily_study_minutes" json:"max_daily_study_minutes,omitempty"`
	BreakDurationMinutes     *int           `db:"break_duration_minutes" json:"break_duration_minutes,omitempty"`
	DifficultSubjectsMorning *bool          `db:"difficult_subjects_morning" json:"difficult_subjects_morning,omitempty"`
	StudyDays                types.JSONText `db:"study_days" json:"study_days,omitempty"`
	UpdatedAt                time.Time      `db:"updated_at" json:"updated_at"`
}
