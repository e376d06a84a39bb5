package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btimofeyev/tutor-ai-sub003/internal/models"
	appErrors "github.com/btimofeyev/tutor-ai-sub003/pkg/errors"
)

func newStudyMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestWorkItemRepositoryListPending(t *testing.T) {
	db, mock, cleanup := newStudyMock(t)
	defer cleanup()
	repo := NewWorkItemRepository(db)

	from := time.Date(2024, 9, 2, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 6)
	due := from.AddDate(0, 0, 2)
	rows := sqlmock.NewRows([]string{"id", "learner_id", "subject_name", "title", "content_type", "due_date", "estimated_minutes", "max_grade_value"}).
		AddRow("w-1", "ada", "Mathematics", "Fractions", "worksheet", due, 0, 100.0).
		AddRow("w-2", "ada", "History", "Rome", "reading", nil, 30, 0.0)
	mock.ExpectQuery("SELECT (.+) FROM work_items WHERE learner_id = \\$1 AND completed_at IS NULL").
		WithArgs("ada", from, to).
		WillReturnRows(rows)

	items, err := repo.ListPending(context.Background(), "ada", from, to)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Fractions", items[0].Title)
	require.NotNil(t, items[0].DueDate)
	assert.Nil(t, items[1].DueDate)
	assert.Equal(t, 30, items[1].EstimatedMinutes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkItemRepositoryListPendingError(t *testing.T) {
	db, mock, cleanup := newStudyMock(t)
	defer cleanup()
	repo := NewWorkItemRepository(db)

	mock.ExpectQuery("FROM work_items").WillReturnError(errors.New("connection reset"))

	_, err := repo.ListPending(context.Background(), "ada", time.Now(), time.Now())
	assert.ErrorContains(t, err, "list pending work items")
}

func TestSchedulePreferenceRepositoryGetByLearner(t *testing.T) {
	db, mock, cleanup := newStudyMock(t)
	defer cleanup()
	repo := NewSchedulePreferenceRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"learner_id", "preferred_start_time", "preferred_end_time", "max_daily_study_minutes", "break_duration_minutes", "difficult_subjects_morning", "study_days", "updated_at"}).
		AddRow("ada", "08:30:00", "14:00:00", 180, nil, true, `["monday","wednesday"]`, now)
	mock.ExpectQuery("FROM schedule_preferences WHERE learner_id = \\$1").
		WithArgs("ada").
		WillReturnRows(rows)

	pref, err := repo.GetByLearner(context.Background(), "ada")
	require.NoError(t, err)
	assert.Equal(t, "08:30:00", pref.PreferredStartTime)
	require.NotNil(t, pref.MaxDailyStudyMinutes)
	assert.Equal(t, 180, *pref.MaxDailyStudyMinutes)
	assert.Nil(t, pref.BreakDurationMinutes)
	assert.JSONEq(t, `["monday","wednesday"]`, string(pref.StudyDays))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulePreferenceRepositoryNotFound(t *testing.T) {
	db, mock, cleanup := newStudyMock(t)
	defer cleanup()
	repo := NewSchedulePreferenceRepository(db)

	mock.ExpectQuery("FROM schedule_preferences").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"learner_id"}))

	_, err := repo.GetByLearner(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestStudySessionRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newStudyMock(t)
	defer cleanup()
	repo := NewStudySessionRepository(db)

	material := "w-1"
	session := &models.StudySession{
		LearnerID:       "ada",
		MaterialID:      &material,
		SubjectName:     "Mathematics",
		SessionDate:     time.Date(2024, 9, 2, 0, 0, 0, 0, time.UTC),
		StartTime:       "09:00",
		DurationMinutes: 45,
	}
	mock.ExpectExec("INSERT INTO study_sessions").
		WithArgs(sqlmock.AnyArg(), "ada", "w-1", "Mathematics", session.SessionDate, "09:00", 45, "scheduled", "", 0.0, 0.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Create(context.Background(), session))
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, models.SessionStatusScheduled, session.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudySessionRepositoryListByLearners(t *testing.T) {
	db, mock, cleanup := newStudyMock(t)
	defer cleanup()
	repo := NewStudySessionRepository(db)

	day := time.Date(2024, 9, 2, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "learner_id", "material_id", "subject_name", "session_date", "start_time", "duration_minutes", "status", "reasoning", "cognitive_match", "efficiency_score", "created_at"}).
		AddRow("s-1", "ben", nil, "Art", day, "10:00:00", 45, "scheduled", "", 0.9, 1.0, day)
	mock.ExpectQuery("FROM study_sessions WHERE learner_id = ANY\\(\\$1\\)").
		WithArgs(sqlmock.AnyArg(), day, day.AddDate(0, 0, 4)).
		WillReturnRows(rows)

	sessions, err := repo.ListByLearners(context.Background(), []string{"ada", "ben"}, day, day.AddDate(0, 0, 4))
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "10:00:00", sessions[0].StartTime)
	assert.Nil(t, sessions[0].MaterialID)
	assert.NoError(t, mock.ExpectationsWereMet())

	none, err := repo.ListByLearners(context.Background(), nil, day, day)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, nil)
	var dest string

	err := repo.Get(context.Background(), "advisory:abc", &dest)
	assert.True(t, errors.Is(err, appErrors.ErrCacheMiss))
	assert.NoError(t, repo.Set(context.Background(), "advisory:abc", "value", time.Minute))
	assert.NoError(t, repo.Delete(context.Background(), "advisory:abc"))
	assert.NoError(t, repo.Close())
}
