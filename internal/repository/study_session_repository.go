package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/btimofeyev/tutor-ai-sub003/internal/models"
)

// StudySessionRepository persists generated study sessions.
type StudySessionRepository struct {
	db *sqlx.DB
}

// NewStudySessionRepository constructs the repository.
func NewStudySessionRepository(db *sqlx.DB) *StudySessionRepository {
	return &StudySessionRepository{db: db}
}

// ListByLearners returns persisted, non-cancelled sessions of the learners inside [from, to].
func (r *StudySessionRepository) ListByLearners(ctx context.Context, learnerIDs []string, from, to time.Time) ([]models.StudySession, error) {
	if len(learnerIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT id, learner_id, material_id, subject_name, session_date, start_time, duration_minutes, status, reasoning, cognitive_match, efficiency_score, created_at
FROM study_sessions
WHERE learner_id = ANY($1) AND session_date BETWEEN $2 AND $3 AND status <> 'cancelled'
ORDER BY session_date ASC, start_time ASC`
	var sessions []models.StudySession
	if err := r.db.SelectContext(ctx, &sessions, query, pq.Array(learnerIDs), from, to); err != nil {
		return nil, fmt.Errorf("list study sessions: %w", err)
	}
	return sessions, nil
}

// Create inserts one session.
func (r *StudySessionRepository) Create(ctx context.Context, session *models.StudySession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	if session.Status == "" {
		session.Status = models.SessionStatusScheduled
	}

	const query = `INSERT INTO study_sessions (id, learner_id, material_id, subject_name, session_date, start_time, duration_minutes, status, reasoning, cognitive_match, efficiency_score, created_at)
VALUES (:id, :learner_id, :material_id, :subject_name, :session_date, :start_time, :duration_minutes, :status, :reasoning, :cognitive_match, :efficiency_score, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("insert study session: %w", err)
	}
	return nil
}
