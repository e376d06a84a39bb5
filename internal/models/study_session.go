package models

import "time"

// SessionStatus is the lifecycle state of a study session.
type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled"
)

// StudySession is one time-boxed block of study on a learner's calendar.
type StudySession struct {
	ID              string        `db:"id" json:"id"`
	LearnerID       string        `db:"learner_id" json:"learner_id"`
	MaterialID      *string       `db:"material_id" json:"material_id,omitempty"`
	SubjectName     string        `db:"subject_name" json:"subject_name"`
	SessionDate     time.Time     `db:"session_date" json:"session_date"`
	StartTime       string        `db:"start_time" json:"start_time"`
	DurationMinutes int           `db:"duration_minutes" json:"duration_minutes"`
	Status          SessionStatus `db:"status" json:"status"`
	Reasoning       string        `db:"reasoning" json:"reasoning"`
	CognitiveMatch  float64       `db:"cognitive_match" json:"cognitive_match"`
	EfficiencyScore float64       `db:"efficiency_score" json:"efficiency_score"`
	SlotID          string        `db:"-" json:"slot_id,omitempty"`
	Shared          bool          `db:"-" json:"shared,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
}

// DateKey renders the session date as YYYY-MM-DD.
func (s StudySession) DateKey() string {
	return s.SessionDate.Format("2006-01-02")
}
