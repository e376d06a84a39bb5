package models

import "time"

// WorkItem is a pending piece of learning material owned by one learner.
type WorkItem struct {
	ID               string     `db:"id" json:"id"`
	LearnerID        string     `db:"learner_id" json:"learner_id"`
	SubjectName      string     `db:"subject_name" json:"subject_name"`
	Title            string     `db:"title" json:"title"`
	ContentType      string     `db:"content_type" json:"content_type"`
	DueDate          *time.Time `db:"due_date" json:"due_date,omitempty"`
	EstimatedMinutes int        `db:"estimated_minutes" json:"estimated_minutes"`
	MaxGradeValue    float64    `db:"max_grade_value" json:"max_grade_value"`
}
