package dto

import (
	"github.com/btimofeyev/tutor-ai-sub003/internal/models"
	"github.com/btimofeyev/tutor-ai-sub003/internal/scheduler"
)

// GenerateScheduleRequest asks for one learner's study schedule. Materials and preferences
// left out are loaded from the store.
type GenerateScheduleRequest struct {
	LearnerID      string                     `json:"learner_id" validate:"required"`
	StartDate      string                     `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate        string                     `json:"end_date" validate:"required,datetime=2006-01-02"`
	Materials      []models.WorkItem          `json:"materials,omitempty"`
	Preferences    *models.SchedulePreference `json:"preferences,omitempty"`
	SessionLength  string                     `json:"session_length" validate:"omitempty,oneof=short medium long"`
	Distribution   string                     `json:"distribution" validate:"omitempty,oneof=front_loaded evenly_distributed back_loaded"`
	BlockedWindows []string                   `json:"blocked_windows,omitempty"`
	UseAdvisory    *bool                      `json:"use_advisory,omitempty"`
	Persist        *bool                      `json:"persist,omitempty"`
}

// FamilyLearnerRequest is one learner inside a household request.
type FamilyLearnerRequest struct {
	LearnerID    string                     `json:"learner_id" validate:"required"`
	Materials    []models.WorkItem          `json:"materials,omitempty"`
	Preferences  *models.SchedulePreference `json:"preferences,omitempty"`
	Distribution string                     `json:"distribution" validate:"omitempty,oneof=front_loaded evenly_distributed back_loaded"`
}

// FamilyScheduleRequest asks for coordinated schedules for a household.
type FamilyScheduleRequest struct {
	FamilyID         string                 `json:"family_id"`
	Learners         []FamilyLearnerRequest `json:"learners" validate:"required,min=1,dive"`
	StartDate        string                 `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate          string                 `json:"end_date" validate:"required,datetime=2006-01-02"`
	CoordinationMode string                 `json:"coordination_mode" validate:"omitempty,oneof=balanced staggered synchronized"`
	SessionLength    string                 `json:"session_length" validate:"omitempty,oneof=short medium long"`
	BlockedWindows   []string               `json:"blocked_windows,omitempty"`
	UseAdvisory      *bool                  `json:"use_advisory,omitempty"`
	Persist          *bool                  `json:"persist,omitempty"`
}

// ScheduleResponse wraps a learner schedule with persistence counters.
type ScheduleResponse struct {
	LearnerID         string                `json:"learner_id"`
	Sessions          []models.StudySession `json:"sessions"`
	Metadata          scheduler.Metadata    `json:"metadata"`
	SessionsPersisted int                   `json:"sessions_persisted"`
	PersistFailures   int                   `json:"persist_failures"`
}

// FamilyScheduleResponse wraps a coordinated household schedule.
type FamilyScheduleResponse struct {
	FamilyID          string                     `json:"family_id,omitempty"`
	Schedules         []scheduler.ScheduleResult `json:"schedules"`
	Conflicts         []scheduler.Conflict       `json:"conflicts"`
	Metadata          scheduler.FamilyMetadata   `json:"metadata"`
	SessionsPersisted int                        `json:"sessions_persisted"`
	PersistFailures   int                        `json:"persist_failures"`
}
