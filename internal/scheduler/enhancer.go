package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/btimofeyev/tutor-ai-sub003/internal/models"
)

// Generator tiers reported on every result.
const (
	GeneratorAdvanced  = "advanced_ai"
	GeneratorRuleBased = "enhanced_rule_based"
	GeneratorEmergency = "emergency"
)

// ConfidenceFor returns the fixed confidence of a generator tier.
func ConfidenceFor(generator string) float64 {
	switch generator {
	case GeneratorAdvanced:
		return 0.85
	case GeneratorRuleBased:
		return 0.75
	default:
		return 0.5
	}
}

// Metadata summarises one learner's schedule.
type Metadata struct {
	Generator            string    `json:"generator"`
	Confidence           float64   `json:"confidence"`
	TotalSessions        int       `json:"total_sessions"`
	TotalMinutes         int       `json:"total_minutes"`
	Subjects             []string  `json:"subjects"`
	Dates                []string  `json:"dates"`
	AverageDuration      float64   `json:"average_duration_minutes"`
	DailyLoadStdDev      float64   `json:"daily_load_std_dev"`
	OptimizationsApplied []string  `json:"optimizations_applied"`
	OptimizationMoves    int       `json:"optimization_moves"`
	OverloadedDates      []string  `json:"overloaded_dates,omitempty"`
	UnscheduledItems     []string  `json:"unscheduled_items,omitempty"`
	DuplicateItems       []string  `json:"duplicate_items,omitempty"`
	CapacityExhausted    bool      `json:"capacity_exhausted"`
	AvailableSlots       int       `json:"available_slots"`
	SessionLength        int       `json:"session_length_minutes"`
	Distribution         string    `json:"distribution,omitempty"`
	AdvisoryUsed         bool      `json:"advisory_used"`
	AdvisoryConfidence   float64   `json:"advisory_confidence,omitempty"`
	AdvisoryError        string    `json:"advisory_error,omitempty"`
	TierErrors           []string  `json:"tier_errors,omitempty"`
	GeneratedAt          time.Time `json:"generated_at"`
}

// ScheduleResult is the ordered session list for one learner plus its metadata.
type ScheduleResult struct {
	LearnerID string                `json:"learner_id"`
	Sessions  []models.StudySession `json:"sessions"`
	Metadata  Metadata              `json:"metadata"`
}

// enhance checks coverage, fills reasoning and computes summary metadata.
func enhance(t Tuning, sctx SchedulingContext, ps []*placement, generator string, report optimizationReport, now time.Time) ScheduleResult {
	sessions := make([]models.StudySession, 0, len(ps))
	for _, p := range ps {
		s := p.session
		if s.Reasoning == "" {
			s.Reasoning = describePlacement(s.SubjectName, p.weight, p.slot, sctx.Profile.DifficultFirst)
		}
		sessions = append(sessions, s)
	}
	SortSessions(sessions)

	meta := summarize(sessions, generator, now)
	meta.OptimizationsApplied = report.Applied
	meta.OptimizationMoves = report.Moves
	meta.OverloadedDates = report.Overloaded
	meta.SessionLength = sctx.SessionMinutes
	meta.Distribution = string(sctx.Distribution)

	counts := make(map[string]int, len(sessions))
	for _, s := range sessions {
		if s.MaterialID != nil {
			counts[*s.MaterialID]++
		}
	}
	for _, item := range sctx.Items {
		switch n := counts[item.Item.ID]; {
		case n == 0:
			meta.UnscheduledItems = append(meta.UnscheduledItems, item.Item.ID)
		case n > 1:
			meta.DuplicateItems = append(meta.DuplicateItems, item.Item.ID)
		}
	}
	meta.CapacityExhausted = len(meta.UnscheduledItems) > 0

	return ScheduleResult{LearnerID: sctx.Profile.LearnerID, Sessions: sessions, Metadata: meta}
}

// summarize computes the totals shared by every tier.
func summarize(sessions []models.StudySession, generator string, now time.Time) Metadata {
	meta := Metadata{
		Generator:     generator,
		Confidence:    ConfidenceFor(generator),
		TotalSessions: len(sessions),
		Subjects:      []string{},
		Dates:         []string{},
		GeneratedAt:   now,
	}

	durations := make([]float64, 0, len(sessions))
	daily := make(map[string]float64)
	subjects := make(map[string]bool)
	for _, s := range sessions {
		meta.TotalMinutes += s.DurationMinutes
		durations = append(durations, float64(s.DurationMinutes))
		daily[s.DateKey()] += float64(s.DurationMinutes)
		if !subjects[s.SubjectName] {
			subjects[s.SubjectName] = true
			meta.Subjects = append(meta.Subjects, s.SubjectName)
		}
	}
	sort.Strings(meta.Subjects)

	loads := make([]float64, 0, len(daily))
	for date, minutes := range daily {
		meta.Dates = append(meta.Dates, date)
		loads = append(loads, minutes)
	}
	sort.Strings(meta.Dates)

	if mean, err := stats.Mean(durations); err == nil {
		meta.AverageDuration, _ = stats.Round(mean, 2)
	}
	if sd, err := stats.StandardDeviation(loads); err == nil {
		meta.DailyLoadStdDev, _ = stats.Round(sd, 2)
	}
	return meta
}

func describePlacement(subject string, weight float64, slot TimeSlot, difficultFirst bool) string {
	load := "light"
	switch {
	case weight >= 0.7:
		load = "demanding"
	case weight >= 0.4:
		load = "moderate"
	}
	text := fmt.Sprintf("%s is a %s subject (load %.2f)", subject, load, weight)
	if slot.ID == "" {
		return text + "."
	}
	text += fmt.Sprintf(" scheduled at %s in the %s window (efficiency %.2f)", slot.Start, slot.Window, slot.Efficiency)

	morning := slot.Start < MustClock("12:00")
	switch {
	case load == "demanding" && morning == difficultFirst:
		return text + ", matching the preferred time for demanding work."
	case load == "demanding":
		return text + "; preferred slots were already taken."
	case load == "light" && morning == difficultFirst:
		return text + ", although lighter work is preferred at other times."
	default:
		return text + "."
	}
}

// SortSessions orders sessions by date, start time, learner and subject.
func SortSessions(sessions []models.StudySession) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.SessionDate.Equal(b.SessionDate) {
			return a.SessionDate.Before(b.SessionDate)
		}
		as, _ := sessionBounds(a)
		bs, _ := sessionBounds(b)
		if as != bs {
			return as < bs
		}
		if a.LearnerID != b.LearnerID {
			return a.LearnerID < b.LearnerID
		}
		return a.SubjectName < b.SubjectName
	})
}
