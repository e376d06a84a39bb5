package scheduler

import (
	"math"
	"sort"

	"github.com/btimofeyev/tutor-ai-sub003/internal/models"
)

// Conflict kinds.
const (
	ConflictTimeOverlap       = "time_overlap"
	ConflictResourceDuplicate = "resource_duplicate"
)

// Conflict is an overlap between two sessions of different learners on the same date.
type Conflict struct {
	Type           string  `json:"type"`
	Date           string  `json:"date"`
	FirstSession   string  `json:"first_session_id"`
	SecondSession  string  `json:"second_session_id"`
	FirstLearner   string  `json:"first_learner_id"`
	SecondLearner  string  `json:"second_learner_id"`
	Subject        string  `json:"subject,omitempty"`
	OverlapMinutes int     `json:"overlap_minutes"`
	Severity       float64 `json:"severity"`
}

// ConflictSeverity scores an overlap: 0.5 base, +0.3 for the same subject, +0.2 times the
// heavier subject weight, +0.2 when the overlap covers at least 80% of the longer session.
func ConflictSeverity(sameSubject bool, maxWeight float64, overlap, longer int) float64 {
	severity := 0.5
	if sameSubject {
		severity += 0.3
	}
	severity += 0.2 * maxWeight
	if longer > 0 && float64(overlap) >= 0.8*float64(longer) {
		severity += 0.2
	}
	return math.Min(severity, 1)
}

// DetectConflicts compares every same-date pair of sessions from different learners.
// Sessions flagged as shared never conflict with each other.
func DetectConflicts(t Tuning, sessions []models.StudySession) []Conflict {
	ordered := make([]models.StudySession, len(sessions))
	copy(ordered, sessions)
	SortSessions(ordered)

	var conflicts []Conflict
	for i := 0; i < len(ordered); i++ {
		a := ordered[i]
		aStart, aEnd := sessionBounds(a)
		for j := i + 1; j < len(ordered); j++ {
			b := ordered[j]
			if !dateOnly(b.SessionDate).Equal(dateOnly(a.SessionDate)) {
				break
			}
			if a.LearnerID == b.LearnerID || (a.Shared && b.Shared && a.SlotID != "" && a.SlotID == b.SlotID) {
				continue
			}
			bStart, bEnd := sessionBounds(b)
			overlap := overlapMinutes(aStart, aEnd, bStart, bEnd)
			if overlap <= 0 {
				continue
			}

			sameSubject := normalizeKey(a.SubjectName) == normalizeKey(b.SubjectName)
			kind := ConflictTimeOverlap
			if sameSubject && aStart == bStart {
				kind = ConflictResourceDuplicate
			}
			longer := a.DurationMinutes
			if b.DurationMinutes > longer {
				longer = b.DurationMinutes
			}
			c := Conflict{
				Type:           kind,
				Date:           a.DateKey(),
				FirstSession:   a.ID,
				SecondSession:  b.ID,
				FirstLearner:   a.LearnerID,
				SecondLearner:  b.LearnerID,
				OverlapMinutes: overlap,
				Severity: ConflictSeverity(sameSubject,
					math.Max(t.SubjectWeight(a.SubjectName), t.SubjectWeight(b.SubjectName)), overlap, longer),
			}
			if sameSubject {
				c.Subject = a.SubjectName
			}
			conflicts = append(conflicts, c)
		}
	}

	sort.SliceStable(conflicts, func(i, j int) bool {
		if conflicts[i].Severity != conflicts[j].Severity {
			return conflicts[i].Severity > conflicts[j].Severity
		}
		return conflicts[i].Date < conflicts[j].Date
	})
	return conflicts
}
