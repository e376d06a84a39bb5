package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btimofeyev/tutor-ai-sub003/internal/models"
)

func session(id, learner, subject, start string, minutes int) models.StudySession {
	return models.StudySession{
		ID:              id,
		LearnerID:       learner,
		SubjectName:     subject,
		SessionDate:     monday,
		StartTime:       start,
		DurationMinutes: minutes,
		Status:          models.SessionStatusScheduled,
	}
}

func TestConflictSeverity(t *testing.T) {
	assert.Equal(t, 1.0, ConflictSeverity(true, 0.5, 45, 45))
	assert.InDelta(t, 0.6, ConflictSeverity(false, 0.5, 15, 45), 1e-9)
	assert.InDelta(t, 0.8, ConflictSeverity(false, 0.5, 40, 45), 1e-9)
}

func TestDetectConflictsSameSubjectFullOverlap(t *testing.T) {
	conflicts := DetectConflicts(DefaultTuning(), []models.StudySession{
		session("a", "ada", "Poetry", "09:00", 45),
		session("b", "ben", "poetry", "09:00", 45),
	})

	require.Len(t, conflicts, 1)
	c := conflicts[0]
	assert.Equal(t, ConflictResourceDuplicate, c.Type)
	assert.GreaterOrEqual(t, c.Severity, 0.8)
	assert.Equal(t, 1.0, c.Severity)
	assert.Equal(t, 45, c.OverlapMinutes)
	assert.Equal(t, "2024-09-02", c.Date)
}

func TestDetectConflictsPartialOverlap(t *testing.T) {
	conflicts := DetectConflicts(DefaultTuning(), []models.StudySession{
		session("a", "ada", "History", "09:00", 45),
		session("b", "ben", "Art", "09:30", 45),
		session("c", "cy", "History", "10:00", 45),
	})

	require.Len(t, conflicts, 2)
	for _, c := range conflicts {
		assert.Equal(t, ConflictTimeOverlap, c.Type)
		assert.Equal(t, 15, c.OverlapMinutes)
		assert.InDelta(t, 0.6, c.Severity, 1e-9)
	}
}

func TestDetectConflictsIgnoresSameLearnerAndSharedSlots(t *testing.T) {
	shared1 := session("a", "ada", "Math", "09:00", 45)
	shared1.Shared, shared1.SlotID = true, "pool-1"
	shared2 := session("b", "ben", "Math", "09:00", 45)
	shared2.Shared, shared2.SlotID = true, "pool-1"

	conflicts := DetectConflicts(DefaultTuning(), []models.StudySession{
		session("x", "ada", "Art", "11:00", 45),
		session("y", "ada", "History", "11:15", 45),
		shared1,
		shared2,
	})
	assert.Empty(t, conflicts)
}
