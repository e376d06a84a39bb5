package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/btimofeyev/tutor-ai-sub003/internal/models"
)

// emergencySchedule ignores the cognitive model and preferences: one session per weekday
// in range at a fixed time, materials in due-date order. It never fails; a panic yields an
// empty schedule.
func emergencySchedule(t Tuning, learnerID string, items []models.WorkItem, start, end time.Time, now time.Time) (result ScheduleResult) {
	defer func() {
		if r := recover(); r != nil {
			result = ScheduleResult{
				LearnerID: learnerID,
				Sessions:  []models.StudySession{},
				Metadata:  summarize(nil, GeneratorEmergency, now),
			}
			result.Metadata.TierErrors = append(result.Metadata.TierErrors, fmt.Sprintf("emergency: %v", r))
		}
	}()

	weekdays := AvailableDays(start, end, weekdaySet(defaultStudyDays))

	ordered := make([]models.WorkItem, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool { return itemLess(ordered[i], ordered[j]) })

	startClock := t.emergencyStart
	minutes := t.EmergencySessionMinutes
	if !t.compiled {
		startClock = MustClock("16:00")
		minutes = 45
	}

	count := len(ordered)
	if len(weekdays) < count {
		count = len(weekdays)
	}

	sessions := make([]models.StudySession, 0, count)
	for i := 0; i < count; i++ {
		item := ordered[i]
		materialID := item.ID
		sessions = append(sessions, models.StudySession{
			ID:              uuid.NewString(),
			LearnerID:       learnerID,
			MaterialID:      &materialID,
			SubjectName:     item.SubjectName,
			SessionDate:     weekdays[i],
			StartTime:       startClock.String(),
			DurationMinutes: minutes,
			Status:          models.SessionStatusScheduled,
			Reasoning:       fmt.Sprintf("Emergency schedule: %s studied on %s at %s.", item.SubjectName, weekdays[i].Weekday(), startClock),
			CreatedAt:       now,
		})
	}
	SortSessions(sessions)

	meta := summarize(sessions, GeneratorEmergency, now)
	for _, item := range ordered[count:] {
		meta.UnscheduledItems = append(meta.UnscheduledItems, item.ID)
	}
	meta.CapacityExhausted = len(meta.UnscheduledItems) > 0
	meta.SessionLength = minutes
	return ScheduleResult{LearnerID: learnerID, Sessions: sessions, Metadata: meta}
}
