package scheduler

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btimofeyev/tutor-ai-sub003/internal/models"
)

func emergencyItems(n int) []models.WorkItem {
	items := make([]models.WorkItem, n)
	for i := range items {
		items[i] = models.WorkItem{ID: fmt.Sprintf("w-%d", i), SubjectName: "Reading"}
	}
	return items
}

func TestEmergencyScheduleReturnsMinOfItemsAndWeekdays(t *testing.T) {
	now := monday.Add(8 * time.Hour)
	sunday := monday.AddDate(0, 0, 6)
	cases := []struct {
		items, want int
	}{
		{0, 0},
		{3, 3},
		{5, 5},
		{8, 5},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d_items", tc.items), func(t *testing.T) {
			result := emergencySchedule(DefaultTuning(), "ada", emergencyItems(tc.items), monday, sunday, now)

			require.Len(t, result.Sessions, tc.want)
			assert.Equal(t, GeneratorEmergency, result.Metadata.Generator)
			assert.Equal(t, 0.5, result.Metadata.Confidence)
			assert.Len(t, result.Metadata.UnscheduledItems, tc.items-tc.want)
			assert.Equal(t, tc.items > tc.want, result.Metadata.CapacityExhausted)

			seen := make(map[string]bool)
			for _, s := range result.Sessions {
				assert.Equal(t, "16:00", s.StartTime)
				assert.Equal(t, 45, s.DurationMinutes)
				assert.NotEqual(t, time.Saturday, s.SessionDate.Weekday())
				assert.NotEqual(t, time.Sunday, s.SessionDate.Weekday())
				assert.False(t, seen[s.DateKey()])
				seen[s.DateKey()] = true
			}
		})
	}
}

func TestEmergencyScheduleOrdersByDueDate(t *testing.T) {
	items := []models.WorkItem{
		{ID: "late", SubjectName: "Art"},
		{ID: "soon", SubjectName: "Math", DueDate: datePtr(monday.AddDate(0, 0, 1))},
	}

	result := emergencySchedule(DefaultTuning(), "ada", items, monday, monday.AddDate(0, 0, 1), monday)

	require.Len(t, result.Sessions, 2)
	assert.Equal(t, "soon", *result.Sessions[0].MaterialID)
	assert.True(t, result.Sessions[0].SessionDate.Equal(monday))
}

func TestEmergencyScheduleUncompiledTuning(t *testing.T) {
	result := emergencySchedule(Tuning{}, "ada", emergencyItems(2), monday, monday.AddDate(0, 0, 4), monday)

	require.Len(t, result.Sessions, 2)
	assert.Equal(t, "16:00", result.Sessions[0].StartTime)
}

func TestEmergencyScheduleInvertedRange(t *testing.T) {
	result := emergencySchedule(DefaultTuning(), "ada", emergencyItems(2), monday, monday.AddDate(0, 0, -3), monday)

	assert.Empty(t, result.Sessions)
	assert.True(t, result.Metadata.CapacityExhausted)
}
