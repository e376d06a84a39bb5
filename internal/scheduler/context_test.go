package scheduler

import (
	"testing"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btimofeyev/tutor-ai-sub003/internal/models"
)

func intPtr(v int) *int              { return &v }
func boolPtr(v bool) *bool           { return &v }
func datePtr(d time.Time) *time.Time { return &d }

func TestResolveProfileDefaults(t *testing.T) {
	p := ResolveProfile("ada", nil)

	assert.Equal(t, "09:00-15:00", p.Window.String())
	assert.Equal(t, DefaultMaxDailyMinutes, p.MaxDailyMinutes)
	assert.Equal(t, DefaultBreakMinutes, p.BreakMinutes)
	assert.True(t, p.DifficultFirst)
	assert.True(t, p.StudiesOn(time.Monday))
	assert.False(t, p.StudiesOn(time.Saturday))
}

func TestResolveProfileMalformedFieldsFallBackIndividually(t *testing.T) {
	p := ResolveProfile("ada", &models.SchedulePreference{
		PreferredStartTime:   "after lunch",
		PreferredEndTime:     "17:30:00",
		MaxDailyStudyMinutes: intPtr(-20),
		BreakDurationMinutes: intPtr(5),
		StudyDays:            types.JSONText(`{"monday": true`),
	})

	assert.Equal(t, MustClock("09:00"), p.Window.Start)
	assert.Equal(t, MustClock("17:30"), p.Window.End)
	assert.Equal(t, DefaultMaxDailyMinutes, p.MaxDailyMinutes)
	assert.Equal(t, 5, p.BreakMinutes)
	assert.Len(t, p.StudyDays, 5)
}

func TestResolveProfileStudyDays(t *testing.T) {
	p := ResolveProfile("ada", &models.SchedulePreference{
		StudyDays:                types.JSONText(`["Saturday", 7, "holiday"]`),
		DifficultSubjectsMorning: boolPtr(false),
	})
	assert.True(t, p.StudiesOn(time.Saturday))
	assert.True(t, p.StudiesOn(time.Sunday))
	assert.False(t, p.StudiesOn(time.Monday))
	assert.False(t, p.DifficultFirst)

	none := ResolveProfile("ada", &models.SchedulePreference{StudyDays: types.JSONText(`[]`)})
	assert.Empty(t, none.StudyDays)

	invalid := ResolveProfile("ada", &models.SchedulePreference{StudyDays: types.JSONText(`["someday"]`)})
	assert.Len(t, invalid.StudyDays, 5)
}

func TestClassifyUrgency(t *testing.T) {
	assert.Equal(t, UrgencyNormal, ClassifyUrgency(nil, monday))
	assert.Equal(t, UrgencyHigh, ClassifyUrgency(datePtr(monday.AddDate(0, 0, 1)), monday))
	assert.Equal(t, UrgencyHigh, ClassifyUrgency(datePtr(monday.AddDate(0, 0, -3)), monday))
	assert.Equal(t, UrgencyMedium, ClassifyUrgency(datePtr(monday.AddDate(0, 0, 3)), monday))
	assert.Equal(t, UrgencyNormal, ClassifyUrgency(datePtr(monday.AddDate(0, 0, 4)), monday))
}

func TestEstimateMinutes(t *testing.T) {
	tuning := DefaultTuning()

	assert.Equal(t, 25, EstimateMinutes(tuning, models.WorkItem{EstimatedMinutes: 25, ContentType: "project"}))
	assert.Equal(t, 20, EstimateMinutes(tuning, models.WorkItem{ContentType: "Quiz"}))
	assert.Equal(t, 30, EstimateMinutes(tuning, models.WorkItem{ContentType: "quiz", MaxGradeValue: 50}))
	assert.Equal(t, 40, EstimateMinutes(tuning, models.WorkItem{ContentType: "quiz", MaxGradeValue: 400}))
	assert.Equal(t, 45, EstimateMinutes(tuning, models.WorkItem{ContentType: "diorama"}))
}

func TestAvailableDays(t *testing.T) {
	weekdays := weekdaySet(defaultStudyDays)

	days := AvailableDays(monday, monday.AddDate(0, 0, 13), weekdays)
	require.Len(t, days, 10)
	for _, d := range days {
		assert.NotEqual(t, time.Saturday, d.Weekday())
		assert.NotEqual(t, time.Sunday, d.Weekday())
	}

	assert.Empty(t, AvailableDays(monday, monday.AddDate(0, 0, -1), weekdays))
	assert.Empty(t, AvailableDays(monday, monday.AddDate(0, 0, 6), map[time.Weekday]bool{}))
}

func TestAnalyzeContextGroupsBySubject(t *testing.T) {
	items := []models.WorkItem{
		{ID: "m2", SubjectName: "Mathematics", DueDate: datePtr(monday.AddDate(0, 0, 5))},
		{ID: "h1", SubjectName: "History"},
		{ID: "m1", SubjectName: "mathematics", DueDate: datePtr(monday.AddDate(0, 0, 1))},
	}

	sctx := AnalyzeContext(DefaultTuning(), ResolveProfile("ada", nil), items, monday, monday.AddDate(0, 0, 6))

	require.Len(t, sctx.Days, 5)
	require.Len(t, sctx.Items, 3)
	assert.Equal(t, "m1", sctx.Items[0].Item.ID)
	assert.Equal(t, "h1", sctx.Items[2].Item.ID)
	require.Len(t, sctx.Groups, 2)
	assert.Equal(t, "History", sctx.Groups[0].Subject)
	assert.Len(t, sctx.Groups[1].Items, 2)
	assert.Equal(t, 0.9, sctx.Groups[1].Weight)
	assert.Equal(t, UrgencyHigh, sctx.Items[0].Urgency)

	item, ok := sctx.ItemByID("h1")
	require.True(t, ok)
	assert.Equal(t, 0.5, item.Weight)
}
