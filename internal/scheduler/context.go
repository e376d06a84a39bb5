package scheduler

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/btimofeyev/tutor-ai-sub003/internal/models"
)

// Urgency classifies how close a work item's due date is to the start of the run.
type Urgency string

const (
	UrgencyHigh   Urgency = "high"
	UrgencyMedium Urgency = "medium"
	UrgencyNormal Urgency = "normal"
)

// Profile defaults applied when a preference is missing or malformed.
const (
	DefaultWindowStart     = "09:00"
	DefaultWindowEnd       = "15:00"
	DefaultMaxDailyMinutes = 240
	DefaultBreakMinutes    = 15
)

var defaultStudyDays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

// LearnerProfile is the normalised view of a learner's preferences for one run.
type LearnerProfile struct {
	LearnerID       string
	Window          Window
	MaxDailyMinutes int
	BreakMinutes    int
	DifficultFirst  bool
	StudyDays       map[time.Weekday]bool
}

// StudiesOn reports whether the weekday is eligible.
func (p LearnerProfile) StudiesOn(day time.Weekday) bool {
	return p.StudyDays[day]
}

// Accepts reports whether a slot fits the learner's window and weekdays.
func (p LearnerProfile) Accepts(slot TimeSlot) bool {
	return p.StudiesOn(slot.Date.Weekday()) && slot.Start >= p.Window.Start && slot.End <= p.Window.End
}

// AnalyzedItem is a work item with its derived urgency, duration and load.
type AnalyzedItem struct {
	Item    models.WorkItem
	Urgency Urgency
	Minutes int
	Weight  float64
}

// SubjectGroup collects the items of one subject in due-date order.
type SubjectGroup struct {
	Subject string
	Weight  float64
	Items   []AnalyzedItem
}

// SchedulingContext bundles everything later stages need for one learner.
type SchedulingContext struct {
	Profile        LearnerProfile
	StartDate      time.Time
	EndDate        time.Time
	Days           []time.Time
	Items          []AnalyzedItem
	Groups         []SubjectGroup
	SessionMinutes int
	Distribution   Distribution
}

// ItemByID finds an analyzed item.
func (c SchedulingContext) ItemByID(id string) (AnalyzedItem, bool) {
	for _, item := range c.Items {
		if item.Item.ID == id {
			return item, true
		}
	}
	return AnalyzedItem{}, false
}

// ResolveProfile merges stored preferences with the defaults field by field.
func ResolveProfile(learnerID string, pref *models.SchedulePreference) LearnerProfile {
	profile := LearnerProfile{
		LearnerID:       learnerID,
		Window:          Window{Start: MustClock(DefaultWindowStart), End: MustClock(DefaultWindowEnd)},
		MaxDailyMinutes: DefaultMaxDailyMinutes,
		BreakMinutes:    DefaultBreakMinutes,
		DifficultFirst:  true,
		StudyDays:       weekdaySet(defaultStudyDays),
	}
	if pref == nil {
		return profile
	}

	if start, err := ParseClock(pref.PreferredStartTime); err == nil {
		profile.Window.Start = start
	}
	if end, err := ParseClock(pref.PreferredEndTime); err == nil {
		profile.Window.End = end
	}
	if pref.MaxDailyStudyMinutes != nil && *pref.MaxDailyStudyMinutes > 0 {
		profile.MaxDailyMinutes = *pref.MaxDailyStudyMinutes
	}
	if pref.BreakDurationMinutes != nil && *pref.BreakDurationMinutes >= 0 {
		profile.BreakMinutes = *pref.BreakDurationMinutes
	}
	if pref.DifficultSubjectsMorning != nil {
		profile.DifficultFirst = *pref.DifficultSubjectsMorning
	}
	if days, ok := parseStudyDays(pref.StudyDays); ok {
		profile.StudyDays = days
	}
	return profile
}

// parseStudyDays accepts a JSON array of weekday names ("monday", "mon") or ISO numbers
// (1 = Monday .. 7 = Sunday, 0 = Sunday). An explicit empty array means no days.
func parseStudyDays(raw []byte) (map[time.Weekday]bool, bool) {
	if len(strings.TrimSpace(string(raw))) == 0 || strings.TrimSpace(string(raw)) == "null" {
		return nil, false
	}
	var entries []interface{}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}
	days := make(map[time.Weekday]bool)
	if len(entries) == 0 {
		return days, true
	}
	for _, entry := range entries {
		if day, ok := weekdayFrom(entry); ok {
			days[day] = true
		}
	}
	if len(days) == 0 {
		return nil, false
	}
	return days, true
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func weekdayFrom(entry interface{}) (time.Weekday, bool) {
	switch v := entry.(type) {
	case string:
		if day, ok := weekdayNames[normalizeKey(v)]; ok {
			return day, true
		}
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return weekdayFromNumber(n)
		}
	case float64:
		if v == math.Trunc(v) {
			return weekdayFromNumber(int(v))
		}
	}
	return 0, false
}

func weekdayFromNumber(n int) (time.Weekday, bool) {
	if n < 0 || n > 7 {
		return 0, false
	}
	return time.Weekday(n % 7), true
}

func weekdaySet(days []time.Weekday) map[time.Weekday]bool {
	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		set[d] = true
	}
	return set
}

// AnalyzeContext builds the scheduling context for one learner. Malformed ranges and
// empty weekday sets produce zero available days rather than an error.
func AnalyzeContext(t Tuning, profile LearnerProfile, items []models.WorkItem, start, end time.Time) SchedulingContext {
	start = dateOnly(start)
	end = dateOnly(end)

	sctx := SchedulingContext{
		Profile:   profile,
		StartDate: start,
		EndDate:   end,
		Days:      AvailableDays(start, end, profile.StudyDays),
	}

	analyzed := make([]AnalyzedItem, 0, len(items))
	for _, item := range items {
		analyzed = append(analyzed, AnalyzedItem{
			Item:    item,
			Urgency: ClassifyUrgency(item.DueDate, start),
			Minutes: EstimateMinutes(t, item),
			Weight:  t.SubjectWeight(item.SubjectName),
		})
	}
	sort.SliceStable(analyzed, func(i, j int) bool {
		return itemLess(analyzed[i].Item, analyzed[j].Item)
	})
	sctx.Items = analyzed
	sctx.Groups = groupBySubject(analyzed)
	return sctx
}

// ClassifyUrgency compares a due date with the run's start date.
func ClassifyUrgency(due *time.Time, reference time.Time) Urgency {
	if due == nil {
		return UrgencyNormal
	}
	days := dateOnly(*due).Sub(dateOnly(reference)).Hours() / 24
	switch {
	case days <= 1:
		return UrgencyHigh
	case days <= 3:
		return UrgencyMedium
	default:
		return UrgencyNormal
	}
}

// EstimateMinutes prefers the item's own estimate, else the content-type table scaled by
// the complexity multiplier.
func EstimateMinutes(t Tuning, item models.WorkItem) int {
	if item.EstimatedMinutes > 0 {
		return item.EstimatedMinutes
	}
	base := float64(t.BaseMinutes(item.ContentType))
	return int(math.Round(base * t.ComplexityMultiplier(item.MaxGradeValue)))
}

// AvailableDays lists the in-range dates whose weekday is eligible.
func AvailableDays(start, end time.Time, days map[time.Weekday]bool) []time.Time {
	start = dateOnly(start)
	end = dateOnly(end)
	if end.Before(start) || len(days) == 0 {
		return nil
	}
	var result []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if days[d.Weekday()] {
			result = append(result, d)
		}
	}
	return result
}

func groupBySubject(items []AnalyzedItem) []SubjectGroup {
	index := make(map[string]int)
	var groups []SubjectGroup
	for _, item := range items {
		key := normalizeKey(item.Item.SubjectName)
		pos, ok := index[key]
		if !ok {
			pos = len(groups)
			index[key] = pos
			groups = append(groups, SubjectGroup{Subject: item.Item.SubjectName, Weight: item.Weight})
		}
		groups[pos].Items = append(groups[pos].Items, item)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return normalizeKey(groups[i].Subject) < normalizeKey(groups[j].Subject)
	})
	return groups
}

// itemLess orders by due date (undated last) then id.
func itemLess(a, b models.WorkItem) bool {
	switch {
	case a.DueDate == nil && b.DueDate != nil:
		return false
	case a.DueDate != nil && b.DueDate == nil:
		return true
	case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
		return a.DueDate.Before(*b.DueDate)
	}
	return a.ID < b.ID
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
