package scheduler

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// PoolSlotPrefix marks slots generated for a shared family pool.
const PoolSlotPrefix = "pool-"

// TimeSlot is one fixed-length study window on a date.
type TimeSlot struct {
	ID           string    `json:"id"`
	Date         time.Time `json:"date"`
	Start        Clock     `json:"start"`
	End          Clock     `json:"end"`
	Minutes      int       `json:"minutes"`
	Window       string    `json:"window"`
	Efficiency   float64   `json:"efficiency"`
	Optimal      bool      `json:"optimal"`
	Distribution float64   `json:"distribution"`
	Score        float64   `json:"score"`
}

// Overlaps reports whether two slots share any minute on the same date.
func (s TimeSlot) Overlaps(other TimeSlot) bool {
	return s.Date.Equal(other.Date) && s.Start < other.End && other.Start < s.End
}

// SlotSpec describes how to cut days into slots.
type SlotSpec struct {
	Days           []time.Time
	Window         Window
	SessionMinutes int
	BreakMinutes   int
	Prefix         string
}

// GenerateSlots cuts every day into back-to-back sessions separated by breaks and returns
// them ordered by descending score. Empty or inverted windows yield no slots.
func GenerateSlots(t Tuning, spec SlotSpec) []TimeSlot {
	if spec.SessionMinutes <= 0 || spec.Window.End <= spec.Window.Start {
		return nil
	}
	step := spec.SessionMinutes + spec.BreakMinutes
	if step <= 0 {
		return nil
	}

	var slots []TimeSlot
	for _, day := range spec.Days {
		day = dateOnly(day)
		var starts []Clock
		for start := spec.Window.Start; start.Add(spec.SessionMinutes) <= spec.Window.End; start = start.Add(step) {
			starts = append(starts, start)
		}
		for i, start := range starts {
			name, efficiency := t.Band(start)
			slot := TimeSlot{
				ID:           fmt.Sprintf("%s%s-%02d", spec.Prefix, dateKey(day), i+1),
				Date:         day,
				Start:        start,
				End:          start.Add(spec.SessionMinutes),
				Minutes:      spec.SessionMinutes,
				Window:       name,
				Efficiency:   efficiency,
				Optimal:      t.IsOptimal(start),
				Distribution: distributionScore(t, i, len(starts)),
			}
			slot.Score = slot.Efficiency + slot.Distribution
			if slot.Optimal {
				slot.Score += t.OptimalBonus
			}
			slots = append(slots, slot)
		}
	}

	sortSlotsByScore(slots)
	return slots
}

// distributionScore rewards slots whose relative position in the day lies near the target ratio.
func distributionScore(t Tuning, index, count int) float64 {
	position := 0.0
	if count > 1 {
		position = float64(index) / float64(count-1)
	}
	return t.DistributionWeight * (1 - math.Abs(position-t.DistributionTarget))
}

func sortSlotsByScore(slots []TimeSlot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].Score != slots[j].Score {
			return slots[i].Score > slots[j].Score
		}
		return slotChronoLess(slots[i], slots[j])
	})
}

func slotChronoLess(a, b TimeSlot) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.ID < b.ID
}
