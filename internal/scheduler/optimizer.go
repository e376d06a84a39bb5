package scheduler

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/btimofeyev/tutor-ai-sub003/internal/models"
)

// Distribution is the within-day load strategy.
type Distribution string

const (
	DistributionFrontLoaded Distribution = "front_loaded"
	DistributionEvenly      Distribution = "evenly_distributed"
	DistributionBackLoaded  Distribution = "back_loaded"
)

// ParseDistribution maps a name to a strategy; unknown names mean evenly distributed.
func ParseDistribution(raw string) Distribution {
	switch Distribution(normalizeKey(raw)) {
	case DistributionFrontLoaded:
		return DistributionFrontLoaded
	case DistributionBackLoaded:
		return DistributionBackLoaded
	default:
		return DistributionEvenly
	}
}

// Optimization pass names reported in metadata.
const (
	PassDailyCap          = "daily_cap"
	PassLoadBalance       = "load_balance"
	PassSubjectSeparation = "subject_separation"
)

// placement is a session bound to the pool slot it occupies. Slot.ID is empty for
// sessions that hold no pool slot.
type placement struct {
	session models.StudySession
	slot    TimeSlot
	weight  float64
}

func (p *placement) setSlot(slot TimeSlot) {
	p.slot = slot
	p.session.SlotID = slot.ID
	p.session.SessionDate = slot.Date
	p.session.StartTime = slot.Start.String()
	p.session.DurationMinutes = slot.Minutes
	p.session.EfficiencyScore = slot.Efficiency
	p.session.CognitiveMatch = CognitiveMatch(p.weight, slot.Efficiency)
}

func (p *placement) date() time.Time {
	return dateOnly(p.session.SessionDate)
}

func (p *placement) bounds() (Clock, Clock) {
	return sessionBounds(p.session)
}

func sessionBounds(s models.StudySession) (Clock, Clock) {
	start, err := ParseClock(s.StartTime)
	if err != nil {
		return 0, 0
	}
	return start, start.Add(s.DurationMinutes)
}

type optimizationReport struct {
	Applied    []string
	Overloaded []string
	Moves      int
}

// optimizer rearranges one learner's placements inside the slots the pool lets it hold.
type optimizer struct {
	tuning  Tuning
	pool    *SlotPool
	owner   string
	profile LearnerProfile
	days    []time.Time
	accepts func(TimeSlot) bool
}

func (o *optimizer) run(ps []*placement, dist Distribution) (optimizationReport, error) {
	var report optimizationReport

	moved, overloaded, err := o.enforceDailyCap(ps)
	if err != nil {
		return report, err
	}
	report.Applied = append(report.Applied, PassDailyCap)
	report.Moves += moved
	report.Overloaded = overloaded

	if dist == DistributionEvenly {
		moved, err := o.balanceDays(ps)
		if err != nil {
			return report, err
		}
		report.Applied = append(report.Applied, PassLoadBalance)
		report.Moves += moved
	}

	o.redistribute(ps, dist)
	report.Applied = append(report.Applied, string(dist))

	moved, err = o.separateSubjects(ps)
	if err != nil {
		return report, err
	}
	report.Applied = append(report.Applied, PassSubjectSeparation)
	report.Moves += moved
	return report, nil
}

// enforceDailyCap moves the latest session of an over-cap day to the nearest later day
// with spare capacity, then the nearest earlier one. Days that cannot be relieved are
// reported; no session is dropped.
func (o *optimizer) enforceDailyCap(ps []*placement) (int, []string, error) {
	limit := o.profile.MaxDailyMinutes
	moves := 0
	var overloaded []string
	for _, date := range placementDates(ps) {
		for dailyMinutes(ps, date) > limit {
			victim := latestMovable(ps, date)
			if victim == nil {
				overloaded = append(overloaded, dateKey(date))
				break
			}
			target, ok := o.slotOnOtherDay(ps, victim, date)
			if !ok {
				overloaded = append(overloaded, dateKey(date))
				break
			}
			if err := o.move(victim, target); err != nil {
				return moves, overloaded, err
			}
			moves++
		}
	}
	return moves, overloaded, nil
}

func (o *optimizer) slotOnOtherDay(ps []*placement, victim *placement, from time.Time) (TimeSlot, bool) {
	free := o.candidates()
	var later, earlier []time.Time
	seen := make(map[time.Time]bool)
	for _, s := range free {
		if seen[s.Date] || s.Date.Equal(from) {
			continue
		}
		seen[s.Date] = true
		if s.Date.After(from) {
			later = append(later, s.Date)
		} else {
			earlier = append(earlier, s.Date)
		}
	}
	sort.Slice(later, func(i, j int) bool { return later[i].Before(later[j]) })
	sort.Slice(earlier, func(i, j int) bool { return earlier[i].After(earlier[j]) })

	for _, date := range append(later, earlier...) {
		if slot, ok := o.fitOn(ps, victim, date, free); ok {
			return slot, true
		}
	}
	return TimeSlot{}, false
}

// fitOn returns the best free slot on date that keeps the day under the cap and clear of
// the learner's other sessions.
func (o *optimizer) fitOn(ps []*placement, victim *placement, date time.Time, free []TimeSlot) (TimeSlot, bool) {
	load := dailyMinutes(ps, date)
	sameDay := victim.date().Equal(date)
	for _, slot := range free {
		if !slot.Date.Equal(date) {
			continue
		}
		if !sameDay && load+slot.Minutes > o.profile.MaxDailyMinutes {
			continue
		}
		if clashes(ps, victim, slot) {
			continue
		}
		return slot, true
	}
	return TimeSlot{}, false
}

// balanceDays evens out daily minutes across available days using bounded moves from the
// heaviest day to the lightest day that can take a session.
func (o *optimizer) balanceDays(ps []*placement) (int, error) {
	if len(o.days) < 2 {
		return 0, nil
	}
	index := make(map[time.Time]int, len(o.days))
	for i, d := range o.days {
		index[dateOnly(d)] = i
	}

	moves := 0
	for iter := 0; iter < o.tuning.MaxOptimizerIterations; iter++ {
		loads := make([]float64, len(o.days))
		for _, p := range ps {
			if i, ok := index[p.date()]; ok {
				loads[i] += float64(p.session.DurationMinutes)
			}
		}
		heaviest := floats.MaxIdx(loads)
		victim := latestMovable(ps, o.days[heaviest])
		if victim == nil {
			break
		}

		order := make([]int, len(loads))
		sorted := make([]float64, len(loads))
		copy(sorted, loads)
		floats.Argsort(sorted, order)

		duration := float64(victim.session.DurationMinutes)
		free := o.candidates()
		moved := false
		for _, i := range order {
			if loads[heaviest]-loads[i] <= duration {
				break
			}
			if slot, ok := o.fitOn(ps, victim, o.days[i], free); ok {
				if err := o.move(victim, slot); err != nil {
					return moves, err
				}
				moves++
				moved = true
				break
			}
		}
		if !moved {
			break
		}
	}
	return moves, nil
}

// redistribute reassigns the day's own slots so heavy subjects come first, last, or
// alternate with light ones.
func (o *optimizer) redistribute(ps []*placement, dist Distribution) {
	for _, date := range placementDates(ps) {
		day := slottedOn(ps, date)
		if len(day) < 2 {
			continue
		}
		slots := make([]TimeSlot, len(day))
		for i, p := range day {
			slots[i] = p.slot
		}
		sort.SliceStable(slots, func(i, j int) bool { return slotChronoLess(slots[i], slots[j]) })

		order := make([]*placement, len(day))
		copy(order, day)
		sort.SliceStable(order, func(i, j int) bool {
			if order[i].weight != order[j].weight {
				if dist == DistributionBackLoaded {
					return order[i].weight < order[j].weight
				}
				return order[i].weight > order[j].weight
			}
			return placementKey(order[i]) < placementKey(order[j])
		})
		if dist == DistributionEvenly {
			order = interleave(order)
		}
		for i, p := range order {
			p.setSlot(slots[i])
		}
	}
}

// interleave alternates the heaviest remaining with the lightest remaining.
func interleave(sorted []*placement) []*placement {
	out := make([]*placement, 0, len(sorted))
	lo, hi := 0, len(sorted)-1
	for lo <= hi {
		out = append(out, sorted[lo])
		lo++
		if lo <= hi {
			out = append(out, sorted[hi])
			hi--
		}
	}
	return out
}

// separateSubjects breaks up back-to-back sessions of one subject by swapping with a later
// session or moving into a free slot the same day.
func (o *optimizer) separateSubjects(ps []*placement) (int, error) {
	changes := 0
	for _, date := range placementDates(ps) {
		for iter := 0; iter < o.tuning.MaxOptimizerIterations; iter++ {
			day := chronological(slottedOn(ps, date))
			i := firstRepeat(day)
			if i < 0 {
				break
			}
			before := adjacentRepeats(day)
			if o.trySwap(day, i+1, before) {
				changes++
				continue
			}
			ok, err := o.tryFreeSlot(ps, day[i+1], date, before)
			if err != nil {
				return changes, err
			}
			if !ok {
				break
			}
			changes++
		}
	}
	return changes, nil
}

func (o *optimizer) trySwap(day []*placement, at int, before int) bool {
	for j := at + 1; j < len(day); j++ {
		if normalizeKey(day[j].session.SubjectName) == normalizeKey(day[at].session.SubjectName) {
			continue
		}
		a, b := day[at].slot, day[j].slot
		day[at].setSlot(b)
		day[j].setSlot(a)
		if adjacentRepeats(chronological(day)) < before {
			return true
		}
		day[at].setSlot(a)
		day[j].setSlot(b)
	}
	return false
}

func (o *optimizer) tryFreeSlot(ps []*placement, p *placement, date time.Time, before int) (bool, error) {
	for _, slot := range o.pool.FreeOn(date) {
		if !o.accepts(slot) || clashes(ps, p, slot) {
			continue
		}
		original := p.slot
		p.setSlot(slot)
		improved := adjacentRepeats(chronological(slottedOn(ps, date))) < before
		p.setSlot(original)
		if improved {
			return true, o.move(p, slot)
		}
	}
	return false, nil
}

func (o *optimizer) candidates() []TimeSlot {
	var out []TimeSlot
	for _, s := range o.pool.Free() {
		if o.accepts(s) {
			out = append(out, s)
		}
	}
	return out
}

// move swaps the pool reservation from the placement's current slot to target.
func (o *optimizer) move(p *placement, target TimeSlot) error {
	if err := o.pool.Reserve(target.ID, o.owner, SlotReservedAssignment); err != nil {
		return fmt.Errorf("move session to %s: %w", target.ID, err)
	}
	if p.slot.ID != "" {
		if err := o.pool.Release(p.slot.ID, o.owner); err != nil {
			return fmt.Errorf("release %s: %w", p.slot.ID, err)
		}
	}
	p.setSlot(target)
	return nil
}

func clashes(ps []*placement, victim *placement, slot TimeSlot) bool {
	for _, p := range ps {
		if p == victim || !p.date().Equal(slot.Date) {
			continue
		}
		start, end := p.bounds()
		if start < slot.End && slot.Start < end {
			return true
		}
	}
	return false
}

func placementDates(ps []*placement) []time.Time {
	seen := make(map[time.Time]bool)
	var dates []time.Time
	for _, p := range ps {
		d := p.date()
		if !seen[d] {
			seen[d] = true
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

func dailyMinutes(ps []*placement, date time.Time) int {
	total := 0
	for _, p := range ps {
		if p.date().Equal(date) {
			total += p.session.DurationMinutes
		}
	}
	return total
}

func latestMovable(ps []*placement, date time.Time) *placement {
	var latest *placement
	for _, p := range ps {
		if p.slot.ID == "" || !p.date().Equal(date) {
			continue
		}
		if latest == nil || p.slot.Start > latest.slot.Start {
			latest = p
		}
	}
	return latest
}

func slottedOn(ps []*placement, date time.Time) []*placement {
	var out []*placement
	for _, p := range ps {
		if p.slot.ID != "" && p.date().Equal(date) {
			out = append(out, p)
		}
	}
	return out
}

func chronological(ps []*placement) []*placement {
	out := make([]*placement, len(ps))
	copy(out, ps)
	sort.SliceStable(out, func(i, j int) bool { return out[i].slot.Start < out[j].slot.Start })
	return out
}

func firstRepeat(day []*placement) int {
	for i := 0; i+1 < len(day); i++ {
		if normalizeKey(day[i].session.SubjectName) == normalizeKey(day[i+1].session.SubjectName) {
			return i
		}
	}
	return -1
}

func adjacentRepeats(day []*placement) int {
	count := 0
	for i := 0; i+1 < len(day); i++ {
		if normalizeKey(day[i].session.SubjectName) == normalizeKey(day[i+1].session.SubjectName) {
			count++
		}
	}
	return count
}

func placementKey(p *placement) string {
	if p.session.MaterialID != nil {
		return *p.session.MaterialID
	}
	return p.session.SubjectName + "|" + p.session.ID
}
