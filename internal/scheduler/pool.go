package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SlotState is the reservation state of a pooled slot.
type SlotState string

const (
	SlotFree               SlotState = "free"
	SlotReservedExisting   SlotState = "reserved_existing"
	SlotReservedAssignment SlotState = "reserved_assignment"
	SlotReservedBlocked    SlotState = "reserved_blocked"
)

// SharedOwnerPrefix marks slots attended jointly by several learners.
const SharedOwnerPrefix = "shared:"

type poolEntry struct {
	slot  TimeSlot
	state SlotState
	owner string
}

// SlotPool owns reservation transitions for the slots of one scheduling run. It is not
// safe for concurrent use: learners are allocated one after another.
type SlotPool struct {
	entries map[string]*poolEntry
	order   []string
}

// NewSlotPool builds a pool with every slot free. Slice order is kept for Free.
func NewSlotPool(slots []TimeSlot) *SlotPool {
	p := &SlotPool{entries: make(map[string]*poolEntry, len(slots))}
	for _, slot := range slots {
		if _, exists := p.entries[slot.ID]; exists {
			continue
		}
		p.entries[slot.ID] = &poolEntry{slot: slot, state: SlotFree}
		p.order = append(p.order, slot.ID)
	}
	return p
}

// Len returns the number of slots in the pool.
func (p *SlotPool) Len() int {
	return len(p.order)
}

// Slot looks up a slot by id.
func (p *SlotPool) Slot(id string) (TimeSlot, bool) {
	entry, ok := p.entries[id]
	if !ok {
		return TimeSlot{}, false
	}
	return entry.slot, true
}

// State returns the slot's state and owner.
func (p *SlotPool) State(id string) (SlotState, string) {
	entry, ok := p.entries[id]
	if !ok {
		return "", ""
	}
	return entry.state, entry.owner
}

// IsFree reports whether the slot exists and is unreserved.
func (p *SlotPool) IsFree(id string) bool {
	entry, ok := p.entries[id]
	return ok && entry.state == SlotFree
}

// Reserve marks a free slot as held by owner.
func (p *SlotPool) Reserve(id, owner string, state SlotState) error {
	entry, ok := p.entries[id]
	if !ok {
		return fmt.Errorf("slot %s not in pool", id)
	}
	if state == SlotFree {
		return fmt.Errorf("cannot reserve slot %s as free", id)
	}
	if entry.state != SlotFree {
		return fmt.Errorf("slot %s already %s by %s", id, entry.state, entry.owner)
	}
	entry.state = state
	entry.owner = owner
	return nil
}

// Release frees a slot held by owner.
func (p *SlotPool) Release(id, owner string) error {
	entry, ok := p.entries[id]
	if !ok {
		return fmt.Errorf("slot %s not in pool", id)
	}
	if entry.state == SlotFree {
		return nil
	}
	if entry.owner != owner {
		return fmt.Errorf("slot %s held by %s, not %s", id, entry.owner, owner)
	}
	entry.state = SlotFree
	entry.owner = ""
	return nil
}

// ReleaseOwner frees every assignment reservation held by owner and returns the count.
func (p *SlotPool) ReleaseOwner(owner string) int {
	released := 0
	for _, id := range p.order {
		entry := p.entries[id]
		if entry.owner == owner && entry.state == SlotReservedAssignment {
			entry.state = SlotFree
			entry.owner = ""
			released++
		}
	}
	return released
}

// Share converts a slot held by owner into a jointly attended slot.
func (p *SlotPool) Share(id, owner string, with ...string) error {
	entry, ok := p.entries[id]
	if !ok {
		return fmt.Errorf("slot %s not in pool", id)
	}
	if entry.state != SlotReservedAssignment {
		return fmt.Errorf("slot %s is %s, cannot share", id, entry.state)
	}
	members := ownerMembers(entry.owner)
	if !containsString(members, owner) {
		return fmt.Errorf("slot %s held by %s, not %s", id, entry.owner, owner)
	}
	for _, learner := range with {
		if !containsString(members, learner) {
			members = append(members, learner)
		}
	}
	entry.owner = SharedOwnerPrefix + strings.Join(members, ",")
	return nil
}

// Free lists unreserved slots in pool order.
func (p *SlotPool) Free() []TimeSlot {
	var free []TimeSlot
	for _, id := range p.order {
		if entry := p.entries[id]; entry.state == SlotFree {
			free = append(free, entry.slot)
		}
	}
	return free
}

// FreeOn lists unreserved slots on a date in chronological order.
func (p *SlotPool) FreeOn(date time.Time) []TimeSlot {
	date = dateOnly(date)
	var free []TimeSlot
	for _, id := range p.order {
		entry := p.entries[id]
		if entry.state == SlotFree && entry.slot.Date.Equal(date) {
			free = append(free, entry.slot)
		}
	}
	sort.SliceStable(free, func(i, j int) bool { return slotChronoLess(free[i], free[j]) })
	return free
}

// ReserveOverlapping reserves every free slot on date that intersects [start, end) and
// returns the ids it took.
func (p *SlotPool) ReserveOverlapping(date time.Time, start, end Clock, owner string, state SlotState) []string {
	date = dateOnly(date)
	var taken []string
	for _, id := range p.order {
		entry := p.entries[id]
		if entry.state != SlotFree || !entry.slot.Date.Equal(date) {
			continue
		}
		if entry.slot.Start < end && start < entry.slot.End {
			entry.state = state
			entry.owner = owner
			taken = append(taken, id)
		}
	}
	return taken
}

// BlockWindows reserves every slot intersecting any window on every date of the pool.
func (p *SlotPool) BlockWindows(windows []Window) int {
	blocked := 0
	for _, id := range p.order {
		entry := p.entries[id]
		if entry.state != SlotFree {
			continue
		}
		for _, w := range windows {
			if w.Overlaps(entry.slot.Start, entry.slot.End) {
				entry.state = SlotReservedBlocked
				entry.owner = "blocked:" + w.String()
				blocked++
				break
			}
		}
	}
	return blocked
}

// CountState returns how many slots are in state.
func (p *SlotPool) CountState(state SlotState) int {
	count := 0
	for _, entry := range p.entries {
		if entry.state == state {
			count++
		}
	}
	return count
}

func ownerMembers(owner string) []string {
	if !strings.HasPrefix(owner, SharedOwnerPrefix) {
		return []string{owner}
	}
	return strings.Split(strings.TrimPrefix(owner, SharedOwnerPrefix), ",")
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
