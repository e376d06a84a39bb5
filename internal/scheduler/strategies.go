package scheduler

import (
	"fmt"
	"sort"
)

// relocator tries to move p out of its overlap with anchor.
type relocator func(m *familyMember, p *placement, anchor *placement) bool

// sweep resolves detected conflicts one at a time, most severe first, until none remain
// or no remaining conflict can be moved. It returns the number of moves.
func (fs *familyState) sweep(relocate relocator) int {
	moves := 0
	stuck := make(map[string]bool)
	limit := fs.tuning.MaxOptimizerIterations + len(fs.sessions())
	for iter := 0; iter < limit; iter++ {
		var target *Conflict
		conflicts := DetectConflicts(fs.tuning, fs.sessions())
		for i := range conflicts {
			if !stuck[conflictKey(conflicts[i])] {
				target = &conflicts[i]
				break
			}
		}
		if target == nil {
			break
		}
		if fs.resolve(*target, relocate) {
			moves++
			continue
		}
		stuck[conflictKey(*target)] = true
	}
	return moves
}

// resolve moves the session of the learner later in request order, or failing that the
// earlier one. Shared sessions stay put.
func (fs *familyState) resolve(c Conflict, relocate relocator) bool {
	m1, p1 := fs.find(c.FirstSession)
	m2, p2 := fs.find(c.SecondSession)
	if p1 == nil || p2 == nil {
		return false
	}
	if m1.index > m2.index {
		m1, p1, m2, p2 = m2, p2, m1, p1
	}
	if !p2.session.Shared && relocate(m2, p2, p1) {
		return true
	}
	return !p1.session.Shared && relocate(m1, p1, p2)
}

// relocateAny moves p to the first clear slot on its own date, then to the best-scored
// clear slot on any other date.
func (fs *familyState) relocateAny(m *familyMember, p *placement, anchor *placement) bool {
	reason := fmt.Sprintf("Moved to avoid overlapping %s's %s session.", anchor.session.LearnerID, anchor.session.SubjectName)
	for _, slot := range fs.pool.FreeOn(p.date()) {
		if fs.clear(m, p, slot) && fs.move(m, p, slot, reason) == nil {
			return true
		}
	}
	for _, slot := range fs.pool.Free() {
		if slot.Date.Equal(p.date()) {
			continue
		}
		if fs.clear(m, p, slot) && fs.move(m, p, slot, reason) == nil {
			return true
		}
	}
	return false
}

// stagger pushes each overlapping session of the later learner to the first clear slot
// after the other session ends and returns the largest shift applied per learner.
func (fs *familyState) stagger() map[string]int {
	offsets := make(map[string]int)
	fs.sweep(func(m *familyMember, p *placement, anchor *placement) bool {
		before, _ := p.bounds()
		_, anchorEnd := anchor.bounds()
		reason := fmt.Sprintf("Staggered after %s's %s session.", anchor.session.LearnerID, anchor.session.SubjectName)
		for _, slot := range fs.pool.FreeOn(p.date()) {
			if slot.Start < anchorEnd || !fs.clear(m, p, slot) {
				continue
			}
			if fs.move(m, p, slot, reason) != nil {
				continue
			}
			if shift := int(slot.Start - before); shift > offsets[m.learnerID()] {
				offsets[m.learnerID()] = shift
			}
			return true
		}
		return fs.relocateAny(m, p, anchor)
	})
	for _, m := range fs.members {
		if _, ok := offsets[m.learnerID()]; !ok {
			offsets[m.learnerID()] = 0
		}
	}
	return offsets
}

// synchronize moves later learners' sessions onto an earlier learner's slot for the same
// subject so they study together. It returns the number of sessions aligned.
func (fs *familyState) synchronize() int {
	aligned := 0
	joined := make(map[string]map[string]bool)
	for fi, follower := range fs.members {
		for _, p := range chronologicalByDate(follower.ps) {
			if p.session.Shared {
				continue
			}
			if lead, leader := fs.findLeader(fs.members[:fi], follower, p, joined); lead != nil {
				if err := fs.join(follower, p, leader, lead); err != nil {
					continue
				}
				if joined[lead.slot.ID] == nil {
					joined[lead.slot.ID] = make(map[string]bool)
				}
				joined[lead.slot.ID][follower.learnerID()] = true
				aligned++
			}
		}
	}
	return aligned
}

func (fs *familyState) findLeader(leaders []*familyMember, follower *familyMember, p *placement, joined map[string]map[string]bool) (*placement, *familyMember) {
	subject := normalizeKey(p.session.SubjectName)
	for _, leader := range leaders {
		for _, lead := range chronologicalByDate(leader.ps) {
			if lead.slot.ID == "" || normalizeKey(lead.session.SubjectName) != subject {
				continue
			}
			if joined[lead.slot.ID][follower.learnerID()] || hasSessionOn(follower, lead.slot.ID) {
				continue
			}
			if fs.clear(follower, p, lead.slot) {
				return lead, leader
			}
		}
	}
	return nil, nil
}

func (fs *familyState) join(follower *familyMember, p *placement, leader *familyMember, lead *placement) error {
	state, owner := fs.pool.State(lead.slot.ID)
	if state != SlotReservedAssignment {
		return fmt.Errorf("slot %s is %s", lead.slot.ID, state)
	}
	holder := leader.learnerID()
	if members := ownerMembers(owner); len(members) > 0 && !containsString(members, holder) {
		holder = members[0]
	}
	if err := fs.pool.Share(lead.slot.ID, holder, follower.learnerID()); err != nil {
		return err
	}
	if p.slot.ID != "" {
		if err := fs.pool.Release(p.slot.ID, follower.learnerID()); err != nil {
			return err
		}
	}
	p.setSlot(lead.slot)
	p.session.Shared = true
	p.session.Reasoning = appendReason(p.session.Reasoning,
		fmt.Sprintf("Studied together with %s.", leader.learnerID()))
	lead.session.Shared = true
	return nil
}

func hasSessionOn(m *familyMember, slotID string) bool {
	for _, p := range m.ps {
		if p.slot.ID == slotID {
			return true
		}
	}
	return false
}

func chronologicalByDate(ps []*placement) []*placement {
	out := make([]*placement, len(ps))
	copy(out, ps)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].date().Equal(out[j].date()) {
			return out[i].date().Before(out[j].date())
		}
		a, _ := out[i].bounds()
		b, _ := out[j].bounds()
		return a < b
	})
	return out
}

func conflictKey(c Conflict) string {
	return c.FirstSession + "|" + c.SecondSession
}
