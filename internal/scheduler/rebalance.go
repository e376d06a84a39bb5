package scheduler

import (
	"context"
	"encoding/json"

	"github.com/btimofeyev/tutor-ai-sub003/internal/models"
)

type promptSession struct {
	ID        string `json:"id"`
	LearnerID string `json:"learner_id"`
	Subject   string `json:"subject"`
	Date      string `json:"date"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

type rebalanceContext struct {
	Conflicts     []Conflict          `json:"conflicts"`
	Sessions      []promptSession     `json:"sessions"`
	FreeSlots     []promptSlot        `json:"free_slots"`
	EligibleSlots map[string][]string `json:"eligible_slots"`
}

// balance sends high-severity conflicts to the advisory service, applies its moves if
// every one of them is valid, then resolves whatever still overlaps with the rule-based
// sweep. It reports the total moves and whether advisory moves were applied.
func (e *Engine) balance(ctx context.Context, fs *familyState, conflicts []Conflict, disableAdvisory bool) (int, bool) {
	var severe []Conflict
	for _, c := range conflicts {
		if c.Severity >= e.tuning.RebalanceSeverity {
			severe = append(severe, c)
		}
	}

	moves := 0
	used := false
	if e.advisor != nil && !disableAdvisory && len(severe) > 0 {
		applied, err := e.adviseRebalance(ctx, fs, severe)
		if err != nil {
			reason := rejectionReason(err)
			e.recorder.ObserveAdvisoryFailure(reason)
			e.logger.Sugar().Warnw("advisory rebalance rejected", "reason", reason, "conflicts", len(severe), "error", err)
		} else {
			moves += applied
			used = applied > 0
		}
	}
	moves += fs.sweep(fs.relocateAny)
	return moves, used
}

func (e *Engine) adviseRebalance(ctx context.Context, fs *familyState, severe []Conflict) (int, error) {
	prompt, err := buildRebalancePrompt(fs, severe)
	if err != nil {
		return 0, err
	}

	actx, cancel := context.WithTimeout(ctx, e.advisoryTimeout)
	defer cancel()
	raw, err := e.advisor.Advise(actx, prompt)
	if err != nil {
		return 0, err
	}

	applied, err := e.applyRebalanceResponse(fs, raw, severe)
	if err != nil {
		e.invalidateAdvice(ctx, prompt)
		return 0, err
	}
	return applied, nil
}

func (e *Engine) applyRebalanceResponse(fs *familyState, raw string, severe []Conflict) (int, error) {
	var resp advisoryRebalance
	if err := decodeStrict(raw, &resp); err != nil {
		return 0, err
	}
	if err := e.validator.Struct(resp); err != nil {
		return 0, &advisoryRejection{Reason: "schema_violation", Err: err}
	}
	return fs.applyMoves(resp.Moves, severe)
}

func buildRebalancePrompt(fs *familyState, severe []Conflict) (AdvisoryPrompt, error) {
	payload := rebalanceContext{Conflicts: severe, EligibleSlots: make(map[string][]string)}
	involved := make(map[string]bool)
	for _, c := range severe {
		involved[c.FirstSession] = true
		involved[c.SecondSession] = true
	}
	for _, m := range fs.members {
		for _, p := range m.ps {
			if !involved[p.session.ID] {
				continue
			}
			payload.Sessions = append(payload.Sessions, toPromptSession(p.session))
		}
	}
	for _, slot := range fs.pool.Free() {
		payload.FreeSlots = append(payload.FreeSlots, toPromptSlot(slot))
		for _, m := range fs.members {
			if m.profile.Accepts(slot) {
				payload.EligibleSlots[m.learnerID()] = append(payload.EligibleSlots[m.learnerID()], slot.ID)
			}
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return AdvisoryPrompt{}, err
	}
	return AdvisoryPrompt{Kind: PromptRebalance, System: rebalanceSystemPrompt, User: string(body)}, nil
}

func toPromptSession(s models.StudySession) promptSession {
	start, end := sessionBounds(s)
	return promptSession{
		ID:        s.ID,
		LearnerID: s.LearnerID,
		Subject:   s.SubjectName,
		Date:      s.DateKey(),
		Start:     start.String(),
		End:       end.String(),
	}
}

type appliedMove struct {
	member  *familyMember
	p       *placement
	session models.StudySession
	slot    TimeSlot
}

// applyMoves applies advisory moves in order. Any invalid move rolls every applied move
// back and rejects the whole response.
func (fs *familyState) applyMoves(moves []RebalanceMove, severe []Conflict) (int, error) {
	involved := make(map[string]bool)
	for _, c := range severe {
		involved[c.FirstSession] = true
		involved[c.SecondSession] = true
	}

	var applied []appliedMove
	rollback := func() {
		for i := len(applied) - 1; i >= 0; i-- {
			a := applied[i]
			_ = fs.pool.Release(a.p.slot.ID, a.member.learnerID())
			if a.slot.ID != "" {
				_ = fs.pool.Reserve(a.slot.ID, a.member.learnerID(), SlotReservedAssignment)
			}
			a.p.session = a.session
			a.p.slot = a.slot
		}
	}

	movedSessions := make(map[string]bool)
	for _, mv := range moves {
		if !involved[mv.SessionID] {
			rollback()
			return 0, reject("unknown_reference", "session %q is not in conflict", mv.SessionID)
		}
		if movedSessions[mv.SessionID] {
			rollback()
			return 0, reject("duplicate_reference", "session %q moved twice", mv.SessionID)
		}
		movedSessions[mv.SessionID] = true

		m, p := fs.find(mv.SessionID)
		if p == nil || p.session.Shared {
			rollback()
			return 0, reject("unknown_reference", "session %q cannot be moved", mv.SessionID)
		}
		slot, ok := fs.pool.Slot(mv.SlotID)
		if !ok || !fs.pool.IsFree(mv.SlotID) {
			rollback()
			return 0, reject("unknown_reference", "slot %q is not free", mv.SlotID)
		}
		if !fs.clear(m, p, slot) {
			rollback()
			return 0, reject("invalid_move", "slot %q does not fit session %q", mv.SlotID, mv.SessionID)
		}
		record := appliedMove{member: m, p: p, session: p.session, slot: p.slot}
		if err := fs.move(m, p, slot, "Rebalanced to avoid a household overlap."); err != nil {
			rollback()
			return 0, &advisoryRejection{Reason: "invalid_move", Err: err}
		}
		applied = append(applied, record)
	}
	return len(applied), nil
}
