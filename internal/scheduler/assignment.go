package scheduler

import (
	"context"
	"fmt"
	"math"
	"sort"

	appErrors "github.com/btimofeyev/tutor-ai-sub003/pkg/errors"
)

// Assignment places at most one material into one slot.
type Assignment struct {
	SlotID         string   `json:"slot_id" validate:"required"`
	Subject        string   `json:"subject" validate:"required"`
	MaterialIDs    []string `json:"material_ids" validate:"len=1,dive,required"`
	Reasoning      string   `json:"reasoning"`
	CognitiveMatch float64  `json:"cognitive_match" validate:"gte=0,lte=1"`
}

// CognitiveMatch scores how well a subject's load fits a slot's efficiency.
func CognitiveMatch(weight, efficiency float64) float64 {
	return 1 - math.Abs(weight-efficiency)
}

// AssignRuleBased pairs materials with slots greedily. Slots are taken by descending
// efficiency; subjects by cognitive weight, heaviest first when the learner prefers
// difficult subjects early. The result depends only on the inputs.
func AssignRuleBased(sctx SchedulingContext, slots []TimeSlot) []Assignment {
	ordered := make([]TimeSlot, len(slots))
	copy(ordered, slots)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Efficiency != b.Efficiency {
			return a.Efficiency > b.Efficiency
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return slotChronoLess(a, b)
	})

	groups := make([]SubjectGroup, len(sctx.Groups))
	copy(groups, sctx.Groups)
	difficultFirst := sctx.Profile.DifficultFirst
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Weight != groups[j].Weight {
			if difficultFirst {
				return groups[i].Weight > groups[j].Weight
			}
			return groups[i].Weight < groups[j].Weight
		}
		return normalizeKey(groups[i].Subject) < normalizeKey(groups[j].Subject)
	})

	assignments := make([]Assignment, 0, len(sctx.Items))
	next := 0
	for _, group := range groups {
		for _, item := range group.Items {
			if next >= len(ordered) {
				return assignments
			}
			slot := ordered[next]
			next++
			assignments = append(assignments, Assignment{
				SlotID:         slot.ID,
				Subject:        group.Subject,
				MaterialIDs:    []string{item.Item.ID},
				Reasoning:      ruleReasoning(group, slot, difficultFirst),
				CognitiveMatch: CognitiveMatch(group.Weight, slot.Efficiency),
			})
		}
	}
	return assignments
}

func ruleReasoning(group SubjectGroup, slot TimeSlot, difficultFirst bool) string {
	order := "lighter subjects first"
	if difficultFirst {
		order = "demanding subjects first"
	}
	return fmt.Sprintf("%s (load %.2f) placed in the %s window (efficiency %.2f), %s.",
		group.Subject, group.Weight, slot.Window, slot.Efficiency, order)
}

// adviseAssignments asks the advisory service for a placement and validates it.
func (e *Engine) adviseAssignments(ctx context.Context, sctx SchedulingContext, slots []TimeSlot) ([]Assignment, float64, error) {
	prompt, err := buildAssignmentPrompt(sctx, slots)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrAdvisoryService.Code, appErrors.ErrAdvisoryService.Status, "failed to build advisory prompt")
	}

	actx, cancel := context.WithTimeout(ctx, e.advisoryTimeout)
	defer cancel()

	raw, err := e.advisor.Advise(actx, prompt)
	if err != nil {
		e.recorder.ObserveAdvisoryFailure(rejectionReason(err))
		return nil, 0, appErrors.Wrap(err, appErrors.ErrAdvisoryService.Code, appErrors.ErrAdvisoryService.Status, "advisory service unavailable")
	}

	assignments, confidence, err := parseAssignments(e.validator, raw, sctx, slots)
	if err != nil {
		reason := rejectionReason(err)
		e.recorder.ObserveAdvisoryFailure(reason)
		e.logger.Sugar().Warnw("advisory assignment rejected", "learner_id", sctx.Profile.LearnerID, "reason", reason, "error", err)
		e.invalidateAdvice(ctx, prompt)
		return nil, 0, appErrors.Wrap(err, appErrors.ErrAdvisoryService.Code, appErrors.ErrAdvisoryService.Status, "advisory response rejected")
	}
	return assignments, confidence, nil
}
