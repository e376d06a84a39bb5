package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Prompt kinds sent to the advisory service.
const (
	PromptAssignment = "assignment"
	PromptRebalance  = "rebalance"
)

// AdvisoryPrompt is one request to the advisory reasoning service.
type AdvisoryPrompt struct {
	Kind   string
	System string
	User   string
}

// Advisor is the port to the external advisory reasoning service. It returns the raw
// response text; the engine validates it.
type Advisor interface {
	Advise(ctx context.Context, prompt AdvisoryPrompt) (string, error)
}

// AdvisoryInvalidator is implemented by advisors that keep responses around, such as a
// cache. The engine calls Invalidate with the prompt whose response it rejected.
type AdvisoryInvalidator interface {
	Invalidate(ctx context.Context, prompt AdvisoryPrompt)
}

func (e *Engine) invalidateAdvice(ctx context.Context, prompt AdvisoryPrompt) {
	if inv, ok := e.advisor.(AdvisoryInvalidator); ok {
		inv.Invalidate(ctx, prompt)
	}
}

// advisoryRejection describes why a response was discarded.
type advisoryRejection struct {
	Reason string
	Err    error
}

func (r *advisoryRejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("advisory %s: %v", r.Reason, r.Err)
	}
	return "advisory " + r.Reason
}

func (r *advisoryRejection) Unwrap() error {
	return r.Err
}

func reject(reason string, format string, args ...interface{}) error {
	return &advisoryRejection{Reason: reason, Err: fmt.Errorf(format, args...)}
}

const assignmentSystemPrompt = `You place study materials into time slots for one learner.
Reply with a single JSON object and nothing else:
{"assignments":[{"slot_id":"...","subject":"...","material_ids":["..."],"reasoning":"...","cognitive_match":0.0}],"confidence":0.0}
Rules: use only slot_id and material id values from the input; each slot at most once; each material exactly once;
exactly one material per assignment; cognitive_match and confidence are between 0 and 1.
Place demanding subjects in high-efficiency slots and respect the learner's morning preference.`

const rebalanceSystemPrompt = `You resolve overlapping study sessions between learners in one household.
Reply with a single JSON object and nothing else:
{"moves":[{"session_id":"...","slot_id":"..."}],"reasoning":"..."}
Rules: move only sessions listed in the conflicts; use only slot_id values from free_slots; never use a slot twice;
never move a session twice; a slot must lie inside the moving learner's eligible slots.`

type promptSlot struct {
	ID         string  `json:"id"`
	Date       string  `json:"date"`
	Start      string  `json:"start"`
	End        string  `json:"end"`
	Window     string  `json:"window"`
	Efficiency float64 `json:"efficiency"`
	Optimal    bool    `json:"optimal"`
}

type promptMaterial struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	DueDate string  `json:"due_date,omitempty"`
	Urgency Urgency `json:"urgency"`
	Minutes int     `json:"estimated_minutes"`
}

type promptSubject struct {
	Subject   string           `json:"subject"`
	Weight    float64          `json:"cognitive_weight"`
	Materials []promptMaterial `json:"materials"`
}

type assignmentContext struct {
	LearnerID       string          `json:"learner_id"`
	DifficultFirst  bool            `json:"difficult_subjects_morning"`
	MaxDailyMinutes int             `json:"max_daily_study_minutes"`
	Slots           []promptSlot    `json:"slots"`
	Subjects        []promptSubject `json:"subjects"`
}

func toPromptSlot(s TimeSlot) promptSlot {
	return promptSlot{
		ID:         s.ID,
		Date:       dateKey(s.Date),
		Start:      s.Start.String(),
		End:        s.End.String(),
		Window:     s.Window,
		Efficiency: s.Efficiency,
		Optimal:    s.Optimal,
	}
}

func buildAssignmentPrompt(sctx SchedulingContext, slots []TimeSlot) (AdvisoryPrompt, error) {
	payload := assignmentContext{
		LearnerID:       sctx.Profile.LearnerID,
		DifficultFirst:  sctx.Profile.DifficultFirst,
		MaxDailyMinutes: sctx.Profile.MaxDailyMinutes,
	}
	for _, s := range slots {
		payload.Slots = append(payload.Slots, toPromptSlot(s))
	}
	for _, g := range sctx.Groups {
		subject := promptSubject{Subject: g.Subject, Weight: g.Weight}
		for _, item := range g.Items {
			m := promptMaterial{ID: item.Item.ID, Title: item.Item.Title, Urgency: item.Urgency, Minutes: item.Minutes}
			if item.Item.DueDate != nil {
				m.DueDate = dateKey(*item.Item.DueDate)
			}
			subject.Materials = append(subject.Materials, m)
		}
		payload.Subjects = append(payload.Subjects, subject)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return AdvisoryPrompt{}, err
	}
	return AdvisoryPrompt{Kind: PromptAssignment, System: assignmentSystemPrompt, User: string(body)}, nil
}

type advisoryAssignments struct {
	Assignments []Assignment `json:"assignments" validate:"dive"`
	Confidence  float64      `json:"confidence" validate:"gte=0,lte=1"`
}

// parseAssignments decodes and validates an advisory response against the input. Any
// violation rejects the whole response.
func parseAssignments(v *validator.Validate, raw string, sctx SchedulingContext, slots []TimeSlot) ([]Assignment, float64, error) {
	var resp advisoryAssignments
	if err := decodeStrict(raw, &resp); err != nil {
		return nil, 0, err
	}
	if err := v.Struct(resp); err != nil {
		return nil, 0, &advisoryRejection{Reason: "schema_violation", Err: err}
	}

	slotIDs := make(map[string]TimeSlot, len(slots))
	for _, s := range slots {
		slotIDs[s.ID] = s
	}
	items := make(map[string]AnalyzedItem, len(sctx.Items))
	for _, item := range sctx.Items {
		items[item.Item.ID] = item
	}

	usedSlots := make(map[string]bool)
	usedItems := make(map[string]bool)
	for _, a := range resp.Assignments {
		if _, ok := slotIDs[a.SlotID]; !ok {
			return nil, 0, reject("unknown_reference", "slot %q not offered", a.SlotID)
		}
		if usedSlots[a.SlotID] {
			return nil, 0, reject("duplicate_reference", "slot %q used twice", a.SlotID)
		}
		usedSlots[a.SlotID] = true
		for _, id := range a.MaterialIDs {
			item, ok := items[id]
			if !ok {
				return nil, 0, reject("unknown_reference", "material %q not offered", id)
			}
			if usedItems[id] {
				return nil, 0, reject("duplicate_reference", "material %q used twice", id)
			}
			if normalizeKey(item.Item.SubjectName) != normalizeKey(a.Subject) {
				return nil, 0, reject("schema_violation", "material %q is %s, not %s", id, item.Item.SubjectName, a.Subject)
			}
			usedItems[id] = true
		}
	}

	expected := len(sctx.Items)
	if len(slots) < expected {
		expected = len(slots)
	}
	if len(usedItems) < expected {
		return nil, 0, reject("incomplete", "placed %d of %d materials", len(usedItems), expected)
	}
	return resp.Assignments, resp.Confidence, nil
}

// RebalanceMove relocates one session to a free pool slot.
type RebalanceMove struct {
	SessionID string `json:"session_id" validate:"required"`
	SlotID    string `json:"slot_id" validate:"required"`
}

type advisoryRebalance struct {
	Moves     []RebalanceMove `json:"moves" validate:"dive"`
	Reasoning string          `json:"reasoning"`
}

// decodeStrict strips code fences and decodes exactly one JSON object with no unknown fields.
func decodeStrict(raw string, out interface{}) error {
	content := cleanJSONContent(raw)
	if content == "" {
		return reject("empty_response", "no content")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(content)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return &advisoryRejection{Reason: "malformed_json", Err: err}
	}
	if dec.More() {
		return reject("malformed_json", "trailing content after JSON object")
	}
	return nil
}

func cleanJSONContent(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") && strings.HasSuffix(content, "```") && len(content) >= 6 {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}
	return content
}

// rejectionReason extracts a metric label from an advisory error.
func rejectionReason(err error) string {
	var rej *advisoryRejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "service_error"
}
