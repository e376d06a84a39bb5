package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/btimofeyev/tutor-ai-sub003/internal/models"
	appErrors "github.com/btimofeyev/tutor-ai-sub003/pkg/errors"
)

// Coordination modes.
const (
	ModeBalanced           = "balanced"
	ModeStaggered          = "staggered"
	ModeSynchronized       = "synchronized"
	ModeIndividualFallback = "individual_fallback"
)

// FamilyRequest asks for coordinated schedules for several learners sharing a date range.
// Learner dates left zero inherit the family range.
type FamilyRequest struct {
	FamilyID         string
	Learners         []LearnerRequest      `validate:"required,min=1"`
	StartDate        time.Time             `validate:"required"`
	EndDate          time.Time             `validate:"required"`
	Mode             string                `validate:"omitempty,oneof=balanced staggered synchronized"`
	SessionLength    string                `validate:"omitempty,oneof=short medium long"`
	BlockedWindows   []Window              `validate:"-"`
	ExistingSessions []models.StudySession `validate:"-"`
	DisableAdvisory  bool
}

// FamilyMetadata aggregates a coordination run.
type FamilyMetadata struct {
	Mode                string         `json:"coordination_mode"`
	TotalSessions       int            `json:"total_sessions"`
	ConflictsDetected   int            `json:"conflicts_detected"`
	ConflictsResolved   int            `json:"conflicts_resolved"`
	ConflictsRemaining  int            `json:"conflicts_remaining"`
	Efficiency          float64        `json:"coordination_efficiency"`
	SharedOpportunities int            `json:"shared_study_opportunities"`
	SharedSubjects      []string       `json:"shared_subjects"`
	SharedSessions      int            `json:"shared_sessions,omitempty"`
	LearnerOffsets      map[string]int `json:"learner_offsets_minutes,omitempty"`
	RebalanceMoves      int            `json:"rebalance_moves"`
	AdvisoryRebalance   bool           `json:"advisory_rebalance"`
	PoolSlots           int            `json:"pool_slots"`
	BlockedSlots        int            `json:"blocked_slots"`
	ReservedExisting    int            `json:"reserved_existing"`
	FallbackReason      string         `json:"fallback_reason,omitempty"`
	GeneratedAt         time.Time      `json:"generated_at"`
}

// FamilyResult holds per-learner schedules in request order, the conflicts found before
// resolution and the aggregate metadata.
type FamilyResult struct {
	FamilyID  string           `json:"family_id,omitempty"`
	Schedules []ScheduleResult `json:"schedules"`
	Conflicts []Conflict       `json:"conflicts"`
	Metadata  FamilyMetadata   `json:"metadata"`
}

func (e *Engine) normalizeFamily(req FamilyRequest) (FamilyRequest, error) {
	if err := e.validator.Struct(req); err != nil {
		return req, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid family schedule request")
	}
	if req.Mode == "" {
		req.Mode = ModeBalanced
	}

	learners := make([]LearnerRequest, len(req.Learners))
	seen := make(map[string]bool, len(req.Learners))
	for i, l := range req.Learners {
		if l.StartDate.IsZero() {
			l.StartDate = req.StartDate
		}
		if l.EndDate.IsZero() {
			l.EndDate = req.EndDate
		}
		if l.SessionLength == "" {
			l.SessionLength = req.SessionLength
		}
		if req.DisableAdvisory {
			l.DisableAdvisory = true
		}
		if err := e.validateLearner(l); err != nil {
			return req, err
		}
		if seen[l.LearnerID] {
			return req, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("learner %s listed twice", l.LearnerID))
		}
		seen[l.LearnerID] = true
		learners[i] = l
	}
	req.Learners = learners
	return req, nil
}

// CoordinateFamily schedules every learner against one shared slot pool, detects
// cross-learner conflicts and resolves them with the requested mode. If coordination
// itself fails, each learner is scheduled independently instead.
func (e *Engine) CoordinateFamily(ctx context.Context, req FamilyRequest) (*FamilyResult, error) {
	req, err := e.normalizeFamily(req)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result, err := e.safeCoordinate(ctx, req)
	if err != nil {
		e.logger.Warn("family coordination failed, scheduling learners independently",
			zap.String("family_id", req.FamilyID),
			zap.Error(err),
		)
		result, err = e.individualFallback(ctx, req, err)
		if err != nil {
			return nil, err
		}
	}

	e.recorder.ObserveConflicts(result.Metadata.ConflictsDetected, result.Metadata.ConflictsResolved)
	e.logger.Info("family schedule generated",
		zap.String("family_id", req.FamilyID),
		zap.String("mode", result.Metadata.Mode),
		zap.Int("learners", len(result.Schedules)),
		zap.Int("sessions", result.Metadata.TotalSessions),
		zap.Int("conflicts_detected", result.Metadata.ConflictsDetected),
		zap.Int("conflicts_resolved", result.Metadata.ConflictsResolved),
		zap.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

func (e *Engine) safeCoordinate(ctx context.Context, req FamilyRequest) (result *FamilyResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = appErrors.Wrap(fmt.Errorf("panic: %v", r), appErrors.ErrPipelineFailure.Code, appErrors.ErrPipelineFailure.Status, "family coordination panicked")
		}
	}()
	return e.coordinate(ctx, req)
}

func (e *Engine) coordinate(ctx context.Context, req FamilyRequest) (*FamilyResult, error) {
	fs := &familyState{tuning: e.tuning, byLearner: make(map[string]*familyMember, len(req.Learners))}

	profiles := make([]LearnerProfile, len(req.Learners))
	for i, l := range req.Learners {
		profiles[i] = ResolveProfile(l.LearnerID, l.Preferences)
	}
	union := unionProfile(profiles)
	sessionMinutes := e.tuning.SessionMinutes(req.SessionLength)

	days := AvailableDays(req.StartDate, req.EndDate, union.StudyDays)
	fs.pool = NewSlotPool(GenerateSlots(e.tuning, SlotSpec{
		Days:           days,
		Window:         union.Window,
		SessionMinutes: sessionMinutes,
		BreakMinutes:   union.BreakMinutes,
		Prefix:         PoolSlotPrefix,
	}))

	blocked := req.BlockedWindows
	if blocked == nil {
		blocked = []Window{mustWindow(DefaultBlockedWindow)}
	}
	meta := FamilyMetadata{Mode: req.Mode, PoolSlots: fs.pool.Len()}
	meta.BlockedSlots = fs.pool.BlockWindows(blocked)
	meta.ReservedExisting = reserveExisting(fs.pool, req.ExistingSessions)
	for _, l := range req.Learners {
		meta.ReservedExisting += reserveExisting(fs.pool, l.ExistingSessions)
	}

	for i, l := range req.Learners {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		run := &learnerRun{req: l, owner: l.LearnerID, profile: profiles[i], pool: fs.pool, session: sessionMinutes}
		schedule := e.cascade(ctx, run)
		fs.add(i, profiles[i], schedule)
	}

	conflicts := DetectConflicts(e.tuning, fs.sessions())
	meta.ConflictsDetected = len(conflicts)

	switch req.Mode {
	case ModeStaggered:
		meta.LearnerOffsets = fs.stagger()
	case ModeSynchronized:
		meta.SharedSessions = fs.synchronize()
		meta.RebalanceMoves = fs.sweep(fs.relocateAny)
	default:
		moves, used := e.balance(ctx, fs, conflicts, req.DisableAdvisory)
		meta.RebalanceMoves = moves
		meta.AdvisoryRebalance = used
	}

	remaining := DetectConflicts(e.tuning, fs.sessions())
	meta.ConflictsRemaining = len(remaining)
	meta.ConflictsResolved = meta.ConflictsDetected - meta.ConflictsRemaining
	if meta.ConflictsResolved < 0 {
		meta.ConflictsResolved = 0
	}

	result := &FamilyResult{FamilyID: req.FamilyID, Conflicts: conflicts, Metadata: meta}
	if result.Conflicts == nil {
		result.Conflicts = []Conflict{}
	}
	for _, m := range fs.members {
		result.Schedules = append(result.Schedules, m.finish(e.now()))
	}
	finishFamilyMetadata(result, e.now())
	return result, nil
}

// individualFallback schedules each learner on its own pool with no conflict handling.
func (e *Engine) individualFallback(ctx context.Context, req FamilyRequest, cause error) (*FamilyResult, error) {
	result := &FamilyResult{
		FamilyID:  req.FamilyID,
		Conflicts: []Conflict{},
		Metadata:  FamilyMetadata{Mode: ModeIndividualFallback, FallbackReason: cause.Error()},
	}
	for _, l := range req.Learners {
		if l.BlockedWindows == nil {
			l.BlockedWindows = req.BlockedWindows
		}
		l.ExistingSessions = append(append([]models.StudySession{}, l.ExistingSessions...), req.ExistingSessions...)
		schedule, err := e.Generate(ctx, l)
		if err != nil {
			return nil, err
		}
		result.Schedules = append(result.Schedules, *schedule)
	}
	finishFamilyMetadata(result, e.now())
	return result, nil
}

func finishFamilyMetadata(result *FamilyResult, now time.Time) {
	meta := &result.Metadata
	meta.GeneratedAt = now
	meta.TotalSessions = 0
	learnersBySubject := make(map[string]map[string]bool)
	names := make(map[string]string)
	for _, s := range result.Schedules {
		meta.TotalSessions += len(s.Sessions)
		for _, session := range s.Sessions {
			key := normalizeKey(session.SubjectName)
			if learnersBySubject[key] == nil {
				learnersBySubject[key] = make(map[string]bool)
				names[key] = session.SubjectName
			}
			learnersBySubject[key][session.LearnerID] = true
		}
	}

	meta.SharedSubjects = []string{}
	for key, learners := range learnersBySubject {
		if len(learners) >= 2 {
			meta.SharedSubjects = append(meta.SharedSubjects, names[key])
		}
	}
	sort.Strings(meta.SharedSubjects)
	meta.SharedOpportunities = len(meta.SharedSubjects)

	meta.Efficiency = 1
	if meta.TotalSessions > 0 {
		meta.Efficiency = 1 - float64(meta.ConflictsDetected)/float64(meta.TotalSessions)
		if meta.Efficiency < 0 {
			meta.Efficiency = 0
		}
	}
}

// unionProfile takes the widest window, the largest daily cap, the smallest break and
// every eligible weekday across learners.
func unionProfile(profiles []LearnerProfile) LearnerProfile {
	union := LearnerProfile{StudyDays: make(map[time.Weekday]bool)}
	for i, p := range profiles {
		if i == 0 || p.Window.Start < union.Window.Start {
			union.Window.Start = p.Window.Start
		}
		if i == 0 || p.Window.End > union.Window.End {
			union.Window.End = p.Window.End
		}
		if p.MaxDailyMinutes > union.MaxDailyMinutes {
			union.MaxDailyMinutes = p.MaxDailyMinutes
		}
		if i == 0 || p.BreakMinutes < union.BreakMinutes {
			union.BreakMinutes = p.BreakMinutes
		}
		for day, ok := range p.StudyDays {
			if ok {
				union.StudyDays[day] = true
			}
		}
	}
	return union
}

func mustWindow(raw string) Window {
	w, err := ParseWindow(raw)
	if err != nil {
		panic(err)
	}
	return w
}

// familyMember is one learner's schedule while strategies rearrange it.
type familyMember struct {
	index    int
	profile  LearnerProfile
	schedule ScheduleResult
	ps       []*placement
}

func (m *familyMember) learnerID() string {
	return m.profile.LearnerID
}

// finish writes rearranged sessions back and refreshes the derived totals.
func (m *familyMember) finish(now time.Time) ScheduleResult {
	sessions := make([]models.StudySession, 0, len(m.ps))
	for _, p := range m.ps {
		sessions = append(sessions, p.session)
	}
	SortSessions(sessions)

	out := m.schedule
	out.Sessions = sessions
	fresh := summarize(sessions, out.Metadata.Generator, now)
	out.Metadata.TotalSessions = fresh.TotalSessions
	out.Metadata.TotalMinutes = fresh.TotalMinutes
	out.Metadata.Subjects = fresh.Subjects
	out.Metadata.Dates = fresh.Dates
	out.Metadata.AverageDuration = fresh.AverageDuration
	out.Metadata.DailyLoadStdDev = fresh.DailyLoadStdDev
	return out
}

type familyState struct {
	tuning    Tuning
	pool      *SlotPool
	members   []*familyMember
	byLearner map[string]*familyMember
}

func (fs *familyState) add(index int, profile LearnerProfile, schedule ScheduleResult) {
	m := &familyMember{index: index, profile: profile, schedule: schedule}
	for _, s := range schedule.Sessions {
		p := &placement{session: s, weight: fs.tuning.SubjectWeight(s.SubjectName)}
		if slot, ok := fs.pool.Slot(s.SlotID); ok {
			p.slot = slot
		}
		m.ps = append(m.ps, p)
	}
	fs.members = append(fs.members, m)
	fs.byLearner[profile.LearnerID] = m
}

func (fs *familyState) sessions() []models.StudySession {
	var out []models.StudySession
	for _, m := range fs.members {
		for _, p := range m.ps {
			out = append(out, p.session)
		}
	}
	return out
}

func (fs *familyState) find(sessionID string) (*familyMember, *placement) {
	for _, m := range fs.members {
		for _, p := range m.ps {
			if p.session.ID == sessionID {
				return m, p
			}
		}
	}
	return nil, nil
}

// clear reports whether p could move into slot without leaving the learner's window or
// daily cap and without overlapping any other session in the household. Sessions already
// on the slot itself are joint attendance and ignored.
func (fs *familyState) clear(m *familyMember, p *placement, slot TimeSlot) bool {
	if !m.profile.Accepts(slot) {
		return false
	}
	if !p.date().Equal(slot.Date) && dailyMinutes(m.ps, slot.Date)+slot.Minutes > m.profile.MaxDailyMinutes {
		return false
	}
	for _, other := range fs.members {
		for _, q := range other.ps {
			if q == p || !q.date().Equal(slot.Date) {
				continue
			}
			if slot.ID != "" && q.slot.ID == slot.ID && other != m {
				continue
			}
			start, end := q.bounds()
			if start < slot.End && slot.Start < end {
				return false
			}
		}
	}
	return true
}

// move takes target for the member and frees the slot p held.
func (fs *familyState) move(m *familyMember, p *placement, target TimeSlot, reason string) error {
	if err := fs.pool.Reserve(target.ID, m.learnerID(), SlotReservedAssignment); err != nil {
		return err
	}
	if p.slot.ID != "" && !p.session.Shared {
		if err := fs.pool.Release(p.slot.ID, m.learnerID()); err != nil {
			_ = fs.pool.Release(target.ID, m.learnerID())
			return err
		}
	}
	p.setSlot(target)
	if reason != "" {
		p.session.Reasoning = appendReason(p.session.Reasoning, reason)
	}
	return nil
}

func appendReason(existing, reason string) string {
	if existing == "" {
		return reason
	}
	return existing + " " + reason
}
