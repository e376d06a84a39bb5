package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/btimofeyev/tutor-ai-sub003/internal/models"
	appErrors "github.com/btimofeyev/tutor-ai-sub003/pkg/errors"
)

// DefaultMaxRangeDays bounds the date range of one request.
const DefaultMaxRangeDays = 92

// DefaultBlockedWindow is reserved in family pools when no blocks are supplied.
const DefaultBlockedWindow = "12:00-13:00"

// Recorder receives engine instrumentation.
type Recorder interface {
	ObserveSchedule(generator string, sessions int, duration time.Duration)
	ObserveAdvisoryFailure(reason string)
	ObserveConflicts(detected, resolved int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveSchedule(string, int, time.Duration) {}
func (nopRecorder) ObserveAdvisoryFailure(string)              {}
func (nopRecorder) ObserveConflicts(int, int)                  {}

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	Advisor         Advisor
	AdvisoryTimeout time.Duration
	Tuning          *Tuning
	Validator       *validator.Validate
	Logger          *zap.Logger
	Recorder        Recorder
	MaxRangeDays    int
	Now             func() time.Time
}

// Engine produces study schedules for single learners and households.
type Engine struct {
	advisor         Advisor
	advisoryTimeout time.Duration
	tuning          Tuning
	validator       *validator.Validate
	logger          *zap.Logger
	recorder        Recorder
	maxRangeDays    int
	now             func() time.Time
}

// NewEngine wires an engine. An invalid tuning value is replaced by the defaults.
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Validator == nil {
		opts.Validator = validator.New()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.MaxRangeDays <= 0 {
		opts.MaxRangeDays = DefaultMaxRangeDays
	}
	if opts.AdvisoryTimeout <= 0 {
		opts.AdvisoryTimeout = 20 * time.Second
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	tuning := DefaultTuning()
	if opts.Tuning != nil {
		candidate := *opts.Tuning
		if err := candidate.Compile(); err != nil {
			opts.Logger.Warn("invalid tuning, using defaults", zap.Error(err))
		} else {
			tuning = candidate
		}
	}

	return &Engine{
		advisor:         opts.Advisor,
		advisoryTimeout: opts.AdvisoryTimeout,
		tuning:          tuning,
		validator:       opts.Validator,
		logger:          opts.Logger,
		recorder:        opts.Recorder,
		maxRangeDays:    opts.MaxRangeDays,
		now:             opts.Now,
	}
}

// Tuning returns the compiled tuning in use.
func (e *Engine) Tuning() Tuning {
	return e.tuning
}

// LearnerRequest asks for one learner's schedule.
type LearnerRequest struct {
	LearnerID        string                     `validate:"required"`
	StartDate        time.Time                  `validate:"required"`
	EndDate          time.Time                  `validate:"required"`
	Materials        []models.WorkItem          `validate:"dive"`
	Preferences      *models.SchedulePreference `validate:"-"`
	SessionLength    string                     `validate:"omitempty,oneof=short medium long"`
	Distribution     string                     `validate:"omitempty,oneof=front_loaded evenly_distributed back_loaded"`
	ExistingSessions []models.StudySession      `validate:"-"`
	BlockedWindows   []Window                   `validate:"-"`
	DisableAdvisory  bool
}

func (e *Engine) validateLearner(req LearnerRequest) error {
	if err := e.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule request")
	}
	if days := int(dateOnly(req.EndDate).Sub(dateOnly(req.StartDate)).Hours()/24) + 1; days > e.maxRangeDays {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("date range exceeds %d days", e.maxRangeDays))
	}
	seen := make(map[string]bool, len(req.Materials))
	for _, item := range req.Materials {
		if item.ID == "" {
			return appErrors.Clone(appErrors.ErrValidation, "material id is required")
		}
		if item.SubjectName == "" {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("material %s has no subject", item.ID))
		}
		if seen[item.ID] {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("material %s listed twice", item.ID))
		}
		seen[item.ID] = true
	}
	return nil
}

// Generate runs the fallback cascade for one learner. Only validation failures are
// returned as errors; every other failure degrades to a lower tier.
func (e *Engine) Generate(ctx context.Context, req LearnerRequest) (*ScheduleResult, error) {
	if err := e.validateLearner(req); err != nil {
		return nil, err
	}
	started := time.Now()
	run := &learnerRun{req: req, owner: req.LearnerID, profile: ResolveProfile(req.LearnerID, req.Preferences)}
	result := e.cascade(ctx, run)
	e.recorder.ObserveSchedule(result.Metadata.Generator, len(result.Sessions), time.Since(started))
	e.logger.Info("schedule generated",
		zap.String("learner_id", req.LearnerID),
		zap.String("generator", result.Metadata.Generator),
		zap.Float64("confidence", result.Metadata.Confidence),
		zap.Int("sessions", len(result.Sessions)),
	)
	return &result, nil
}

// learnerRun carries one learner through the tiers. A nil pool means the learner gets a
// private pool built from its own preferences.
type learnerRun struct {
	req     LearnerRequest
	owner   string
	profile LearnerProfile
	pool    *SlotPool
	session int
}

type tier struct {
	generator string
	advisory  bool
}

// cascade tries Advanced, then EnhancedRuleBased, then Emergency, which cannot fail.
func (e *Engine) cascade(ctx context.Context, run *learnerRun) ScheduleResult {
	tiers := []tier{{generator: GeneratorRuleBased}}
	if e.advisor != nil && !run.req.DisableAdvisory {
		tiers = append([]tier{{generator: GeneratorAdvanced, advisory: true}}, tiers...)
	}

	var tierErrors []string
	var advisoryErr string
	for _, t := range tiers {
		result, err := e.safeRun(func() (ScheduleResult, error) {
			return e.pipeline(ctx, run, t)
		})
		if err == nil {
			result.Metadata.TierErrors = tierErrors
			result.Metadata.AdvisoryError = advisoryErr
			return result
		}
		if run.pool != nil {
			run.pool.ReleaseOwner(run.owner)
		}
		if t.advisory {
			advisoryErr = err.Error()
		}
		tierErrors = append(tierErrors, fmt.Sprintf("%s: %v", t.generator, err))
		e.logger.Warn("schedule tier failed",
			zap.String("learner_id", run.req.LearnerID),
			zap.String("tier", t.generator),
			zap.Error(err),
		)
	}

	result := emergencySchedule(e.tuning, run.req.LearnerID, run.req.Materials, run.req.StartDate, run.req.EndDate, e.now())
	result.Metadata.TierErrors = append(tierErrors, result.Metadata.TierErrors...)
	result.Metadata.AdvisoryError = advisoryErr
	return result
}

func (e *Engine) safeRun(fn func() (ScheduleResult, error)) (result ScheduleResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = appErrors.Wrap(fmt.Errorf("panic: %v", r), appErrors.ErrPipelineFailure.Code, appErrors.ErrPipelineFailure.Status, "scheduling stage panicked")
		}
	}()
	return fn()
}

// pipeline runs Context -> Slots -> Assignment -> Optimize -> Validate for one tier.
func (e *Engine) pipeline(ctx context.Context, run *learnerRun, t tier) (ScheduleResult, error) {
	req := run.req
	sctx := AnalyzeContext(e.tuning, run.profile, req.Materials, req.StartDate, req.EndDate)
	sctx.Distribution = ParseDistribution(req.Distribution)

	pool := run.pool
	if pool == nil {
		sctx.SessionMinutes = e.tuning.SessionMinutes(req.SessionLength)
		pool = NewSlotPool(GenerateSlots(e.tuning, SlotSpec{
			Days:           sctx.Days,
			Window:         run.profile.Window,
			SessionMinutes: sctx.SessionMinutes,
			BreakMinutes:   run.profile.BreakMinutes,
		}))
		pool.BlockWindows(req.BlockedWindows)
		reserveExisting(pool, req.ExistingSessions)
	} else {
		sctx.SessionMinutes = run.session
	}

	var candidates []TimeSlot
	for _, slot := range pool.Free() {
		if run.profile.Accepts(slot) {
			candidates = append(candidates, slot)
		}
	}

	generator := t.generator
	var assignments []Assignment
	var advisoryConfidence float64
	switch {
	case t.advisory && len(candidates) > 0 && len(sctx.Items) > 0:
		var err error
		assignments, advisoryConfidence, err = e.adviseAssignments(ctx, sctx, candidates)
		if err != nil {
			return ScheduleResult{}, err
		}
	default:
		if t.advisory {
			generator = GeneratorRuleBased
		}
		assignments = AssignRuleBased(sctx, candidates)
	}

	placements, err := e.place(pool, run.owner, sctx, assignments)
	if err != nil {
		return ScheduleResult{}, err
	}

	opt := &optimizer{
		tuning:  e.tuning,
		pool:    pool,
		owner:   run.owner,
		profile: run.profile,
		days:    sctx.Days,
		accepts: run.profile.Accepts,
	}
	report, err := opt.run(placements, sctx.Distribution)
	if err != nil {
		return ScheduleResult{}, appErrors.Wrap(err, appErrors.ErrPipelineFailure.Code, appErrors.ErrPipelineFailure.Status, "optimizer failed")
	}

	result := enhance(e.tuning, sctx, placements, generator, report, e.now())
	result.Metadata.AvailableSlots = len(candidates)
	if generator == GeneratorAdvanced {
		result.Metadata.AdvisoryUsed = true
		result.Metadata.AdvisoryConfidence = advisoryConfidence
	}
	return result, nil
}

// place reserves every assigned slot and turns assignments into sessions.
func (e *Engine) place(pool *SlotPool, owner string, sctx SchedulingContext, assignments []Assignment) ([]*placement, error) {
	now := e.now()
	placements := make([]*placement, 0, len(assignments))
	for _, a := range assignments {
		slot, ok := pool.Slot(a.SlotID)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrPipelineFailure, fmt.Sprintf("assignment references unknown slot %s", a.SlotID))
		}
		if err := pool.Reserve(a.SlotID, owner, SlotReservedAssignment); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrPipelineFailure.Code, appErrors.ErrPipelineFailure.Status, "slot reservation failed")
		}
		var materialID *string
		weight := e.tuning.SubjectWeight(a.Subject)
		if len(a.MaterialIDs) > 0 {
			id := a.MaterialIDs[0]
			materialID = &id
			if item, ok := sctx.ItemByID(id); ok {
				weight = item.Weight
			}
		}
		p := &placement{
			session: models.StudySession{
				ID:          uuid.NewString(),
				LearnerID:   sctx.Profile.LearnerID,
				MaterialID:  materialID,
				SubjectName: a.Subject,
				Status:      models.SessionStatusScheduled,
				Reasoning:   a.Reasoning,
				CreatedAt:   now,
			},
			weight: weight,
		}
		p.setSlot(slot)
		if a.CognitiveMatch > 0 {
			p.session.CognitiveMatch = a.CognitiveMatch
		}
		placements = append(placements, p)
	}
	return placements, nil
}

// reserveExisting holds every slot that intersects an already persisted session.
func reserveExisting(pool *SlotPool, sessions []models.StudySession) int {
	reserved := 0
	for _, s := range sessions {
		start, end := sessionBounds(s)
		if end <= start {
			continue
		}
		reserved += len(pool.ReserveOverlapping(s.SessionDate, start, end, s.LearnerID, SlotReservedExisting))
	}
	return reserved
}
