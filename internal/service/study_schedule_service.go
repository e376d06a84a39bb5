package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/btimofeyev/tutor-ai-sub003/internal/dto"
	"github.com/btimofeyev/tutor-ai-sub003/internal/models"
	"github.com/btimofeyev/tutor-ai-sub003/internal/scheduler"
	appErrors "github.com/btimofeyev/tutor-ai-sub003/pkg/errors"
)

const dateLayout = "2006-01-02"

type workItemReader interface {
	ListPending(ctx context.Context, learnerID string, from, to time.Time) ([]models.WorkItem, error)
}

type preferenceReader interface {
	GetByLearner(ctx context.Context, learnerID string) (*models.SchedulePreference, error)
}

type sessionStore interface {
	ListByLearners(ctx context.Context, learnerIDs []string, from, to time.Time) ([]models.StudySession, error)
	Create(ctx context.Context, session *models.StudySession) error
}

type scheduleEngine interface {
	Generate(ctx context.Context, req scheduler.LearnerRequest) (*scheduler.ScheduleResult, error)
	CoordinateFamily(ctx context.Context, req scheduler.FamilyRequest) (*scheduler.FamilyResult, error)
}

type persistRecorder interface {
	ObserveSessionPersist(ok bool)
}

// StudyScheduleConfig carries request defaults and store limits.
type StudyScheduleConfig struct {
	StoreTimeout     time.Duration
	SessionLength    string
	Distribution     string
	CoordinationMode string
	BlockedWindows   []string
}

// StudyScheduleService loads scheduling inputs, runs the engine and persists the result.
// Store failures never fail a request: reads fall back to defaults and writes are counted.
type StudyScheduleService struct {
	items     workItemReader
	prefs     preferenceReader
	sessions  sessionStore
	engine    scheduleEngine
	metrics   persistRecorder
	validator *validator.Validate
	logger    *zap.Logger
	cfg       StudyScheduleConfig
}

// NewStudyScheduleService wires the service. items, prefs and sessions may be nil when no
// store is configured.
func NewStudyScheduleService(
	items workItemReader,
	prefs preferenceReader,
	sessions sessionStore,
	engine scheduleEngine,
	metrics persistRecorder,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg StudyScheduleConfig,
) *StudyScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	return &StudyScheduleService{
		items:     items,
		prefs:     prefs,
		sessions:  sessions,
		engine:    engine,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// Generate builds, and unless told otherwise persists, one learner's schedule.
func (s *StudyScheduleService) Generate(ctx context.Context, req dto.GenerateScheduleRequest) (*dto.ScheduleResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule request")
	}
	start, end, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	windows, err := s.blockedWindows(req.BlockedWindows)
	if err != nil {
		return nil, err
	}

	materials := req.Materials
	if materials == nil {
		materials = s.loadMaterials(ctx, req.LearnerID, start, end)
	}
	prefs := req.Preferences
	if prefs == nil {
		prefs = s.loadPreferences(ctx, req.LearnerID)
	}

	result, err := s.engine.Generate(ctx, scheduler.LearnerRequest{
		LearnerID:        req.LearnerID,
		StartDate:        start,
		EndDate:          end,
		Materials:        materials,
		Preferences:      prefs,
		SessionLength:    firstNonEmpty(req.SessionLength, s.cfg.SessionLength),
		Distribution:     firstNonEmpty(req.Distribution, s.cfg.Distribution),
		ExistingSessions: s.loadExisting(ctx, []string{req.LearnerID}, start, end),
		BlockedWindows:   windows,
		DisableAdvisory:  req.UseAdvisory != nil && !*req.UseAdvisory,
	})
	if err != nil {
		return nil, err
	}

	resp := &dto.ScheduleResponse{LearnerID: result.LearnerID, Sessions: result.Sessions, Metadata: result.Metadata}
	if wantPersist(req.Persist) {
		resp.SessionsPersisted, resp.PersistFailures = s.persist(ctx, result.Sessions)
	}
	return resp, nil
}

// GenerateFamily coordinates schedules for every learner of a household.
func (s *StudyScheduleService) GenerateFamily(ctx context.Context, req dto.FamilyScheduleRequest) (*dto.FamilyScheduleResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid family schedule request")
	}
	start, end, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	windows, err := s.blockedWindows(req.BlockedWindows)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(req.Learners))
	learners := make([]scheduler.LearnerRequest, 0, len(req.Learners))
	for _, l := range req.Learners {
		ids = append(ids, l.LearnerID)
		materials := l.Materials
		if materials == nil {
			materials = s.loadMaterials(ctx, l.LearnerID, start, end)
		}
		prefs := l.Preferences
		if prefs == nil {
			prefs = s.loadPreferences(ctx, l.LearnerID)
		}
		learners = append(learners, scheduler.LearnerRequest{
			LearnerID:    l.LearnerID,
			Materials:    materials,
			Preferences:  prefs,
			Distribution: firstNonEmpty(l.Distribution, s.cfg.Distribution),
		})
	}

	result, err := s.engine.CoordinateFamily(ctx, scheduler.FamilyRequest{
		FamilyID:         req.FamilyID,
		Learners:         learners,
		StartDate:        start,
		EndDate:          end,
		Mode:             firstNonEmpty(req.CoordinationMode, s.cfg.CoordinationMode),
		SessionLength:    firstNonEmpty(req.SessionLength, s.cfg.SessionLength),
		BlockedWindows:   windows,
		ExistingSessions: s.loadExisting(ctx, ids, start, end),
		DisableAdvisory:  req.UseAdvisory != nil && !*req.UseAdvisory,
	})
	if err != nil {
		return nil, err
	}

	resp := &dto.FamilyScheduleResponse{
		FamilyID:  result.FamilyID,
		Schedules: result.Schedules,
		Conflicts: result.Conflicts,
		Metadata:  result.Metadata,
	}
	if wantPersist(req.Persist) {
		for _, schedule := range result.Schedules {
			ok, failed := s.persist(ctx, schedule.Sessions)
			resp.SessionsPersisted += ok
			resp.PersistFailures += failed
		}
	}
	return resp, nil
}

func (s *StudyScheduleService) blockedWindows(raw []string) ([]scheduler.Window, error) {
	if raw == nil {
		raw = s.cfg.BlockedWindows
	}
	windows, err := scheduler.ParseWindows(raw)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid blocked window")
	}
	return windows, nil
}

func (s *StudyScheduleService) loadMaterials(ctx context.Context, learnerID string, from, to time.Time) []models.WorkItem {
	if s.items == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	items, err := s.items.ListPending(ctx, learnerID, from, to)
	if err != nil {
		s.logger.Sugar().Warnw("loading work items failed, scheduling without materials", "learner_id", learnerID, "error", err)
		return nil
	}
	return items
}

func (s *StudyScheduleService) loadPreferences(ctx context.Context, learnerID string) *models.SchedulePreference {
	if s.prefs == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	pref, err := s.prefs.GetByLearner(ctx, learnerID)
	if err != nil {
		if !errors.Is(err, appErrors.ErrNotFound) {
			s.logger.Sugar().Warnw("loading preferences failed, using defaults", "learner_id", learnerID, "error", err)
		}
		return nil
	}
	return pref
}

func (s *StudyScheduleService) loadExisting(ctx context.Context, learnerIDs []string, from, to time.Time) []models.StudySession {
	if s.sessions == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	existing, err := s.sessions.ListByLearners(ctx, learnerIDs, from, to)
	if err != nil {
		s.logger.Sugar().Warnw("loading existing sessions failed", "learners", learnerIDs, "error", err)
		return nil
	}
	return existing
}

// persist writes each session on its own; one failed write never blocks the others.
func (s *StudyScheduleService) persist(ctx context.Context, sessions []models.StudySession) (int, int) {
	if s.sessions == nil {
		return 0, 0
	}
	var ok, failed int
	for i := range sessions {
		session := sessions[i]
		writeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		err := s.sessions.Create(writeCtx, &session)
		cancel()
		if err != nil {
			failed++
			wrapped := appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "persist study session")
			s.logger.Warn("session write failed",
				zap.String("session_id", session.ID),
				zap.String("learner_id", session.LearnerID),
				zap.Error(wrapped),
			)
			s.observePersist(false)
			continue
		}
		ok++
		s.observePersist(true)
	}
	return ok, failed
}

func (s *StudyScheduleService) observePersist(ok bool) {
	if s.metrics != nil {
		s.metrics.ObserveSessionPersist(ok)
	}
}

func parseRange(rawStart, rawEnd string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(dateLayout, rawStart, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid start_date")
	}
	end, err := time.ParseInLocation(dateLayout, rawEnd, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid end_date")
	}
	return start, end, nil
}

func wantPersist(flag *bool) bool {
	return flag == nil || *flag
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
