package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/btimofeyev/tutor-ai-sub003/internal/dto"
	"github.com/btimofeyev/tutor-ai-sub003/internal/scheduler"
	appErrors "github.com/btimofeyev/tutor-ai-sub003/pkg/errors"
	"github.com/btimofeyev/tutor-ai-sub003/pkg/jobs"
)

// Batch job types.
const (
	JobTypeLearner = "learner_schedule"
	JobTypeFamily  = "family_schedule"
)

type scheduleGenerator interface {
	Generate(ctx context.Context, req dto.GenerateScheduleRequest) (*dto.ScheduleResponse, error)
	GenerateFamily(ctx context.Context, req dto.FamilyScheduleRequest) (*dto.FamilyScheduleResponse, error)
}

type scheduleExporter interface {
	Export(dir string, schedule scheduler.ScheduleResult) (*ExportResult, error)
}

// BatchOutcome is the result of one batch job.
type BatchOutcome struct {
	JobID     string
	Type      string
	Learners  int
	Sessions  int
	Generator []string
	Conflicts int
	Files     []string
	Err       error
}

// ScheduleBatchWorker bridges queue jobs to the schedule service and exporter. Generated
// schedules are kept per job so a retried export does not schedule or persist twice.
type ScheduleBatchWorker struct {
	schedules scheduleGenerator
	exporter  scheduleExporter
	logger    *zap.Logger

	mu        sync.Mutex
	generated map[string][]scheduler.ScheduleResult
	outcomes  map[string]*BatchOutcome
}

// NewScheduleBatchWorker constructs a worker.
func NewScheduleBatchWorker(schedules scheduleGenerator, exporter scheduleExporter, logger *zap.Logger) *ScheduleBatchWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleBatchWorker{
		schedules: schedules,
		exporter:  exporter,
		logger:    logger,
		generated: make(map[string][]scheduler.ScheduleResult),
		outcomes:  make(map[string]*BatchOutcome),
	}
}

// Handle processes a queue job. Validation failures are final and never retried.
func (w *ScheduleBatchWorker) Handle(ctx context.Context, job jobs.Job) error {
	outcome := &BatchOutcome{JobID: job.ID, Type: job.Type}

	schedules, conflicts, err := w.schedulesFor(ctx, job)
	if err != nil {
		outcome.Err = err
		w.record(outcome)
		if errors.Is(err, appErrors.ErrValidation) {
			w.logger.Sugar().Warnw("batch request rejected", "job_id", job.ID, "error", err)
			return nil
		}
		return err
	}
	outcome.Conflicts = conflicts

	for _, schedule := range schedules {
		outcome.Learners++
		outcome.Sessions += len(schedule.Sessions)
		outcome.Generator = append(outcome.Generator, schedule.Metadata.Generator)
		exported, err := w.exporter.Export(job.ID, schedule)
		if exported != nil {
			outcome.Files = append(outcome.Files, exported.Files...)
		}
		if err != nil {
			outcome.Err = err
			w.record(outcome)
			return err
		}
	}
	w.record(outcome)
	w.logger.Sugar().Infow("batch job finished", "job_id", job.ID, "learners", outcome.Learners, "sessions", outcome.Sessions, "files", len(outcome.Files))
	return nil
}

func (w *ScheduleBatchWorker) schedulesFor(ctx context.Context, job jobs.Job) ([]scheduler.ScheduleResult, int, error) {
	w.mu.Lock()
	cached, ok := w.generated[job.ID]
	w.mu.Unlock()
	if ok {
		return cached, w.conflictsOf(job.ID), nil
	}

	var (
		schedules []scheduler.ScheduleResult
		conflicts int
	)
	switch req := job.Payload.(type) {
	case dto.GenerateScheduleRequest:
		resp, err := w.schedules.Generate(ctx, req)
		if err != nil {
			return nil, 0, err
		}
		schedules = []scheduler.ScheduleResult{{LearnerID: resp.LearnerID, Sessions: resp.Sessions, Metadata: resp.Metadata}}
	case dto.FamilyScheduleRequest:
		resp, err := w.schedules.GenerateFamily(ctx, req)
		if err != nil {
			return nil, 0, err
		}
		schedules = resp.Schedules
		conflicts = resp.Metadata.ConflictsRemaining
	default:
		return nil, 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported batch payload %T", job.Payload))
	}

	w.mu.Lock()
	w.generated[job.ID] = schedules
	w.mu.Unlock()
	return schedules, conflicts, nil
}

func (w *ScheduleBatchWorker) conflictsOf(jobID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if prev, ok := w.outcomes[jobID]; ok {
		return prev.Conflicts
	}
	return 0
}

func (w *ScheduleBatchWorker) record(outcome *BatchOutcome) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outcomes[outcome.JobID] = outcome
}

// Outcomes returns the latest outcome of every handled job.
func (w *ScheduleBatchWorker) Outcomes() []BatchOutcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]BatchOutcome, 0, len(w.outcomes))
	for _, o := range w.outcomes {
		out = append(out, *o)
	}
	return out
}
