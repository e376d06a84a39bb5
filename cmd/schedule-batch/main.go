package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/btimofeyev/tutor-ai-sub003/internal/app"
	"github.com/btimofeyev/tutor-ai-sub003/internal/dto"
	"github.com/btimofeyev/tutor-ai-sub003/internal/service"
	"github.com/btimofeyev/tutor-ai-sub003/pkg/config"
	"github.com/btimofeyev/tutor-ai-sub003/pkg/jobs"
	"github.com/btimofeyev/tutor-ai-sub003/pkg/logger"
	"github.com/btimofeyev/tutor-ai-sub003/pkg/storage"
)

// batchFile is the input document: independent households and single learners.
type batchFile struct {
	Families []dto.FamilyScheduleRequest   `json:"families"`
	Learners []dto.GenerateScheduleRequest `json:"learners"`
}

// batchOptions are the command-line flags of the batch runner.
type batchOptions struct {
	input  string
	useDB  bool
	retain time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts batchOptions
	cmd := &cobra.Command{
		Use:           "schedule-batch",
		Short:         "Generate and export study schedules for a file of households and learners",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.input, "input", "", "path to the JSON batch file")
	cmd.Flags().BoolVar(&opts.useDB, "db", false, "load inputs from and persist sessions to PostgreSQL")
	cmd.Flags().DurationVar(&opts.retain, "retain", 0, "delete exports older than this before running (0 keeps everything)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func run(ctx context.Context, opts batchOptions) error {
	batch, err := readBatch(opts.input)
	if err != nil {
		return fmt.Errorf("read batch file: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logr.Sync() //nolint:errcheck

	components, err := app.Build(ctx, cfg, logr, opts.useDB)
	if err != nil {
		return fmt.Errorf("wire scheduler: %w", err)
	}
	defer components.Close()

	store, err := storage.NewLocalStorage(cfg.Batch.ExportDir)
	if err != nil {
		return fmt.Errorf("prepare export dir: %w", err)
	}
	exporter := service.NewScheduleExportService(store, nil, logger.Component(logr, "export"))
	if removed, err := exporter.Cleanup(opts.retain); err != nil {
		logr.Sugar().Warnw("export cleanup failed", "error", err)
	} else if len(removed) > 0 {
		logr.Sugar().Infow("old exports removed", "count", len(removed))
	}

	worker := service.NewScheduleBatchWorker(components.Schedules, exporter, logger.Component(logr, "batch"))
	queue := jobs.NewQueue("schedule-batch", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Batch.Workers,
		MaxRetries: 2,
		RetryDelay: 500 * time.Millisecond,
		Logger:     logr,
	})
	queue.Start(ctx)
	defer queue.Stop()

	for _, family := range batch.Families {
		if err := queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: service.JobTypeFamily, Payload: family}); err != nil {
			logr.Sugar().Errorw("failed to enqueue household", "family_id", family.FamilyID, "error", err)
		}
	}
	for _, learner := range batch.Learners {
		if err := queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: service.JobTypeLearner, Payload: learner}); err != nil {
			logr.Sugar().Errorw("failed to enqueue learner", "learner_id", learner.LearnerID, "error", err)
		}
	}

	if err := queue.Wait(ctx); err != nil {
		logr.Warn("batch interrupted", zap.Error(err))
	}

	stats := queue.Stats()
	report(logr, worker.Outcomes())
	logr.Sugar().Infow("queue summary", "submitted", stats.Submitted, "succeeded", stats.Succeeded, "failed", stats.Failed, "retries", stats.Retries)
	if stats.Failed > 0 {
		return fmt.Errorf("%d of %d batch jobs failed", stats.Failed, stats.Submitted)
	}
	return nil
}

func readBatch(path string) (*batchFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var batch batchFile
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(batch.Families)+len(batch.Learners) == 0 {
		return nil, fmt.Errorf("%s contains no requests", path)
	}
	return &batch, nil
}

func report(logr *zap.Logger, outcomes []service.BatchOutcome) {
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].JobID < outcomes[j].JobID })
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			logr.Sugar().Warnw("batch job failed", "job_id", o.JobID, "type", o.Type, "error", o.Err)
			continue
		}
		logr.Sugar().Infow("batch job exported",
			"job_id", o.JobID,
			"type", o.Type,
			"learners", o.Learners,
			"sessions", o.Sessions,
			"generators", o.Generator,
			"conflicts_remaining", o.Conflicts,
			"files", o.Files,
		)
	}
	logr.Sugar().Infow("batch finished", "jobs", len(outcomes), "failed", failed)
}
