package app

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/btimofeyev/tutor-ai-sub003/internal/models"
	"github.com/btimofeyev/tutor-ai-sub003/internal/repository"
	"github.com/btimofeyev/tutor-ai-sub003/internal/scheduler"
	"github.com/btimofeyev/tutor-ai-sub003/internal/service"
	"github.com/btimofeyev/tutor-ai-sub003/pkg/advisory"
	"github.com/btimofeyev/tutor-ai-sub003/pkg/cache"
	"github.com/btimofeyev/tutor-ai-sub003/pkg/config"
	"github.com/btimofeyev/tutor-ai-sub003/pkg/database"
	"github.com/btimofeyev/tutor-ai-sub003/pkg/logger"
)

// Store ports stay nil interfaces when no database is reachable.
type (
	workItemReader interface {
		ListPending(ctx context.Context, learnerID string, from, to time.Time) ([]models.WorkItem, error)
	}
	preferenceReader interface {
		GetByLearner(ctx context.Context, learnerID string) (*models.SchedulePreference, error)
	}
	sessionStore interface {
		ListByLearners(ctx context.Context, learnerIDs []string, from, to time.Time) ([]models.StudySession, error)
		Create(ctx context.Context, session *models.StudySession) error
	}
)

// Components is the wired scheduling stack shared by the HTTP host and the batch runner.
type Components struct {
	Metrics   *service.MetricsService
	Engine    *scheduler.Engine
	Schedules *service.StudyScheduleService

	db    *sqlx.DB
	redis *redis.Client
}

// Build wires stores, the advisory client and the engine. An unreachable database or
// Redis is logged and the process continues without it.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger, useDatabase bool) (*Components, error) {
	c := &Components{Metrics: service.NewMetricsService()}

	var (
		items    workItemReader
		prefs    preferenceReader
		sessions sessionStore
	)
	if useDatabase {
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			log.Sugar().Warnw("database unavailable, running without the study store", "error", err)
		} else {
			c.db = db
			items = repository.NewWorkItemRepository(db)
			prefs = repository.NewSchedulePreferenceRepository(db)
			sessions = repository.NewStudySessionRepository(db)
		}
	}

	client, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		log.Sugar().Warnw("redis unavailable, advisory cache disabled", "error", err)
		client = nil
	}
	c.redis = client

	tuning := scheduler.DefaultTuning()
	if cfg.Scheduler.TuningFile != "" {
		loaded, err := scheduler.LoadTuning(cfg.Scheduler.TuningFile)
		if err != nil {
			return nil, err
		}
		tuning = loaded
	}

	var advisor scheduler.Advisor
	if cfg.Advisory.Enabled {
		completions, err := advisory.NewClient(advisory.Config{
			BaseURL:     cfg.Advisory.BaseURL,
			APIKey:      cfg.Advisory.APIKey,
			Model:       cfg.Advisory.Model,
			Timeout:     cfg.Advisory.Timeout,
			Temperature: cfg.Advisory.Temperature,
			MaxTokens:   cfg.Advisory.MaxTokens,
		}, logger.Component(log, "advisory"))
		if err != nil {
			log.Sugar().Warnw("advisory client disabled", "error", err)
		} else {
			cacheRepo := repository.NewCacheRepository(client, log)
			cacheSvc := service.NewCacheService(cacheRepo, c.Metrics, cfg.Advisory.CacheTTL, log, client != nil)
			advisor = service.NewAdvisoryCache(service.NewCompletionAdvisor(completions), cacheSvc, cfg.Advisory.CacheTTL, log)
		}
	}

	validate := validator.New()
	c.Engine = scheduler.NewEngine(scheduler.Options{
		Advisor:         advisor,
		AdvisoryTimeout: cfg.Advisory.Timeout,
		Tuning:          &tuning,
		Validator:       validate,
		Logger:          logger.Component(log, "scheduler"),
		Recorder:        c.Metrics,
		MaxRangeDays:    cfg.Scheduler.MaxRangeDays,
	})

	c.Schedules = service.NewStudyScheduleService(
		items,
		prefs,
		sessions,
		c.Engine,
		c.Metrics,
		validate,
		logger.Component(log, "schedules"),
		service.StudyScheduleConfig{
			StoreTimeout:     cfg.Scheduler.StoreTimeout,
			SessionLength:    cfg.Scheduler.SessionLength,
			Distribution:     cfg.Scheduler.Distribution,
			CoordinationMode: cfg.Scheduler.CoordinationMode,
			BlockedWindows:   cfg.Scheduler.BlockedWindows,
		},
	)
	return c, nil
}

// Close releases the database and Redis connections.
func (c *Components) Close() {
	if c.db != nil {
		_ = c.db.Close()
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
}
