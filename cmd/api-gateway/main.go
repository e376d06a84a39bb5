package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/btimofeyev/tutor-ai-sub003/internal/app"
	"github.com/btimofeyev/tutor-ai-sub003/internal/handler"
	internalmiddleware "github.com/btimofeyev/tutor-ai-sub003/internal/middleware"
	"github.com/btimofeyev/tutor-ai-sub003/pkg/config"
	"github.com/btimofeyev/tutor-ai-sub003/pkg/logger"
	corsmiddleware "github.com/btimofeyev/tutor-ai-sub003/pkg/middleware/cors"
	reqidmiddleware "github.com/btimofeyev/tutor-ai-sub003/pkg/middleware/requestid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg, logr, true)
	if err != nil {
		logr.Sugar().Fatalw("failed to wire scheduler", "error", err)
	}
	defer components.Close()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(components.Metrics))

	metricsHandler := handler.NewMetricsHandler(components.Metrics)
	scheduleHandler := handler.NewScheduleHandler(components.Schedules)

	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)
	api.POST("/schedules/generate", scheduleHandler.Generate)
	api.POST("/schedules/family", scheduleHandler.GenerateFamily)
	api.GET("/metrics/summary", metricsHandler.Summary)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown failed", "error", err)
	}
	logr.Sugar().Infow("server stopped")
}
