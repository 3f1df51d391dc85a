package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-gl/meridian-gl/internal/app"
	"github.com/meridian-gl/meridian-gl/internal/gl/close"
	jobmetrics "github.com/meridian-gl/meridian-gl/internal/jobs"
	"github.com/meridian-gl/meridian-gl/internal/observability"
	"github.com/meridian-gl/meridian-gl/internal/platform/cache"
	"github.com/meridian-gl/meridian-gl/internal/platform/db"
	"github.com/meridian-gl/meridian-gl/internal/shared"
	"github.com/meridian-gl/meridian-gl/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewGLMetrics(nil)
	jobMetrics := jobmetrics.NewMetrics(nil)

	auditLogger := shared.NewAuditLogger(pool)
	access := shared.NewEntitlementStore(pool)
	closeLock := shared.NewCloseLock(redisClient, cfg.CloseLockTTL)

	closeService := close.NewService(close.NewRepository(pool), auditLogger, access, closeLock, logger)
	closeService.WithMetrics(metrics)

	closeRunner := jobs.NewCloseRunner(closeService, jobMetrics, logger)
	integrityChecker := jobs.NewIntegrityChecker(pool, jobMetrics, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeCloseRun, Handler: closeRunner.Handle},
			{Type: jobs.TaskTypeIntegrityCheck, Handler: integrityChecker.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "45 1 * * *", Task: jobs.NewIntegrityCheckTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
