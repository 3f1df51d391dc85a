package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-gl/meridian-gl/internal/app"
	"github.com/meridian-gl/meridian-gl/internal/gl/close"
	"github.com/meridian-gl/meridian-gl/internal/gl/journal"
	"github.com/meridian-gl/meridian-gl/internal/gl/periodstatus"
	"github.com/meridian-gl/meridian-gl/internal/gl/reclass"
	"github.com/meridian-gl/meridian-gl/internal/observability"
	"github.com/meridian-gl/meridian-gl/internal/platform/cache"
	"github.com/meridian-gl/meridian-gl/internal/platform/db"
	"github.com/meridian-gl/meridian-gl/internal/shared"
	"github.com/meridian-gl/meridian-gl/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	metrics := observability.NewMetrics()
	glMetrics := observability.NewGLMetrics(metrics.Registerer())

	auditLogger := shared.NewAuditLogger(pool)
	access := shared.NewEntitlementStore(pool)
	guard := periodstatus.NewRegistry(periodstatus.NewRepository(pool))
	closeLock := shared.NewCloseLock(redisClient, cfg.CloseLockTTL)

	journalService := journal.NewService(journal.NewRepository(pool), auditLogger, guard, access, logger,
		journal.Config{CashControl: journal.CashControlMode(cfg.CashControlMode)})
	journalService.WithMetrics(glMetrics)

	closeService := close.NewService(close.NewRepository(pool), auditLogger, access, closeLock, logger)
	closeService.WithMetrics(glMetrics)

	reclassService := reclass.NewService(reclass.NewRepository(pool), auditLogger, guard, access, logger)
	reclassService.WithMetrics(glMetrics)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		JournalHandler: journal.NewHandler(logger, journalService),
		CloseHandler:   close.NewHandler(logger, closeService, jobsClient),
		ReclassHandler: reclass.NewHandler(logger, reclassService),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}
