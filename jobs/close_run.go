package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-gl/meridian-gl/internal/gl/close"
	jobmetrics "github.com/meridian-gl/meridian-gl/internal/jobs"
	"github.com/meridian-gl/meridian-gl/internal/shared"
)

// CloseRunner executes deferred close runs on the worker.
type CloseRunner struct {
	service *close.Service
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewCloseRunner constructs a CloseRunner.
func NewCloseRunner(service *close.Service, metrics *jobmetrics.Metrics, logger *slog.Logger) *CloseRunner {
	return &CloseRunner{service: service, metrics: metrics, logger: logger}
}

// Handle processes TaskTypeCloseRun tasks. Validation failures skip retry;
// a held close lock retries on the backoff schedule since the competing run
// releases it quickly.
func (r *CloseRunner) Handle(ctx context.Context, t *asynq.Task) error {
	var payload CloseRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := r.metrics.Track("gl_close_run")
	result, err := r.service.Close(ctx, payload.Input)
	if err != nil {
		r.logger.Error("close run failed",
			slog.String("task_id", payload.TaskID),
			slog.Int64("book_id", payload.Input.BookID),
			slog.Int64("fiscal_period_id", payload.Input.FiscalPeriodID),
			slog.Any("error", err))
		if errors.Is(err, shared.ErrCloseInProgress) {
			return tracker.End(err)
		}
		return tracker.End(errors.Join(err, asynq.SkipRetry))
	}
	r.logger.Info("close run completed",
		slog.String("task_id", payload.TaskID),
		slog.Int64("run_id", result.Run.ID),
		slog.Bool("idempotent", result.Idempotent))
	return tracker.End(nil)
}
