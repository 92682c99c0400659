package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/mybank-labs/mybank/internal/jobs"
)

// KeyCleaner deletes idempotency keys older than a cutoff.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob keeps the idempotency table bounded.
type IdempotencyCleanupJob struct {
	store   KeyCleaner
	maxAge  time.Duration
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob builds the handler.
func NewIdempotencyCleanupJob(store KeyCleaner, maxAge time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{store: store, maxAge: maxAge, logger: logger, metrics: metrics}
}

// Handle executes the cleanup task.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	if j.maxAge <= 0 {
		return errors.New("idempotency cleanup: max age must be positive")
	}
	tracker := j.metrics.Track(TaskIdempotencyCleanup)
	defer func() {
		err = tracker.End(err)
	}()
	removed, err := j.store.Cleanup(ctx, j.maxAge)
	if err != nil {
		return err
	}
	if j.logger != nil {
		j.logger.Info("idempotency keys purged", slog.Int64("removed", removed), slog.Duration("max_age", j.maxAge))
	}
	return nil
}
