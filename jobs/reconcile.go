package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/mybank-labs/mybank/internal/jobs"
	"github.com/mybank-labs/mybank/internal/ledger"
	"github.com/mybank-labs/mybank/internal/shared"
)

// Reconciler is the part of the ledger service the job drives.
type Reconciler interface {
	ReconcileAccount(ctx context.Context, accountID int64, repair bool) (ledger.Reconciliation, error)
	ReconcileAll(ctx context.Context, repair bool) ([]ledger.Reconciliation, error)
}

// ReconcileJob recomputes account totals from transactions and reports drift.
type ReconcileJob struct {
	Ledger  Reconciler
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReconcileJob initialises the reconcile handler.
func NewReconcileJob(ledger Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Ledger: ledger, Logger: logger, Metrics: metrics}
}

// ReconcileSummary aggregates one run.
type ReconcileSummary struct {
	Checked  int
	Drifted  []ledger.Reconciliation
	Repaired int
}

// Handle executes the reconcile task.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("ledger reconcile: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	_, err := j.Run(ctx, payload)
	if errors.Is(err, shared.ErrNotFound) {
		// the account is gone; retrying cannot help
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// Run reconciles the selected accounts and records metrics.
func (j *ReconcileJob) Run(ctx context.Context, payload ReconcilePayload) (summary ReconcileSummary, err error) {
	tracker := j.Metrics.Track(TaskLedgerReconcile)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(
		slog.Int64("account_id", payload.AccountID),
		slog.Bool("repair", payload.Repair),
	)
	start := time.Now()
	logger.Info("starting ledger reconcile")

	var results []ledger.Reconciliation
	if payload.AccountID > 0 {
		var rec ledger.Reconciliation
		rec, err = j.Ledger.ReconcileAccount(ctx, payload.AccountID, payload.Repair)
		if err == nil {
			results = []ledger.Reconciliation{rec}
		}
	} else {
		results, err = j.Ledger.ReconcileAll(ctx, payload.Repair)
	}
	if err != nil {
		logger.Error("reconcile failed", slog.Any("error", err))
		return ReconcileSummary{}, err
	}

	summary.Checked = len(results)
	for _, rec := range results {
		if rec.Consistent() {
			continue
		}
		summary.Drifted = append(summary.Drifted, rec)
		if rec.Repaired {
			summary.Repaired++
		}
	}
	j.Metrics.AddDrift(len(summary.Drifted))
	j.Metrics.AddRepaired(summary.Repaired)

	logger.Info("completed ledger reconcile",
		slog.Int("accounts", summary.Checked),
		slog.Int("drifted", len(summary.Drifted)),
		slog.Duration("duration", time.Since(start)),
	)
	return summary, nil
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
