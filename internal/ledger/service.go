package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mybank-labs/mybank/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort observes units of work and their post-commit side effects.
type MetricsPort interface {
	ObserveOperation(operation string, err error)
	ObserveConflict(operation string)
	ObserveSideEffectFailure(kind string)
}

const (
	defaultMaxRetries    = 5
	defaultRetryInterval = 10 * time.Millisecond
	reconcileConcurrency = 4
)

// Service maintains account balances as transactions are recorded, amended
// and deleted. Each mutation runs in a single unit of work holding the
// account row lock, so writers on one account serialize while different
// accounts proceed in parallel.
type Service struct {
	repo          RepositoryPort
	audit         AuditPort
	cache         *BudgetCache
	logger        *slog.Logger
	metrics       MetricsPort
	now           func() time.Time
	newRef        func() uuid.UUID
	maxRetries    uint64
	retryInterval time.Duration
}

// NewService constructs the ledger service. audit, cache and logger may be nil.
func NewService(repo RepositoryPort, audit AuditPort, cache *BudgetCache, logger *slog.Logger) *Service {
	return &Service{
		repo:          repo,
		audit:         audit,
		cache:         cache,
		logger:        logger,
		now:           time.Now,
		newRef:        uuid.New,
		maxRetries:    defaultMaxRetries,
		retryInterval: defaultRetryInterval,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithRetry configures how often a unit of work that lost a concurrency race
// is retried before Conflict is surfaced.
func (s *Service) WithRetry(maxRetries uint64, initial time.Duration) {
	s.maxRetries = maxRetries
	if initial > 0 {
		s.retryInterval = initial
	}
}

// WithMetrics attaches a metrics sink.
func (s *Service) WithMetrics(m MetricsPort) {
	s.metrics = m
}

func (s *Service) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

// RecordTransaction books a new transaction and applies its delta to the
// owning account in the same unit of work.
func (s *Service) RecordTransaction(ctx context.Context, in RecordInput) (Transaction, error) {
	if err := in.Validate(); err != nil {
		return Transaction{}, err
	}
	var created Transaction
	err := s.unitOfWork(ctx, "record", func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = s.book(ctx, tx, in)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	s.Booked(ctx, created)
	return created, nil
}

// Book records in inside a unit of work owned by the caller, such as the
// opening credit of a new account. Once the caller commits it must pass the
// result to Booked.
func (s *Service) Book(ctx context.Context, tx TxRepository, in RecordInput) (Transaction, error) {
	if err := in.Validate(); err != nil {
		return Transaction{}, err
	}
	return s.book(ctx, tx, in)
}

func (s *Service) book(ctx context.Context, tx TxRepository, in RecordInput) (Transaction, error) {
	account, err := tx.LockAccount(ctx, in.AccountID)
	if err != nil {
		return Transaction{}, err
	}
	inserted, err := tx.InsertTransaction(ctx, Transaction{
		Reference: s.newRef(),
		Name:      FormatName(in.Name, in.Type),
		Amount:    in.Amount,
		Type:      in.Type,
		AccountID: account.ID,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return Transaction{}, err
	}
	inserted.UserID = account.UserID
	if _, err := tx.AdjustAccount(ctx, account.ID, inserted.Delta(), 1); err != nil {
		return Transaction{}, err
	}
	return inserted, nil
}

// Booked invalidates cached budget answers for the account and audits a
// committed booking.
func (s *Service) Booked(ctx context.Context, t Transaction) {
	s.afterMutation(ctx, t.AccountID, "transaction.record", t.ID, map[string]any{
		"reference": t.Reference.String(),
		"amount":    t.Amount.String(),
		"type":      int(t.Type),
	})
}

// AmendTransaction replaces amount and type, reversing the old contribution
// and applying the new one as a single compensating write.
func (s *Service) AmendTransaction(ctx context.Context, in AmendInput) (Transaction, error) {
	if err := in.Validate(); err != nil {
		return Transaction{}, err
	}
	var before, after Transaction
	err := s.unitOfWork(ctx, "amend", func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetTransaction(ctx, in.TransactionID)
		if err != nil {
			return err
		}
		if _, err := tx.LockAccount(ctx, current.AccountID); err != nil {
			return err
		}
		// Re-read under the account lock; a concurrent writer may have
		// amended or removed the row in between.
		current, err = tx.GetTransaction(ctx, in.TransactionID)
		if err != nil {
			return err
		}
		base := BaseName(current.Name)
		if in.Name != nil {
			base = *in.Name
		}
		updated := current
		updated.Amount = in.Amount
		updated.Type = in.Type
		updated.Name = FormatName(base, in.Type)
		if err := tx.UpdateTransaction(ctx, updated); err != nil {
			return err
		}
		if _, err := tx.AdjustAccount(ctx, current.AccountID, updated.Delta().Sub(current.Delta()), 0); err != nil {
			return err
		}
		before, after = current, updated
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.afterMutation(ctx, after.AccountID, "transaction.amend", after.ID, map[string]any{
		"old_amount": before.Amount.String(),
		"old_type":   int(before.Type),
		"amount":     after.Amount.String(),
		"type":       int(after.Type),
	})
	return after, nil
}

// DeleteTransaction removes a transaction and reverses its contribution.
func (s *Service) DeleteTransaction(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("ledger: transaction id required: %w", shared.ErrInvalidArgument)
	}
	var removed Transaction
	err := s.unitOfWork(ctx, "delete", func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.LockAccount(ctx, current.AccountID); err != nil {
			return err
		}
		current, err = tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.AdjustAccount(ctx, current.AccountID, current.Delta().Neg(), -1); err != nil {
			return err
		}
		if err := tx.DeleteTransaction(ctx, id); err != nil {
			return err
		}
		removed = current
		return nil
	})
	if err != nil {
		return err
	}
	s.afterMutation(ctx, removed.AccountID, "transaction.delete", removed.ID, map[string]any{
		"amount": removed.Amount.String(),
		"type":   int(removed.Type),
	})
	return nil
}

// Account returns the stored ledger state of an account.
func (s *Service) Account(ctx context.Context, accountID int64) (AccountState, error) {
	var state AccountState
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		state, err = tx.GetAccount(ctx, accountID)
		return err
	})
	return state, err
}

// RecomputeBalance derives the balance from the account's transactions
// without touching the stored aggregate.
func (s *Service) RecomputeBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetAccount(ctx, accountID); err != nil {
			return err
		}
		var err error
		sum, _, err = tx.SumTransactions(ctx, accountID)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

// ReconcileAccount compares the stored balance and count with the values
// derived from rows. With repair set, drifted aggregates are overwritten with
// the derived values under the account lock.
func (s *Service) ReconcileAccount(ctx context.Context, accountID int64, repair bool) (Reconciliation, error) {
	var rec Reconciliation
	err := s.unitOfWork(ctx, "reconcile", func(ctx context.Context, tx TxRepository) error {
		var account AccountState
		var err error
		if repair {
			account, err = tx.LockAccount(ctx, accountID)
		} else {
			account, err = tx.GetAccount(ctx, accountID)
		}
		if err != nil {
			return err
		}
		sum, count, err := tx.SumTransactions(ctx, accountID)
		if err != nil {
			return err
		}
		rec = Reconciliation{
			AccountID:     accountID,
			Stored:        account.Balance,
			Computed:      sum,
			StoredCount:   account.TransactionsCount,
			ComputedCount: count,
		}
		if repair && !rec.Consistent() {
			if err := tx.SetAccountTotals(ctx, accountID, sum, count); err != nil {
				return err
			}
			rec.Repaired = true
		}
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}
	if !rec.Consistent() {
		s.log().Warn("ledger drift detected",
			slog.Int64("account_id", accountID),
			slog.String("stored", rec.Stored.String()),
			slog.String("computed", rec.Computed.String()),
			slog.Int64("stored_count", rec.StoredCount),
			slog.Int64("computed_count", rec.ComputedCount),
			slog.Bool("repaired", rec.Repaired),
		)
	}
	if rec.Repaired {
		s.afterMutation(ctx, accountID, "account.reconcile", accountID, map[string]any{
			"stored":   rec.Stored.String(),
			"computed": rec.Computed.String(),
		})
	}
	return rec, nil
}

// ReconcileAll reconciles every account, a few at a time.
func (s *Service) ReconcileAll(ctx context.Context, repair bool) ([]Reconciliation, error) {
	var ids []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ids, err = tx.ListAccountIDs(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	results := make([]Reconciliation, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			rec, err := s.ReconcileAccount(gctx, id, repair)
			if err != nil {
				return fmt.Errorf("ledger: reconcile account %d: %w", id, err)
			}
			results[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// TransactionsWithinBudget returns the greedy prefix of the account's debits
// whose running total does not exceed budget.
func (s *Service) TransactionsWithinBudget(ctx context.Context, accountID int64, budget decimal.Decimal) ([]Transaction, error) {
	if budget.IsNegative() {
		return nil, ErrNegativeBudget
	}
	loader := func(ctx context.Context) ([]Transaction, error) {
		var selected []Transaction
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if _, err := tx.GetAccount(ctx, accountID); err != nil {
				return err
			}
			debits, err := tx.ListDebits(ctx, accountID)
			if err != nil {
				return err
			}
			selected = SelectWithinBudget(debits, budget)
			return nil
		})
		return selected, err
	}
	if s.cache == nil {
		return loader(ctx)
	}
	key, err := s.cache.BuildKey(ctx, accountID, budget.String())
	if err != nil {
		s.log().Warn("budget cache unavailable", slog.Int64("account_id", accountID), slog.Any("error", err))
		return loader(ctx)
	}
	return s.cache.Fetch(ctx, key, loader)
}

// ExportCSV writes the account's transactions, oldest first, as CSV to w and
// returns the number of data rows written.
func (s *Service) ExportCSV(ctx context.Context, accountID int64, w io.Writer) (int, error) {
	var rows int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetAccount(ctx, accountID); err != nil {
			return err
		}
		out, err := newExportWriter(csv.NewWriter(w))
		if err != nil {
			return err
		}
		if err := tx.EachTransaction(ctx, accountID, out.write); err != nil {
			return err
		}
		rows = out.rows
		return out.flush()
	})
	return rows, err
}

// ListTransactions returns a page of transactions across all accounts, newest first.
func (s *Service) ListTransactions(ctx context.Context, req shared.PageRequest) ([]TransactionView, shared.Pagination, error) {
	var (
		items []TransactionView
		total int
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		items, total, err = tx.ListView(ctx, req.Limit(), req.Offset())
		return err
	})
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(req.Page, req.PerPage, total), nil
}

// unitOfWork runs fn in a transaction, retrying with exponential backoff
// while it fails with ErrConflict.
func (s *Service) unitOfWork(ctx context.Context, operation string, fn func(context.Context, TxRepository) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retryInterval
	policy.MaxInterval = 20 * s.retryInterval
	policy.MaxElapsedTime = 0
	attempt := 0
	op := func() error {
		attempt++
		err := s.repo.WithTx(ctx, fn)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, shared.ErrConflict):
			if s.metrics != nil {
				s.metrics.ObserveConflict(operation)
			}
			s.log().Debug("ledger unit of work conflicted", slog.String("operation", operation), slog.Int("attempt", attempt), slog.Any("error", err))
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, s.maxRetries), ctx))
	if s.metrics != nil {
		s.metrics.ObserveOperation(operation, err)
	}
	return err
}

func (s *Service) afterMutation(ctx context.Context, accountID int64, action string, entityID int64, meta map[string]any) {
	if err := s.cache.Bump(ctx, accountID); err != nil {
		s.sideEffectFailed("cache")
		s.log().Warn("budget cache bump failed", slog.Int64("account_id", accountID), slog.Any("error", err))
	}
	if s.audit == nil {
		return
	}
	entity := "transaction"
	if action == "account.reconcile" {
		entity = "account"
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["account_id"] = accountID
	err := s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.sideEffectFailed("audit")
		s.log().Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) sideEffectFailed(kind string) {
	if s.metrics != nil {
		s.metrics.ObserveSideEffectFailure(kind)
	}
}
