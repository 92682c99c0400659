package accounts

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/mybank-labs/mybank/internal/ledger"
	"github.com/mybank-labs/mybank/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records account events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LedgerPort books the opening credit through the ledger inside the account's
// unit of work.
type LedgerPort interface {
	Book(ctx context.Context, tx ledger.TxRepository, in ledger.RecordInput) (ledger.Transaction, error)
	Booked(ctx context.Context, t ledger.Transaction)
}

// ErrLedgerUnavailable is returned when an opening credit is requested from a
// service built without a ledger.
var ErrLedgerUnavailable = errors.New("accounts: ledger not configured")

// ExportHeader names the columns of the accounts export.
var ExportHeader = []string{"id", "name", "balance", "user_id", "transactions_count"}

// Service manages account lifecycle.
type Service struct {
	repo   RepositoryPort
	ledger LedgerPort
	audit  AuditPort
	now    func() time.Time
}

// NewService constructs Service.
func NewService(repo RepositoryPort, ledgerPort LedgerPort, audit AuditPort) *Service {
	return &Service{repo: repo, ledger: ledgerPort, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create opens an account for a user. The user's account counter and any
// opening credit are written in the same unit of work, so the new balance
// always equals the sum of its transactions.
func (s *Service) Create(ctx context.Context, in CreateInput) (Account, error) {
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	if in.InitialAmount.IsPositive() && s.ledger == nil {
		return Account{}, ErrLedgerUnavailable
	}
	var (
		created Account
		opening *ledger.Transaction
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		opening = nil
		if err := tx.LockUser(ctx, in.UserID); err != nil {
			return err
		}
		account, err := tx.InsertAccount(ctx, Account{Name: in.Name, UserID: in.UserID, CreatedAt: s.now().UTC()})
		if err != nil {
			return err
		}
		if err := tx.IncrementUserAccounts(ctx, in.UserID); err != nil {
			return err
		}
		if in.InitialAmount.IsPositive() {
			booked, err := s.ledger.Book(ctx, tx.Ledger(), ledger.RecordInput{
				AccountID: account.ID,
				Name:      OpeningName,
				Amount:    in.InitialAmount,
				Type:      ledger.TypeCredit,
			})
			if err != nil {
				return err
			}
			opening = &booked
			if account, err = tx.GetAccount(ctx, account.ID); err != nil {
				return err
			}
		}
		created = account
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	if opening != nil {
		s.ledger.Booked(ctx, *opening)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "account.create",
			Entity:   "account",
			EntityID: strconv.FormatInt(created.ID, 10),
			Meta: map[string]any{
				"user_id":        created.UserID,
				"initial_amount": in.InitialAmount.String(),
			},
			At: s.now(),
		})
	}
	return created, nil
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, id int64) (Account, error) {
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		account, err = tx.GetAccount(ctx, id)
		return err
	})
	return account, err
}

// List returns all accounts ordered by id.
func (s *Service) List(ctx context.Context) ([]Account, error) {
	return s.ListByUser(ctx, 0)
}

// ListByUser returns the accounts owned by userID; 0 lists every account.
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]Account, error) {
	var out []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListAccounts(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Account{}
	}
	return out, nil
}

// ExportCSV writes every account as CSV and returns the row count.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	rows := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(ExportHeader); err != nil {
			return err
		}
		err := tx.EachAccount(ctx, func(a Account) error {
			rows++
			return cw.Write([]string{
				strconv.FormatInt(a.ID, 10),
				a.Name,
				a.Balance.StringFixed(2),
				strconv.FormatInt(a.UserID, 10),
				strconv.FormatInt(a.TransactionsCount, 10),
			})
		})
		if err != nil {
			return fmt.Errorf("accounts: export: %w", err)
		}
		cw.Flush()
		return cw.Error()
	})
	return rows, err
}
