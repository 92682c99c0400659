package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mybank-labs/mybank/internal/ledger"
	"github.com/mybank-labs/mybank/internal/platform/db"
)

// Repository persists accounts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes account operations inside a unit of work.
type TxRepository interface {
	LockUser(ctx context.Context, userID int64) error
	InsertAccount(ctx context.Context, a Account) (Account, error)
	IncrementUserAccounts(ctx context.Context, userID int64) error
	// Ledger exposes the ledger's operations on the same transaction.
	Ledger() ledger.TxRepository
	GetAccount(ctx context.Context, id int64) (Account, error)
	ListAccounts(ctx context.Context, userID int64) ([]Account, error)
	EachAccount(ctx context.Context, fn func(Account) error) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounts repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) LockUser(ctx context.Context, userID int64) error {
	var id int64
	if err := r.tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

func (r *txRepository) InsertAccount(ctx context.Context, a Account) (Account, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO accounts (name, user_id, balance, transactions_count, created_at)
VALUES ($1, $2, 0, 0, $3) RETURNING id, created_at`, a.Name, a.UserID, a.CreatedAt).Scan(&a.ID, &a.CreatedAt)
	return a, err
}

func (r *txRepository) IncrementUserAccounts(ctx context.Context, userID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE users SET accounts_count = accounts_count + 1 WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *txRepository) Ledger() ledger.TxRepository {
	return ledger.NewTxRepository(r.tx)
}

const accountColumns = `id, name, balance, user_id, transactions_count, created_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.Name, &a.Balance, &a.UserID, &a.TransactionsCount, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) GetAccount(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

// ListAccounts returns the accounts of userID, or every account when userID is 0.
func (r *txRepository) ListAccounts(ctx context.Context, userID int64) ([]Account, error) {
	var out []Account
	err := r.each(ctx, userID, func(a Account) error {
		out = append(out, a)
		return nil
	})
	return out, err
}

func (r *txRepository) EachAccount(ctx context.Context, fn func(Account) error) error {
	return r.each(ctx, 0, fn)
}

func (r *txRepository) each(ctx context.Context, userID int64, fn func(Account) error) error {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE ($1::bigint = 0 OR user_id = $1::bigint) ORDER BY id`, userID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
	}
	return rows.Err()
}
