package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mybank-labs/mybank/internal/platform/db"
)

// Repository persists ledger rows in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations available inside a unit of work.
type TxRepository interface {
	LockAccount(ctx context.Context, accountID int64) (AccountState, error)
	GetAccount(ctx context.Context, accountID int64) (AccountState, error)
	GetTransaction(ctx context.Context, id int64) (Transaction, error)
	InsertTransaction(ctx context.Context, tx Transaction) (Transaction, error)
	UpdateTransaction(ctx context.Context, tx Transaction) error
	DeleteTransaction(ctx context.Context, id int64) error
	AdjustAccount(ctx context.Context, accountID int64, delta decimal.Decimal, countDelta int64) (AccountState, error)
	SetAccountTotals(ctx context.Context, accountID int64, balance decimal.Decimal, count int64) error
	SumTransactions(ctx context.Context, accountID int64) (decimal.Decimal, int64, error)
	ListDebits(ctx context.Context, accountID int64) ([]Transaction, error)
	EachTransaction(ctx context.Context, accountID int64, fn func(Transaction) error) error
	ListView(ctx context.Context, limit, offset int) ([]TransactionView, int, error)
	ListAccountIDs(ctx context.Context) ([]int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a read-committed transaction. Mutations rely on
// the account row lock taken by LockAccount.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// NewTxRepository runs ledger operations on a transaction opened elsewhere,
// so other packages can book entries atomically with their own writes.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

const accountColumns = `id, user_id, balance, transactions_count`

func (r *txRepository) LockAccount(ctx context.Context, accountID int64) (AccountState, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, accountID))
}

func (r *txRepository) GetAccount(ctx context.Context, accountID int64) (AccountState, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID))
}

func scanAccount(row pgx.Row) (AccountState, error) {
	var a AccountState
	if err := row.Scan(&a.ID, &a.UserID, &a.Balance, &a.TransactionsCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountState{}, ErrAccountNotFound
		}
		return AccountState{}, err
	}
	return a, nil
}

const transactionSelect = `SELECT t.id, t.reference, t.name, t.amount, t.type, t.account_id, a.user_id, t.created_at
FROM transactions t JOIN accounts a ON a.id = t.account_id`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.Reference, &t.Name, &t.Amount, &t.Type, &t.AccountID, &t.UserID, &t.CreatedAt)
	return t, err
}

func (r *txRepository) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	t, err := scanTransaction(r.tx.QueryRow(ctx, transactionSelect+` WHERE t.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	return t, nil
}

func (r *txRepository) InsertTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO transactions (reference, name, amount, type, account_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at`, t.Reference, t.Name, t.Amount, int16(t.Type), t.AccountID, t.CreatedAt)
	if err := row.Scan(&t.ID, &t.CreatedAt); err != nil {
		return Transaction{}, err
	}
	return t, nil
}

func (r *txRepository) UpdateTransaction(ctx context.Context, t Transaction) error {
	tag, err := r.tx.Exec(ctx, `UPDATE transactions SET name = $2, amount = $3, type = $4 WHERE id = $1`, t.ID, t.Name, t.Amount, int16(t.Type))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *txRepository) DeleteTransaction(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *txRepository) AdjustAccount(ctx context.Context, accountID int64, delta decimal.Decimal, countDelta int64) (AccountState, error) {
	return scanAccount(r.tx.QueryRow(ctx, `UPDATE accounts
SET balance = balance + $2, transactions_count = transactions_count + $3
WHERE id = $1 RETURNING `+accountColumns, accountID, delta, countDelta))
}

func (r *txRepository) SetAccountTotals(ctx context.Context, accountID int64, balance decimal.Decimal, count int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE accounts SET balance = $2, transactions_count = $3 WHERE id = $1`, accountID, balance, count)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) SumTransactions(ctx context.Context, accountID int64) (decimal.Decimal, int64, error) {
	var sum decimal.Decimal
	var count int64
	err := r.tx.QueryRow(ctx, `SELECT
    COALESCE(SUM(CASE WHEN type = 1 THEN amount ELSE -amount END), 0),
    COUNT(*)
FROM transactions WHERE account_id = $1`, accountID).Scan(&sum, &count)
	return sum, count, err
}

func (r *txRepository) ListDebits(ctx context.Context, accountID int64) ([]Transaction, error) {
	rows, err := r.tx.Query(ctx, transactionSelect+` WHERE t.account_id = $1 AND t.type = 0 ORDER BY t.created_at, t.id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *txRepository) EachTransaction(ctx context.Context, accountID int64, fn func(Transaction) error) error {
	rows, err := r.tx.Query(ctx, transactionSelect+` WHERE t.account_id = $1 ORDER BY t.created_at, t.id`, accountID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *txRepository) ListView(ctx context.Context, limit, offset int) ([]TransactionView, int, error) {
	var total int
	if err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.tx.Query(ctx, `SELECT t.id, t.reference, t.name, t.amount, t.type, t.account_id, a.user_id, t.created_at, a.name
FROM transactions t JOIN accounts a ON a.id = t.account_id
ORDER BY t.created_at DESC, t.id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []TransactionView
	for rows.Next() {
		var v TransactionView
		if err := rows.Scan(&v.ID, &v.Reference, &v.Name, &v.Amount, &v.Type, &v.AccountID, &v.UserID, &v.CreatedAt, &v.AccountName); err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

func (r *txRepository) ListAccountIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.tx.Query(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}
