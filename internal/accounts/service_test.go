package accounts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mybank-labs/mybank/internal/ledger"
	"github.com/mybank-labs/mybank/internal/shared"
)

type stubRepo struct {
	users    map[int64]int64
	accounts []Account
	txs      []ledger.Transaction
	failOn   string
}

func newStubRepo() *stubRepo {
	return &stubRepo{users: map[int64]int64{1: 0}}
}

// WithTx works on copies and only publishes them when fn succeeds.
func (r *stubRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &stubTx{repo: r, users: map[int64]int64{}, accounts: append([]Account(nil), r.accounts...), txs: append([]ledger.Transaction(nil), r.txs...)}
	for k, v := range r.users {
		tx.users[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.users, r.accounts, r.txs = tx.users, tx.accounts, tx.txs
	return nil
}

type stubTx struct {
	repo     *stubRepo
	users    map[int64]int64
	accounts []Account
	txs      []ledger.Transaction
}

func (t *stubTx) LockUser(ctx context.Context, userID int64) error {
	if _, ok := t.users[userID]; !ok {
		return ErrUserNotFound
	}
	return nil
}

func (t *stubTx) InsertAccount(ctx context.Context, a Account) (Account, error) {
	a.ID = int64(len(t.accounts) + 1)
	t.accounts = append(t.accounts, a)
	return a, nil
}

func (t *stubTx) IncrementUserAccounts(ctx context.Context, userID int64) error {
	t.users[userID]++
	return nil
}

func (t *stubTx) Ledger() ledger.TxRepository {
	return stubLedgerTx{tx: t}
}

// stubLedgerTx is the ledger's view of the same copy-on-commit state. Only the
// operations booking and recomputing touch are implemented.
type stubLedgerTx struct {
	ledger.TxRepository
	tx *stubTx
}

func (l stubLedgerTx) LockAccount(ctx context.Context, id int64) (ledger.AccountState, error) {
	return l.GetAccount(ctx, id)
}

func (l stubLedgerTx) GetAccount(ctx context.Context, id int64) (ledger.AccountState, error) {
	a, err := l.tx.GetAccount(ctx, id)
	if err != nil {
		return ledger.AccountState{}, ledger.ErrAccountNotFound
	}
	return ledger.AccountState{ID: a.ID, UserID: a.UserID, Balance: a.Balance, TransactionsCount: a.TransactionsCount}, nil
}

func (l stubLedgerTx) InsertTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if l.tx.repo.failOn == "opening" {
		return ledger.Transaction{}, errors.New("insert failed")
	}
	tx.ID = int64(len(l.tx.txs) + 1)
	l.tx.txs = append(l.tx.txs, tx)
	return tx, nil
}

func (l stubLedgerTx) AdjustAccount(ctx context.Context, id int64, delta decimal.Decimal, count int64) (ledger.AccountState, error) {
	if _, err := l.GetAccount(ctx, id); err != nil {
		return ledger.AccountState{}, err
	}
	a := &l.tx.accounts[id-1]
	a.Balance = a.Balance.Add(delta)
	a.TransactionsCount += count
	return l.GetAccount(ctx, id)
}

func (l stubLedgerTx) SumTransactions(ctx context.Context, id int64) (decimal.Decimal, int64, error) {
	sum := decimal.Zero
	var count int64
	for _, tx := range l.tx.txs {
		if tx.AccountID == id {
			sum = sum.Add(tx.Delta())
			count++
		}
	}
	return sum, count, nil
}

type stubLedgerRepo struct {
	repo *stubRepo
}

func (l stubLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return fn(ctx, tx.Ledger())
	})
}

type auditTrail struct {
	mu      sync.Mutex
	entries []shared.AuditLog
}

func (a *auditTrail) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, log)
	return nil
}

func (a *auditTrail) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

func (t *stubTx) GetAccount(ctx context.Context, id int64) (Account, error) {
	if id <= 0 || int(id) > len(t.accounts) {
		return Account{}, ErrAccountNotFound
	}
	return t.accounts[id-1], nil
}

func (t *stubTx) ListAccounts(ctx context.Context, userID int64) ([]Account, error) {
	var out []Account
	for _, a := range t.accounts {
		if userID == 0 || a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *stubTx) EachAccount(ctx context.Context, fn func(Account) error) error {
	for _, a := range t.accounts {
		if err := fn(a); err != nil {
			return err
		}
	}
	return nil
}

func newTestServices(repo *stubRepo) (*Service, *ledger.Service, *auditTrail) {
	now := func() time.Time { return time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC) }
	audit := &auditTrail{}
	ledgerSvc := ledger.NewService(stubLedgerRepo{repo: repo}, audit, nil, nil)
	ledgerSvc.WithNow(now)
	svc := NewService(repo, ledgerSvc, audit)
	svc.WithNow(now)
	return svc, ledgerSvc, audit
}

func newTestService(repo *stubRepo) *Service {
	svc, _, _ := newTestServices(repo)
	return svc
}

func TestCreateBooksOpeningCredit(t *testing.T) {
	repo := newStubRepo()
	svc, ledgerSvc, audit := newTestServices(repo)

	account, err := svc.Create(context.Background(), CreateInput{Name: "Checking", UserID: 1, InitialAmount: decimal.RequireFromString("150.25")})
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.RequireFromString("150.25")))
	assert.Equal(t, int64(1), account.TransactionsCount)
	assert.Equal(t, int64(1), repo.users[1])

	require.Len(t, repo.txs, 1)
	opening := repo.txs[0]
	assert.Equal(t, "T1-OPENING", opening.Name)
	assert.Equal(t, ledger.TypeCredit, opening.Type)
	assert.True(t, account.Balance.Equal(opening.Delta()))
	assert.Equal(t, account.ID, opening.AccountID)
	assert.Equal(t, []string{"transaction.record", "account.create"}, audit.actions())

	computed, err := ledgerSvc.RecomputeBalance(context.Background(), account.ID)
	require.NoError(t, err)
	assert.True(t, computed.Equal(account.Balance), "stored %s computed %s", account.Balance, computed)
}

func TestCreateOpeningCreditNeedsLedger(t *testing.T) {
	repo := newStubRepo()
	svc := NewService(repo, nil, nil)

	_, err := svc.Create(context.Background(), CreateInput{Name: "Checking", UserID: 1, InitialAmount: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, ErrLedgerUnavailable)
	assert.Empty(t, repo.accounts)

	_, err = svc.Create(context.Background(), CreateInput{Name: "Checking", UserID: 1})
	assert.NoError(t, err)
}

func TestCreateWithoutInitialAmount(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	account, err := svc.Create(context.Background(), CreateInput{Name: "Savings", UserID: 1})
	require.NoError(t, err)
	assert.True(t, account.Balance.IsZero())
	assert.Zero(t, account.TransactionsCount)
	assert.Empty(t, repo.txs)
}

func TestCreateFailures(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Name: "x", UserID: 1, InitialAmount: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)

	_, err = svc.Create(ctx, CreateInput{Name: "x", UserID: 1, InitialAmount: decimal.RequireFromString("0.005")})
	assert.ErrorIs(t, err, ledger.ErrAmountPrecision)

	_, err = svc.Create(ctx, CreateInput{Name: "x", UserID: 1, InitialAmount: decimal.RequireFromString("1e16")})
	assert.ErrorIs(t, err, ledger.ErrAmountTooLarge)
	assert.Empty(t, repo.accounts)

	_, err = svc.Create(ctx, CreateInput{Name: "x", UserID: 7})
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	repo.failOn = "opening"
	_, err = svc.Create(ctx, CreateInput{Name: "x", UserID: 1, InitialAmount: decimal.NewFromInt(5)})
	require.Error(t, err)
	assert.Empty(t, repo.accounts, "failed opening must roll back the account")
	assert.Zero(t, repo.users[1])
}

func TestExportCSV(t *testing.T) {
	repo := newStubRepo()
	repo.users[2] = 0
	svc := newTestService(repo)
	ctx := context.Background()
	_, err := svc.Create(ctx, CreateInput{Name: "Checking", UserID: 1, InitialAmount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{Name: "Joint, family", UserID: 2})
	require.NoError(t, err)

	var buf bytes.Buffer
	rows, err := svc.ExportCSV(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, rows)
	assert.Equal(t, "id,name,balance,user_id,transactions_count\n1,Checking,10.00,1,1\n2,\"Joint, family\",0.00,2,0\n", buf.String())

	mine, err := svc.ListByUser(ctx, 2)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Joint, family", mine[0].Name)
}

func TestHandlerCreateAndGet(t *testing.T) {
	repo := newStubRepo()
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), newTestService(repo))
	r := chi.NewRouter()
	h.MountRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/accounts", strings.NewReader(`{"name":"Main","user_id":1,"initial_amount":"20"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"balance":"20"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts/2", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/accounts", strings.NewReader(`{"name":"","user_id":1}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "id,name,balance,user_id,transactions_count\n"))
}
