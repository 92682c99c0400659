package ledger

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mybank-labs/mybank/internal/shared"
)

// memStore is an in-memory RepositoryPort. LockAccount holds a per-account
// mutex until the unit of work ends, mirroring SELECT ... FOR UPDATE.
type memStore struct {
	mu        sync.Mutex
	accounts  map[int64]*AccountState
	txs       map[int64]Transaction
	nextID    int64
	rowLocks  map[int64]*sync.Mutex
	conflicts int
	attempts  int
}

func newMemStore() *memStore {
	return &memStore{
		accounts: map[int64]*AccountState{},
		txs:      map[int64]Transaction{},
		rowLocks: map[int64]*sync.Mutex{},
	}
}

func (m *memStore) addAccount(id, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[id] = &AccountState{ID: id, UserID: userID}
}

func (m *memStore) account(id int64) AccountState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.accounts[id]
}

// corrupt overwrites the stored balance, simulating a missed compensation.
func (m *memStore) corrupt(id int64, balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[id].Balance = balance
}

func (m *memStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	m.attempts++
	if m.conflicts > 0 {
		m.conflicts--
		m.mu.Unlock()
		return fmt.Errorf("injected serialization failure: %w", shared.ErrConflict)
	}
	m.mu.Unlock()

	tx := &memTx{store: m, held: map[int64]*sync.Mutex{}}
	err := fn(ctx, tx)
	if err != nil {
		tx.rollback()
	}
	tx.release()
	return err
}

type memTx struct {
	store *memStore
	held  map[int64]*sync.Mutex
	undo  []func()
}

func (t *memTx) rollback() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

func (t *memTx) release() {
	for _, l := range t.held {
		l.Unlock()
	}
}

func (t *memTx) LockAccount(ctx context.Context, accountID int64) (AccountState, error) {
	t.store.mu.Lock()
	if _, ok := t.store.accounts[accountID]; !ok {
		t.store.mu.Unlock()
		return AccountState{}, ErrAccountNotFound
	}
	l, ok := t.store.rowLocks[accountID]
	if !ok {
		l = &sync.Mutex{}
		t.store.rowLocks[accountID] = l
	}
	t.store.mu.Unlock()
	if _, held := t.held[accountID]; !held {
		l.Lock()
		t.held[accountID] = l
	}
	return t.GetAccount(ctx, accountID)
}

func (t *memTx) GetAccount(ctx context.Context, accountID int64) (AccountState, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	a, ok := t.store.accounts[accountID]
	if !ok {
		return AccountState{}, ErrAccountNotFound
	}
	return *a, nil
}

func (t *memTx) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	tx, ok := t.store.txs[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	tx.UserID = t.store.accounts[tx.AccountID].UserID
	return tx, nil
}

func (t *memTx) InsertTransaction(ctx context.Context, tx Transaction) (Transaction, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.nextID++
	tx.ID = t.store.nextID
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	t.store.txs[tx.ID] = tx
	id := tx.ID
	t.undo = append(t.undo, func() { delete(t.store.txs, id) })
	return tx, nil
}

func (t *memTx) UpdateTransaction(ctx context.Context, tx Transaction) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	prev, ok := t.store.txs[tx.ID]
	if !ok {
		return ErrTransactionNotFound
	}
	t.store.txs[tx.ID] = tx
	t.undo = append(t.undo, func() { t.store.txs[prev.ID] = prev })
	return nil
}

func (t *memTx) DeleteTransaction(ctx context.Context, id int64) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	prev, ok := t.store.txs[id]
	if !ok {
		return ErrTransactionNotFound
	}
	delete(t.store.txs, id)
	t.undo = append(t.undo, func() { t.store.txs[prev.ID] = prev })
	return nil
}

// AdjustAccount reads and writes in two steps with a yield in between, so
// callers that skip LockAccount lose updates under contention.
func (t *memTx) AdjustAccount(ctx context.Context, accountID int64, delta decimal.Decimal, countDelta int64) (AccountState, error) {
	t.store.mu.Lock()
	a, ok := t.store.accounts[accountID]
	if !ok {
		t.store.mu.Unlock()
		return AccountState{}, ErrAccountNotFound
	}
	prev := *a
	t.store.mu.Unlock()

	runtime.Gosched()

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	a.Balance = prev.Balance.Add(delta)
	a.TransactionsCount = prev.TransactionsCount + countDelta
	t.undo = append(t.undo, func() { *t.store.accounts[accountID] = prev })
	return *a, nil
}

func (t *memTx) SetAccountTotals(ctx context.Context, accountID int64, balance decimal.Decimal, count int64) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	a, ok := t.store.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	prev := *a
	a.Balance = balance
	a.TransactionsCount = count
	t.undo = append(t.undo, func() { *t.store.accounts[accountID] = prev })
	return nil
}

func (t *memTx) SumTransactions(ctx context.Context, accountID int64) (decimal.Decimal, int64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	sum := decimal.Zero
	var count int64
	for _, tx := range t.store.txs {
		if tx.AccountID == accountID {
			sum = sum.Add(tx.Delta())
			count++
		}
	}
	return sum, count, nil
}

func (t *memTx) ordered(accountID int64, debitsOnly bool) []Transaction {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var out []Transaction
	for _, tx := range t.store.txs {
		if tx.AccountID != accountID || (debitsOnly && tx.Type != TypeDebit) {
			continue
		}
		tx.UserID = t.store.accounts[accountID].UserID
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (t *memTx) ListDebits(ctx context.Context, accountID int64) ([]Transaction, error) {
	return t.ordered(accountID, true), nil
}

func (t *memTx) EachTransaction(ctx context.Context, accountID int64, fn func(Transaction) error) error {
	for _, tx := range t.ordered(accountID, false) {
		if err := fn(tx); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTx) ListView(ctx context.Context, limit, offset int) ([]TransactionView, int, error) {
	t.store.mu.Lock()
	ids := make([]int64, 0, len(t.store.txs))
	for id := range t.store.txs {
		ids = append(ids, id)
	}
	t.store.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	total := len(ids)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	var out []TransactionView
	for _, id := range ids[offset:end] {
		tx, err := t.GetTransaction(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, TransactionView{Transaction: tx, AccountName: fmt.Sprintf("account-%d", tx.AccountID)})
	}
	return out, total, nil
}

func (t *memTx) ListAccountIDs(ctx context.Context) ([]int64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	ids := make([]int64, 0, len(t.store.accounts))
	for id := range t.store.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
	fail error
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return a.fail
	}
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type recordingMetrics struct {
	mu          sync.Mutex
	operations  []string
	conflicts   map[string]int
	sideEffects []string
}

func (m *recordingMetrics) ObserveOperation(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations = append(m.operations, operation+":"+outcome)
}

func (m *recordingMetrics) ObserveConflict(operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts == nil {
		m.conflicts = map[string]int{}
	}
	m.conflicts[operation]++
}

func (m *recordingMetrics) ObserveSideEffectFailure(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sideEffects = append(m.sideEffects, kind)
}

// tickingClock returns a clock advancing one second per call so creation
// order is strictly increasing.
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}
