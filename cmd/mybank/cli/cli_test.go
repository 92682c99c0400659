package cli

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mybank-labs/mybank/internal/accounts"
	"github.com/mybank-labs/mybank/internal/ledger"
	"github.com/mybank-labs/mybank/internal/users"
	"github.com/mybank-labs/mybank/jobs"
)

type fakeBank struct {
	emails   map[string]bool
	nextUser int64
	accounts map[int64]*ledger.AccountState
}

func newFakeBank() *fakeBank {
	return &fakeBank{emails: map[string]bool{}, accounts: map[int64]*ledger.AccountState{}}
}

func (b *fakeBank) CreateUser(ctx context.Context, in users.CreateInput) (users.User, error) {
	if b.emails[in.Email] {
		return users.User{}, users.ErrEmailTaken
	}
	b.emails[in.Email] = true
	b.nextUser++
	return users.User{ID: b.nextUser, Name: in.Name, Email: in.Email}, nil
}

func (b *fakeBank) Create(ctx context.Context, in accounts.CreateInput) (accounts.Account, error) {
	id := int64(len(b.accounts) + 1)
	state := &ledger.AccountState{ID: id, UserID: in.UserID, Balance: in.InitialAmount}
	if in.InitialAmount.IsPositive() {
		state.TransactionsCount = 1
	}
	b.accounts[id] = state
	return accounts.Account{ID: id, Name: in.Name, UserID: in.UserID, Balance: in.InitialAmount}, nil
}

func (b *fakeBank) GenerateTransactions(ctx context.Context, accountID int64, count int, rng *rand.Rand) ([]ledger.Transaction, error) {
	state, ok := b.accounts[accountID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	out := make([]ledger.Transaction, 0, count)
	for i := 0; i < count; i++ {
		tx := ledger.Transaction{AccountID: accountID, Amount: decimal.NewFromInt(int64(i + 1)), Type: ledger.TxType(i % 2)}
		state.Balance = state.Balance.Add(tx.Delta())
		state.TransactionsCount++
		out = append(out, tx)
	}
	return out, nil
}

func (b *fakeBank) Account(ctx context.Context, accountID int64) (ledger.AccountState, error) {
	state, ok := b.accounts[accountID]
	if !ok {
		return ledger.AccountState{}, ledger.ErrAccountNotFound
	}
	return *state, nil
}

func TestGenerateCommand(t *testing.T) {
	bank := newFakeBank()
	_, err := bank.Create(context.Background(), accounts.CreateInput{Name: "Checking", UserID: 1, InitialAmount: decimal.NewFromInt(100)})
	require.NoError(t, err)

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := GenerateCommand(context.Background(), bank, GenerateOptions{AccountID: 1, Count: 4, Seed: 9, Stdout: stdout, Stderr: stderr})
	require.Equal(t, 0, code, stderr.String())
	// debits 1 and 3, credits 2 and 4
	assert.Contains(t, stdout.String(), "net 2.00")
	assert.Contains(t, stdout.String(), "balance 102.00 over 5 transactions")
}

func TestGenerateCommandValidatesFlags(t *testing.T) {
	bank := newFakeBank()
	for _, opts := range []GenerateOptions{
		{AccountID: 0, Count: 1},
		{AccountID: 1, Count: 0},
		{AccountID: 1, Count: ledger.MaxGenerated + 1},
	} {
		stderr := new(bytes.Buffer)
		opts.Stderr = stderr
		opts.Stdout = new(bytes.Buffer)
		assert.Equal(t, 1, GenerateCommand(context.Background(), bank, opts), fmt.Sprintf("%+v", opts))
		assert.NotEmpty(t, stderr.String())
	}

	stderr := new(bytes.Buffer)
	code := GenerateCommand(context.Background(), bank, GenerateOptions{AccountID: 42, Count: 1, Stdout: new(bytes.Buffer), Stderr: stderr})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "account not found")
}

func TestSeedIsRerunnable(t *testing.T) {
	bank := newFakeBank()
	opts := SeedOptions{Users: 2, AccountsPerUser: 2, TransactionsPerAccount: 3, Seed: 7}

	summary, err := Seed(context.Background(), bank, bank, bank, opts)
	require.NoError(t, err)
	assert.Equal(t, SeedSummary{Users: 2, Accounts: 4, Transactions: 12}, summary)

	summary, err = Seed(context.Background(), bank, bank, bank, opts)
	require.NoError(t, err)
	assert.Equal(t, SeedSummary{Skipped: 2}, summary)
}

func TestSeedRejectsBadSizes(t *testing.T) {
	bank := newFakeBank()
	_, err := Seed(context.Background(), bank, bank, bank, SeedOptions{Users: 0, AccountsPerUser: 1})
	require.Error(t, err)
	code := SeedCommand(context.Background(), bank, bank, bank, SeedOptions{Users: 1, AccountsPerUser: 1, TransactionsPerAccount: ledger.MaxGenerated + 1, Stdout: new(bytes.Buffer), Stderr: new(bytes.Buffer)})
	assert.Equal(t, 1, code)
}

func TestBuildTask(t *testing.T) {
	task, err := buildTask(TriggerOptions{Name: jobs.TaskLedgerReconcile, AccountID: 3, Repair: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"account_id":3,"repair":true}`, string(task.Payload()))

	task, err = buildTask(TriggerOptions{Name: jobs.TaskIdempotencyCleanup})
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskIdempotencyCleanup, task.Type())

	_, err = buildTask(TriggerOptions{Name: jobs.TaskLedgerReconcile, AccountID: -1})
	require.Error(t, err)
	_, err = buildTask(TriggerOptions{Name: "mail:send"})
	require.Error(t, err)
}
