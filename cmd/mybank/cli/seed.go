package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"

	"github.com/shopspring/decimal"

	"github.com/mybank-labs/mybank/internal/accounts"
	"github.com/mybank-labs/mybank/internal/ledger"
	"github.com/mybank-labs/mybank/internal/shared"
	"github.com/mybank-labs/mybank/internal/users"
)

// UserCreator registers users.
type UserCreator interface {
	CreateUser(ctx context.Context, in users.CreateInput) (users.User, error)
}

// AccountCreator opens accounts.
type AccountCreator interface {
	Create(ctx context.Context, in accounts.CreateInput) (accounts.Account, error)
}

// SeedOptions controls the size of the demo dataset.
type SeedOptions struct {
	Users                  int
	AccountsPerUser        int
	TransactionsPerAccount int
	Seed                   uint64
	Stdout                 io.Writer
	Stderr                 io.Writer
}

// SeedSummary counts what a seed run created.
type SeedSummary struct {
	Users        int
	Skipped      int
	Accounts     int
	Transactions int
}

var accountKinds = []string{"Checking", "Savings", "Travel"}

// SeedCommand loads demo users, accounts and transactions through the
// services so every aggregate stays consistent. Users whose email already
// exists are skipped, which makes the command safe to re-run.
func SeedCommand(ctx context.Context, uc UserCreator, ac AccountCreator, gen Generator, opts SeedOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	summary, err := Seed(ctx, uc, ac, gen, opts)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "seed: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(opts.Stdout, "seeded %d users (%d already present), %d accounts, %d transactions\n",
		summary.Users, summary.Skipped, summary.Accounts, summary.Transactions)
	return 0
}

// Seed creates the demo dataset.
func Seed(ctx context.Context, uc UserCreator, ac AccountCreator, gen Generator, opts SeedOptions) (SeedSummary, error) {
	var summary SeedSummary
	if opts.Users <= 0 || opts.AccountsPerUser <= 0 || opts.TransactionsPerAccount < 0 {
		return summary, errors.New("users and accounts per user must be positive")
	}
	if opts.TransactionsPerAccount > ledger.MaxGenerated {
		return summary, fmt.Errorf("at most %d transactions per account", ledger.MaxGenerated)
	}
	seed := opts.Seed
	if seed == 0 {
		seed = 1
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	for i := 1; i <= opts.Users; i++ {
		user, err := uc.CreateUser(ctx, users.CreateInput{
			Name:  fmt.Sprintf("Demo User %d", i),
			Email: fmt.Sprintf("demo%d@mybank.test", i),
		})
		if errors.Is(err, shared.ErrConflict) {
			summary.Skipped++
			continue
		}
		if err != nil {
			return summary, fmt.Errorf("create user %d: %w", i, err)
		}
		summary.Users++
		for k := 0; k < opts.AccountsPerUser; k++ {
			opening := decimal.New(int64(rng.IntN(500000)), -2)
			account, err := ac.Create(ctx, accounts.CreateInput{
				Name:          fmt.Sprintf("%s %d", accountKinds[k%len(accountKinds)], k/len(accountKinds)+1),
				UserID:        user.ID,
				InitialAmount: opening,
			})
			if err != nil {
				return summary, fmt.Errorf("create account for user %d: %w", user.ID, err)
			}
			summary.Accounts++
			if opts.TransactionsPerAccount == 0 {
				continue
			}
			txs, err := gen.GenerateTransactions(ctx, account.ID, opts.TransactionsPerAccount, rng)
			summary.Transactions += len(txs)
			if err != nil {
				return summary, fmt.Errorf("generate for account %d: %w", account.ID, err)
			}
		}
	}
	return summary, nil
}
