package cli

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"

	"github.com/shopspring/decimal"

	"github.com/mybank-labs/mybank/internal/ledger"
)

// Generator books random transactions on an account.
type Generator interface {
	GenerateTransactions(ctx context.Context, accountID int64, count int, rng *rand.Rand) ([]ledger.Transaction, error)
	Account(ctx context.Context, accountID int64) (ledger.AccountState, error)
}

// GenerateOptions defines available flags for the generate command.
type GenerateOptions struct {
	AccountID int64
	Count     int
	// Seed makes runs reproducible when non-zero.
	Seed   uint64
	Stdout io.Writer
	Stderr io.Writer
}

// GenerateCommand records fake transactions and prints the resulting balance.
func GenerateCommand(ctx context.Context, gen Generator, opts GenerateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.AccountID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "generate: --account is required and must be positive")
		return 1
	}
	if opts.Count <= 0 || opts.Count > ledger.MaxGenerated {
		_, _ = fmt.Fprintf(opts.Stderr, "generate: --count must be between 1 and %d\n", ledger.MaxGenerated)
		return 1
	}
	var rng *rand.Rand
	if opts.Seed != 0 {
		rng = rand.New(rand.NewPCG(opts.Seed, uint64(opts.AccountID)))
	}
	txs, err := gen.GenerateTransactions(ctx, opts.AccountID, opts.Count, rng)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "generate: recorded %d of %d: %v\n", len(txs), opts.Count, err)
		return 1
	}
	net := decimal.Zero
	for _, tx := range txs {
		net = net.Add(tx.Delta())
	}
	account, err := gen.Account(ctx, opts.AccountID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "generate: load account: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(opts.Stdout, "recorded %d transactions on account %d (net %s); balance %s over %d transactions\n",
		len(txs), opts.AccountID, net.StringFixed(2), account.Balance.StringFixed(2), account.TransactionsCount)
	return 0
}
