package ledger

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/shopspring/decimal"

	"github.com/mybank-labs/mybank/internal/shared"
)

// MaxGenerated caps a single GenerateTransactions call.
const MaxGenerated = 1000

var sampleNames = []string{
	"groceries", "rent", "salary", "coffee", "fuel", "utilities",
	"restaurant", "refund", "insurance", "transfer", "gym", "books",
}

// GenerateTransactions records count random transactions on an account
// through RecordTransaction, so the balance stays consistent. Amounts are
// between 1.00 and 500.00.
func (s *Service) GenerateTransactions(ctx context.Context, accountID int64, count int, rng *rand.Rand) ([]Transaction, error) {
	if count <= 0 || count > MaxGenerated {
		return nil, fmt.Errorf("ledger: count must be between 1 and %d: %w", MaxGenerated, shared.ErrInvalidArgument)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(s.now().UnixNano()), uint64(accountID)))
	}
	out := make([]Transaction, 0, count)
	for i := 0; i < count; i++ {
		cents := 100 + rng.Int64N(49901)
		tx, err := s.RecordTransaction(ctx, RecordInput{
			AccountID: accountID,
			Name:      sampleNames[rng.IntN(len(sampleNames))],
			Amount:    decimal.New(cents, -2),
			Type:      TxType(rng.IntN(2)),
		})
		if err != nil {
			return out, err
		}
		out = append(out, tx)
	}
	return out, nil
}
