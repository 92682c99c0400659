package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// SelectWithinBudget returns the longest prefix of debits, ordered by
// creation time then id, whose running total stays within budget. Credits
// are skipped and never offset the running total. Selection stops at the
// first debit that would overflow; later smaller debits are not considered.
func SelectWithinBudget(txs []Transaction, budget decimal.Decimal) []Transaction {
	debits := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Type == TypeDebit {
			debits = append(debits, tx)
		}
	}
	sort.SliceStable(debits, func(i, j int) bool {
		if !debits[i].CreatedAt.Equal(debits[j].CreatedAt) {
			return debits[i].CreatedAt.Before(debits[j].CreatedAt)
		}
		return debits[i].ID < debits[j].ID
	})

	running := decimal.Zero
	selected := make([]Transaction, 0, len(debits))
	for _, tx := range debits {
		next := running.Add(tx.Amount)
		if next.GreaterThan(budget) {
			break
		}
		running = next
		selected = append(selected, tx)
	}
	return selected
}
