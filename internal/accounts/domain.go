package accounts

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mybank-labs/mybank/internal/ledger"
	"github.com/mybank-labs/mybank/internal/shared"
)

// Account is a user's bank account. Balance and TransactionsCount are
// maintained by the ledger and never written directly.
type Account struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	Balance           decimal.Decimal `json:"balance"`
	UserID            int64           `json:"user_id"`
	TransactionsCount int64           `json:"transactions_count"`
	CreatedAt         time.Time       `json:"created_at"`
}

// CreateInput describes a new account. A positive InitialAmount is booked as
// an opening credit transaction.
type CreateInput struct {
	Name          string
	UserID        int64
	InitialAmount decimal.Decimal
}

// OpeningName is the base name of the opening credit transaction.
const OpeningName = "opening"

var (
	// ErrUserNotFound indicates the owning user does not exist.
	ErrUserNotFound = fmt.Errorf("accounts: user not found: %w", shared.ErrNotFound)
	// ErrAccountNotFound indicates the account does not exist.
	ErrAccountNotFound = fmt.Errorf("accounts: account not found: %w", shared.ErrNotFound)
)

// Validate ensures the input is complete.
func (in CreateInput) Validate() error {
	var errs []error
	if strings.TrimSpace(in.Name) == "" {
		errs = append(errs, fmt.Errorf("accounts: name required: %w", shared.ErrInvalidArgument))
	}
	if in.UserID <= 0 {
		errs = append(errs, fmt.Errorf("accounts: user id required: %w", shared.ErrInvalidArgument))
	}
	if err := ledger.CheckAmount(in.InitialAmount); err != nil {
		errs = append(errs, fmt.Errorf("accounts: initial amount: %w", err))
	}
	return errors.Join(errs...)
}
