package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mybank-labs/mybank/internal/shared"
)

// TxType is the direction of a transaction. The amount itself is always a
// non-negative magnitude.
type TxType int16

const (
	// TypeDebit withdraws the amount from the account.
	TypeDebit TxType = 0
	// TypeCredit deposits the amount into the account.
	TypeCredit TxType = 1
)

// Valid reports whether t is a recognised direction.
func (t TxType) Valid() bool {
	return t == TypeDebit || t == TypeCredit
}

func (t TxType) String() string {
	switch t {
	case TypeDebit:
		return "debit"
	case TypeCredit:
		return "credit"
	default:
		return fmt.Sprintf("TxType(%d)", int16(t))
	}
}

// Signed returns the contribution of amount to a balance.
func (t TxType) Signed(amount decimal.Decimal) decimal.Decimal {
	if t == TypeCredit {
		return amount
	}
	return amount.Neg()
}

// Transaction is a single ledger row.
type Transaction struct {
	ID        int64           `json:"id"`
	Reference uuid.UUID       `json:"reference"`
	Name      string          `json:"name"`
	Amount    decimal.Decimal `json:"amount"`
	Type      TxType          `json:"type"`
	AccountID int64           `json:"account_id"`
	UserID    int64           `json:"user_id"`
	CreatedAt time.Time       `json:"created_at"`
}

// Delta is the transaction's signed effect on its account balance.
func (t Transaction) Delta() decimal.Decimal {
	return t.Type.Signed(t.Amount)
}

// TransactionView is a transaction joined with its account for listings.
type TransactionView struct {
	Transaction
	AccountName string `json:"account_name"`
}

// AccountState is the denormalized ledger state of an account.
type AccountState struct {
	ID                int64           `json:"id"`
	UserID            int64           `json:"user_id"`
	Balance           decimal.Decimal `json:"balance"`
	TransactionsCount int64           `json:"transactions_count"`
}

// Reconciliation compares stored aggregates with those derived from rows.
type Reconciliation struct {
	AccountID     int64           `json:"account_id"`
	Stored        decimal.Decimal `json:"stored_balance"`
	Computed      decimal.Decimal `json:"computed_balance"`
	StoredCount   int64           `json:"stored_count"`
	ComputedCount int64           `json:"computed_count"`
	Repaired      bool            `json:"repaired"`
}

// Drift is the amount by which the stored balance deviates from the rows.
func (r Reconciliation) Drift() decimal.Decimal {
	return r.Stored.Sub(r.Computed)
}

// Consistent reports whether both aggregates match.
func (r Reconciliation) Consistent() bool {
	return r.Stored.Equal(r.Computed) && r.StoredCount == r.ComputedCount
}

var (
	// ErrAccountNotFound indicates the referenced account does not exist.
	ErrAccountNotFound = fmt.Errorf("ledger: account not found: %w", shared.ErrNotFound)
	// ErrTransactionNotFound indicates the referenced transaction does not exist.
	ErrTransactionNotFound = fmt.Errorf("ledger: transaction not found: %w", shared.ErrNotFound)
	// ErrNegativeAmount rejects signed amounts; direction belongs in the type.
	ErrNegativeAmount = fmt.Errorf("ledger: amount must be non-negative: %w", shared.ErrInvalidArgument)
	// ErrInvalidType rejects unknown transaction directions.
	ErrInvalidType = fmt.Errorf("ledger: type must be 0 (debit) or 1 (credit): %w", shared.ErrInvalidArgument)
	// ErrNameRequired rejects blank transaction names.
	ErrNameRequired = fmt.Errorf("ledger: name required: %w", shared.ErrInvalidArgument)
	// ErrAmountPrecision rejects amounts with more than two decimal places.
	ErrAmountPrecision = fmt.Errorf("ledger: amount must have at most 2 decimal places: %w", shared.ErrInvalidArgument)
	// ErrAmountTooLarge rejects amounts the NUMERIC(18,2) columns cannot hold.
	ErrAmountTooLarge = fmt.Errorf("ledger: amount must be below 10^16: %w", shared.ErrInvalidArgument)
	// ErrNegativeBudget rejects budgets below zero.
	ErrNegativeBudget = fmt.Errorf("ledger: budget must be non-negative: %w", shared.ErrInvalidArgument)
)

// MaxAmount is the exclusive upper bound of a single transaction amount.
var MaxAmount = decimal.New(1, 16)

// CheckAmount reports whether a can be stored as a transaction amount without
// rounding: non-negative, at most two decimals and below MaxAmount.
func CheckAmount(a decimal.Decimal) error {
	switch {
	case a.IsNegative():
		return ErrNegativeAmount
	case !a.Equal(a.Truncate(2)):
		return ErrAmountPrecision
	case a.GreaterThanOrEqual(MaxAmount):
		return ErrAmountTooLarge
	}
	return nil
}

// RecordInput describes a new transaction.
type RecordInput struct {
	AccountID int64
	Name      string
	Amount    decimal.Decimal
	Type      TxType
}

// Validate ensures the input can be booked.
func (in RecordInput) Validate() error {
	var errs []error
	if in.AccountID <= 0 {
		errs = append(errs, fmt.Errorf("ledger: account id required: %w", shared.ErrInvalidArgument))
	}
	if sanitizeName(in.Name) == "" {
		errs = append(errs, ErrNameRequired)
	}
	if err := CheckAmount(in.Amount); err != nil {
		errs = append(errs, err)
	}
	if !in.Type.Valid() {
		errs = append(errs, ErrInvalidType)
	}
	return errors.Join(errs...)
}

// AmendInput replaces the amount and type of an existing transaction. A nil
// Name keeps the current base name.
type AmendInput struct {
	TransactionID int64
	Amount        decimal.Decimal
	Type          TxType
	Name          *string
}

// Validate ensures the amendment can be applied.
func (in AmendInput) Validate() error {
	var errs []error
	if in.TransactionID <= 0 {
		errs = append(errs, fmt.Errorf("ledger: transaction id required: %w", shared.ErrInvalidArgument))
	}
	if err := CheckAmount(in.Amount); err != nil {
		errs = append(errs, err)
	}
	if !in.Type.Valid() {
		errs = append(errs, ErrInvalidType)
	}
	if in.Name != nil && sanitizeName(*in.Name) == "" {
		errs = append(errs, ErrNameRequired)
	}
	return errors.Join(errs...)
}
