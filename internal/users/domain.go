package users

import (
	"fmt"
	"time"

	"github.com/mybank-labs/mybank/internal/accounts"
	"github.com/mybank-labs/mybank/internal/shared"
)

// User represents a bank customer.
type User struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	AccountsCount int64     `json:"accounts_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// Profile is a user together with the accounts they own.
type Profile struct {
	User     User               `json:"user"`
	Accounts []accounts.Account `json:"accounts"`
}

// CreateInput captures the signup form.
type CreateInput struct {
	Name  string `json:"name" validate:"required,max=120"`
	Email string `json:"email" validate:"required,email,max=254"`
}

var (
	// ErrUserNotFound indicates the user does not exist.
	ErrUserNotFound = fmt.Errorf("users: user not found: %w", shared.ErrNotFound)
	// ErrEmailTaken indicates another user registered the email first.
	ErrEmailTaken = fmt.Errorf("users: email already registered: %w", shared.ErrConflict)
)
