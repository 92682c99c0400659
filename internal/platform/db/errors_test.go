package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mybank-labs/mybank/internal/shared"
)

func TestClassifyPgErrors(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{codeSerializationFailure, shared.ErrConflict},
		{codeDeadlockDetected, shared.ErrConflict},
		{codeUniqueViolation, shared.ErrConflict},
		{codeForeignKeyViolation, shared.ErrNotFound},
		{codeNumericOutOfRange, shared.ErrInvalidArgument},
		{"08006", shared.ErrUnavailable},
		{"57P01", shared.ErrUnavailable},
	}
	for _, tc := range cases {
		err := Classify(fmt.Errorf("exec: %w", &pgconn.PgError{Code: tc.code, Message: "boom"}))
		assert.ErrorIs(t, err, tc.want, tc.code)
	}
}

func TestClassifyLeavesOtherErrorsAlone(t *testing.T) {
	require.NoError(t, Classify(nil))

	check := &pgconn.PgError{Code: "23514", ConstraintName: "transactions_amount_check"}
	assert.Same(t, error(check), Classify(check))

	plain := errors.New("plain")
	assert.Equal(t, plain, Classify(plain))

	classified := fmt.Errorf("ledger: account not found: %w", shared.ErrNotFound)
	assert.Equal(t, classified, Classify(classified))
}

func TestClassifyCanceledIsNotUnavailable(t *testing.T) {
	assert.NotErrorIs(t, Classify(context.Canceled), shared.ErrUnavailable)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: codeUniqueViolation})))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: codeForeignKeyViolation}))
	assert.False(t, IsUniqueViolation(errors.New("x")))
}
