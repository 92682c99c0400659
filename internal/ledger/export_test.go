package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mybank-labs/mybank/internal/shared"
)

func TestExportCSVWritesOrderedRows(t *testing.T) {
	svc, _, _ := newTestLedger(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return at })
	record(t, svc, 1, "salary", "1200", TypeCredit)
	record(t, svc, 1, `rent, "may"`, "850.5", TypeDebit)
	record(t, svc, 2, "elsewhere", "1", TypeDebit)

	var buf bytes.Buffer
	rows, err := svc.ExportCSV(context.Background(), 1, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, rows)

	want := strings.Join([]string{
		"id,name,amount,type,account_id,user_id,created_at",
		"1,T1-SALARY,1200.00,1,1,10,2024-05-01T12:00:00Z",
		"2,T0-RENT MAY,850.50,0,1,10,2024-05-01T12:00:00Z",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestExportCSVEmptyAccountHasHeaderOnly(t *testing.T) {
	svc, _, _ := newTestLedger(t)
	var buf bytes.Buffer
	rows, err := svc.ExportCSV(context.Background(), 2, &buf)
	require.NoError(t, err)
	assert.Zero(t, rows)
	assert.Equal(t, "id,name,amount,type,account_id,user_id,created_at\n", buf.String())
}

func TestExportCSVMissingAccount(t *testing.T) {
	svc, _, _ := newTestLedger(t)
	var buf bytes.Buffer
	_, err := svc.ExportCSV(context.Background(), 404, &buf)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.Empty(t, buf.String())
}
