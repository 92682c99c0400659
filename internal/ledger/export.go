package ledger

import (
	"encoding/csv"
	"strconv"
	"time"
)

// ExportHeader names the columns of a ledger export.
var ExportHeader = []string{"id", "name", "amount", "type", "account_id", "user_id", "created_at"}

func exportRecord(tx Transaction) []string {
	return []string{
		strconv.FormatInt(tx.ID, 10),
		tx.Name,
		tx.Amount.StringFixed(2),
		strconv.Itoa(int(tx.Type)),
		strconv.FormatInt(tx.AccountID, 10),
		strconv.FormatInt(tx.UserID, 10),
		tx.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type exportWriter struct {
	w    *csv.Writer
	rows int
}

func newExportWriter(w *csv.Writer) (*exportWriter, error) {
	if err := w.Write(ExportHeader); err != nil {
		return nil, err
	}
	return &exportWriter{w: w}, nil
}

func (e *exportWriter) write(tx Transaction) error {
	e.rows++
	return e.w.Write(exportRecord(tx))
}

func (e *exportWriter) flush() error {
	e.w.Flush()
	return e.w.Error()
}
