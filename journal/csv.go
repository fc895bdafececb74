package journal

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{"id", "account_id", "symbol", "side", "quantity", "price", "total_amount", "created_at"}

// CSVWriter streams transactions as CSV rows.
type CSVWriter struct {
	w           *csv.Writer
	wroteHeader bool
}

func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

func (c *CSVWriter) Write(t Transaction) error {
	if !c.wroteHeader {
		if err := c.w.Write(csvHeader); err != nil {
			return err
		}
		c.wroteHeader = true
	}
	if err := c.w.Write([]string{
		t.ID,
		t.AccountID,
		t.Symbol,
		string(t.Side),
		strconv.FormatInt(t.Quantity, 10),
		t.Price.String(),
		t.TotalAmount.String(),
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return err
	}
	return nil
}

// Flush writes the header even when no rows were written.
func (c *CSVWriter) Flush() error {
	if !c.wroteHeader {
		if err := c.w.Write(csvHeader); err != nil {
			return err
		}
		c.wroteHeader = true
	}
	c.w.Flush()
	return c.w.Error()
}
