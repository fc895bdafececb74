// Package journal is the append-only record of executed trades.
//
// Transactions are written by the trade executor inside the same store
// transaction that updates the account; this package only defines the record,
// the read interface and the renderings used by the CLI and API.
package journal

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/stocksim/ledger"
)

const (
	// DefaultLimit is the page size used when a caller asks for limit <= 0.
	DefaultLimit = 20
	// MaxLimit caps a single page.
	MaxLimit = 500
)

// Transaction is one executed trade. Immutable once written.
type Transaction struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Symbol      string          `json:"symbol"`
	Side        ledger.Side     `json:"side"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Log is the read side of the transaction log.
type Log interface {
	// ListTransactions returns an account's transactions newest first.
	ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]Transaction, error)
	GetTransaction(ctx context.Context, id string) (Transaction, error)
}

// Stats aggregates the whole log.
type Stats struct {
	Accounts int             `json:"users"`
	Trades   int             `json:"trades"`
	Volume   decimal.Decimal `json:"volume"`
}

// ClampPage normalizes limit/offset. A negative offset is invalid input.
func ClampPage(limit, offset int) (int, int, error) {
	if offset < 0 {
		return 0, 0, ledger.Invalid("offset must not be negative, got %d", offset)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return limit, offset, nil
}
