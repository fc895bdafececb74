// Package store defines the transactional persistence used by the ledger.
//
// Every write goes through WithTx so that an account update and the journal
// append it produces commit together or not at all.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/stocksim/journal"
	"github.com/rustyeddy/stocksim/ledger"
	"github.com/rustyeddy/stocksim/market"
)

// Reader is the read-only query surface.
type Reader interface {
	journal.Log

	GetAccount(ctx context.Context, id string) (ledger.Account, error)
	ListAccounts(ctx context.Context) ([]ledger.Account, error)

	GetInstrument(ctx context.Context, symbol string) (market.Instrument, error)
	ListInstruments(ctx context.Context) ([]market.Instrument, error)
	SearchInstruments(ctx context.Context, q string, limit int) ([]market.Instrument, error)
	PriceHistory(ctx context.Context, symbol string, limit int) ([]market.PricePoint, error)

	Stats(ctx context.Context) (journal.Stats, error)
}

// Tx is a unit of work. Implementations lock the account row read through
// GetAccount until the transaction ends where the backend supports it.
type Tx interface {
	GetAccount(ctx context.Context, id string) (ledger.Account, error)
	CreateAccount(ctx context.Context, a ledger.Account) error
	SaveAccount(ctx context.Context, a ledger.Account) error
	AppendTransaction(ctx context.Context, t journal.Transaction) error

	// CreateInstrument inserts a new instrument and fails with
	// ledger.ErrConflict when the symbol is already listed.
	CreateInstrument(ctx context.Context, in market.Instrument) error
	UpsertInstrument(ctx context.Context, in market.Instrument) error
	// UpdatePrice sets the instrument price and appends a history point.
	UpdatePrice(ctx context.Context, symbol string, price decimal.Decimal, at time.Time) error
	// DeleteInstrument fails with ledger.ErrConflict while any holding
	// references symbol.
	DeleteInstrument(ctx context.Context, symbol string) error
}

type Store interface {
	Reader
	// WithTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise. fn's error is returned as is.
	WithTx(ctx context.Context, fn func(Tx) error) error
	Close() error
}
