// Package catalog manages the listed instruments: admin edits, the feed sink
// that moves prices, and the read queries behind the instrument pages.
//
// Persisted instruments are the source of truth; the market.Board is a
// read-through copy that the trade executor quotes from.
package catalog

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/stocksim/ledger"
	"github.com/rustyeddy/stocksim/market"
	"github.com/rustyeddy/stocksim/store"
)

const (
	MaxSearchResults   = 10
	DefaultHistorySize = 100
	MaxHistorySize     = 1000
)

// Broadcaster receives every set of instruments whose price just changed.
type Broadcaster interface {
	PricesChanged(changed []market.Instrument)
}

type Option func(*Catalog)

func WithLogger(l *zap.Logger) Option { return func(c *Catalog) { c.log = l } }

func WithClock(now func() time.Time) Option { return func(c *Catalog) { c.now = now } }

type Catalog struct {
	store store.Store
	board *market.Board
	log   *zap.Logger
	now   func() time.Time

	// applyMu orders feed batches so the board and the store see them in
	// the same sequence.
	applyMu sync.Mutex

	mu sync.Mutex
	bc Broadcaster
}

func New(s store.Store, board *market.Board, opts ...Option) *Catalog {
	c := &Catalog{store: s, board: board, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Catalog) SetBroadcaster(b Broadcaster) {
	c.mu.Lock()
	c.bc = b
	c.mu.Unlock()
}

func (c *Catalog) broadcast(changed []market.Instrument) {
	if len(changed) == 0 {
		return
	}
	c.mu.Lock()
	b := c.bc
	c.mu.Unlock()
	if b != nil {
		b.PricesChanged(changed)
	}
}

// Load fills the board from the store. Call once at start-up.
func (c *Catalog) Load(ctx context.Context) (int, error) {
	list, err := c.store.ListInstruments(ctx)
	if err != nil {
		return 0, err
	}
	c.board.Load(list)
	c.log.Info("catalog loaded", zap.Int("instruments", len(list)))
	return len(list), nil
}

func normalize(in market.Instrument) (market.Instrument, error) {
	sym, err := market.NormalizeSymbol(in.Symbol)
	if err != nil {
		return in, ledger.Invalid("%v", err)
	}
	in.Symbol = sym
	in.Name = strings.TrimSpace(in.Name)
	in.Sector = strings.TrimSpace(in.Sector)
	if err := in.Validate(); err != nil {
		return in, ledger.Invalid("%v", err)
	}
	return in, nil
}

// Add lists a new instrument; an existing symbol is a conflict.
func (c *Catalog) Add(ctx context.Context, in market.Instrument) (market.Instrument, error) {
	in, err := normalize(in)
	if err != nil {
		return in, err
	}
	if in.LastUpdated.IsZero() {
		in.LastUpdated = c.now().UTC()
	}
	if err := c.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateInstrument(ctx, in)
	}); err != nil {
		return in, ledger.Persistence(err)
	}
	c.board.Put(in)
	c.log.Info("instrument listed", zap.String("symbol", in.Symbol), zap.Stringer("price", in.Price))
	return in, nil
}

// Update replaces name, sector and price of a listed instrument.
func (c *Catalog) Update(ctx context.Context, in market.Instrument) (market.Instrument, error) {
	in, err := normalize(in)
	if err != nil {
		return in, err
	}
	if _, err := c.store.GetInstrument(ctx, in.Symbol); err != nil {
		return in, err
	}
	return c.put(ctx, in)
}

// Seed upserts instruments in one transaction, as used by the CLI.
func (c *Catalog) Seed(ctx context.Context, list []market.Instrument) (int, error) {
	now := c.now().UTC()
	clean := make([]market.Instrument, 0, len(list))
	for _, in := range list {
		in, err := normalize(in)
		if err != nil {
			return 0, err
		}
		if in.LastUpdated.IsZero() {
			in.LastUpdated = now
		}
		clean = append(clean, in)
	}
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		for _, in := range clean {
			if err := tx.UpsertInstrument(ctx, in); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, ledger.Persistence(err)
	}
	for _, in := range clean {
		c.board.Put(in)
	}
	return len(clean), nil
}

func (c *Catalog) put(ctx context.Context, in market.Instrument) (market.Instrument, error) {
	if in.LastUpdated.IsZero() {
		in.LastUpdated = c.now().UTC()
	}
	if err := c.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpsertInstrument(ctx, in)
	}); err != nil {
		return in, ledger.Persistence(err)
	}
	prev, had := c.board.Get(in.Symbol)
	c.board.Put(in)
	c.log.Info("instrument saved", zap.String("symbol", in.Symbol), zap.Stringer("price", in.Price))
	if had && !prev.Price.Equal(in.Price) {
		c.broadcast([]market.Instrument{in})
	}
	return in, nil
}

// UpdatePrice sets a manual price and records it in the history.
func (c *Catalog) UpdatePrice(ctx context.Context, symbol string, price decimal.Decimal) (market.Instrument, error) {
	sym, err := market.NormalizeSymbol(symbol)
	if err != nil {
		return market.Instrument{}, ledger.Invalid("%v", err)
	}
	if !price.IsPositive() {
		return market.Instrument{}, ledger.Invalid("price must be positive, got %s", price)
	}
	now := c.now().UTC()
	if err := c.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpdatePrice(ctx, sym, price, now)
	}); err != nil {
		return market.Instrument{}, ledger.Persistence(err)
	}
	in, err := c.store.GetInstrument(ctx, sym)
	if err != nil {
		return market.Instrument{}, err
	}
	c.board.Put(in)
	c.broadcast([]market.Instrument{in})
	return in, nil
}

// Delete unlists symbol. It fails with ledger.ErrConflict while any account
// holds it.
func (c *Catalog) Delete(ctx context.Context, symbol string) error {
	sym, err := market.NormalizeSymbol(symbol)
	if err != nil {
		return ledger.Invalid("%v", err)
	}
	if err := c.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.DeleteInstrument(ctx, sym)
	}); err != nil {
		return ledger.Persistence(err)
	}
	c.board.Remove(sym)
	c.log.Info("instrument deleted", zap.String("symbol", sym))
	return nil
}

func (c *Catalog) Get(ctx context.Context, symbol string) (market.Instrument, error) {
	sym, err := market.NormalizeSymbol(symbol)
	if err != nil {
		return market.Instrument{}, ledger.Invalid("%v", err)
	}
	return c.store.GetInstrument(ctx, sym)
}

func (c *Catalog) List(ctx context.Context) ([]market.Instrument, error) {
	return c.store.ListInstruments(ctx)
}

// Search matches q against symbol and name, case-insensitively.
func (c *Catalog) Search(ctx context.Context, q string, limit int) ([]market.Instrument, error) {
	if strings.TrimSpace(q) == "" {
		return []market.Instrument{}, nil
	}
	if limit <= 0 || limit > MaxSearchResults {
		limit = MaxSearchResults
	}
	return c.store.SearchInstruments(ctx, q, limit)
}

// History returns recorded prices for symbol, newest first.
func (c *Catalog) History(ctx context.Context, symbol string, limit int) ([]market.PricePoint, error) {
	sym, err := market.NormalizeSymbol(symbol)
	if err != nil {
		return nil, ledger.Invalid("%v", err)
	}
	if _, err := c.store.GetInstrument(ctx, sym); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	if limit > MaxHistorySize {
		limit = MaxHistorySize
	}
	return c.store.PriceHistory(ctx, sym, limit)
}
