// Package sim executes simulated market orders against the ledger.
//
// The Engine reads the latest price, applies the trade to the account and
// persists the account together with its journal entry in one store
// transaction. Work on one account is serialized; different accounts run in
// parallel.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/stocksim/broker"
	"github.com/rustyeddy/stocksim/journal"
	"github.com/rustyeddy/stocksim/ledger"
	"github.com/rustyeddy/stocksim/market"
	"github.com/rustyeddy/stocksim/pkg/id"
	"github.com/rustyeddy/stocksim/store"
)

// DefaultLeaderboardSize is used when Leaderboard is asked for n <= 0.
const DefaultLeaderboardSize = 10

// TradeListener is told about every committed trade. It runs after the
// account lock is released and must not block for long.
type TradeListener interface {
	OnTrade(t journal.Transaction)
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l } }

// WithClock replaces time.Now for transaction timestamps.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithIDs(g *id.Generator) Option { return func(e *Engine) { e.ids = g } }

// WithOpeningBalance sets the balance of accounts opened without one.
func WithOpeningBalance(b decimal.Decimal) Option { return func(e *Engine) { e.opening = b } }

var _ broker.Broker = (*Engine)(nil)

type Engine struct {
	store   store.Store
	prices  market.PriceSource
	locks   *keyedMutex
	ids     *id.Generator
	now     func() time.Time
	log     *zap.Logger
	opening decimal.Decimal

	mu       sync.Mutex
	listener TradeListener
}

func NewEngine(s store.Store, prices market.PriceSource, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		prices:  prices,
		locks:   newKeyedMutex(),
		now:     time.Now,
		log:     zap.NewNop(),
		opening: ledger.DefaultBalance,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.ids == nil {
		e.ids = id.NewGenerator(e.now)
	}
	return e
}

// SetTradeListener sets the listener notified after each committed trade.
func (e *Engine) SetTradeListener(l TradeListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

// Execute fills req at the instrument's current price. On any error the
// account and journal are unchanged.
func (e *Engine) Execute(ctx context.Context, req broker.TradeRequest) (journal.Transaction, error) {
	req, err := req.Normalize()
	if err != nil {
		return journal.Transaction{}, err
	}

	// The price is read before the lock; a feed may move it concurrently.
	price, err := e.quote(ctx, req.Symbol)
	if err != nil {
		return journal.Transaction{}, err
	}

	unlock, err := e.locks.Lock(ctx, req.AccountID)
	if err != nil {
		return journal.Transaction{}, fmt.Errorf("%w: execute: waiting for account %s: %w", ledger.ErrTimeout, req.AccountID, err)
	}

	var tx journal.Transaction
	err = e.store.WithTx(ctx, func(stx store.Tx) error {
		acct, err := stx.GetAccount(ctx, req.AccountID)
		if err != nil {
			return err
		}
		fill, err := ledger.Apply(acct, req.Side, req.Symbol, price, req.Quantity)
		if err != nil {
			return err
		}

		now := e.now().UTC()
		fill.Account.UpdatedAt = now
		tx = journal.Transaction{
			ID:          e.ids.At(now),
			AccountID:   acct.ID,
			Symbol:      req.Symbol,
			Side:        req.Side,
			Quantity:    req.Quantity,
			Price:       fill.Price,
			TotalAmount: fill.Total,
			CreatedAt:   now,
		}
		if err := stx.SaveAccount(ctx, fill.Account); err != nil {
			return err
		}
		return stx.AppendTransaction(ctx, tx)
	})
	unlock()

	if err != nil {
		err = ledger.Persistence(err)
		e.log.Info("trade rejected",
			zap.String("account", req.AccountID),
			zap.String("symbol", req.Symbol),
			zap.String("side", string(req.Side)),
			zap.Int64("quantity", req.Quantity),
			zap.Stringer("kind", ledger.KindOf(err)),
			zap.Error(err))
		return journal.Transaction{}, err
	}

	e.log.Info("trade executed",
		zap.String("id", tx.ID),
		zap.String("account", tx.AccountID),
		zap.String("symbol", tx.Symbol),
		zap.String("side", string(tx.Side)),
		zap.Int64("quantity", tx.Quantity),
		zap.Stringer("price", tx.Price),
		zap.Stringer("total", tx.TotalAmount))

	e.mu.Lock()
	listener := e.listener
	e.mu.Unlock()
	if listener != nil {
		listener.OnTrade(tx)
	}
	return tx, nil
}

func (e *Engine) quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	in, err := e.prices.Quote(ctx, symbol)
	if errors.Is(err, market.ErrNoInstrument) {
		return decimal.Zero, fmt.Errorf("instrument %s: %w", symbol, ledger.ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("quote %s: %w", symbol, err)
	}
	if !in.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("instrument %s has no price: %w", symbol, ledger.ErrNotFound)
	}
	return in.Price, nil
}

func (e *Engine) lookup(ctx context.Context) func(string) (market.Instrument, bool) {
	return func(symbol string) (market.Instrument, bool) {
		in, err := e.prices.Quote(ctx, symbol)
		return in, err == nil
	}
}

// GetAccount returns the account with holdings valued at current prices.
func (e *Engine) GetAccount(ctx context.Context, id string) (broker.AccountView, error) {
	acct, err := e.store.GetAccount(ctx, id)
	if err != nil {
		return broker.AccountView{}, err
	}
	return broker.NewAccountView(acct, e.lookup(ctx)), nil
}

func (e *Engine) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]journal.Transaction, error) {
	return e.store.ListTransactions(ctx, accountID, limit, offset)
}

func (e *Engine) GetTransaction(ctx context.Context, id string) (journal.Transaction, error) {
	return e.store.GetTransaction(ctx, id)
}

func (e *Engine) Stats(ctx context.Context) (journal.Stats, error) {
	return e.store.Stats(ctx)
}

// OpenAccount creates an account, generating an id when none is given.
func (e *Engine) OpenAccount(ctx context.Context, req broker.OpenAccountRequest) (broker.AccountView, error) {
	req, err := req.Normalize()
	if err != nil {
		return broker.AccountView{}, err
	}
	now := e.now().UTC()
	if req.ID == "" {
		req.ID = e.ids.At(now)
	}
	balance := e.opening
	if req.Balance != nil {
		balance = *req.Balance
	}

	acct := ledger.NewAccount(req.ID, req.Name, balance, now)
	if err := e.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateAccount(ctx, acct)
	}); err != nil {
		return broker.AccountView{}, ledger.Persistence(err)
	}
	e.log.Info("account opened", zap.String("account", acct.ID), zap.String("name", acct.Name))
	return broker.NewAccountView(acct, e.lookup(ctx)), nil
}

func (e *Engine) Deposit(ctx context.Context, id string, amount decimal.Decimal) (broker.AccountView, error) {
	return e.moveCash(ctx, id, "deposit", func(a ledger.Account) (ledger.Account, error) {
		return ledger.Deposit(a, amount)
	})
}

func (e *Engine) Withdraw(ctx context.Context, id string, amount decimal.Decimal) (broker.AccountView, error) {
	return e.moveCash(ctx, id, "withdraw", func(a ledger.Account) (ledger.Account, error) {
		return ledger.Withdraw(a, amount)
	})
}

// moveCash runs a balance change under the same lock as trades.
func (e *Engine) moveCash(ctx context.Context, id, op string, apply func(ledger.Account) (ledger.Account, error)) (broker.AccountView, error) {
	unlock, err := e.locks.Lock(ctx, id)
	if err != nil {
		return broker.AccountView{}, fmt.Errorf("%w: %s: waiting for account %s: %w", ledger.ErrTimeout, op, id, err)
	}
	defer unlock()

	var next ledger.Account
	err = e.store.WithTx(ctx, func(tx store.Tx) error {
		acct, err := tx.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if next, err = apply(acct); err != nil {
			return err
		}
		next.UpdatedAt = e.now().UTC()
		return tx.SaveAccount(ctx, next)
	})
	if err != nil {
		return broker.AccountView{}, ledger.Persistence(err)
	}
	e.log.Info(op, zap.String("account", id), zap.Stringer("balance", next.Balance))
	return broker.NewAccountView(next, e.lookup(ctx)), nil
}

// Leaderboard ranks accounts by cash plus holdings at current prices and
// returns the top n.
func (e *Engine) Leaderboard(ctx context.Context, n int) ([]broker.Standing, error) {
	if n <= 0 {
		n = DefaultLeaderboardSize
	}
	accts, err := e.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	lookup := e.lookup(ctx)
	rows := make([]broker.Standing, 0, len(accts))
	for _, a := range accts {
		v := broker.NewAccountView(a, lookup)
		rows = append(rows, broker.Standing{AccountID: a.ID, Name: a.Name, TotalValue: v.TotalValue})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if c := rows[i].TotalValue.Cmp(rows[j].TotalValue); c != 0 {
			return c > 0
		}
		return rows[i].AccountID < rows[j].AccountID
	})
	if len(rows) > n {
		rows = rows[:n]
	}
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}
