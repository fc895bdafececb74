// Package storetest holds helpers shared by store implementations and their
// callers in tests: a contract suite every backend must pass and a decorator
// that injects failures into transactions.
package storetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/stocksim/journal"
	"github.com/rustyeddy/stocksim/ledger"
	"github.com/rustyeddy/stocksim/market"
	"github.com/rustyeddy/stocksim/store"
)

// ErrInjected is returned by Faulty when an armed operation runs.
var ErrInjected = errors.New("storetest: injected failure")

// Op names a Tx method.
type Op string

const (
	OpGetAccount        Op = "GetAccount"
	OpCreateAccount     Op = "CreateAccount"
	OpSaveAccount       Op = "SaveAccount"
	OpAppendTransaction Op = "AppendTransaction"
	OpCreateInstrument  Op = "CreateInstrument"
	OpUpsertInstrument  Op = "UpsertInstrument"
	OpUpdatePrice       Op = "UpdatePrice"
	OpDeleteInstrument  Op = "DeleteInstrument"
)

// Faulty wraps a Store and fails chosen Tx operations with ErrInjected. The
// wrapped backend sees a failing fn and rolls back as it would for any error.
type Faulty struct {
	store.Store

	mu    sync.Mutex
	armed map[Op]bool
}

func NewFaulty(s store.Store) *Faulty {
	return &Faulty{Store: s, armed: make(map[Op]bool)}
}

// FailOn arms op; every later call fails until Reset.
func (f *Faulty) FailOn(op Op) {
	f.mu.Lock()
	f.armed[op] = true
	f.mu.Unlock()
}

func (f *Faulty) Reset() {
	f.mu.Lock()
	f.armed = make(map[Op]bool)
	f.mu.Unlock()
}

func (f *Faulty) check(op Op) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.armed[op] {
		return ErrInjected
	}
	return nil
}

func (f *Faulty) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	return f.Store.WithTx(ctx, func(tx store.Tx) error {
		return fn(&faultyTx{Tx: tx, f: f})
	})
}

type faultyTx struct {
	store.Tx
	f *Faulty
}

func (t *faultyTx) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	if err := t.f.check(OpGetAccount); err != nil {
		return ledger.Account{}, err
	}
	return t.Tx.GetAccount(ctx, id)
}

func (t *faultyTx) CreateAccount(ctx context.Context, a ledger.Account) error {
	if err := t.f.check(OpCreateAccount); err != nil {
		return err
	}
	return t.Tx.CreateAccount(ctx, a)
}

func (t *faultyTx) SaveAccount(ctx context.Context, a ledger.Account) error {
	if err := t.f.check(OpSaveAccount); err != nil {
		return err
	}
	return t.Tx.SaveAccount(ctx, a)
}

func (t *faultyTx) AppendTransaction(ctx context.Context, tr journal.Transaction) error {
	if err := t.f.check(OpAppendTransaction); err != nil {
		return err
	}
	return t.Tx.AppendTransaction(ctx, tr)
}

func (t *faultyTx) CreateInstrument(ctx context.Context, in market.Instrument) error {
	if err := t.f.check(OpCreateInstrument); err != nil {
		return err
	}
	return t.Tx.CreateInstrument(ctx, in)
}

func (t *faultyTx) UpsertInstrument(ctx context.Context, in market.Instrument) error {
	if err := t.f.check(OpUpsertInstrument); err != nil {
		return err
	}
	return t.Tx.UpsertInstrument(ctx, in)
}

func (t *faultyTx) UpdatePrice(ctx context.Context, symbol string, price decimal.Decimal, at time.Time) error {
	if err := t.f.check(OpUpdatePrice); err != nil {
		return err
	}
	return t.Tx.UpdatePrice(ctx, symbol, price, at)
}

func (t *faultyTx) DeleteInstrument(ctx context.Context, symbol string) error {
	if err := t.f.check(OpDeleteInstrument); err != nil {
		return err
	}
	return t.Tx.DeleteInstrument(ctx, symbol)
}
