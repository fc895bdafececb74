// Package memory is an in-process Store. It keeps nothing across restarts and
// exists for tests, demos and the "memory" driver.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/stocksim/journal"
	"github.com/rustyeddy/stocksim/ledger"
	"github.com/rustyeddy/stocksim/market"
	"github.com/rustyeddy/stocksim/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu       sync.RWMutex
	accounts map[string]ledger.Account
	instr    map[string]market.Instrument
	txs      []journal.Transaction // append order
	history  []market.PricePoint
}

func New() *Store {
	return &Store{
		accounts: make(map[string]ledger.Account),
		instr:    make(map[string]market.Instrument),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) GetAccount(_ context.Context, id string) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return ledger.Account{}, fmt.Errorf("account %q: %w", id, ledger.ErrNotFound)
	}
	return a.Clone(), nil
}

func (s *Store) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetInstrument(_ context.Context, symbol string) (market.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.instr[symbol]
	if !ok {
		return market.Instrument{}, fmt.Errorf("instrument %q: %w", symbol, ledger.ErrNotFound)
	}
	return in, nil
}

func (s *Store) ListInstruments(_ context.Context) ([]market.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]market.Instrument, 0, len(s.instr))
	for _, in := range s.instr {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *Store) SearchInstruments(ctx context.Context, q string, limit int) ([]market.Instrument, error) {
	all, _ := s.ListInstruments(ctx)
	q = strings.ToLower(strings.TrimSpace(q))
	var out []market.Instrument
	for _, in := range all {
		if strings.Contains(strings.ToLower(in.Symbol), q) || strings.Contains(strings.ToLower(in.Name), q) {
			out = append(out, in)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) PriceHistory(_ context.Context, symbol string, limit int) ([]market.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []market.PricePoint
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Symbol != symbol {
			continue
		}
		out = append(out, s.history[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListTransactions(_ context.Context, accountID string, limit, offset int) ([]journal.Transaction, error) {
	limit, offset, err := journal.ClampPage(limit, offset)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mine []journal.Transaction
	for _, t := range s.txs {
		if t.AccountID == accountID {
			mine = append(mine, t)
		}
	}
	sort.SliceStable(mine, func(i, j int) bool {
		if !mine[i].CreatedAt.Equal(mine[j].CreatedAt) {
			return mine[i].CreatedAt.After(mine[j].CreatedAt)
		}
		return mine[i].ID > mine[j].ID
	})
	if offset >= len(mine) {
		return []journal.Transaction{}, nil
	}
	end := offset + limit
	if end > len(mine) {
		end = len(mine)
	}
	return append([]journal.Transaction(nil), mine[offset:end]...), nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (journal.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.txs {
		if t.ID == id {
			return t, nil
		}
	}
	return journal.Transaction{}, fmt.Errorf("transaction %q: %w", id, ledger.ErrNotFound)
}

func (s *Store) Stats(_ context.Context) (journal.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := journal.Stats{Accounts: len(s.accounts), Trades: len(s.txs), Volume: decimal.Zero}
	for _, t := range s.txs {
		st.Volume = st.Volume.Add(t.TotalAmount)
	}
	return st, nil
}

// WithTx stages writes in a private buffer and applies them under the write
// lock only if fn succeeds, so a failed fn leaves no trace.
func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	tx := &memTx{
		s:        s,
		accounts: make(map[string]ledger.Account),
		created:  make(map[string]bool),
		instr:    make(map[string]market.Instrument),
		listed:   make(map[string]bool),
		deleted:  make(map[string]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

type memTx struct {
	s        *Store
	accounts map[string]ledger.Account
	created  map[string]bool
	txs      []journal.Transaction
	instr    map[string]market.Instrument
	listed   map[string]bool
	deleted  map[string]bool
	history  []market.PricePoint
}

func (t *memTx) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	if a, ok := t.accounts[id]; ok {
		return a.Clone(), nil
	}
	return t.s.GetAccount(ctx, id)
}

func (t *memTx) CreateAccount(_ context.Context, a ledger.Account) error {
	if _, ok := t.accounts[a.ID]; ok {
		return fmt.Errorf("account %q: %w", a.ID, ledger.ErrConflict)
	}
	t.accounts[a.ID] = a.Clone()
	t.created[a.ID] = true
	return nil
}

func (t *memTx) SaveAccount(ctx context.Context, a ledger.Account) error {
	if _, ok := t.accounts[a.ID]; !ok {
		if _, err := t.s.GetAccount(ctx, a.ID); err != nil {
			return err
		}
	}
	t.accounts[a.ID] = a.Clone()
	return nil
}

func (t *memTx) AppendTransaction(_ context.Context, tr journal.Transaction) error {
	t.txs = append(t.txs, tr)
	return nil
}

func (t *memTx) CreateInstrument(ctx context.Context, in market.Instrument) error {
	_, staged := t.instr[in.Symbol]
	_, err := t.s.GetInstrument(ctx, in.Symbol)
	if staged || (err == nil && !t.deleted[in.Symbol]) {
		return fmt.Errorf("instrument %q: %w", in.Symbol, ledger.ErrConflict)
	}
	t.instr[in.Symbol] = in
	t.listed[in.Symbol] = true
	return nil
}

func (t *memTx) UpsertInstrument(_ context.Context, in market.Instrument) error {
	t.instr[in.Symbol] = in
	delete(t.deleted, in.Symbol)
	return nil
}

func (t *memTx) UpdatePrice(ctx context.Context, symbol string, price decimal.Decimal, at time.Time) error {
	in, ok := t.instr[symbol]
	if !ok {
		var err error
		if in, err = t.s.GetInstrument(ctx, symbol); err != nil {
			return err
		}
	}
	in.Price = price
	in.LastUpdated = at
	t.instr[symbol] = in
	t.history = append(t.history, market.PricePoint{Symbol: symbol, Price: price, RecordedAt: at})
	return nil
}

func (t *memTx) DeleteInstrument(ctx context.Context, symbol string) error {
	if _, err := t.s.GetInstrument(ctx, symbol); err != nil {
		if _, staged := t.instr[symbol]; !staged {
			return err
		}
	}
	delete(t.instr, symbol)
	t.deleted[symbol] = true
	return nil
}

func (t *memTx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range t.created {
		if _, ok := s.accounts[id]; ok {
			return fmt.Errorf("account %q: %w", id, ledger.ErrConflict)
		}
	}
	for sym := range t.listed {
		if _, ok := s.instr[sym]; ok && !t.deleted[sym] {
			return fmt.Errorf("instrument %q: %w", sym, ledger.ErrConflict)
		}
	}
	for sym := range t.deleted {
		if held(s.accounts, t.accounts, sym) {
			return fmt.Errorf("instrument %q is still held: %w", sym, ledger.ErrConflict)
		}
	}

	for id, a := range t.accounts {
		s.accounts[id] = a
	}
	s.txs = append(s.txs, t.txs...)
	for sym := range t.deleted {
		delete(s.instr, sym)
	}
	for sym, in := range t.instr {
		s.instr[sym] = in
	}
	s.history = append(s.history, t.history...)
	return nil
}

func held(committed, staged map[string]ledger.Account, sym string) bool {
	for id, a := range committed {
		if st, ok := staged[id]; ok {
			a = st
		}
		if _, ok := a.Holdings[sym]; ok {
			return true
		}
	}
	for id, a := range staged {
		if _, ok := committed[id]; ok {
			continue
		}
		if _, ok := a.Holdings[sym]; ok {
			return true
		}
	}
	return false
}
