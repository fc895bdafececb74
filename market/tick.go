package market

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoInstrument is returned by a PriceSource for an unknown symbol.
var ErrNoInstrument = errors.New("instrument not found")

// PriceSource is the read side of the price store used by the trade executor.
type PriceSource interface {
	Quote(ctx context.Context, symbol string) (Instrument, error)
}

// Board holds the latest known price per symbol. Feed adapters and catalog
// admin operations write to it; the executor only reads.
type Board struct {
	mu    sync.RWMutex
	instr map[string]Instrument
}

func NewBoard() *Board {
	return &Board{instr: make(map[string]Instrument)}
}

// Load replaces the board contents, typically from the persisted catalog.
func (b *Board) Load(list []Instrument) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instr = make(map[string]Instrument, len(list))
	for _, in := range list {
		b.instr[in.Symbol] = in
	}
}

// Put inserts or replaces an instrument.
func (b *Board) Put(in Instrument) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instr[in.Symbol] = in
}

// Remove drops a symbol from the board.
func (b *Board) Remove(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.instr, symbol)
}

// SetPrice records a new price for a known symbol. It reports whether the
// price differed from the previous one; unknown symbols are ignored.
func (b *Board) SetPrice(symbol string, price decimal.Decimal, at time.Time) (changed, known bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	in, ok := b.instr[symbol]
	if !ok {
		return false, false
	}
	changed = !in.Price.Equal(price)
	in.Price = price
	in.LastUpdated = at
	b.instr[symbol] = in
	return changed, true
}

func (b *Board) Get(symbol string) (Instrument, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	in, ok := b.instr[symbol]
	return in, ok
}

// Quote implements PriceSource.
func (b *Board) Quote(_ context.Context, symbol string) (Instrument, error) {
	in, ok := b.Get(symbol)
	if !ok {
		return Instrument{}, ErrNoInstrument
	}
	return in, nil
}

// Symbols returns all known symbols in sorted order.
func (b *Board) Symbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.instr))
	for s := range b.instr {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a copy of every instrument ordered by symbol.
func (b *Board) Snapshot() []Instrument {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Instrument, 0, len(b.instr))
	for _, in := range b.instr {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
