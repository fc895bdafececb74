package catalog

import (
	"context"

	"go.uber.org/zap"

	"github.com/rustyeddy/stocksim/ledger"
	"github.com/rustyeddy/stocksim/market"
	"github.com/rustyeddy/stocksim/store"
)

// Apply is the feed sink. Updates with a non-positive price, a malformed or
// unlisted symbol, or an unchanged price are dropped. The rest are persisted
// with a history point in one transaction, then published to the board and
// the broadcaster. It returns how many instruments changed.
func (c *Catalog) Apply(ctx context.Context, updates []market.Update) (int, error) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	now := c.now().UTC()
	var seen []string
	latest := make(map[string]market.Update, len(updates))

	for _, u := range updates {
		sym, err := market.NormalizeSymbol(u.Symbol)
		if err != nil || !u.Price.IsPositive() {
			c.log.Debug("feed update dropped", zap.String("symbol", u.Symbol), zap.Stringer("price", u.Price))
			continue
		}
		if _, ok := c.board.Get(sym); !ok {
			c.log.Debug("feed update for unlisted symbol", zap.String("symbol", sym))
			continue
		}
		if u.Time.IsZero() {
			u.Time = now
		}
		u.Symbol = sym
		if _, ok := latest[sym]; !ok {
			seen = append(seen, sym)
		}
		latest[sym] = u
	}

	// Only the last update per symbol counts.
	order := seen[:0]
	for _, sym := range seen {
		if cur, ok := c.board.Get(sym); ok && !cur.Price.Equal(latest[sym].Price) {
			order = append(order, sym)
		}
	}
	if len(order) == 0 {
		return 0, nil
	}

	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		for _, sym := range order {
			u := latest[sym]
			if err := tx.UpdatePrice(ctx, sym, u.Price, u.Time.UTC()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		err = ledger.Persistence(err)
		c.log.Warn("feed batch not persisted", zap.Int("updates", len(order)), zap.Error(err))
		return 0, err
	}

	changed := make([]market.Instrument, 0, len(order))
	for _, sym := range order {
		u := latest[sym]
		c.board.SetPrice(sym, u.Price, u.Time.UTC())
		if in, ok := c.board.Get(sym); ok {
			changed = append(changed, in)
		}
	}
	c.log.Debug("prices updated", zap.Int("changed", len(changed)))
	c.broadcast(changed)
	return len(changed), nil
}
