package catalog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/stocksim/ledger"
	"github.com/rustyeddy/stocksim/market"
	"github.com/rustyeddy/stocksim/store"
	"github.com/rustyeddy/stocksim/store/memory"
	"github.com/rustyeddy/stocksim/store/storetest"
)

var t0 = time.Date(2024, 5, 1, 13, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type sink struct {
	mu    sync.Mutex
	calls [][]market.Instrument
}

func (s *sink) PricesChanged(changed []market.Instrument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, changed)
}

func newCatalog(t *testing.T, s store.Store) (*Catalog, *market.Board, *sink) {
	t.Helper()
	board := market.NewBoard()
	c := New(s, board, WithClock(func() time.Time { return t0 }))
	bc := &sink{}
	c.SetBroadcaster(bc)

	_, err := c.Seed(context.Background(), []market.Instrument{
		{Symbol: "AAPL", Name: "Apple Inc.", Sector: "Technology", Price: d("150")},
		{Symbol: "MSFT", Name: "Microsoft", Sector: "Technology", Price: d("300")},
		{Symbol: "tsla", Name: "Tesla", Sector: "Automotive", Price: d("250")},
	})
	require.NoError(t, err)
	return c, board, bc
}

func TestSeedAndLoad(t *testing.T) {
	s := memory.New()
	c, board, _ := newCatalog(t, s)
	ctx := context.Background()

	assert.Equal(t, []string{"AAPL", "MSFT", "TSLA"}, board.Symbols())

	fresh := market.NewBoard()
	n, err := New(s, fresh).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	in, ok := fresh.Get("TSLA")
	require.True(t, ok)
	assert.True(t, in.LastUpdated.Equal(t0))

	_, err = c.Seed(ctx, []market.Instrument{{Symbol: "bad symbol", Name: "x", Price: d("1")}})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestAddUpdate(t *testing.T) {
	c, board, bc := newCatalog(t, memory.New())
	ctx := context.Background()

	in, err := c.Add(ctx, market.Instrument{Symbol: "nvda", Name: " Nvidia ", Price: d("900")})
	require.NoError(t, err)
	assert.Equal(t, "NVDA", in.Symbol)
	assert.Equal(t, "Nvidia", in.Name)
	_, ok := board.Get("NVDA")
	assert.True(t, ok)

	_, err = c.Add(ctx, market.Instrument{Symbol: "NVDA", Name: "Again", Price: d("1")})
	assert.ErrorIs(t, err, ledger.ErrConflict)

	_, err = c.Add(ctx, market.Instrument{Symbol: "AMD", Name: "AMD", Price: d("0")})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
	_, err = c.Add(ctx, market.Instrument{Symbol: "AMD", Price: d("10")})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = c.Update(ctx, market.Instrument{Symbol: "AMD", Name: "AMD", Price: d("10")})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = c.Update(ctx, market.Instrument{Symbol: "NVDA", Name: "NVIDIA Corp", Sector: "Semis", Price: d("950")})
	require.NoError(t, err)
	got, err := c.Get(ctx, "nvda")
	require.NoError(t, err)
	assert.Equal(t, "NVIDIA Corp", got.Name)
	assert.True(t, got.Price.Equal(d("950")))
	assert.Len(t, bc.calls, 1, "a price edit is broadcast")
}

func TestAddConcurrentSameSymbol(t *testing.T) {
	s := memory.New()
	c, _, _ := newCatalog(t, s)
	ctx := context.Background()

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winner    string
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("Nvidia %d", i)
			_, err := c.Add(ctx, market.Instrument{Symbol: "NVDA", Name: name, Price: d("900")})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				assert.Empty(t, winner, "two adds of NVDA succeeded")
				winner = name
				return
			}
			assert.ErrorIs(t, err, ledger.ErrConflict)
			conflicts++
		}(i)
	}
	wg.Wait()

	require.NotEmpty(t, winner)
	assert.Equal(t, n-1, conflicts)
	got, err := s.GetInstrument(ctx, "NVDA")
	require.NoError(t, err)
	assert.Equal(t, winner, got.Name)
}

func TestUpdatePrice(t *testing.T) {
	c, board, bc := newCatalog(t, memory.New())
	ctx := context.Background()

	in, err := c.UpdatePrice(ctx, "aapl", d("155.5"))
	require.NoError(t, err)
	assert.True(t, in.Price.Equal(d("155.5")))

	cur, _ := board.Get("AAPL")
	assert.True(t, cur.Price.Equal(d("155.5")))

	hist, err := c.History(ctx, "AAPL", 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.True(t, hist[0].Price.Equal(d("155.5")))
	require.Len(t, bc.calls, 1)

	_, err = c.UpdatePrice(ctx, "AAPL", d("-1"))
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
	_, err = c.UpdatePrice(ctx, "NOPE", d("1"))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = c.History(ctx, "NOPE", 10)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := memory.New()
	c, board, _ := newCatalog(t, s)
	ctx := context.Background()

	a := ledger.NewAccount("acct-1", "alice", d("100"), t0)
	a.Holdings["AAPL"] = ledger.Holding{Symbol: "AAPL", Quantity: 1, AverageCost: d("150")}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.CreateAccount(ctx, a) }))

	err := c.Delete(ctx, "AAPL")
	assert.ErrorIs(t, err, ledger.ErrConflict)
	_, ok := board.Get("AAPL")
	assert.True(t, ok, "held instrument stays listed")

	require.NoError(t, c.Delete(ctx, "msft"))
	_, ok = board.Get("MSFT")
	assert.False(t, ok)
	_, err = c.Get(ctx, "MSFT")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	assert.ErrorIs(t, c.Delete(ctx, "MSFT"), ledger.ErrNotFound)
}

func TestSearch(t *testing.T) {
	c, _, _ := newCatalog(t, memory.New())
	ctx := context.Background()

	got, err := c.Search(ctx, "tech", 5)
	require.NoError(t, err)
	assert.Empty(t, got, "sector is not searched")

	got, err = c.Search(ctx, "ms", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "MSFT", got[0].Symbol)

	got, err = c.Search(ctx, "  ", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	list, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestApply(t *testing.T) {
	c, board, bc := newCatalog(t, memory.New())
	ctx := context.Background()

	n, err := c.Apply(ctx, []market.Update{
		{Symbol: "AAPL", Price: d("151"), Time: t0.Add(time.Second)},
		{Symbol: "MSFT", Price: d("300")},               // unchanged
		{Symbol: "TSLA", Price: d("0")},                 // no price
		{Symbol: "GOOG", Price: d("170")},               // not listed
		{Symbol: "tsla", Price: d("-3")},                // negative
		{Symbol: "AAPL", Price: d("152"), Time: t0.Add(2 * time.Second)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cur, _ := board.Get("AAPL")
	assert.True(t, cur.Price.Equal(d("152")), "last update per symbol wins")
	assert.True(t, cur.LastUpdated.Equal(t0.Add(2*time.Second)))
	cur, _ = board.Get("TSLA")
	assert.True(t, cur.Price.Equal(d("250")), "dropped updates keep the last known price")

	hist, err := c.History(ctx, "AAPL", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.True(t, hist[0].Price.Equal(d("152")))

	require.Len(t, bc.calls, 1)
	require.Len(t, bc.calls[0], 1)
	assert.Equal(t, "AAPL", bc.calls[0][0].Symbol)

	n, err = c.Apply(ctx, []market.Update{{Symbol: "AAPL", Price: d("152")}})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, bc.calls, 1, "nothing changed, nothing broadcast")
}

func TestApplyPersistenceFailure(t *testing.T) {
	faulty := storetest.NewFaulty(memory.New())
	c, board, bc := newCatalog(t, faulty)
	ctx := context.Background()

	faulty.FailOn(storetest.OpUpdatePrice)
	_, err := c.Apply(ctx, []market.Update{{Symbol: "AAPL", Price: d("160")}})
	require.ErrorIs(t, err, ledger.ErrPersistence)

	cur, _ := board.Get("AAPL")
	assert.True(t, cur.Price.Equal(d("150")))
	assert.Empty(t, bc.calls)

	persisted, err := c.Get(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, persisted.Price.Equal(d("150")))
}
