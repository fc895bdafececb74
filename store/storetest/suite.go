package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/stocksim/journal"
	"github.com/rustyeddy/stocksim/ledger"
	"github.com/rustyeddy/stocksim/market"
	"github.com/rustyeddy/stocksim/store"
)

// Opener returns an empty store; it registers its own cleanup.
type Opener func(t *testing.T) store.Store

var base = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Run exercises the behaviour every Store must share.
func Run(t *testing.T, open Opener) {
	t.Run("AccountRoundTrip", func(t *testing.T) { testAccountRoundTrip(t, open(t)) })
	t.Run("DuplicateAccount", func(t *testing.T) { testDuplicateAccount(t, open(t)) })
	t.Run("MissingAccount", func(t *testing.T) { testMissingAccount(t, open(t)) })
	t.Run("SaveReplacesHoldings", func(t *testing.T) { testSaveReplacesHoldings(t, open(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("TransactionsNewestFirst", func(t *testing.T) { testTransactionsNewestFirst(t, open(t)) })
	t.Run("Instruments", func(t *testing.T) { testInstruments(t, open(t)) })
	t.Run("CreateInstrument", func(t *testing.T) { testCreateInstrument(t, open(t)) })
	t.Run("DeleteHeldInstrument", func(t *testing.T) { testDeleteHeldInstrument(t, open(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, open(t)) })
}

func create(t *testing.T, s store.Store, a ledger.Account) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateAccount(context.Background(), a)
	}))
}

func testAccountRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := ledger.NewAccount("acct-1", "alice", d("10000"), base)
	a.Holdings["AAPL"] = ledger.Holding{Symbol: "AAPL", Quantity: 10, AverageCost: d("150.25")}
	create(t, s, a)

	got, err := s.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Name)
	assert.True(t, got.Balance.Equal(d("10000")), "balance %s", got.Balance)
	require.Len(t, got.Holdings, 1)
	h := got.Holdings["AAPL"]
	assert.Equal(t, int64(10), h.Quantity)
	assert.True(t, h.AverageCost.Equal(d("150.25")), "avg %s", h.AverageCost)
	assert.True(t, got.CreatedAt.Equal(base))

	all, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testDuplicateAccount(t *testing.T, s store.Store) {
	a := ledger.NewAccount("acct-1", "alice", d("10000"), base)
	create(t, s, a)
	err := s.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateAccount(context.Background(), a)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrConflict), "got %v", err)
}

func testMissingAccount(t *testing.T, s store.Store) {
	_, err := s.GetAccount(context.Background(), "nope")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	err = s.WithTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.GetAccount(context.Background(), "nope")
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testSaveReplacesHoldings(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := ledger.NewAccount("acct-1", "alice", d("10000"), base)
	a.Holdings["AAPL"] = ledger.Holding{Symbol: "AAPL", Quantity: 10, AverageCost: d("100")}
	a.Holdings["MSFT"] = ledger.Holding{Symbol: "MSFT", Quantity: 5, AverageCost: d("300")}
	create(t, s, a)

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		cur, err := tx.GetAccount(ctx, "acct-1")
		if err != nil {
			return err
		}
		delete(cur.Holdings, "AAPL")
		cur.Holdings["MSFT"] = ledger.Holding{Symbol: "MSFT", Quantity: 7, AverageCost: d("310.5")}
		cur.Balance = d("8765.43")
		cur.UpdatedAt = base.Add(time.Minute)
		return tx.SaveAccount(ctx, cur)
	}))

	got, err := s.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(d("8765.43")))
	require.Len(t, got.Holdings, 1)
	assert.Equal(t, int64(7), got.Holdings["MSFT"].Quantity)
	assert.True(t, got.Holdings["MSFT"].AverageCost.Equal(d("310.5")))
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	create(t, s, ledger.NewAccount("acct-1", "alice", d("10000"), base))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx store.Tx) error {
		cur, err := tx.GetAccount(ctx, "acct-1")
		if err != nil {
			return err
		}
		cur.Balance = d("1")
		if err := tx.SaveAccount(ctx, cur); err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, journal.Transaction{
			ID: "tx-1", AccountID: "acct-1", Symbol: "AAPL", Side: ledger.Buy,
			Quantity: 1, Price: d("1"), TotalAmount: d("1"), CreatedAt: base,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(d("10000")))
	txs, err := s.ListTransactions(ctx, "acct-1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func testTransactionsNewestFirst(t *testing.T, s store.Store) {
	ctx := context.Background()
	create(t, s, ledger.NewAccount("acct-1", "alice", d("10000"), base))
	create(t, s, ledger.NewAccount("acct-2", "bob", d("10000"), base))

	for i := 0; i < 25; i++ {
		tr := journal.Transaction{
			ID:          fmt.Sprintf("tx-%02d", i),
			AccountID:   "acct-1",
			Symbol:      "AAPL",
			Side:        ledger.Buy,
			Quantity:    int64(i + 1),
			Price:       d("10.5"),
			TotalAmount: d("10.5").Mul(decimal.NewFromInt(int64(i + 1))),
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.AppendTransaction(ctx, tr) }))
	}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.AppendTransaction(ctx, journal.Transaction{
			ID: "other", AccountID: "acct-2", Symbol: "MSFT", Side: ledger.Sell,
			Quantity: 1, Price: d("1"), TotalAmount: d("1"), CreatedAt: base,
		})
	}))

	page, err := s.ListTransactions(ctx, "acct-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, page, journal.DefaultLimit)
	assert.Equal(t, "tx-24", page[0].ID)
	assert.Equal(t, "tx-05", page[19].ID)
	for i := 1; i < len(page); i++ {
		assert.False(t, page[i].CreatedAt.After(page[i-1].CreatedAt))
	}

	rest, err := s.ListTransactions(ctx, "acct-1", 10, 20)
	require.NoError(t, err)
	require.Len(t, rest, 5)
	assert.Equal(t, "tx-04", rest[0].ID)
	assert.Equal(t, "tx-00", rest[4].ID)

	_, err = s.ListTransactions(ctx, "acct-1", 10, -1)
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	none, err := s.ListTransactions(ctx, "missing", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	got, err := s.GetTransaction(ctx, "tx-03")
	require.NoError(t, err)
	assert.Equal(t, ledger.Buy, got.Side)
	assert.Equal(t, int64(4), got.Quantity)
	assert.True(t, got.TotalAmount.Equal(d("42")))
	assert.True(t, got.CreatedAt.Equal(base.Add(3*time.Second)))

	_, err = s.GetTransaction(ctx, "nope")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testInstruments(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		for _, in := range []market.Instrument{
			{Symbol: "AAPL", Name: "Apple Inc.", Sector: "Technology", Price: d("150"), LastUpdated: base},
			{Symbol: "AMZN", Name: "Amazon.com", Sector: "Consumer", Price: d("120"), LastUpdated: base},
			{Symbol: "MSFT", Name: "Microsoft", Sector: "Technology", Price: d("300"), LastUpdated: base},
		} {
			if err := tx.UpsertInstrument(ctx, in); err != nil {
				return err
			}
		}
		return nil
	}))

	for i, p := range []string{"151", "152.5"} {
		at := base.Add(time.Duration(i+1) * time.Minute)
		require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.UpdatePrice(ctx, "AAPL", d(p), at) }))
	}

	got, err := s.GetInstrument(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(d("152.5")))
	assert.True(t, got.LastUpdated.Equal(base.Add(2*time.Minute)))

	hist, err := s.PriceHistory(ctx, "AAPL", 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.True(t, hist[0].Price.Equal(d("152.5")))

	hist, err = s.PriceHistory(ctx, "AAPL", 1)
	require.NoError(t, err)
	assert.Len(t, hist, 1)

	err = s.WithTx(ctx, func(tx store.Tx) error { return tx.UpdatePrice(ctx, "NOPE", d("1"), base) })
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	list, err := s.ListInstruments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "AAPL", list[0].Symbol)

	found, err := s.SearchInstruments(ctx, "a", 2)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = s.SearchInstruments(ctx, "micro", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "MSFT", found[0].Symbol)

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.DeleteInstrument(ctx, "AMZN") }))
	_, err = s.GetInstrument(ctx, "AMZN")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	err = s.WithTx(ctx, func(tx store.Tx) error { return tx.DeleteInstrument(ctx, "AMZN") })
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testCreateInstrument(t *testing.T, s store.Store) {
	ctx := context.Background()
	apple := market.Instrument{Symbol: "AAPL", Name: "Apple Inc.", Price: d("150"), LastUpdated: base}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.CreateInstrument(ctx, apple) }))

	other := apple
	other.Name = "Impostor"
	err := s.WithTx(ctx, func(tx store.Tx) error { return tx.CreateInstrument(ctx, other) })
	assert.ErrorIs(t, err, ledger.ErrConflict)

	err = s.WithTx(ctx, func(tx store.Tx) error {
		msft := market.Instrument{Symbol: "MSFT", Name: "Microsoft", Price: d("300"), LastUpdated: base}
		if err := tx.CreateInstrument(ctx, msft); err != nil {
			return err
		}
		return tx.CreateInstrument(ctx, msft)
	})
	assert.ErrorIs(t, err, ledger.ErrConflict)
	_, err = s.GetInstrument(ctx, "MSFT")
	assert.ErrorIs(t, err, ledger.ErrNotFound, "failed tx leaves nothing behind")

	got, err := s.GetInstrument(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc.", got.Name)

	// Racing creates of one symbol: exactly one wins.
	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		won       []string
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := market.Instrument{Symbol: "TSLA", Name: fmt.Sprintf("Tesla %d", i), Price: d("250"), LastUpdated: base}
			err := s.WithTx(ctx, func(tx store.Tx) error { return tx.CreateInstrument(ctx, in) })
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won = append(won, in.Name)
			case errors.Is(err, ledger.ErrConflict):
				conflicts++
			default:
				t.Errorf("create %s: %v", in.Name, err)
			}
		}(i)
	}
	wg.Wait()
	require.Len(t, won, 1)
	assert.Equal(t, n-1, conflicts)

	got, err = s.GetInstrument(ctx, "TSLA")
	require.NoError(t, err)
	assert.Equal(t, won[0], got.Name)
}

func testDeleteHeldInstrument(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpsertInstrument(ctx, market.Instrument{Symbol: "AAPL", Name: "Apple", Price: d("150"), LastUpdated: base})
	}))
	a := ledger.NewAccount("acct-1", "alice", d("10000"), base)
	a.Holdings["AAPL"] = ledger.Holding{Symbol: "AAPL", Quantity: 1, AverageCost: d("150")}
	create(t, s, a)

	err := s.WithTx(ctx, func(tx store.Tx) error { return tx.DeleteInstrument(ctx, "AAPL") })
	assert.ErrorIs(t, err, ledger.ErrConflict)

	_, err = s.GetInstrument(ctx, "AAPL")
	assert.NoError(t, err)
}

func testStats(t *testing.T, s store.Store) {
	ctx := context.Background()
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Accounts)
	assert.True(t, st.Volume.IsZero())

	create(t, s, ledger.NewAccount("acct-1", "alice", d("10000"), base))
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		for i, amt := range []string{"100.5", "200.25"} {
			if err := tx.AppendTransaction(ctx, journal.Transaction{
				ID: fmt.Sprintf("tx-%d", i), AccountID: "acct-1", Symbol: "AAPL", Side: ledger.Buy,
				Quantity: 1, Price: d(amt), TotalAmount: d(amt), CreatedAt: base,
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Accounts)
	assert.Equal(t, 2, st.Trades)
	assert.True(t, st.Volume.Equal(d("300.75")), "volume %s", st.Volume)
}
