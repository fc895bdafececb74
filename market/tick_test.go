package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBoardQuoteUnknownSymbol(t *testing.T) {
	b := NewBoard()
	_, err := b.Quote(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ErrNoInstrument)
}

func TestBoardSetPriceKeepsLastKnownUntilUpdated(t *testing.T) {
	t0 := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	b := NewBoard()
	b.Load([]Instrument{{Symbol: "AAPL", Name: "Apple", Price: d("150"), LastUpdated: t0}})

	in, err := b.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, in.Price.Equal(d("150")))

	changed, known := b.SetPrice("AAPL", d("150"), t0.Add(time.Second))
	assert.True(t, known)
	assert.False(t, changed)

	changed, known = b.SetPrice("AAPL", d("151.25"), t0.Add(2*time.Second))
	assert.True(t, known)
	assert.True(t, changed)

	in, _ = b.Get("AAPL")
	assert.True(t, in.Price.Equal(d("151.25")))
	assert.Equal(t, t0.Add(2*time.Second), in.LastUpdated)

	_, known = b.SetPrice("MSFT", d("1"), t0)
	assert.False(t, known)
	_, ok := b.Get("MSFT")
	assert.False(t, ok)
}

func TestBoardSnapshotSorted(t *testing.T) {
	b := NewBoard()
	b.Put(Instrument{Symbol: "TSLA", Name: "Tesla", Price: d("200")})
	b.Put(Instrument{Symbol: "AAPL", Name: "Apple", Price: d("150")})
	b.Put(Instrument{Symbol: "MSFT", Name: "Microsoft", Price: d("400")})
	b.Remove("TSLA")

	assert.Equal(t, []string{"AAPL", "MSFT"}, b.Symbols())
	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "AAPL", snap[0].Symbol)
}

func TestBoardConcurrentReadWrite(t *testing.T) {
	b := NewBoard()
	b.Put(Instrument{Symbol: "AAPL", Name: "Apple", Price: d("1")})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.SetPrice("AAPL", decimal.NewFromInt(int64(i*100+j+1)), time.Now())
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				in, err := b.Quote(context.Background(), "AAPL")
				if assert.NoError(t, err) {
					assert.True(t, in.Price.IsPositive())
				}
			}
		}()
	}
	wg.Wait()
}
