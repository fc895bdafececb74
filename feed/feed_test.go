package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/stocksim/market"
)

type recordSink struct {
	mu      sync.Mutex
	batches [][]market.Update
}

func (s *recordSink) Apply(_ context.Context, u []market.Update) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]market.Update(nil), u...))
	return len(u), nil
}

type symbols []string

func (s symbols) Symbols() []string { return s }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDecodeTicks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    []market.Update
		wantErr bool
	}{
		{
			name:    "array with rfc3339",
			payload: `[{"symbol":"AAPL","price":150.25,"timestamp":"2024-01-02T15:04:05Z"},{"symbol":"MSFT","price":"300"}]`,
			want: []market.Update{
				{Symbol: "AAPL", Price: d("150.25"), Time: time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)},
				{Symbol: "MSFT", Price: d("300")},
			},
		},
		{
			name:    "market engine object",
			payload: `{"ticker":"RELIANCE.NS","name":"Reliance","price":2890.5,"timestamp":"2024-01-02 09:15:00"}`,
			want: []market.Update{
				{Symbol: "RELIANCE.NS", Price: d("2890.5"), Time: time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC)},
			},
		},
		{
			name:    "unix millis",
			payload: `{"symbol":"TSLA","price":1,"timestamp":1704207845000}`,
			want: []market.Update{
				{Symbol: "TSLA", Price: d("1"), Time: time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)},
			},
		},
		{name: "missing symbol", payload: `{"price":1}`, wantErr: true},
		{name: "bad time", payload: `{"symbol":"A","price":1,"timestamp":"yesterday"}`, wantErr: true},
		{name: "not json", payload: `hello`, wantErr: true},
		{name: "empty", payload: ` `, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeTicks([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for i := range got {
				assert.Equal(t, tt.want[i].Symbol, got[i].Symbol)
				assert.True(t, tt.want[i].Price.Equal(got[i].Price), "price %s", got[i].Price)
				assert.True(t, tt.want[i].Time.Equal(got[i].Time), "time %s", got[i].Time)
			}
		})
	}
}

func TestFinnhubPoll(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Finnhub-Token"))
		assert.Empty(t, r.URL.Query().Get("token"))
		switch r.URL.Query().Get("symbol") {
		case "AAPL":
			w.Write([]byte(`{"c":189.95,"d":1.2,"dp":0.6,"h":190,"l":188,"o":188.5,"pc":188.75,"t":1704207845}`))
		case "MSFT":
			w.WriteHeader(http.StatusTooManyRequests)
		case "DEAD":
			w.Write([]byte(`{"c":0,"t":0}`))
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	f := NewFinnhub(FinnhubConfig{
		BaseURL:           srv.URL,
		APIKey:            "secret",
		RequestsPerMinute: 60000,
	}, symbols{"AAPL", "MSFT", "DEAD", "OOPS"}, nil)

	sink := &recordSink{}
	n, err := f.Poll(context.Background(), sink)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(4), calls.Load(), "a 429 does not end the round")

	require.Len(t, sink.batches, 1)
	require.Len(t, sink.batches[0], 1)
	u := sink.batches[0][0]
	assert.Equal(t, "AAPL", u.Symbol)
	assert.True(t, u.Price.Equal(d("189.95")))
	assert.True(t, u.Time.Equal(time.Unix(1704207845, 0)))
}

func TestFinnhubQuoteRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := NewFinnhub(FinnhubConfig{BaseURL: srv.URL}, symbols{}, nil)
	_, err := f.Quote(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestFinnhubQuoteErrorHidesKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	f := NewFinnhub(FinnhubConfig{BaseURL: base, APIKey: "SECRET-KEY", Timeout: time.Second}, symbols{}, nil)
	_, err := f.Quote(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quote AAPL")
	assert.NotContains(t, err.Error(), "SECRET-KEY")
}

func TestFinnhubRunStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"c":10}`))
	}))
	defer srv.Close()

	f := NewFinnhub(FinnhubConfig{BaseURL: srv.URL, Interval: 10 * time.Millisecond, RequestsPerMinute: 60000},
		symbols{"AAPL"}, nil)
	sink := &recordSink{}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, f.Run(ctx, sink))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.GreaterOrEqual(t, len(sink.batches), 2)
}

func TestReadUpdates(t *testing.T) {
	t.Parallel()

	in := `time,symbol,price
2024-01-02T15:00:00Z,AAPL,150
2024-01-02T15:00:00Z,MSFT,300.5

2024-01-02T15:00:05Z,AAPL,151
`
	got, err := ReadUpdates(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "MSFT", got[1].Symbol)
	assert.True(t, got[1].Price.Equal(d("300.5")))

	b := batches(got)
	require.Len(t, b, 2)
	assert.Len(t, b[0], 2)
	assert.Len(t, b[1], 1)

	_, err = ReadUpdates(strings.NewReader("2024-01-02T15:00:00Z,AAPL\n"))
	assert.Error(t, err)
	_, err = ReadUpdates(strings.NewReader("yesterday,AAPL,1\n"))
	assert.Error(t, err)
	_, err = ReadUpdates(strings.NewReader("2024-01-02T15:00:00Z,AAPL,abc\n"))
	assert.Error(t, err)
}

func TestReplayRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.csv")
	require.NoError(t, os.WriteFile(path, []byte(`time,symbol,price
2024-01-02T15:00:00Z,AAPL,150
2024-01-02T15:00:01Z,AAPL,151
2024-01-02T15:00:01Z,MSFT,301
`), 0o644))

	sink := &recordSink{}
	r := &Replay{Path: path, Speed: 1000}
	require.NoError(t, r.Run(context.Background(), sink))

	require.Len(t, sink.batches, 2)
	assert.Len(t, sink.batches[1], 2)

	missing := &Replay{Path: filepath.Join(t.TempDir(), "nope.csv")}
	assert.Error(t, missing.Run(context.Background(), sink))
}
