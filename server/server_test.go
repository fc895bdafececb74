package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/stocksim/broker"
	"github.com/rustyeddy/stocksim/catalog"
	"github.com/rustyeddy/stocksim/feed"
	"github.com/rustyeddy/stocksim/journal"
	"github.com/rustyeddy/stocksim/ledger"
	"github.com/rustyeddy/stocksim/market"
	"github.com/rustyeddy/stocksim/sim"
	"github.com/rustyeddy/stocksim/store/memory"
	"github.com/rustyeddy/stocksim/store/storetest"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type harness struct {
	srv     *Server
	board   *market.Board
	hub     *Hub
	catalog *catalog.Catalog
	store   *storetest.Faulty
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := storetest.NewFaulty(memory.New())
	board := market.NewBoard()
	cat := catalog.New(s, board)
	_, err := cat.Seed(context.Background(), []market.Instrument{
		{Symbol: "AAPL", Name: "Apple Inc.", Sector: "Technology", Price: d("150")},
		{Symbol: "MSFT", Name: "Microsoft", Sector: "Technology", Price: d("300")},
	})
	require.NoError(t, err)

	hub := NewHub(nil)
	t.Cleanup(hub.Close)
	cat.SetBroadcaster(hub)
	eng := sim.NewEngine(s, board)
	eng.SetTradeListener(hub)

	return &harness{srv: New(eng, cat, hub, nil, "*"), board: board, hub: hub, catalog: cat, store: s}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.srv.R.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (h *harness) open(t *testing.T, id, balance string) {
	t.Helper()
	w := h.do(t, http.MethodPost, "/api/accounts", map[string]any{"id": id, "name": id, "balance": balance})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
}

func TestOpenAccount(t *testing.T) {
	h := newHarness(t)
	h.open(t, "alice", "10000")

	w := h.do(t, http.MethodGet, "/api/accounts/alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	v := decode[broker.AccountView](t, w)
	assert.Equal(t, "alice", v.ID)
	assert.True(t, d("10000").Equal(v.Balance))
	assert.Empty(t, v.Holdings)

	w = h.do(t, http.MethodPost, "/api/accounts", map[string]any{"id": "alice", "name": "again"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", decode[apiError](t, w).Code)

	w = h.do(t, http.MethodPost, "/api/accounts", map[string]any{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodGet, "/api/accounts/nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[apiError](t, w).Code)
}

func TestTradeFlow(t *testing.T) {
	h := newHarness(t)
	h.open(t, "alice", "10000")

	w := h.do(t, http.MethodPost, "/api/accounts/alice/trades", map[string]any{"symbol": "aapl", "quantity": 10, "side": "buy"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tx := decode[journal.Transaction](t, w)
	assert.Equal(t, "AAPL", tx.Symbol)
	assert.True(t, d("1500").Equal(tx.TotalAmount))

	w = h.do(t, http.MethodGet, "/api/accounts/alice", nil)
	v := decode[broker.AccountView](t, w)
	assert.True(t, d("8500").Equal(v.Balance))
	require.Len(t, v.Holdings, 1)
	assert.True(t, d("10000").Equal(v.TotalValue))

	w = h.do(t, http.MethodPost, "/api/accounts/alice/trades", map[string]any{"symbol": "AAPL", "quantity": 11, "side": "SELL"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "insufficient_shares", decode[apiError](t, w).Code)

	w = h.do(t, http.MethodPost, "/api/accounts/alice/trades", map[string]any{"symbol": "MSFT", "quantity": 100, "side": "BUY"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "insufficient_funds", decode[apiError](t, w).Code)

	w = h.do(t, http.MethodPost, "/api/accounts/alice/trades", map[string]any{"symbol": "NOPE", "quantity": 1, "side": "BUY"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(t, http.MethodPost, "/api/accounts/alice/trades", map[string]any{"symbol": "AAPL", "quantity": 0, "side": "BUY"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodGet, "/api/accounts/alice/transactions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rows := decode[[]journal.Transaction](t, w)
	require.Len(t, rows, 1)
	assert.Equal(t, tx.ID, rows[0].ID)

	w = h.do(t, http.MethodGet, "/api/transactions/"+tx.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodGet, "/api/accounts/alice/transactions?offset=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = h.do(t, http.MethodGet, "/api/accounts/alice/transactions?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = h.do(t, http.MethodGet, "/api/accounts/nobody/transactions", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPersistenceFailure(t *testing.T) {
	h := newHarness(t)
	h.open(t, "alice", "10000")

	h.store.FailOn(storetest.OpAppendTransaction)
	w := h.do(t, http.MethodPost, "/api/accounts/alice/trades", map[string]any{"symbol": "AAPL", "quantity": 1, "side": "BUY"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	e := decode[apiError](t, w)
	assert.Equal(t, "persistence_failure", e.Code)
	assert.NotContains(t, e.Message, storetest.ErrInjected.Error())

	h.store.Reset()
	w = h.do(t, http.MethodGet, "/api/accounts/alice", nil)
	v := decode[broker.AccountView](t, w)
	assert.True(t, d("10000").Equal(v.Balance))
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		kind ledger.Kind
		want int
	}{
		{ledger.KindInvalidInput, http.StatusBadRequest},
		{ledger.KindNotFound, http.StatusNotFound},
		{ledger.KindConflict, http.StatusConflict},
		{ledger.KindInsufficientFunds, http.StatusUnprocessableEntity},
		{ledger.KindInsufficientShares, http.StatusUnprocessableEntity},
		{ledger.KindPersistence, http.StatusServiceUnavailable},
		{ledger.KindTimeout, http.StatusGatewayTimeout},
		{ledger.KindUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusOf(tt.kind), tt.kind.String())
	}
}

func TestFailOnCanceledWait(t *testing.T) {
	h := newHarness(t)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	err := fmt.Errorf("%w: execute: waiting for account alice: %w", ledger.ErrTimeout, context.DeadlineExceeded)
	h.srv.fail(c, "trade", err)

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	e := decode[apiError](t, w)
	assert.Equal(t, "timeout", e.Code)
	assert.NotContains(t, e.Message, "alice")
}

func TestAdminRefresh(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/admin/refresh", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "no quote source configured")

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "AAPL" {
			_, _ = w.Write([]byte(`{"c":0,"t":0}`))
			return
		}
		_, _ = w.Write([]byte(`{"c":155.25,"t":1704207600}`))
	}))
	defer upstream.Close()

	fh := feed.NewFinnhub(feed.FinnhubConfig{BaseURL: upstream.URL, APIKey: "k", RequestsPerMinute: 6000}, h.board, nil)
	h.srv.Refresh = func(ctx context.Context) (int, error) { return fh.Poll(ctx, h.catalog) }

	w = h.do(t, http.MethodPost, "/api/admin/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, decode[map[string]int](t, w)["changed"])

	in, err := h.catalog.Get(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, d("155.25").Equal(in.Price), in.Price.String())

	h.srv.Refresh = func(ctx context.Context) (int, error) { return 0, fmt.Errorf("poll: %w", context.Canceled) }
	w = h.do(t, http.MethodPost, "/api/admin/refresh", nil)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestDepositWithdraw(t *testing.T) {
	h := newHarness(t)
	h.open(t, "alice", "100")

	w := h.do(t, http.MethodPost, "/api/accounts/alice/deposit", map[string]any{"amount": "50.25"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, d("150.25").Equal(decode[broker.AccountView](t, w).Balance))

	w = h.do(t, http.MethodPost, "/api/accounts/alice/withdraw", map[string]any{"amount": "1000"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = h.do(t, http.MethodPost, "/api/accounts/alice/withdraw", map[string]any{"amount": "-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/api/accounts/alice/deposit", "not an object")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInstruments(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/api/instruments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]market.Instrument](t, w), 2)

	w = h.do(t, http.MethodGet, "/api/instruments/search?q=micro", nil)
	found := decode[[]market.Instrument](t, w)
	require.Len(t, found, 1)
	assert.Equal(t, "MSFT", found[0].Symbol)

	w = h.do(t, http.MethodGet, "/api/instruments/search?q=", nil)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = h.do(t, http.MethodPost, "/api/admin/instruments", market.Instrument{Symbol: "TSLA", Name: "Tesla", Price: d("250")})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = h.do(t, http.MethodPost, "/api/admin/instruments", market.Instrument{Symbol: "TSLA", Name: "Tesla", Price: d("250")})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(t, http.MethodPut, "/api/admin/instruments/tsla", market.Instrument{Name: "Tesla, Inc.", Sector: "Automotive", Price: d("250")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Tesla, Inc.", decode[market.Instrument](t, w).Name)

	w = h.do(t, http.MethodPut, "/api/admin/instruments/TSLA/price", map[string]any{"price": "260.5"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, d("260.5").Equal(decode[market.Instrument](t, w).Price))

	w = h.do(t, http.MethodGet, "/api/instruments/TSLA/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[[]market.PricePoint](t, w)
	require.NotEmpty(t, hist)
	assert.True(t, d("260.5").Equal(hist[0].Price))

	w = h.do(t, http.MethodPut, "/api/admin/instruments/TSLA/price", map[string]any{"price": "0"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodDelete, "/api/admin/instruments/TSLA", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = h.do(t, http.MethodGet, "/api/instruments/TSLA", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteHeldInstrument(t *testing.T) {
	h := newHarness(t)
	h.open(t, "alice", "10000")
	w := h.do(t, http.MethodPost, "/api/accounts/alice/trades", map[string]any{"symbol": "AAPL", "quantity": 1, "side": "BUY"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = h.do(t, http.MethodDelete, "/api/admin/instruments/AAPL", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStatsAndLeaderboard(t *testing.T) {
	h := newHarness(t)
	h.open(t, "alice", "10000")
	h.open(t, "bob", "20000")
	w := h.do(t, http.MethodPost, "/api/accounts/alice/trades", map[string]any{"symbol": "AAPL", "quantity": 2, "side": "BUY"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = h.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[journal.Stats](t, w)
	assert.Equal(t, 2, st.Accounts)
	assert.Equal(t, 1, st.Trades)
	assert.True(t, d("300").Equal(st.Volume))

	w = h.do(t, http.MethodGet, "/api/leaderboard?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rows := decode[[]broker.Standing](t, w)
	require.Len(t, rows, 1)
	assert.Equal(t, "bob", rows[0].AccountID)
	assert.Equal(t, 1, rows[0].Rank)
}

func TestCORS(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/instruments", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	h.srv.R.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebsocketEvents(t *testing.T) {
	h := newHarness(t)
	h.open(t, "alice", "10000")

	ts := httptest.NewServer(h.srv.R)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	read := func() Message {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var m struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&m))
		return Message{Type: m.Type, Data: m.Data}
	}

	_, err = h.catalog.UpdatePrice(context.Background(), "AAPL", d("155"))
	require.NoError(t, err)
	m := read()
	assert.Equal(t, TypePriceUpdate, m.Type)
	var changed []market.Instrument
	require.NoError(t, json.Unmarshal(m.Data.(json.RawMessage), &changed))
	require.Len(t, changed, 1)
	assert.True(t, d("155").Equal(changed[0].Price))

	w := h.do(t, http.MethodPost, "/api/accounts/alice/trades", map[string]any{"symbol": "AAPL", "quantity": 1, "side": "BUY"})
	require.Equal(t, http.StatusCreated, w.Code)
	m = read()
	assert.Equal(t, TypeTrade, m.Type)
	var tx journal.Transaction
	require.NoError(t, json.Unmarshal(m.Data.(json.RawMessage), &tx))
	assert.Equal(t, "alice", tx.AccountID)
}
