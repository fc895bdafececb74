// Package broker is the caller-facing surface of the simulator: the request
// and view types shared by the HTTP API and the CLI, and the Broker interface
// they drive.
package broker

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/stocksim/journal"
	"github.com/rustyeddy/stocksim/ledger"
	"github.com/rustyeddy/stocksim/market"
)

type Broker interface {
	Execute(ctx context.Context, req TradeRequest) (journal.Transaction, error)
	GetAccount(ctx context.Context, id string) (AccountView, error)
	ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]journal.Transaction, error)
	OpenAccount(ctx context.Context, req OpenAccountRequest) (AccountView, error)
	Deposit(ctx context.Context, id string, amount decimal.Decimal) (AccountView, error)
	Withdraw(ctx context.Context, id string, amount decimal.Decimal) (AccountView, error)
}

// TradeRequest asks for a market order filled at the latest known price.
type TradeRequest struct {
	AccountID string      `json:"account_id"`
	Symbol    string      `json:"symbol"`
	Quantity  int64       `json:"quantity"`
	Side      ledger.Side `json:"side"`
}

// Normalize validates the request and returns it with the symbol upper-cased
// and the side canonical. All failures are ledger.ErrInvalidInput.
func (r TradeRequest) Normalize() (TradeRequest, error) {
	r.AccountID = strings.TrimSpace(r.AccountID)
	if r.AccountID == "" {
		return r, ledger.Invalid("account id is required")
	}
	sym, err := market.NormalizeSymbol(r.Symbol)
	if err != nil {
		return r, ledger.Invalid("%v", err)
	}
	r.Symbol = sym
	if r.Quantity <= 0 {
		return r, ledger.Invalid("quantity must be a positive integer, got %d", r.Quantity)
	}
	side, err := ledger.ParseSide(string(r.Side))
	if err != nil {
		return r, err
	}
	r.Side = side
	return r, nil
}

type OpenAccountRequest struct {
	// ID is generated when empty.
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	// Balance defaults to ledger.DefaultBalance when nil.
	Balance *decimal.Decimal `json:"balance,omitempty"`
}

func (r OpenAccountRequest) Normalize() (OpenAccountRequest, error) {
	r.ID = strings.TrimSpace(r.ID)
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return r, ledger.Invalid("account name is required")
	}
	if r.Balance != nil && r.Balance.IsNegative() {
		return r, ledger.Invalid("opening balance must not be negative")
	}
	return r, nil
}

// HoldingView is a holding joined with its instrument's current price.
type HoldingView struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	Quantity     int64           `json:"quantity"`
	AverageCost  decimal.Decimal `json:"average_cost"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	MarketValue  decimal.Decimal `json:"market_value"`
	UnrealizedPL decimal.Decimal `json:"unrealized_pl"`
}

type AccountView struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Balance       decimal.Decimal `json:"balance"`
	Holdings      []HoldingView   `json:"holdings"`
	HoldingsValue decimal.Decimal `json:"holdings_value"`
	TotalValue    decimal.Decimal `json:"total_value"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewAccountView joins acct with prices. Symbols missing from prices are
// valued at their average cost and named by their symbol.
func NewAccountView(acct ledger.Account, lookup func(symbol string) (market.Instrument, bool)) AccountView {
	v := AccountView{
		ID:            acct.ID,
		Name:          acct.Name,
		Balance:       acct.Balance,
		Holdings:      make([]HoldingView, 0, len(acct.Holdings)),
		HoldingsValue: decimal.Zero,
		CreatedAt:     acct.CreatedAt,
	}
	for _, h := range acct.SortedHoldings() {
		hv := HoldingView{
			Symbol:       h.Symbol,
			Name:         h.Symbol,
			Quantity:     h.Quantity,
			AverageCost:  h.AverageCost,
			CurrentPrice: h.AverageCost,
		}
		if in, ok := lookup(h.Symbol); ok {
			hv.Name = in.Name
			hv.CurrentPrice = in.Price
		}
		qty := decimal.NewFromInt(h.Quantity)
		hv.MarketValue = hv.CurrentPrice.Mul(qty)
		hv.UnrealizedPL = hv.MarketValue.Sub(h.CostBasis())
		v.HoldingsValue = v.HoldingsValue.Add(hv.MarketValue)
		v.Holdings = append(v.Holdings, hv)
	}
	v.TotalValue = v.Balance.Add(v.HoldingsValue)
	return v
}

// Standing is one leaderboard row.
type Standing struct {
	Rank       int             `json:"rank"`
	AccountID  string          `json:"account_id"`
	Name       string          `json:"name"`
	TotalValue decimal.Decimal `json:"total_value"`
}
