// Package ledger holds account state and the arithmetic applied to it by
// trades and cash movements. Everything here is pure: functions take an
// Account value and return the next one, leaving persistence to the caller.
package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultBalance is the opening cash of a new account.
var DefaultBalance = decimal.NewFromInt(10000)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide accepts "buy"/"BUY"/" Sell " and friends.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", Invalid("unknown side %q", s)
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

// Holding is a position in one instrument. Quantity is always > 0 while the
// holding is present in an account.
type Holding struct {
	Symbol      string          `json:"symbol"`
	Quantity    int64           `json:"quantity"`
	AverageCost decimal.Decimal `json:"average_cost"`
}

// CostBasis is quantity * average cost.
func (h Holding) CostBasis() decimal.Decimal {
	return h.AverageCost.Mul(decimal.NewFromInt(h.Quantity))
}

type Account struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Balance   decimal.Decimal    `json:"balance"`
	Holdings  map[string]Holding `json:"holdings"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func NewAccount(id, name string, balance decimal.Decimal, at time.Time) Account {
	return Account{
		ID:        id,
		Name:      name,
		Balance:   balance,
		Holdings:  make(map[string]Holding),
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// Clone returns a deep copy so callers can mutate holdings freely.
func (a Account) Clone() Account {
	c := a
	c.Holdings = make(map[string]Holding, len(a.Holdings))
	for k, v := range a.Holdings {
		c.Holdings[k] = v
	}
	return c
}

func (a Account) Holding(symbol string) (Holding, bool) {
	h, ok := a.Holdings[symbol]
	return h, ok
}

// SortedHoldings returns holdings ordered by symbol.
func (a Account) SortedHoldings() []Holding {
	out := make([]Holding, 0, len(a.Holdings))
	for _, h := range a.Holdings {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// CostBasis sums the cost basis of every holding.
func (a Account) CostBasis() decimal.Decimal {
	total := decimal.Zero
	for _, h := range a.Holdings {
		total = total.Add(h.CostBasis())
	}
	return total
}

// Check verifies the account invariants: non-negative balance and only
// strictly positive holdings keyed by their own symbol.
func (a Account) Check() error {
	if a.Balance.IsNegative() {
		return fmt.Errorf("account %s: negative balance %s", a.ID, a.Balance)
	}
	for sym, h := range a.Holdings {
		if h.Symbol != sym {
			return fmt.Errorf("account %s: holding keyed %s has symbol %s", a.ID, sym, h.Symbol)
		}
		if h.Quantity <= 0 {
			return fmt.Errorf("account %s: holding %s has quantity %d", a.ID, sym, h.Quantity)
		}
		if h.AverageCost.IsNegative() {
			return fmt.Errorf("account %s: holding %s has negative average cost", a.ID, sym)
		}
	}
	return nil
}
