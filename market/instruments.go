// market/instruments.go
package market

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is a tradable symbol with its latest known price.
type Instrument struct {
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name"`
	Sector      string          `json:"sector,omitempty"`
	Price       decimal.Decimal `json:"price"`
	LastUpdated time.Time       `json:"last_updated"`
}

// PricePoint is one entry of an instrument's price history.
type PricePoint struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Update is a single price observation from a feed adapter.
type Update struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Time   time.Time       `json:"timestamp"`
}

var symbolRE = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,15}$`)

// NormalizeSymbol upper-cases and trims s and checks it looks like a ticker
// ("AAPL", "BRK.B", "BTC-USD").
func NormalizeSymbol(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if !symbolRE.MatchString(sym) {
		return "", fmt.Errorf("malformed symbol %q", s)
	}
	return sym, nil
}

// Validate checks an instrument before it is written to the catalog.
func (i Instrument) Validate() error {
	if _, err := NormalizeSymbol(i.Symbol); err != nil {
		return err
	}
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("instrument %s: name is required", i.Symbol)
	}
	if !i.Price.IsPositive() {
		return fmt.Errorf("instrument %s: price must be positive", i.Symbol)
	}
	return nil
}
