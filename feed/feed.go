// Package feed adapts external price sources to the catalog. Every adapter
// turns its wire format into market.Update batches and hands them to a Sink.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/stocksim/market"
)

// Sink consumes price updates. catalog.Catalog implements it.
type Sink interface {
	Apply(ctx context.Context, updates []market.Update) (int, error)
}

// Source runs until ctx is cancelled, feeding sink.
type Source interface {
	Run(ctx context.Context, sink Sink) error
}

// SymbolLister names the symbols a polling source should ask for.
type SymbolLister interface {
	Symbols() []string
}

// tick is the JSON shape published by upstream market engines. Either
// "symbol" or "ticker" names the instrument; the timestamp may be RFC 3339,
// "2006-01-02 15:04:05" or unix seconds/milliseconds.
type tick struct {
	Symbol    string          `json:"symbol"`
	Ticker    string          `json:"ticker"`
	Price     decimal.Decimal `json:"price"`
	Timestamp json.RawMessage `json:"timestamp"`
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		if s == "" {
			return time.Time{}, nil
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised timestamp %s", raw)
	}
	if n > 1e12 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}

// DecodeTicks parses a single tick object or an array of them.
func DecodeTicks(payload []byte) ([]market.Update, error) {
	payload = bytes.TrimSpace(payload)
	var ticks []tick
	switch {
	case len(payload) == 0:
		return nil, fmt.Errorf("empty payload")
	case payload[0] == '[':
		if err := json.Unmarshal(payload, &ticks); err != nil {
			return nil, err
		}
	default:
		var t tick
		if err := json.Unmarshal(payload, &t); err != nil {
			return nil, err
		}
		ticks = []tick{t}
	}

	out := make([]market.Update, 0, len(ticks))
	for _, t := range ticks {
		sym := t.Symbol
		if sym == "" {
			sym = t.Ticker
		}
		sym = strings.TrimSpace(sym)
		if sym == "" {
			return nil, fmt.Errorf("tick without symbol")
		}
		at, err := parseTimestamp(t.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("tick %s: %w", sym, err)
		}
		out = append(out, market.Update{Symbol: sym, Price: t.Price, Time: at})
	}
	return out, nil
}
