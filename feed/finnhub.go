package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rustyeddy/stocksim/market"
)

const (
	// FinnhubURL is the public REST endpoint.
	FinnhubURL = "https://finnhub.io/api/v1"

	DefaultPollInterval      = 15 * time.Second
	DefaultRequestsPerMinute = 55
)

const finnhubTokenHeader = "X-Finnhub-Token"

// ErrRateLimited is returned when the upstream answers 429.
var ErrRateLimited = errors.New("finnhub: rate limited")

type FinnhubConfig struct {
	BaseURL           string
	APIKey            string
	Interval          time.Duration
	RequestsPerMinute int
	Timeout           time.Duration
}

// Finnhub polls /quote for every listed symbol once per interval. Requests
// are paced to stay inside the free-tier quota.
type Finnhub struct {
	baseURL    string
	token      string
	interval   time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	symbols    SymbolLister
	log        *zap.Logger
	now        func() time.Time
}

func NewFinnhub(cfg FinnhubConfig, symbols SymbolLister, log *zap.Logger) *Finnhub {
	if cfg.BaseURL == "" {
		cfg.BaseURL = FinnhubURL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Finnhub{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.APIKey,
		interval:   cfg.Interval,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		symbols:    symbols,
		log:        log,
		now:        time.Now,
	}
}

// quoteResponse is the subset of /quote we use: c is the current price and
// t the unix time of the last trade.
type quoteResponse struct {
	C decimal.Decimal `json:"c"`
	T int64           `json:"t"`
}

// Quote fetches the current price of symbol.
func (f *Finnhub) Quote(ctx context.Context, symbol string) (market.Update, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return market.Update{}, err
	}
	// The key stays out of the URL: *url.Error quotes it.
	req.Header.Set(finnhubTokenHeader, f.token)
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return market.Update{}, fmt.Errorf("quote %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return market.Update{}, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return market.Update{}, fmt.Errorf("quote %s: status %d: %s", symbol, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var qr quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return market.Update{}, fmt.Errorf("quote %s: decode: %w", symbol, err)
	}
	at := f.now().UTC()
	if qr.T > 0 {
		at = time.Unix(qr.T, 0).UTC()
	}
	return market.Update{Symbol: symbol, Price: qr.C, Time: at}, nil
}

// Poll runs one round over all symbols and applies what it got. A 429 or a
// failed symbol is logged and the round continues.
func (f *Finnhub) Poll(ctx context.Context, sink Sink) (int, error) {
	var updates []market.Update
	for _, sym := range f.symbols.Symbols() {
		if err := f.limiter.Wait(ctx); err != nil {
			return 0, err
		}
		u, err := f.Quote(ctx, sym)
		switch {
		case errors.Is(err, ErrRateLimited):
			f.log.Warn("finnhub rate limit hit", zap.String("symbol", sym))
			continue
		case err != nil:
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			f.log.Warn("finnhub quote failed", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		if !u.Price.IsPositive() {
			f.log.Debug("finnhub returned no price", zap.String("symbol", sym))
			continue
		}
		updates = append(updates, u)
	}
	if len(updates) == 0 {
		return 0, nil
	}
	return sink.Apply(ctx, updates)
}

// Run polls immediately and then once per interval until ctx is done.
func (f *Finnhub) Run(ctx context.Context, sink Sink) error {
	f.log.Info("finnhub poller started", zap.Duration("interval", f.interval))
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		n, err := f.Poll(ctx, sink)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			f.log.Error("finnhub poll", zap.Error(err))
		} else {
			f.log.Debug("finnhub poll", zap.Int("changed", n))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
