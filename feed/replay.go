package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/stocksim/market"
)

// Replay plays recorded prices back from CSV.
//
// Expected columns:
// time,symbol,price
// A header row is allowed. Rows sharing a timestamp are applied as one batch;
// the gap between batches is slept, divided by Speed. Speed <= 0 replays as
// fast as the sink accepts.
type Replay struct {
	Path  string
	Speed float64
	Log   *zap.Logger
}

// ReadUpdates parses the whole CSV stream.
func ReadUpdates(r io.Reader) ([]market.Update, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var (
		out  []market.Update
		line int
	)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "time") {
			continue
		}
		if len(row) != 3 {
			return nil, fmt.Errorf("line %d: expected time,symbol,price, got %d columns", line, len(row))
		}

		at, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(row[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: time: %w", line, err)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(row[2]))
		if err != nil {
			return nil, fmt.Errorf("line %d: price: %w", line, err)
		}
		out = append(out, market.Update{Symbol: strings.TrimSpace(row[1]), Price: price, Time: at.UTC()})
	}
}

// batches groups consecutive updates with the same timestamp.
func batches(updates []market.Update) [][]market.Update {
	var out [][]market.Update
	for i := 0; i < len(updates); {
		j := i + 1
		for j < len(updates) && updates[j].Time.Equal(updates[i].Time) {
			j++
		}
		out = append(out, updates[i:j])
		i = j
	}
	return out
}

func (r *Replay) Run(ctx context.Context, sink Sink) error {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	f, err := os.Open(r.Path)
	if err != nil {
		return err
	}
	updates, err := ReadUpdates(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("replay %s: %w", r.Path, err)
	}

	log.Info("replay started", zap.String("path", r.Path), zap.Int("updates", len(updates)))
	var prev time.Time
	applied := 0
	for _, b := range batches(updates) {
		if r.Speed > 0 && !prev.IsZero() {
			gap := time.Duration(float64(b[0].Time.Sub(prev)) / r.Speed)
			if gap > 0 {
				timer := time.NewTimer(gap)
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil
				case <-timer.C:
				}
			}
		}
		prev = b[0].Time
		if ctx.Err() != nil {
			return nil
		}
		n, err := sink.Apply(ctx, b)
		if err != nil {
			return fmt.Errorf("replay %s at %s: %w", r.Path, b[0].Time.Format(time.RFC3339), err)
		}
		applied += n
	}
	log.Info("replay finished", zap.Int("changed", applied))
	return nil
}
