package cmd

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/stocksim/market"
)

//go:embed instruments.yaml
var defaultListing []byte

type seedRow struct {
	Symbol string `yaml:"symbol"`
	Name   string `yaml:"name"`
	Sector string `yaml:"sector"`
	Price  string `yaml:"price"`
}

func (r seedRow) instrument() (market.Instrument, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(r.Price))
	if err != nil {
		return market.Instrument{}, fmt.Errorf("%s: price %q: %w", r.Symbol, r.Price, err)
	}
	return market.Instrument{
		Symbol: strings.TrimSpace(r.Symbol),
		Name:   strings.TrimSpace(r.Name),
		Sector: strings.TrimSpace(r.Sector),
		Price:  price,
	}, nil
}

func defaultInstruments() ([]market.Instrument, error) {
	return parseSeedYAML(defaultListing)
}

// readSeedFile loads instruments from a .csv (symbol,name,sector,price) or
// YAML list file.
func readSeedFile(path string) ([]market.Instrument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return parseSeedCSV(f)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return parseSeedYAML(data)
}

func parseSeedYAML(data []byte) ([]market.Instrument, error) {
	var rows []seedRow
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse instruments: %w", err)
	}
	out := make([]market.Instrument, 0, len(rows))
	for _, r := range rows {
		in, err := r.instrument()
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

func parseSeedCSV(r io.Reader) ([]market.Instrument, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 4
	cr.TrimLeadingSpace = true

	var out []market.Instrument
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && strings.EqualFold(rec[0], "symbol") {
			continue
		}
		in, err := seedRow{Symbol: rec[0], Name: rec[1], Sector: rec[2], Price: rec[3]}.instrument()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, in)
	}
}
