package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "aapl", want: "AAPL"},
		{in: "  msft ", want: "MSFT"},
		{in: "BRK.B", want: "BRK.B"},
		{in: "btc-usd", want: "BTC-USD"},
		{in: "", wantErr: true},
		{in: "-AAPL", wantErr: true},
		{in: "AA PL", wantErr: true},
		{in: "ABCDEFGHIJKLMNOPQ", wantErr: true},
		{in: "AAPL;DROP", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeSymbol(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInstrumentValidate(t *testing.T) {
	ok := Instrument{Symbol: "AAPL", Name: "Apple", Price: d("150")}
	assert.NoError(t, ok.Validate())

	noName := ok
	noName.Name = " "
	assert.Error(t, noName.Validate())

	zero := ok
	zero.Price = d("0")
	assert.Error(t, zero.Validate())

	bad := ok
	bad.Symbol = "a b"
	assert.Error(t, bad.Validate())
}
