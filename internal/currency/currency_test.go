package currency

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert(t *testing.T) {
	c := NewConverter()

	tests := []struct {
		name     string
		amount   float64
		from, to string
		want     float64
	}{
		{"same currency", 100, "USD", "usd", 100},
		{"empty means USD", 100, "", "USD", 100},
		{"usd to krw", 10, "USD", "KRW", 13500},
		{"krw to usd", 13500, "KRW", "USD", 10},
		{"eur to krw", 92, "EUR", "KRW", 135000},
		{"usdt is pegged", 55, "USDT", "USD", 55},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Convert(tt.amount, tt.from, tt.to)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestConvertUnsupported(t *testing.T) {
	c := NewConverter()

	_, err := c.Convert(1, "USD", "XYZ")
	assert.True(t, errors.Is(err, ErrUnsupportedCurrency))
	assert.False(t, c.Supported("XYZ"))
	assert.True(t, c.Supported("krw"))
}

func TestConverterWithRates(t *testing.T) {
	c, err := NewConverterWithRates(map[string]float64{"chf": 0.9})
	require.NoError(t, err)

	got, err := c.ToUSD(90, "CHF")
	require.NoError(t, err)
	assert.InDelta(t, 100, got, 1e-9)
	assert.True(t, c.Supported("chf"))
	assert.False(t, c.Supported("EUR"))

	_, err = NewConverterWithRates(map[string]float64{"EUR": 0})
	assert.Error(t, err)
}
