package fees

import (
	"errors"
	"testing"

	"github.com/ksred/klear-paper/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate(t *testing.T) {
	calc := NewCalculator(DefaultBaseRate, DefaultDiscount, DefaultDiscountAsset)

	tests := []struct {
		name      string
		in        Input
		wantAsset string
		wantRate  float64
		wantAmt   float64
		wantValue float64
	}{
		{
			name:      "quote asset",
			in:        Input{Symbol: "BTC", QuoteAsset: "USDT", Price: 50000, Quantity: 0.1},
			wantAsset: "USDT",
			wantRate:  0.001,
			wantAmt:   5,
			wantValue: 5,
		},
		{
			name:      "discount asset",
			in:        Input{Symbol: "BTC", QuoteAsset: "USDT", Price: 50000, Quantity: 0.1, FeePaymentAsset: "bnb", DiscountAssetPrice: 250},
			wantAsset: "BNB",
			wantRate:  0.00075,
			wantAmt:   0.015,
			wantValue: 3.75,
		},
		{
			name:      "other asset falls back to quote",
			in:        Input{Symbol: "ETH", QuoteAsset: "USD", Price: 3000, Quantity: 2, FeePaymentAsset: "ETH"},
			wantAsset: "USD",
			wantRate:  0.001,
			wantAmt:   6,
			wantValue: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee, err := calc.Calculate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAsset, fee.Asset)
			assert.InDelta(t, tt.wantRate, fee.Rate, 1e-12)
			assert.InDelta(t, tt.wantAmt, fee.Amount, 1e-9)
			assert.InDelta(t, tt.wantValue, fee.Value, 1e-9)
		})
	}
}

func TestCalculateDiscountAssetWithoutPrice(t *testing.T) {
	calc := NewCalculator(DefaultBaseRate, DefaultDiscount, DefaultDiscountAsset)

	_, err := calc.Calculate(Input{Symbol: "BTC", QuoteAsset: "USDT", Price: 1, Quantity: 1, FeePaymentAsset: "BNB"})
	assert.True(t, errors.Is(err, types.ErrUnknownSymbol))
}

func TestDiscountNeverIncreasesFee(t *testing.T) {
	calc := NewCalculator(DefaultBaseRate, DefaultDiscount, DefaultDiscountAsset)

	for _, price := range []float64{0.08, 1, 300, 50000, 123456.78} {
		for _, qty := range []float64{0.001, 0.5, 3, 1000} {
			base, err := calc.Calculate(Input{QuoteAsset: "USDT", Price: price, Quantity: qty})
			require.NoError(t, err)
			discounted, err := calc.Calculate(Input{QuoteAsset: "USDT", Price: price, Quantity: qty, FeePaymentAsset: "BNB", DiscountAssetPrice: 300})
			require.NoError(t, err)
			assert.LessOrEqual(t, discounted.Value, base.Value)
		}
	}
}
