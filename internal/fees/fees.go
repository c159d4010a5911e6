package fees

import (
	"fmt"
	"strings"

	"github.com/ksred/klear-paper/internal/types"
	"github.com/shopspring/decimal"
)

const (
	DefaultBaseRate      = 0.001
	DefaultDiscount      = 0.25
	DefaultDiscountAsset = "BNB"
)

// Calculator computes trading fees. It holds no state besides its rates.
type Calculator struct {
	BaseRate      float64
	Discount      float64
	DiscountAsset string
}

// NewCalculator creates a calculator with the given base rate and discount
func NewCalculator(baseRate, discount float64, discountAsset string) *Calculator {
	return &Calculator{
		BaseRate:      baseRate,
		Discount:      discount,
		DiscountAsset: strings.ToUpper(discountAsset),
	}
}

// Input describes one fee computation
type Input struct {
	Symbol          string
	QuoteAsset      string
	Price           float64
	Quantity        float64
	FeePaymentAsset string
	// USD price of the discount asset, required only when paying in it
	DiscountAssetPrice float64
}

// PaysInDiscountAsset reports whether the caller opted into the discount
func (c *Calculator) PaysInDiscountAsset(feePaymentAsset string) bool {
	return c.DiscountAsset != "" && strings.EqualFold(feePaymentAsset, c.DiscountAsset)
}

// EffectiveRate is baseRate*(1-discount) when paying in the discount asset
func (c *Calculator) EffectiveRate(feePaymentAsset string) float64 {
	if c.PaysInDiscountAsset(feePaymentAsset) {
		rate, _ := decimal.NewFromFloat(c.BaseRate).
			Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(c.Discount))).
			Float64()
		return rate
	}
	return c.BaseRate
}

// Calculate returns the fee for a fill. Fees paid in the discount asset are
// converted into units of that asset; otherwise they are charged in the quote asset.
func (c *Calculator) Calculate(in Input) (types.Fee, error) {
	rate := c.EffectiveRate(in.FeePaymentAsset)
	value := decimal.NewFromFloat(in.Price).
		Mul(decimal.NewFromFloat(in.Quantity)).
		Mul(decimal.NewFromFloat(rate))
	valueUSD, _ := value.Float64()

	if c.PaysInDiscountAsset(in.FeePaymentAsset) {
		if in.DiscountAssetPrice <= 0 {
			return types.Fee{}, fmt.Errorf("%w: no price for fee asset %s", types.ErrUnknownSymbol, c.DiscountAsset)
		}
		amount, _ := value.Div(decimal.NewFromFloat(in.DiscountAssetPrice)).Float64()
		return types.Fee{Amount: amount, Asset: c.DiscountAsset, Rate: rate, Value: valueUSD}, nil
	}

	return types.Fee{Amount: valueUSD, Asset: in.QuoteAsset, Rate: rate, Value: valueUSD}, nil
}
