package currency

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Base is the currency all ledger math is denominated in
const Base = "USD"

var ErrUnsupportedCurrency = errors.New("unsupported currency")

// defaultRates are units of each currency per one USD
var defaultRates = map[string]string{
	"USD":  "1",
	"USDT": "1",
	"EUR":  "0.92",
	"GBP":  "0.79",
	"JPY":  "150",
	"KRW":  "1350",
}

// Converter converts display amounts between currencies using static rates.
// It never touches ledger balances.
type Converter struct {
	rates map[string]decimal.Decimal
}

// NewConverter builds a converter over the default rate table
func NewConverter() *Converter {
	rates := make(map[string]decimal.Decimal, len(defaultRates))
	for code, r := range defaultRates {
		rates[code] = decimal.RequireFromString(r)
	}
	return &Converter{rates: rates}
}

// NewConverterWithRates builds a converter from units-per-USD rates
func NewConverterWithRates(rates map[string]float64) (*Converter, error) {
	c := &Converter{rates: map[string]decimal.Decimal{Base: decimal.NewFromInt(1)}}
	for code, r := range rates {
		if r <= 0 {
			return nil, fmt.Errorf("rate for %s must be positive", code)
		}
		c.rates[strings.ToUpper(code)] = decimal.NewFromFloat(r)
	}
	return c, nil
}

// Normalize upper-cases a code and maps empty to USD
func Normalize(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Base
	}
	return code
}

// Supported reports whether a currency has a rate
func (c *Converter) Supported(code string) bool {
	_, ok := c.rates[Normalize(code)]
	return ok
}

// Convert converts amount from one display currency to another
func (c *Converter) Convert(amount float64, from, to string) (float64, error) {
	from, to = Normalize(from), Normalize(to)
	if from == to {
		return amount, nil
	}
	fromRate, ok := c.rates[from]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, from)
	}
	toRate, ok := c.rates[to]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, to)
	}

	out, _ := decimal.NewFromFloat(amount).Div(fromRate).Mul(toRate).Float64()
	return out, nil
}

// ToUSD converts an amount in the given currency into USD
func (c *Converter) ToUSD(amount float64, from string) (float64, error) {
	return c.Convert(amount, from, Base)
}
