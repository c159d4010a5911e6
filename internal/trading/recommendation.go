package trading

import (
	"fmt"

	"github.com/ksred/klear-paper/internal/currency"
	"github.com/ksred/klear-paper/internal/types"
)

// Recommendation is what an external recommendation provider hands back
type Recommendation struct {
	EntryPrice  float64 `json:"entry_price"`
	TargetPrice float64 `json:"target_price"`
	StopLoss    float64 `json:"stop_loss"`
}

// RecommendationProvider supplies trade ideas for a symbol
type RecommendationProvider interface {
	Recommend(symbol string) (*Recommendation, error)
}

// RequestFromRecommendation turns a recommendation into a BUY request that
// spends budget (in the given display currency) at the entry price. The
// budget is converted to USD only to size the quantity.
func RequestFromRecommendation(rec Recommendation, symbol string, budget float64, cur string, conv *currency.Converter) (types.OrderRequest, error) {
	if rec.EntryPrice <= 0 {
		return types.OrderRequest{}, fmt.Errorf("%w: entry price must be positive", types.ErrInvalidOrder)
	}
	if budget <= 0 {
		return types.OrderRequest{}, fmt.Errorf("%w: budget must be positive", types.ErrInvalidOrder)
	}

	budgetUSD, err := conv.ToUSD(budget, cur)
	if err != nil {
		return types.OrderRequest{}, fmt.Errorf("%w: %v", types.ErrInvalidOrder, err)
	}

	return types.OrderRequest{
		Symbol:     symbol,
		Side:       types.SideBuy,
		Price:      rec.EntryPrice,
		Quantity:   budgetUSD / rec.EntryPrice,
		StopLoss:   rec.StopLoss,
		TakeProfit: rec.TargetPrice,
		Budget:     budget,
		Currency:   currency.Normalize(cur),
	}, nil
}
