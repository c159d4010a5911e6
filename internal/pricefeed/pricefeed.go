package pricefeed

import (
	"context"
	"strings"

	"github.com/ksred/klear-paper/internal/types"
	"github.com/rs/zerolog/log"
)

// Sink receives partial asset -> USD price maps
type Sink interface {
	PushPriceUpdate(prices map[string]float64) types.PriceUpdateResult
}

// Feed drives a Sink until ctx is cancelled
type Feed interface {
	Run(ctx context.Context) error
}

// deliver pushes prices and logs what the trigger pass did
func deliver(sink Sink, source string, prices map[string]float64) types.PriceUpdateResult {
	result := sink.PushPriceUpdate(prices)
	logger := log.With().Str("feed", source).Logger()
	for _, closed := range result.Closed {
		logger.Info().
			Str("order_id", closed.ClosesOrderID).
			Str("closing_order_id", closed.OrderID).
			Str("symbol", closed.Symbol).
			Float64("price", closed.Price).
			Msg(closed.Message)
	}
	for _, failure := range result.Failures {
		logger.Warn().Msg(failure)
	}
	return result
}

func normalizeAssets(assets []string) []string {
	out := make([]string, 0, len(assets))
	seen := make(map[string]bool, len(assets))
	for _, a := range assets {
		a = strings.ToUpper(strings.TrimSpace(a))
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
