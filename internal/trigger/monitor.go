package trigger

import (
	"errors"
	"fmt"

	"github.com/ksred/klear-paper/internal/ledger"
	"github.com/ksred/klear-paper/internal/trading"
	"github.com/ksred/klear-paper/internal/types"
	"github.com/rs/zerolog/log"
)

// Monitor closes positions whose stop loss or take profit is crossed
type Monitor struct {
	ledger *ledger.Ledger
	orders *trading.Service
}

// NewMonitor creates a monitor over the given ledger and lifecycle manager
func NewMonitor(l *ledger.Ledger, orders *trading.Service) *Monitor {
	return &Monitor{ledger: l, orders: orders}
}

// Breach reports whether a position at currentPrice has crossed one of its
// levels. Stop loss wins if both are crossed at once.
func Breach(exec types.Execution, currentPrice float64) (trading.CloseReason, bool) {
	switch exec.Side {
	case types.SideBuy:
		if exec.StopLoss > 0 && currentPrice <= exec.StopLoss {
			return trading.CloseStopLoss, true
		}
		if exec.TakeProfit > 0 && currentPrice >= exec.TakeProfit {
			return trading.CloseTakeProfit, true
		}
	case types.SideSell:
		if exec.StopLoss > 0 && currentPrice >= exec.StopLoss {
			return trading.CloseStopLoss, true
		}
		if exec.TakeProfit > 0 && currentPrice <= exec.TakeProfit {
			return trading.CloseTakeProfit, true
		}
	}
	return "", false
}

// OnPriceUpdate merges prices into the ledger and closes every breached
// position in insertion order. A position that cannot be closed stays open
// and is retried on the next update.
func (m *Monitor) OnPriceUpdate(prices map[string]float64) types.PriceUpdateResult {
	logger := log.With().Str("service", "trigger").Logger()

	m.ledger.SetPrices(prices)

	result := types.PriceUpdateResult{Closed: []types.Execution{}}
	for _, pos := range m.orders.OpenOrders() {
		current, ok := m.ledger.Price(pos.Symbol)
		if !ok {
			continue
		}
		reason, breached := Breach(pos, current)
		if !breached {
			continue
		}

		closing, err := m.orders.CloseByTrigger(pos.OrderID, current, reason)
		switch {
		case err == nil:
			result.Closed = append(result.Closed, *closing)
		case errors.Is(err, types.ErrOrderAlreadyClosed), errors.Is(err, types.ErrOrderNotFound):
			// closed by a concurrent cancel
			logger.Debug().Str("order_id", pos.OrderID).Msg("position already closed")
		default:
			logger.Error().Err(err).Str("order_id", pos.OrderID).Msg("trigger close failed")
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", pos.OrderID, err))
		}
	}

	if len(result.Closed) > 0 || len(result.Failures) > 0 {
		logger.Info().
			Int("closed", len(result.Closed)).
			Int("failed", len(result.Failures)).
			Msg("trigger pass completed")
	}
	return result
}
