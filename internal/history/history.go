package history

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-paper/internal/currency"
	"github.com/ksred/klear-paper/internal/types"
	"github.com/ksred/klear-paper/pkg/response"
)

// DateLayout is the format of start/end query parameters
const DateLayout = "2006-01-02"

// Source provides the closed-trade list
type Source interface {
	History() []types.Execution
}

// Service is a read-only view over closed trades
type Service struct {
	source    Source
	converter *currency.Converter
}

func NewService(source Source, converter *currency.Converter) *Service {
	return &Service{source: source, converter: converter}
}

// Range bounds a history query. Nil bounds are open.
type Range struct {
	Start *time.Time
	End   *time.Time
}

// GetHistory summarizes closed trades whose close date falls within
// [start 00:00:00, end 23:59:59]. Fees are summed over every record in
// range; profit, loss and win rate only over records carrying a realized
// PnL, which covers cancellations and trigger-closed positions. Totals are
// converted into the display currency.
func (s *Service) GetHistory(r Range, displayCurrency string) (*types.TradeHistorySummary, error) {
	displayCurrency = currency.Normalize(displayCurrency)
	if !s.converter.Supported(displayCurrency) {
		return nil, fmt.Errorf("%w: %s", currency.ErrUnsupportedCurrency, displayCurrency)
	}

	summary := Summarize(Filter(s.source.History(), r))

	var err error
	if summary.TotalProfit, err = s.converter.Convert(summary.TotalProfit, currency.Base, displayCurrency); err != nil {
		return nil, err
	}
	if summary.TotalLoss, err = s.converter.Convert(summary.TotalLoss, currency.Base, displayCurrency); err != nil {
		return nil, err
	}
	if summary.TotalFees, err = s.converter.Convert(summary.TotalFees, currency.Base, displayCurrency); err != nil {
		return nil, err
	}
	summary.Currency = displayCurrency
	return &summary, nil
}

// Filter keeps trades closed inside the day-granular range
func Filter(trades []types.Execution, r Range) []types.Execution {
	var start, end time.Time
	if r.Start != nil {
		y, m, d := r.Start.Date()
		start = time.Date(y, m, d, 0, 0, 0, 0, r.Start.Location())
	}
	if r.End != nil {
		y, m, d := r.End.Date()
		end = time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), r.End.Location())
	}

	out := make([]types.Execution, 0, len(trades))
	for _, t := range trades {
		at := t.Timestamp
		if t.ClosedAt != nil {
			at = *t.ClosedAt
		}
		if r.Start != nil && at.Before(start) {
			continue
		}
		if r.End != nil && at.After(end) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Summarize computes USD totals over already filtered trades
func Summarize(trades []types.Execution) types.TradeHistorySummary {
	summary := types.TradeHistorySummary{Trades: trades, Currency: currency.Base}

	counted, wins := 0, 0
	for _, t := range trades {
		summary.TotalFees += t.FeeValue()
		if !t.Realized {
			continue
		}
		counted++
		switch {
		case t.PnL > 0:
			wins++
			summary.TotalProfit += t.PnL
		case t.PnL < 0:
			summary.TotalLoss += -t.PnL
		}
	}

	if counted > 0 {
		summary.WinRate = float64(wins) / float64(counted) * 100
	}
	return summary
}

// ParseRange reads optional YYYY-MM-DD bounds in the local time zone
func ParseRange(start, end string) (Range, error) {
	var r Range
	if start != "" {
		t, err := time.ParseInLocation(DateLayout, start, time.Local)
		if err != nil {
			return r, fmt.Errorf("invalid start date %q: %w", start, err)
		}
		r.Start = &t
	}
	if end != "" {
		t, err := time.ParseInLocation(DateLayout, end, time.Local)
		if err != nil {
			return r, fmt.Errorf("invalid end date %q: %w", end, err)
		}
		r.End = &t
	}
	return r, nil
}

// GinHandlers contains HTTP handlers for history endpoints
type GinHandlers struct {
	service Querier
}

// Querier answers history queries
type Querier interface {
	GetHistory(r Range, displayCurrency string) (*types.TradeHistorySummary, error)
}

func NewGinHandlers(service Querier) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetHistoryHandler handles GET /history?start=YYYY-MM-DD&end=YYYY-MM-DD&currency=KRW
func (h *GinHandlers) GetHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		r, err := ParseRange(c.Query("start"), c.Query("end"))
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		summary, err := h.service.GetHistory(r, c.Query("currency"))
		response.Handle(c, summary, err)
	}
}
