package types

import "time"

// TradeHistorySummary aggregates closed trades over a date range
type TradeHistorySummary struct {
	Trades      []Execution `json:"trades"`
	TotalProfit float64     `json:"total_profit"`
	TotalLoss   float64     `json:"total_loss"`
	TotalFees   float64     `json:"total_fees"`
	WinRate     float64     `json:"win_rate"`
	Currency    string      `json:"currency"`
}

// AccountSnapshot is a point-in-time copy of the whole account
type AccountSnapshot struct {
	Balances                    map[string]float64 `json:"balances"`
	Prices                      map[string]float64 `json:"prices"`
	OpenOrders                  []Execution        `json:"open_orders"`
	History                     []Execution        `json:"history"`
	Deposits                    []DepositRecord    `json:"deposits"`
	Withdrawals                 []WithdrawalRecord `json:"withdrawals"`
	TotalValueInQuoteCurrency   float64            `json:"total_value_in_quote_currency"`
	TotalValueInDisplayCurrency float64            `json:"total_value_in_display_currency"`
	TotalRealizedPnL            float64            `json:"total_realized_pnl"`
	Currency                    string             `json:"currency"`
	Timestamp                   time.Time          `json:"timestamp"`
}

// FundingRequest is the body of deposit and withdrawal calls
type FundingRequest struct {
	Asset    string  `json:"asset" binding:"required"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// PriceUpdateRequest carries a partial asset -> USD price map
type PriceUpdateRequest struct {
	Prices map[string]float64 `json:"prices" binding:"required"`
}

// PriceUpdateResult lists what a trigger pass did
type PriceUpdateResult struct {
	Closed   []Execution `json:"closed"`
	Failures []string    `json:"failures,omitempty"`
}
