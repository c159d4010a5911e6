package types

import (
	"fmt"
	"strings"
	"time"
)

// Side is the direction of an order
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts BUY/SELL in any case
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, s)
}

// Opposite returns the side that closes a position opened on s
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Direction is +1 for BUY and -1 for SELL, used for directional PnL
func (s Side) Direction() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// OrderStatus is the lifecycle state of an execution record
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusExecuted        OrderStatus = "EXECUTED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusFailed          OrderStatus = "FAILED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED" // reserved, never produced
	StatusClosed          OrderStatus = "CLOSED"
)

// Terminal reports whether no further transition is possible
func (s OrderStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusClosed || s == StatusFailed
}

// Fee charged on an execution. Amount is in Asset units, Value is the USD equivalent.
type Fee struct {
	Amount float64 `json:"amount"`
	Asset  string  `json:"asset"`
	Rate   float64 `json:"rate"`
	Value  float64 `json:"value"`
}

// OrderRequest is what a caller submits to open a position
type OrderRequest struct {
	Symbol          string  `json:"symbol" binding:"required"`
	Side            Side    `json:"side" binding:"required"`
	Price           float64 `json:"price"` // 0 executes at the current mark
	Quantity        float64 `json:"quantity" binding:"required"`
	StopLoss        float64 `json:"stop_loss"`
	TakeProfit      float64 `json:"take_profit"`
	Budget          float64 `json:"budget"`
	Currency        string  `json:"currency"`
	FeePaymentAsset string  `json:"fee_payment_asset,omitempty"`
}

// Execution is the order/execution record kept by the lifecycle manager.
// Open positions live in the open set; cancelled, trigger-closed and
// closing executions end up in history.
type Execution struct {
	OrderID              string      `json:"order_id"`
	Symbol               string      `json:"symbol"`
	QuoteAsset           string      `json:"quote_asset"`
	Side                 Side        `json:"side"`
	Price                float64     `json:"price"`
	Quantity             float64     `json:"quantity"`
	Status               OrderStatus `json:"status"`
	Timestamp            time.Time   `json:"timestamp"`
	StopLoss             float64     `json:"stop_loss,omitempty"`
	TakeProfit           float64     `json:"take_profit,omitempty"`
	Budget               float64     `json:"budget,omitempty"`
	Currency             string      `json:"currency"`
	Fee                  *Fee        `json:"fee,omitempty"`
	CurrentPnL           float64     `json:"current_pnl"`
	CurrentPnLPercentage float64     `json:"current_pnl_percentage"`

	// Set once the position is finalized
	Realized       bool       `json:"realized"`
	PnL            float64    `json:"pnl"`
	PnLPercentage  float64    `json:"pnl_percentage"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	ClosingOrderID string     `json:"closing_order_id,omitempty"`
	ClosesOrderID  string     `json:"closes_order_id,omitempty"`
	Message        string     `json:"message,omitempty"`
}

// Notional is price times quantity in USD
func (e *Execution) Notional() float64 {
	return e.Price * e.Quantity
}

// FeeValue returns the USD value of the attached fee, or 0
func (e *Execution) FeeValue() float64 {
	if e.Fee == nil {
		return 0
	}
	return e.Fee.Value
}

// MarkPnL recomputes the unrealized PnL against a mark price. The entry fee
// is deducted; closing fees are not known until a close happens.
func (e *Execution) MarkPnL(mark float64) {
	pnl := e.Side.Direction()*(mark-e.Price)*e.Quantity - e.FeeValue()
	e.CurrentPnL = pnl
	e.CurrentPnLPercentage = 0
	if n := e.Notional(); n > 0 {
		e.CurrentPnLPercentage = pnl / n * 100
	}
}

// DepositRecord is an immutable audit entry for funds added to the account
type DepositRecord struct {
	ID        string    `json:"id"`
	Asset     string    `json:"asset"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	Currency  string    `json:"currency"`
}

// WithdrawalRecord is an immutable audit entry for funds removed from the account
type WithdrawalRecord struct {
	ID        string    `json:"id"`
	Asset     string    `json:"asset"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	Currency  string    `json:"currency"`
}
