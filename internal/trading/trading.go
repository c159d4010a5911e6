package trading

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/klear-paper/internal/currency"
	"github.com/ksred/klear-paper/internal/fees"
	"github.com/ksred/klear-paper/internal/ledger"
	"github.com/ksred/klear-paper/internal/types"
	"github.com/ksred/klear-paper/pkg/response"
	"github.com/rs/zerolog/log"
)

// idempotencyTTL is how long a replayed Idempotency-Key returns the same order
const idempotencyTTL = 24 * time.Hour

// CashAssets are priced at 1 USD and may be used as quote assets
var CashAssets = map[string]bool{"USD": true, "USDT": true}

// CloseReason names the trigger that closed a position
type CloseReason string

const (
	CloseStopLoss   CloseReason = "stop loss"
	CloseTakeProfit CloseReason = "take profit"
)

// Service is the order lifecycle manager. It validates, executes and
// cancels orders against the ledger and is the only component that
// changes an order's status.
type Service struct {
	mu         sync.Mutex
	ledger     *ledger.Ledger
	fees       *fees.Calculator
	quoteAsset string
	store      *orderStore
	now        func() time.Time
}

// NewService creates a lifecycle manager. quoteAsset is used when a symbol
// carries no explicit pair.
func NewService(l *ledger.Ledger, calc *fees.Calculator, quoteAsset string) *Service {
	return &Service{
		ledger:     l,
		fees:       calc,
		quoteAsset: strings.ToUpper(quoteAsset),
		store:      newOrderStore(),
		now:        time.Now,
	}
}

// Reset drops every open order, the history and idempotency keys
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = newOrderStore()
}

// ResolveSymbol splits BTC, BTCUSDT, BTC/USDT or BTC-USDT into base and quote.
// A priced asset whose name ends in USD (TUSD, FDUSD) resolves to itself.
func (s *Service) ResolveSymbol(symbol string) (base, quote string) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	for _, sep := range []string{"/", "-", "_"} {
		if parts := strings.SplitN(sym, sep, 2); len(parts) == 2 {
			return parts[0], parts[1]
		}
	}
	if p, ok := s.ledger.Price(sym); ok && p > 0 {
		return sym, s.quoteAsset
	}
	for cash := range CashAssets {
		if strings.HasSuffix(sym, cash) && len(sym) > len(cash) && !CashAssets[sym] {
			return strings.TrimSuffix(sym, cash), cash
		}
	}
	return sym, s.quoteAsset
}

// ExecuteOrder validates and fills an order at its price, or at the current
// mark when no price is given. Nothing is mutated on failure.
func (s *Service) ExecuteOrder(req types.OrderRequest) (*types.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execute(req)
}

// ExecuteOrderWithIdempotency replays the original result for a key seen in
// the last 24 hours instead of opening a second position
func (s *Service) ExecuteOrderWithIdempotency(req types.OrderRequest, idempotencyKey string) (*types.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idempotencyKey != "" {
		if orderID, ok := s.store.lookupIdempotent(idempotencyKey, s.now()); ok {
			if p, exists := s.store.orders[orderID]; exists {
				exec := s.view(p)
				return &exec, nil
			}
		}
	}

	exec, err := s.execute(req)
	if err != nil {
		return nil, err
	}
	if idempotencyKey != "" {
		s.store.idempotency[idempotencyKey] = idempotencyRecord{
			orderID:   exec.OrderID,
			expiresAt: s.now().Add(idempotencyTTL),
		}
	}
	return exec, nil
}

func (s *Service) execute(req types.OrderRequest) (*types.Execution, error) {
	logger := log.With().
		Str("service", "trading").
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Logger()

	side, err := types.ParseSide(string(req.Side))
	if err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		logger.Warn().Err(err).Msg("order rejected")
		return nil, err
	}

	base, quote := s.ResolveSymbol(req.Symbol)
	if !CashAssets[quote] {
		return nil, fmt.Errorf("%w: unsupported quote asset %s", types.ErrUnknownSymbol, quote)
	}
	mark, ok := s.ledger.Price(base)
	if !ok || mark <= 0 || CashAssets[base] {
		logger.Warn().Msg("order rejected: no price for symbol")
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownSymbol, base)
	}

	price := req.Price
	if price == 0 {
		price = mark
	}

	fee, err := s.calculateFee(base, quote, price, req.Quantity, req.FeePaymentAsset)
	if err != nil {
		return nil, err
	}

	var deltas map[string]float64
	err = s.ledger.Transact(func(tx *ledger.Tx) error {
		if err := settle(tx, side, base, quote, price, req.Quantity, fee); err != nil {
			return err
		}
		deltas = tx.Deltas()
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Msg("order rejected")
		return nil, err
	}

	budget := req.Budget
	if budget == 0 {
		budget = price * req.Quantity
	}

	exec := types.Execution{
		OrderID:    newOrderID(),
		Symbol:     base,
		QuoteAsset: quote,
		Side:       side,
		Price:      price,
		Quantity:   req.Quantity,
		Status:     types.StatusExecuted,
		Timestamp:  s.now(),
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Budget:     budget,
		Currency:   currency.Normalize(req.Currency),
		Fee:        &fee,
	}

	s.store.add(&position{
		exec:            exec,
		state:           stateOpen,
		feePaymentAsset: req.FeePaymentAsset,
		deltas:          deltas,
	})

	logger.Info().
		Str("order_id", exec.OrderID).
		Float64("price", price).
		Float64("quantity", exec.Quantity).
		Float64("fee", fee.Amount).
		Str("fee_asset", fee.Asset).
		Msg("order executed")

	return &exec, nil
}

// CancelOrder closes an open position at the current mark. The balance
// deltas of the original fill are reversed exactly and no fee is charged.
func (s *Service) CancelOrder(orderID string) (*types.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := log.With().
		Str("service", "trading").
		Str("order_id", orderID).
		Logger()

	p, err := s.openPosition(orderID)
	if err != nil {
		logger.Warn().Err(err).Msg("cancel rejected")
		return nil, err
	}

	mark, ok := s.ledger.Price(p.exec.Symbol)
	if !ok {
		mark = p.exec.Price
	}

	err = s.ledger.Transact(func(tx *ledger.Tx) error {
		// credits first so a debit can lean on a credit in the same asset
		for asset, delta := range p.deltas {
			if delta < 0 {
				tx.Credit(asset, -delta)
			}
		}
		for asset, delta := range p.deltas {
			if delta > 0 {
				if err := tx.Debit(asset, delta); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Msg("cancel rejected")
		return nil, err
	}

	now := s.now()
	p.exec.MarkPnL(mark)
	p.exec.Realized = true
	p.exec.PnL = p.exec.CurrentPnL
	p.exec.PnLPercentage = p.exec.CurrentPnLPercentage
	p.exec.ClosedAt = &now
	p.exec.Message = "cancelled at " + formatPrice(mark)
	s.store.finalize(p, stateCancelled)

	logger.Info().
		Float64("pnl", p.exec.PnL).
		Float64("mark", mark).
		Msg("order cancelled")

	exec := p.exec
	return &exec, nil
}

// CloseByTrigger synthesizes the opposite-side fill for an open position at
// price, charges the exit fee and marks the position CLOSED. It returns the
// closing execution. If the position is no longer open the caller lost a
// race and gets ErrOrderAlreadyClosed.
func (s *Service) CloseByTrigger(orderID string, price float64, reason CloseReason) (*types.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := log.With().
		Str("service", "trading").
		Str("order_id", orderID).
		Str("reason", string(reason)).
		Logger()

	p, err := s.openPosition(orderID)
	if err != nil {
		return nil, err
	}

	orig := p.exec
	closeSide := orig.Side.Opposite()
	fee, err := s.calculateFee(orig.Symbol, orig.QuoteAsset, price, orig.Quantity, p.feePaymentAsset)
	if err != nil {
		// discount asset lost its price; fall back to the quote asset
		fee, err = s.calculateFee(orig.Symbol, orig.QuoteAsset, price, orig.Quantity, "")
		if err != nil {
			return nil, err
		}
	}

	err = s.ledger.Transact(func(tx *ledger.Tx) error {
		return settle(tx, closeSide, orig.Symbol, orig.QuoteAsset, price, orig.Quantity, fee)
	})
	if err != nil {
		logger.Error().Err(err).Float64("price", price).Msg("failed to close position")
		return nil, err
	}

	now := s.now()
	message := fmt.Sprintf("closed by %s at %s", reason, formatPrice(price))
	closing := types.Execution{
		OrderID:       newOrderID(),
		Symbol:        orig.Symbol,
		QuoteAsset:    orig.QuoteAsset,
		Side:          closeSide,
		Price:         price,
		Quantity:      orig.Quantity,
		Status:        types.StatusExecuted,
		Timestamp:     now,
		Budget:        price * orig.Quantity,
		Currency:      orig.Currency,
		Fee:           &fee,
		ClosesOrderID: orig.OrderID,
		Message:       message,
	}

	p.exec.MarkPnL(price)
	p.exec.PnL = p.exec.CurrentPnL - fee.Value
	if n := p.exec.Notional(); n > 0 {
		p.exec.PnLPercentage = p.exec.PnL / n * 100
	}
	p.exec.CurrentPnL = p.exec.PnL
	p.exec.CurrentPnLPercentage = p.exec.PnLPercentage
	p.exec.Realized = true
	p.exec.ClosedAt = &now
	p.exec.ClosingOrderID = closing.OrderID
	p.exec.Message = message

	s.store.record(closing)
	s.store.finalize(p, stateClosedByTrigger, closing)

	logger.Info().
		Str("closing_order_id", closing.OrderID).
		Float64("price", price).
		Float64("pnl", p.exec.PnL).
		Msg(message)

	return &closing, nil
}

// GetOrder returns any order ever issued, open or closed
func (s *Service) GetOrder(orderID string) (*types.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.store.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrOrderNotFound, orderID)
	}
	exec := s.view(p)
	return &exec, nil
}

// OpenOrders returns open positions in insertion order with PnL marked to
// the current prices
func (s *Service) OpenOrders() []types.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := s.store.openPositions()
	out := make([]types.Execution, 0, len(positions))
	for _, p := range positions {
		out = append(out, s.view(p))
	}
	return out
}

// History returns every finalized record in the order it was closed
func (s *Service) History() []types.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.historyCopy()
}

func (s *Service) openPosition(orderID string) (*position, error) {
	p, ok := s.store.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrOrderNotFound, orderID)
	}
	if _, open := s.store.open[orderID]; !open || p.exec.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", types.ErrOrderAlreadyClosed, orderID)
	}
	return p, nil
}

func (s *Service) view(p *position) types.Execution {
	exec := p.exec
	if p.state == stateOpen {
		if mark, ok := s.ledger.Price(exec.Symbol); ok {
			exec.MarkPnL(mark)
		}
	}
	return exec
}

func (s *Service) calculateFee(base, quote string, price, qty float64, feePaymentAsset string) (types.Fee, error) {
	in := fees.Input{
		Symbol:          base,
		QuoteAsset:      quote,
		Price:           price,
		Quantity:        qty,
		FeePaymentAsset: feePaymentAsset,
	}
	if s.fees.PaysInDiscountAsset(feePaymentAsset) {
		in.DiscountAssetPrice, _ = s.ledger.Price(s.fees.DiscountAsset)
	}
	return s.fees.Calculate(in)
}

// settle stages the balance deltas of one fill
func settle(tx *ledger.Tx, side types.Side, base, quote string, price, qty float64, fee types.Fee) error {
	notional := price * qty
	switch side {
	case types.SideBuy:
		if err := tx.Debit(quote, notional); err != nil {
			return err
		}
		tx.Credit(base, qty)
	case types.SideSell:
		if err := tx.Debit(base, qty); err != nil {
			return err
		}
		tx.Credit(quote, notional)
	}
	if fee.Amount > 0 {
		return tx.Debit(fee.Asset, fee.Amount)
	}
	return nil
}

func validateRequest(req types.OrderRequest) error {
	switch {
	case strings.TrimSpace(req.Symbol) == "":
		return fmt.Errorf("%w: symbol is required", types.ErrInvalidOrder)
	case !(req.Quantity > 0) || math.IsInf(req.Quantity, 0):
		return fmt.Errorf("%w: quantity must be positive", types.ErrInvalidOrder)
	case req.Price < 0 || math.IsNaN(req.Price) || math.IsInf(req.Price, 0):
		return fmt.Errorf("%w: price must not be negative", types.ErrInvalidOrder)
	case !validLevel(req.StopLoss) || !validLevel(req.TakeProfit):
		return fmt.Errorf("%w: trigger levels must be finite and not negative", types.ErrInvalidOrder)
	case !validLevel(req.Budget):
		return fmt.Errorf("%w: budget must be finite and not negative", types.ErrInvalidOrder)
	}
	return nil
}

// validLevel accepts zero (unset) and finite positive values
func validLevel(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}

func newOrderID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "ORD_" + uuid.New().String()
	}
	return "ORD_" + id.String()
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service OrderAPI
}

// OrderAPI is what the order handlers need. *Service satisfies it, as does
// the account facade that serializes calls with account resets.
type OrderAPI interface {
	ExecuteOrderWithIdempotency(req types.OrderRequest, idempotencyKey string) (*types.Execution, error)
	CancelOrder(orderID string) (*types.Execution, error)
	GetOrder(orderID string) (*types.Execution, error)
}

// NewGinHandlers creates a new set of HTTP handlers for order endpoints
func NewGinHandlers(service OrderAPI) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ExecuteOrderHandler handles POST requests that open a position.
// An optional Idempotency-Key header replays the first result.
func (h *GinHandlers) ExecuteOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.OrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		exec, err := h.service.ExecuteOrderWithIdempotency(req, c.GetHeader("Idempotency-Key"))
		response.Handle(c, exec, err)
	}
}

// CancelOrderHandler handles DELETE requests for an open order
// URL parameter: order_id
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		exec, err := h.service.CancelOrder(orderID)
		response.Handle(c, exec, err)
	}
}

// GetOrderHandler handles GET requests for a single order
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		exec, err := h.service.GetOrder(c.Param("order_id"))
		if errors.Is(err, types.ErrOrderNotFound) {
			response.NotFound(c, "Order not found")
			return
		}
		response.Handle(c, exec, err)
	}
}
