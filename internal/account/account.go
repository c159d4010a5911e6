package account

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-paper/internal/currency"
	"github.com/ksred/klear-paper/internal/fees"
	"github.com/ksred/klear-paper/internal/funding"
	"github.com/ksred/klear-paper/internal/history"
	"github.com/ksred/klear-paper/internal/ledger"
	"github.com/ksred/klear-paper/internal/trading"
	"github.com/ksred/klear-paper/internal/trigger"
	"github.com/ksred/klear-paper/internal/types"
	"github.com/ksred/klear-paper/pkg/response"
	"github.com/rs/zerolog/log"
)

// Options fixes the starting state restored by InitializeAccount
type Options struct {
	InitialBalances map[string]float64
	TrackedAssets   []string
	InitialPrices   map[string]float64
	DisplayCurrency string
	QuoteAsset      string
}

// DefaultOptions starts with 10000 of each cash proxy and nothing else
func DefaultOptions() Options {
	return Options{
		InitialBalances: map[string]float64{"USD": 10000, "USDT": 10000},
		TrackedAssets:   []string{"BTC", "ETH", "BNB"},
		InitialPrices:   map[string]float64{},
		DisplayCurrency: currency.Base,
		QuoteAsset:      "USDT",
	}
}

// Service owns one simulated account and wires the ledger, the order
// lifecycle manager, the trigger monitor, funding and history together.
// Independent Services share nothing.
type Service struct {
	// resets take the write lock, everything else the read lock
	mu        sync.RWMutex
	opts      Options
	ledger    *ledger.Ledger
	orders    *trading.Service
	monitor   *trigger.Monitor
	funding   *funding.Service
	history   *history.Service
	converter *currency.Converter
}

// New creates an initialized account
func New(opts Options, calc *fees.Calculator, converter *currency.Converter) *Service {
	if opts.QuoteAsset == "" {
		opts.QuoteAsset = "USDT"
	}
	l := ledger.New()
	orders := trading.NewService(l, calc, opts.QuoteAsset)

	s := &Service{
		opts:      opts,
		ledger:    l,
		orders:    orders,
		monitor:   trigger.NewMonitor(l, orders),
		funding:   funding.NewService(l),
		history:   history.NewService(orders, converter),
		converter: converter,
	}
	s.InitializeAccount()
	return s
}

// InitializeAccount restores the starting balances and clears open orders,
// history and the funding audit logs. Known prices are kept.
func (s *Service) InitializeAccount() {
	s.mu.Lock()
	defer s.mu.Unlock()

	balances := make(map[string]float64, len(s.opts.InitialBalances)+len(s.opts.TrackedAssets))
	for _, asset := range s.opts.TrackedAssets {
		balances[strings.ToUpper(asset)] = 0
	}
	for asset, qty := range s.opts.InitialBalances {
		balances[strings.ToUpper(asset)] = qty
	}

	prices := make(map[string]float64, len(s.opts.InitialPrices))
	for asset, p := range s.opts.InitialPrices {
		prices[asset] = p
	}
	for asset, p := range s.ledger.Prices() {
		prices[asset] = p
	}

	s.orders.Reset()
	s.funding.Reset()
	s.ledger.Reset(balances, prices)

	log.Info().
		Str("service", "account").
		Int("assets", len(balances)).
		Msg("account initialized")
}

func (s *Service) ExecuteOrder(req types.OrderRequest) (*types.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orders.ExecuteOrder(req)
}

// ExecuteOrderWithIdempotency replays the first result for a repeated key
func (s *Service) ExecuteOrderWithIdempotency(req types.OrderRequest, idempotencyKey string) (*types.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orders.ExecuteOrderWithIdempotency(req, idempotencyKey)
}

func (s *Service) CancelOrder(orderID string) (*types.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orders.CancelOrder(orderID)
}

func (s *Service) GetOrder(orderID string) (*types.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orders.GetOrder(orderID)
}

func (s *Service) Deposit(asset string, amount float64, cur string) (*types.DepositRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.funding.Deposit(asset, amount, cur)
}

func (s *Service) Withdraw(asset string, amount float64, cur string) (*types.WithdrawalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.funding.Withdraw(asset, amount, cur)
}

func (s *Service) GetHistory(r history.Range, cur string) (*types.TradeHistorySummary, error) {
	if cur == "" {
		cur = s.opts.DisplayCurrency
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.GetHistory(r, cur)
}

// PushPriceUpdate runs a trigger pass over the new prices
func (s *Service) PushPriceUpdate(prices map[string]float64) types.PriceUpdateResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.monitor.OnPriceUpdate(prices)
}

// GetAccountSnapshot copies the whole account. Cash proxies are valued at 1,
// assets without a price at 0.
func (s *Service) GetAccountSnapshot(displayCurrency string) (*types.AccountSnapshot, error) {
	if displayCurrency == "" {
		displayCurrency = s.opts.DisplayCurrency
	}
	displayCurrency = currency.Normalize(displayCurrency)

	s.mu.RLock()
	defer s.mu.RUnlock()

	balances := s.ledger.Balances()
	prices := s.ledger.Prices()

	total := 0.0
	for asset, qty := range balances {
		switch {
		case trading.CashAssets[asset]:
			total += qty
		case prices[asset] > 0:
			total += qty * prices[asset]
		}
	}

	hist := s.orders.History()
	realized := 0.0
	for _, e := range hist {
		if e.Realized {
			realized += e.PnL
		}
	}

	display, err := s.converter.Convert(total, currency.Base, displayCurrency)
	if err != nil {
		return nil, err
	}

	return &types.AccountSnapshot{
		Balances:                    balances,
		Prices:                      prices,
		OpenOrders:                  s.orders.OpenOrders(),
		History:                     hist,
		Deposits:                    s.funding.Deposits(),
		Withdrawals:                 s.funding.Withdrawals(),
		TotalValueInQuoteCurrency:   total,
		TotalValueInDisplayCurrency: display,
		TotalRealizedPnL:            realized,
		Currency:                    displayCurrency,
		Timestamp:                   time.Now(),
	}, nil
}

// Orders exposes the lifecycle manager for its HTTP handlers
func (s *Service) Orders() *trading.Service { return s.orders }

// Funding exposes the deposit/withdrawal manager for its HTTP handlers
func (s *Service) Funding() *funding.Service { return s.funding }

// History exposes the aggregator for its HTTP handlers
func (s *Service) History() *history.Service { return s.history }

// GinHandlers contains HTTP handlers for account-wide endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetAccountHandler handles GET /account?currency=KRW
func (h *GinHandlers) GetAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot, err := h.service.GetAccountSnapshot(c.Query("currency"))
		response.Handle(c, snapshot, err)
	}
}

// ResetAccountHandler handles POST /account/reset
func (h *GinHandlers) ResetAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.service.InitializeAccount()
		snapshot, err := h.service.GetAccountSnapshot("")
		response.Handle(c, snapshot, err)
	}
}

// PushPricesHandler handles POST /prices with a partial price map
func (h *GinHandlers) PushPricesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.PriceUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if len(req.Prices) == 0 {
			response.BadRequest(c, "at least one price is required")
			return
		}

		response.Success(c, h.service.PushPriceUpdate(req.Prices))
	}
}
