package funding

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/klear-paper/internal/currency"
	"github.com/ksred/klear-paper/internal/ledger"
	"github.com/ksred/klear-paper/internal/types"
	"github.com/ksred/klear-paper/pkg/response"
	"github.com/rs/zerolog/log"
)

// Service funds and defunds the simulated account outside the order flow.
// It never touches open orders or fees.
type Service struct {
	ledger      *ledger.Ledger
	mu          sync.RWMutex
	deposits    []types.DepositRecord
	withdrawals []types.WithdrawalRecord
	now         func() time.Time
}

// NewService creates a deposit/withdrawal manager over the ledger
func NewService(l *ledger.Ledger) *Service {
	return &Service{ledger: l, now: time.Now}
}

// Reset clears the audit logs
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deposits = nil
	s.withdrawals = nil
}

// Deposit credits asset by amount and appends a deposit record
func (s *Service) Deposit(asset string, amount float64, cur string) (*types.DepositRecord, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	logger := log.With().
		Str("service", "funding").
		Str("asset", asset).
		Float64("amount", amount).
		Logger()

	if err := validate(asset, amount); err != nil {
		logger.Warn().Err(err).Msg("deposit rejected")
		return nil, err
	}

	// record and balance change commit together under the audit lock
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.ledger.Transact(func(tx *ledger.Tx) error {
		tx.Credit(asset, amount)
		return nil
	})
	if err != nil {
		return nil, err
	}

	rec := types.DepositRecord{
		ID:        "DEP_" + uuid.New().String(),
		Asset:     asset,
		Amount:    amount,
		Timestamp: s.now(),
		Currency:  currency.Normalize(cur),
	}
	s.deposits = append(s.deposits, rec)

	logger.Info().Str("deposit_id", rec.ID).Msg("deposit recorded")
	return &rec, nil
}

// Withdraw debits asset by amount if the balance covers it
func (s *Service) Withdraw(asset string, amount float64, cur string) (*types.WithdrawalRecord, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	logger := log.With().
		Str("service", "funding").
		Str("asset", asset).
		Float64("amount", amount).
		Logger()

	if err := validate(asset, amount); err != nil {
		logger.Warn().Err(err).Msg("withdrawal rejected")
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.ledger.Transact(func(tx *ledger.Tx) error {
		return tx.Debit(asset, amount)
	})
	if err != nil {
		logger.Warn().Err(err).Msg("withdrawal rejected")
		return nil, err
	}

	rec := types.WithdrawalRecord{
		ID:        "WDR_" + uuid.New().String(),
		Asset:     asset,
		Amount:    amount,
		Timestamp: s.now(),
		Currency:  currency.Normalize(cur),
	}
	s.withdrawals = append(s.withdrawals, rec)

	logger.Info().Str("withdrawal_id", rec.ID).Msg("withdrawal recorded")
	return &rec, nil
}

// Deposits returns a copy of the deposit log
func (s *Service) Deposits() []types.DepositRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.DepositRecord, len(s.deposits))
	copy(out, s.deposits)
	return out
}

// Withdrawals returns a copy of the withdrawal log
func (s *Service) Withdrawals() []types.WithdrawalRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.WithdrawalRecord, len(s.withdrawals))
	copy(out, s.withdrawals)
	return out
}

func validate(asset string, amount float64) error {
	if asset == "" {
		return fmt.Errorf("%w: asset is required", types.ErrInvalidAmount)
	}
	if !(amount > 0) || math.IsInf(amount, 0) {
		return fmt.Errorf("%w: amount must be positive, got %v", types.ErrInvalidAmount, amount)
	}
	return nil
}

// GinHandlers contains HTTP handlers for funding endpoints
type GinHandlers struct {
	service API
}

// API is implemented by *Service and by the account facade
type API interface {
	Deposit(asset string, amount float64, cur string) (*types.DepositRecord, error)
	Withdraw(asset string, amount float64, cur string) (*types.WithdrawalRecord, error)
}

func NewGinHandlers(service API) *GinHandlers {
	return &GinHandlers{service: service}
}

func (h *GinHandlers) DepositHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.FundingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		rec, err := h.service.Deposit(req.Asset, req.Amount, req.Currency)
		response.Handle(c, rec, err)
	}
}

func (h *GinHandlers) WithdrawHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.FundingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		rec, err := h.service.Withdraw(req.Asset, req.Amount, req.Currency)
		response.Handle(c, rec, err)
	}
}
