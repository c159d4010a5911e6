package funding

import (
	"errors"
	"testing"

	"github.com/ksred/klear-paper/internal/ledger"
	"github.com/ksred/klear-paper/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() (*Service, *ledger.Ledger) {
	l := ledger.New()
	l.Reset(map[string]float64{"USD": 10000, "USDT": 10000, "BTC": 0}, nil)
	return NewService(l), l
}

func TestDeposit(t *testing.T) {
	s, l := newTestService()
	before := l.Balances()

	rec, err := s.Deposit("btc", 0.5, "")
	require.NoError(t, err)

	assert.Equal(t, "BTC", rec.Asset)
	assert.Equal(t, 0.5, rec.Amount)
	assert.Equal(t, "USD", rec.Currency)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, 0.5, l.Balance("BTC"))
	for asset, qty := range before {
		if asset != "BTC" {
			assert.Equal(t, qty, l.Balance(asset), asset)
		}
	}
	assert.Len(t, s.Deposits(), 1)
	assert.Empty(t, s.Withdrawals())
}

func TestDepositRejectsNonPositive(t *testing.T) {
	s, l := newTestService()

	for _, amount := range []float64{0, -1} {
		_, err := s.Deposit("USDT", amount, "USD")
		assert.True(t, errors.Is(err, types.ErrInvalidAmount))
	}
	assert.Equal(t, 10000.0, l.Balance("USDT"))
	assert.Empty(t, s.Deposits())
}

func TestWithdraw(t *testing.T) {
	s, l := newTestService()

	rec, err := s.Withdraw("USDT", 2500, "USD")
	require.NoError(t, err)
	assert.Equal(t, 2500.0, rec.Amount)
	assert.Equal(t, 7500.0, l.Balance("USDT"))
	assert.Len(t, s.Withdrawals(), 1)
}

func TestWithdrawMoreThanAvailable(t *testing.T) {
	s, l := newTestService()
	before := l.Balances()

	_, err := s.Withdraw("USDT", 10000.01, "USD")

	var ibe *types.InsufficientBalanceError
	require.True(t, errors.As(err, &ibe))
	assert.Equal(t, "USDT", ibe.Asset)
	assert.Equal(t, before, l.Balances())
	assert.Empty(t, s.Withdrawals())

	_, err = s.Withdraw("USDT", -5, "USD")
	assert.True(t, errors.Is(err, types.ErrInvalidAmount))
}

func TestAuditLogsAreCopies(t *testing.T) {
	s, _ := newTestService()
	_, err := s.Deposit("USDT", 1, "USD")
	require.NoError(t, err)

	deps := s.Deposits()
	deps[0].Amount = 999
	assert.Equal(t, 1.0, s.Deposits()[0].Amount)

	s.Reset()
	assert.Empty(t, s.Deposits())
}
