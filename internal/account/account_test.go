package account

import (
	"errors"
	"testing"

	"github.com/ksred/klear-paper/internal/currency"
	"github.com/ksred/klear-paper/internal/fees"
	"github.com/ksred/klear-paper/internal/history"
	"github.com/ksred/klear-paper/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccount() *Service {
	opts := DefaultOptions()
	opts.InitialPrices = map[string]float64{"BTC": 50000, "ETH": 3000, "BNB": 300}
	return New(opts, fees.NewCalculator(fees.DefaultBaseRate, fees.DefaultDiscount, fees.DefaultDiscountAsset), currency.NewConverter())
}

func TestInitialState(t *testing.T) {
	a := newTestAccount()

	snap, err := a.GetAccountSnapshot("")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, snap.Balances["USD"])
	assert.Equal(t, 10000.0, snap.Balances["USDT"])
	assert.Equal(t, 0.0, snap.Balances["BTC"])
	assert.Contains(t, snap.Balances, "ETH")
	assert.Equal(t, 20000.0, snap.TotalValueInQuoteCurrency)
	assert.Empty(t, snap.OpenOrders)
	assert.Empty(t, snap.History)
}

func TestStopLossScenarioEndToEnd(t *testing.T) {
	a := newTestAccount()

	exec, err := a.ExecuteOrder(types.OrderRequest{
		Symbol: "BTC", Side: types.SideBuy, Price: 50000, Quantity: 0.1, StopLoss: 45000, TakeProfit: 55000, Currency: "USD",
	})
	require.NoError(t, err)

	snap, err := a.GetAccountSnapshot("USD")
	require.NoError(t, err)
	assert.InDelta(t, 4995, snap.Balances["USDT"], 1e-9)
	assert.InDelta(t, 0.1, snap.Balances["BTC"], 1e-12)
	require.Len(t, snap.OpenOrders, 1)

	result := a.PushPriceUpdate(map[string]float64{"BTC": 44000})
	require.Len(t, result.Closed, 1)

	snap, err = a.GetAccountSnapshot("USD")
	require.NoError(t, err)
	assert.Empty(t, snap.OpenOrders)
	assert.InDelta(t, 0, snap.Balances["BTC"], 1e-12)
	assert.InDelta(t, 4995+4400-4.4, snap.Balances["USDT"], 1e-9)
	assert.InDelta(t, -609.4, snap.TotalRealizedPnL, 1e-9)

	_, err = a.CancelOrder(exec.OrderID)
	assert.True(t, errors.Is(err, types.ErrOrderAlreadyClosed))

	summary, err := a.GetHistory(history.Range{}, "")
	require.NoError(t, err)
	assert.Len(t, summary.Trades, 2)
	assert.InDelta(t, 9.4, summary.TotalFees, 1e-9)
	assert.InDelta(t, 609.4, summary.TotalLoss, 1e-9)
	assert.Equal(t, 0.0, summary.WinRate)
}

func TestSnapshotValuesHoldingsAndConverts(t *testing.T) {
	a := newTestAccount()

	_, err := a.Deposit("BTC", 0.5, "USD")
	require.NoError(t, err)

	snap, err := a.GetAccountSnapshot("KRW")
	require.NoError(t, err)
	assert.Equal(t, 45000.0, snap.TotalValueInQuoteCurrency)
	assert.InDelta(t, 45000*1350, snap.TotalValueInDisplayCurrency, 1e-6)
	assert.Equal(t, "KRW", snap.Currency)
	assert.Len(t, snap.Deposits, 1)

	_, err = a.GetAccountSnapshot("XYZ")
	assert.Error(t, err)
}

func TestWithdrawTooMuch(t *testing.T) {
	a := newTestAccount()
	before, err := a.GetAccountSnapshot("")
	require.NoError(t, err)

	_, err = a.Withdraw("USDT", 20000, "USD")
	assert.True(t, errors.Is(err, types.ErrInsufficientBalance))

	after, err := a.GetAccountSnapshot("")
	require.NoError(t, err)
	assert.Equal(t, before.Balances, after.Balances)
	assert.Empty(t, after.Withdrawals)
}

func TestInitializeAccountResetsEverything(t *testing.T) {
	a := newTestAccount()
	_, err := a.ExecuteOrder(types.OrderRequest{Symbol: "ETH", Side: types.SideBuy, Quantity: 1})
	require.NoError(t, err)
	_, err = a.Deposit("BNB", 2, "USD")
	require.NoError(t, err)
	a.PushPriceUpdate(map[string]float64{"ETH": 3100})

	a.InitializeAccount()

	snap, err := a.GetAccountSnapshot("")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, snap.Balances["USDT"])
	assert.Equal(t, 0.0, snap.Balances["ETH"])
	assert.Equal(t, 0.0, snap.Balances["BNB"])
	assert.Empty(t, snap.OpenOrders)
	assert.Empty(t, snap.History)
	assert.Empty(t, snap.Deposits)
	assert.Equal(t, 3100.0, snap.Prices["ETH"], "prices survive a reset")
}

func TestIndependentAccounts(t *testing.T) {
	a := newTestAccount()
	b := newTestAccount()

	_, err := a.Deposit("USDT", 500, "USD")
	require.NoError(t, err)

	snap, err := b.GetAccountSnapshot("")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, snap.Balances["USDT"])
}
