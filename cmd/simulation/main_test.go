package main

import (
	"bytes"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-paper/internal/account"
	"github.com/ksred/klear-paper/internal/api"
	"github.com/ksred/klear-paper/internal/auth"
	"github.com/ksred/klear-paper/internal/currency"
	"github.com/ksred/klear-paper/internal/fees"
	"github.com/ksred/klear-paper/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	zerolog.SetGlobalLevel(zerolog.Disabled)
	m.Run()
}

func newTestAPI(t *testing.T) (*httptest.Server, *account.Service) {
	t.Helper()

	authService := auth.NewService("sim-secret", time.Hour)
	authService.RegisterAPICredentials("k", "s", auth.PermissionAdmin)

	opts := account.DefaultOptions()
	opts.InitialPrices = map[string]float64{"BTC": 50000, "ETH": 3000, "BNB": 300}
	acct := account.New(opts, fees.NewCalculator(fees.DefaultBaseRate, fees.DefaultDiscount, fees.DefaultDiscountAsset), currency.NewConverter())

	server := httptest.NewServer(api.NewRouter(api.Dependencies{Auth: authService, Account: acct}))
	t.Cleanup(server.Close)
	return server, acct
}

func TestRouteStatsCalculate(t *testing.T) {
	rs := &routeStats{name: "x"}
	for i := 1; i <= 100; i++ {
		rs.record(time.Duration(i)*time.Millisecond, i%10 == 0)
	}

	min, max, mean, median, p95, p99 := rs.calculate()
	assert.Equal(t, time.Millisecond, min)
	assert.Equal(t, 100*time.Millisecond, max)
	assert.Equal(t, 50500*time.Microsecond, mean)
	assert.Equal(t, 51*time.Millisecond, median)
	assert.Equal(t, 95*time.Millisecond, p95)
	assert.Equal(t, 99*time.Millisecond, p99)
	assert.Equal(t, 10, rs.failures)
}

func TestClientRoundTrip(t *testing.T) {
	server, _ := newTestAPI(t)
	sc := newSimulationClient(server.URL, server.Client())

	require.Error(t, sc.authenticate("k", "wrong"))
	require.NoError(t, sc.authenticate("k", "s"))

	exec, err := sc.executeOrder(types.OrderRequest{Symbol: "ETHUSDT", Side: types.SideBuy, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, types.StatusExecuted, exec.Status)

	got, err := sc.getOrder(exec.OrderID)
	require.NoError(t, err)
	assert.Equal(t, exec.OrderID, got.OrderID)

	cancelled, err := sc.cancelOrder(exec.OrderID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, cancelled.Status)

	_, err = sc.cancelOrder(exec.OrderID)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 409, apiErr.Status)
	assert.Equal(t, "ORDER_ALREADY_CLOSED", apiErr.Code)

	_, err = sc.deposit("BNB", 2)
	require.NoError(t, err)

	snap, err := sc.account("USD")
	require.NoError(t, err)
	assert.Equal(t, 2.0, snap.Balances["BNB"])
	assert.Equal(t, 2, sc.stats["cancel"].totalCalls)
	assert.Equal(t, 1, sc.stats["cancel"].failures)
}

func TestDemoAgainstServer(t *testing.T) {
	server, acct := newTestAPI(t)
	opts := &options{server: server.URL, apiKey: "k", apiSecret: "s", currency: "USD"}

	var out bytes.Buffer
	require.NoError(t, runDemo(opts, &out))

	assert.Contains(t, out.String(), "closed by stop loss at 44000")
	assert.Contains(t, out.String(), "is CLOSED")
	assert.Contains(t, out.String(), "loss 609.40, fees 9.40")
	assert.Empty(t, acct.Orders().OpenOrders())
}

func TestRunSimulationAgainstServer(t *testing.T) {
	server, acct := newTestAPI(t)
	opts := &options{
		server: server.URL, apiKey: "k", apiSecret: "s", currency: "USD",
		orders: 12, workers: 3, rounds: 5, budget: 100, bracket: 0.01, moveSize: 0.02, seed: 7,
	}

	var out bytes.Buffer
	require.NoError(t, runSimulation(opts, &out))

	assert.Contains(t, out.String(), "PAPER TRADING SIMULATION SUMMARY")
	assert.Empty(t, acct.Orders().OpenOrders())
}
