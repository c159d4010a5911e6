package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ksred/klear-paper/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	m.Run()
}

type recordingSink struct {
	mu      sync.Mutex
	updates []map[string]float64
}

func (s *recordingSink) PushPriceUpdate(prices map[string]float64) types.PriceUpdateResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, prices)
	return types.PriceUpdateResult{}
}

func (s *recordingSink) snapshot() []map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]float64(nil), s.updates...)
}

func TestParseMiniTickers(t *testing.T) {
	msg := []byte(`[
		{"e":"24hrMiniTicker","E":1700000000000,"s":"BTCUSDT","c":"43250.12"},
		{"e":"24hrMiniTicker","E":1700000000000,"s":"ETHUSDT","c":"2250.50"},
		{"e":"24hrMiniTicker","E":1700000000000,"s":"ETHBTC","c":"0.052"},
		{"e":"24hrMiniTicker","E":1700000000000,"s":"SOLUSDT","c":"bad"},
		{"e":"24hrMiniTicker","E":1700000000000,"s":"XRPUSDT","c":"0"}
	]`)

	prices, err := ParseMiniTickers(msg, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTC": 43250.12, "ETH": 2250.50}, prices)

	prices, err = ParseMiniTickers(msg, map[string]bool{"ETH": true})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"ETH": 2250.50}, prices)
}

func TestParseMiniTickersSingleObject(t *testing.T) {
	prices, err := ParseMiniTickers([]byte(`{"e":"24hrMiniTicker","s":"BNBUSDT","c":"312.5"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, 312.5, prices["BNB"])

	_, err = ParseMiniTickers([]byte(`not json`), nil)
	assert.Error(t, err)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(0))
	assert.Equal(t, 4*time.Second, backoff(2))
	assert.Equal(t, maxBackoff, backoff(5))
	assert.Equal(t, maxBackoff, backoff(50))
}

func TestSimulatedStepStaysWithinVolatility(t *testing.T) {
	sink := &recordingSink{}
	start := map[string]float64{"BTC": 50000, "ETH": 3000}
	sim := NewSimulated(sink, start, []string{"btc", "ETH", "DOGE"}, time.Second, 0.01, 42)

	assert.Equal(t, []string{"BTC", "ETH"}, sim.assets)
	for i := 0; i < 10; i++ {
		before := map[string]float64{"BTC": sim.prices["BTC"], "ETH": sim.prices["ETH"]}
		update := sim.Step()
		require.Len(t, update, 2)
		for asset, p := range update {
			assert.InEpsilon(t, before[asset], p, 0.0101)
		}
	}
	assert.Equal(t, 50000.0, start["BTC"])
}

func TestSimulatedRunDelivers(t *testing.T) {
	sink := &recordingSink{}
	sim := NewSimulated(sink, map[string]float64{"BTC": 50000}, []string{"BTC"}, 5*time.Millisecond, 0.01, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(sink.snapshot()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestBinanceStreamDelivers(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"s":"BTCUSDT","c":"45000"},{"s":"ETHUSDT","c":"2900"}]`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	sink := &recordingSink{}
	feed := NewBinance(sink, strings.Replace(server.URL, "http://", "ws://", 1), []string{"BTC"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(sink.snapshot()) >= 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)

	assert.Equal(t, map[string]float64{"BTC": 45000}, sink.snapshot()[0])
}
