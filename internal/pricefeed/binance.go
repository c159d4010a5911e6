package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	DefaultBinanceURL = "wss://stream.binance.com:9443/ws/!miniTicker@arr"

	maxBackoff = 30 * time.Second
)

// miniTicker is one element of the Binance !miniTicker@arr stream
type miniTicker struct {
	Event  string `json:"e"`
	Time   int64  `json:"E"`
	Symbol string `json:"s"`
	Close  string `json:"c"`
}

// Binance streams last prices for USDT pairs from the public mini-ticker
// feed. USDT is treated as USD.
type Binance struct {
	sink        Sink
	url         string
	assets      map[string]bool
	ReadTimeout time.Duration
}

func NewBinance(sink Sink, url string, assets []string) *Binance {
	if url == "" {
		url = DefaultBinanceURL
	}
	tracked := make(map[string]bool)
	for _, a := range normalizeAssets(assets) {
		tracked[a] = true
	}
	return &Binance{
		sink:        sink,
		url:         url,
		assets:      tracked,
		ReadTimeout: 60 * time.Second,
	}
}

// ParseMiniTickers extracts prices for tracked assets quoted in USDT.
// Unparseable or non-positive entries are dropped.
func ParseMiniTickers(msg []byte, tracked map[string]bool) (map[string]float64, error) {
	var tickers []miniTicker
	if err := json.Unmarshal(msg, &tickers); err != nil {
		// single-symbol streams send one object
		var single miniTicker
		if err2 := json.Unmarshal(msg, &single); err2 != nil {
			return nil, fmt.Errorf("invalid mini ticker payload: %w", err)
		}
		tickers = []miniTicker{single}
	}

	prices := make(map[string]float64)
	for _, t := range tickers {
		symbol := strings.ToUpper(t.Symbol)
		if !strings.HasSuffix(symbol, "USDT") {
			continue
		}
		asset := strings.TrimSuffix(symbol, "USDT")
		if len(tracked) > 0 && !tracked[asset] {
			continue
		}
		price, err := decimal.NewFromString(t.Close)
		if err != nil || !price.IsPositive() {
			continue
		}
		prices[asset] = price.InexactFloat64()
	}
	return prices, nil
}

// Run keeps a connection open with exponential backoff until ctx is done
func (b *Binance) Run(ctx context.Context) error {
	logger := log.With().Str("component", "binance_feed").Str("url", b.url).Logger()
	retry := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := b.stream(ctx)
		if ctx.Err() != nil {
			logger.Info().Msg("shutting down binance price feed")
			return nil
		}

		delay := backoff(retry)
		retry++
		logger.Warn().Err(err).Int("retry", retry).Dur("delay", delay).Msg("price stream disconnected")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (b *Binance) stream(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, b.url, http.Header{})
	if err != nil {
		return err
	}
	defer conn.Close()

	// unblock ReadMessage on shutdown
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	log.Info().Str("url", b.url).Msg("price stream connected")
	for {
		conn.SetReadDeadline(time.Now().Add(b.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		prices, err := ParseMiniTickers(msg, b.assets)
		if err != nil {
			log.Debug().Err(err).Msg("skipping price message")
			continue
		}
		if len(prices) > 0 {
			deliver(b.sink, "binance", prices)
		}
	}
}

func backoff(retry int) time.Duration {
	if retry > 5 {
		return maxBackoff
	}
	d := time.Second << uint(retry)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
