package pricefeed

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Simulated walks each tracked price randomly from a starting map
type Simulated struct {
	sink       Sink
	assets     []string
	prices     map[string]float64
	interval   time.Duration
	volatility float64
	rng        *rand.Rand
}

// NewSimulated starts from start and moves each asset by up to volatility
// (as a fraction) per tick. Assets without a positive starting price are
// skipped.
func NewSimulated(sink Sink, start map[string]float64, assets []string, interval time.Duration, volatility float64, seed int64) *Simulated {
	prices := make(map[string]float64)
	tracked := make([]string, 0, len(assets))
	for _, a := range normalizeAssets(assets) {
		if p := start[a]; p > 0 {
			prices[a] = p
			tracked = append(tracked, a)
		}
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Simulated{
		sink:       sink,
		assets:     tracked,
		prices:     prices,
		interval:   interval,
		volatility: volatility,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Run ticks until ctx is cancelled
func (s *Simulated) Run(ctx context.Context) error {
	logger := log.With().Str("component", "simulated_feed").Logger()
	logger.Info().Strs("assets", s.assets).Dur("interval", s.interval).Msg("starting simulated price feed")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down simulated price feed")
			return nil
		case <-ticker.C:
			deliver(s.sink, "simulated", s.Step())
		}
	}
}

// Step advances every tracked price once and returns the new values
func (s *Simulated) Step() map[string]float64 {
	update := make(map[string]float64, len(s.assets))
	for _, a := range s.assets {
		move := (s.rng.Float64()*2 - 1) * s.volatility
		next := s.prices[a] * (1 + move)
		if next <= 0 || math.IsNaN(next) {
			continue
		}
		s.prices[a] = next
		update[a] = next
	}
	return update
}
