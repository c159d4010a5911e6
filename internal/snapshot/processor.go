package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/ksred/klear-paper/internal/database"
	"github.com/ksred/klear-paper/internal/types"
	"github.com/rs/zerolog/log"
)

const defaultInterval = time.Minute

// Source produces account snapshots
type Source interface {
	GetAccountSnapshot(displayCurrency string) (*types.AccountSnapshot, error)
}

// Store persists account snapshots
type Store interface {
	SaveSnapshot(snap *types.AccountSnapshot) (*database.SnapshotRecord, error)
	PruneBefore(cutoff time.Time) (int64, error)
}

// Processor periodically persists the account so a restart can show the
// last known state. The ledger itself stays in memory.
type Processor struct {
	source   Source
	store    Store
	interval time.Duration
	currency string
	// snapshots older than this are pruned after each save; 0 keeps all
	Retention time.Duration
}

func NewProcessor(source Source, store Store, interval time.Duration, displayCurrency string) *Processor {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Processor{
		source:   source,
		store:    store,
		interval: interval,
		currency: displayCurrency,
	}
}

// Start runs the snapshot loop until ctx is cancelled. A final snapshot is
// taken on shutdown.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "snapshot_processor").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting snapshot processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if _, err := p.Snapshot(); err != nil {
				logger.Error().Err(err).Msg("failed to take final snapshot")
			}
			logger.Info().Msg("shutting down snapshot processor")
			return
		case <-ticker.C:
			if _, err := p.Snapshot(); err != nil {
				logger.Error().Err(err).Msg("failed to take snapshot")
			}
		}
	}
}

// Snapshot takes and stores one snapshot
func (p *Processor) Snapshot() (*database.SnapshotRecord, error) {
	snap, err := p.source.GetAccountSnapshot(p.currency)
	if err != nil {
		return nil, err
	}

	record, err := p.store.SaveSnapshot(snap)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Uint("snapshot_id", record.ID).
		Float64("total_value", record.TotalValue).
		Int("open_orders", record.OpenOrders).
		Msg("account snapshot stored")

	if p.Retention > 0 {
		pruned, err := p.store.PruneBefore(snap.Timestamp.Add(-p.Retention))
		if err != nil {
			return record, fmt.Errorf("failed to prune snapshots: %w", err)
		}
		if pruned > 0 {
			log.Debug().Int64("pruned", pruned).Msg("old snapshots pruned")
		}
	}
	return record, nil
}
