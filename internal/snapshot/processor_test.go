package snapshot

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ksred/klear-paper/internal/account"
	"github.com/ksred/klear-paper/internal/currency"
	"github.com/ksred/klear-paper/internal/database"
	"github.com/ksred/klear-paper/internal/fees"
	"github.com/ksred/klear-paper/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	m.Run()
}

type memoryStore struct {
	mu    sync.Mutex
	snaps []*types.AccountSnapshot
}

func (s *memoryStore) SaveSnapshot(snap *types.AccountSnapshot) (*database.SnapshotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return &database.SnapshotRecord{ID: uint(len(s.snaps)), TotalValue: snap.TotalValueInDisplayCurrency}, nil
}

func (s *memoryStore) PruneBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.snaps[:0]
	for _, snap := range s.snaps {
		if !snap.Timestamp.Before(cutoff) {
			kept = append(kept, snap)
		}
	}
	pruned := int64(len(s.snaps) - len(kept))
	s.snaps = kept
	return pruned, nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

type failingSource struct{}

func (failingSource) GetAccountSnapshot(string) (*types.AccountSnapshot, error) {
	return nil, errors.New("boom")
}

func newAccount() *account.Service {
	opts := account.DefaultOptions()
	opts.InitialPrices = map[string]float64{"BTC": 50000}
	return account.New(opts, fees.NewCalculator(fees.DefaultBaseRate, fees.DefaultDiscount, fees.DefaultDiscountAsset), currency.NewConverter())
}

func TestSnapshotPersistsToDatabase(t *testing.T) {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "snap.db"))
	require.NoError(t, err)
	defer db.Close()

	acct := newAccount()
	_, err = acct.ExecuteOrder(types.OrderRequest{Symbol: "BTCUSDT", Side: "BUY", Quantity: 0.1})
	require.NoError(t, err)

	p := NewProcessor(acct, db, time.Hour, "USD")
	rec, err := p.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1, rec.OpenOrders)

	latest, err := db.LatestSnapshot()
	require.NoError(t, err)
	assert.InDelta(t, 0.1, latest.Balances["BTC"], 1e-12)
	require.Len(t, latest.OpenOrders, 1)
}

func TestSnapshotSourceError(t *testing.T) {
	store := &memoryStore{}
	p := NewProcessor(failingSource{}, store, time.Hour, "USD")

	_, err := p.Snapshot()
	assert.Error(t, err)
	assert.Equal(t, 0, store.count())
}

func TestStartTakesFinalSnapshotOnShutdown(t *testing.T) {
	store := &memoryStore{}
	p := NewProcessor(newAccount(), store, time.Hour, "USD")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop")
	}
	assert.Equal(t, 1, store.count())
}

func TestStartTicks(t *testing.T) {
	store := &memoryStore{}
	p := NewProcessor(newAccount(), store, 10*time.Millisecond, "USD")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	assert.Eventually(t, func() bool { return store.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestSnapshotPrunesOutsideRetention(t *testing.T) {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "retention.db"))
	require.NoError(t, err)
	defer db.Close()

	old := &types.AccountSnapshot{Currency: "USD", Timestamp: time.Now().Add(-48 * time.Hour)}
	_, err = db.SaveSnapshot(old)
	require.NoError(t, err)

	p := NewProcessor(newAccount(), db, time.Hour, "USD")
	p.Retention = 24 * time.Hour
	_, err = p.Snapshot()
	require.NoError(t, err)

	records, err := db.ListSnapshots(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].TakenAt.After(time.Now().Add(-time.Hour)))
}

func TestSnapshotKeepsEverythingWithoutRetention(t *testing.T) {
	store := &memoryStore{}
	store.snaps = append(store.snaps, &types.AccountSnapshot{Timestamp: time.Now().Add(-365 * 24 * time.Hour)})

	p := NewProcessor(newAccount(), store, time.Hour, "USD")
	_, err := p.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 2, store.count())
}
