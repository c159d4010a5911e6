package ledger

import (
	"math"
	"strings"
	"sync"

	"github.com/ksred/klear-paper/internal/types"
)

// Epsilon absorbs float noise when checking and committing balances
const Epsilon = 1e-9

// Ledger is the single source of truth for balances and last known prices.
// Every mutation takes the same lock, and Transact runs check-then-act
// sequences under it so concurrent orders cannot overspend.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]float64
	prices   map[string]float64
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{
		balances: make(map[string]float64),
		prices:   make(map[string]float64),
	}
}

// Reset replaces balances and prices wholesale
func (l *Ledger) Reset(balances, prices map[string]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances = make(map[string]float64, len(balances))
	for asset, qty := range balances {
		l.balances[normalize(asset)] = qty
	}
	l.prices = make(map[string]float64, len(prices))
	for asset, price := range prices {
		l.prices[normalize(asset)] = price
	}
}

// Balances returns a copy of the balance map
func (l *Ledger) Balances() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyMap(l.balances)
}

// Balance returns the quantity held of one asset
func (l *Ledger) Balance(asset string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[normalize(asset)]
}

// Prices returns a copy of the price map
func (l *Ledger) Prices() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyMap(l.prices)
}

// Price returns the last known USD price of an asset
func (l *Ledger) Price(asset string) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.prices[normalize(asset)]
	return p, ok
}

// ApplyDelta adds delta to an asset balance. No bounds are checked here.
func (l *Ledger) ApplyDelta(asset string, delta float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.apply(normalize(asset), delta)
}

// SetPrices merges a partial price map. Non-positive prices are ignored.
func (l *Ledger) SetPrices(prices map[string]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for asset, price := range prices {
		if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
			continue
		}
		l.prices[normalize(asset)] = price
	}
}

// Transact runs fn with exclusive access. Deltas staged on the Tx are
// committed only if fn returns nil, so a rejected operation leaves the
// ledger untouched.
func (l *Ledger) Transact(fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &Tx{ledger: l, staged: make(map[string]float64)}
	if err := fn(tx); err != nil {
		return err
	}
	for _, asset := range tx.order {
		l.apply(asset, tx.staged[asset])
	}
	return nil
}

func (l *Ledger) apply(asset string, delta float64) {
	v := l.balances[asset] + delta
	if math.Abs(v) < Epsilon {
		v = 0
	}
	l.balances[asset] = v
}

// Tx stages balance deltas inside Transact
type Tx struct {
	ledger *Ledger
	staged map[string]float64
	order  []string
}

// Available is the committed balance plus anything staged in this Tx
func (tx *Tx) Available(asset string) float64 {
	asset = normalize(asset)
	return tx.ledger.balances[asset] + tx.staged[asset]
}

// Price reads the price map while the lock is held
func (tx *Tx) Price(asset string) (float64, bool) {
	p, ok := tx.ledger.prices[normalize(asset)]
	return p, ok
}

// Credit stages an increase
func (tx *Tx) Credit(asset string, amount float64) {
	tx.stage(normalize(asset), amount)
}

// Debit stages a decrease, failing if it would take the balance negative
func (tx *Tx) Debit(asset string, amount float64) error {
	asset = normalize(asset)
	available := tx.Available(asset)
	if available-amount < -Epsilon {
		return &types.InsufficientBalanceError{Asset: asset, Required: amount, Available: available}
	}
	tx.stage(asset, -amount)
	return nil
}

// Deltas returns the staged changes
func (tx *Tx) Deltas() map[string]float64 {
	return copyMap(tx.staged)
}

func (tx *Tx) stage(asset string, delta float64) {
	if _, ok := tx.staged[asset]; !ok {
		tx.order = append(tx.order, asset)
	}
	tx.staged[asset] += delta
}

func normalize(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func copyMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
