package trading

import (
	"sort"
	"time"

	"github.com/ksred/klear-paper/internal/types"
)

// positionState is the only place an order's lifecycle is decided.
// The Execution.Status field mirrors it for callers.
type positionState int

const (
	stateOpen positionState = iota
	stateCancelled
	stateClosedByTrigger
	// closing fills synthesized by a trigger; never open, never cancellable
	stateFill
)

func (s positionState) status() types.OrderStatus {
	switch s {
	case stateCancelled:
		return types.StatusCancelled
	case stateClosedByTrigger:
		return types.StatusClosed
	}
	return types.StatusExecuted
}

type position struct {
	exec            types.Execution
	seq             uint64
	state           positionState
	feePaymentAsset string
	// balance deltas committed when the position was opened
	deltas map[string]float64
}

type idempotencyRecord struct {
	orderID   string
	expiresAt time.Time
}

// orderStore indexes every order by id. It is not safe for concurrent use;
// the Service lock guards it.
type orderStore struct {
	seq         uint64
	orders      map[string]*position
	open        map[string]*position
	history     []types.Execution
	idempotency map[string]idempotencyRecord
}

func newOrderStore() *orderStore {
	return &orderStore{
		orders:      make(map[string]*position),
		open:        make(map[string]*position),
		idempotency: make(map[string]idempotencyRecord),
	}
}

func (s *orderStore) add(p *position) {
	s.seq++
	p.seq = s.seq
	s.orders[p.exec.OrderID] = p
	s.open[p.exec.OrderID] = p
}

// finalize moves a position out of the open set and appends its terminal
// record, plus any extra records, to history
func (s *orderStore) finalize(p *position, state positionState, extra ...types.Execution) {
	p.state = state
	p.exec.Status = state.status()
	delete(s.open, p.exec.OrderID)
	s.history = append(s.history, p.exec)
	s.history = append(s.history, extra...)
}

// record stores an execution that never opens a position (closing fills)
func (s *orderStore) record(exec types.Execution) {
	s.seq++
	s.orders[exec.OrderID] = &position{exec: exec, seq: s.seq, state: stateFill}
}

func (s *orderStore) openPositions() []*position {
	out := make([]*position, 0, len(s.open))
	for _, p := range s.open {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (s *orderStore) historyCopy() []types.Execution {
	out := make([]types.Execution, len(s.history))
	copy(out, s.history)
	return out
}

func (s *orderStore) lookupIdempotent(key string, now time.Time) (string, bool) {
	rec, ok := s.idempotency[key]
	if !ok {
		return "", false
	}
	if now.After(rec.expiresAt) {
		delete(s.idempotency, key)
		return "", false
	}
	return rec.orderID, true
}
