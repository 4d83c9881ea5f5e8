package ledger

import (
	"context"
	"sync"
	"time"
)

// Movement is one committed transfer, kept for audit.
type Movement struct {
	From   AccountKey
	To     AccountKey
	Amount int64
	Ref    string
	At     time.Time
}

// MemoryLedger is an in-process Ledger for development and tests. All
// operations are atomic under a single mutex; the zero-sum property holds
// because every movement debits exactly what it credits.
type MemoryLedger struct {
	mu        sync.Mutex
	balances  map[AccountKey]int64
	movements []Movement
	now       func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[AccountKey]int64),
		now:      time.Now,
	}
}

// SetNowFunc overrides the time source. Intended for tests.
func (m *MemoryLedger) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	m.now = now
}

func (m *MemoryLedger) Transfer(ctx context.Context, from, to AccountKey, amount int64, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount <= 0 || from == to {
		return ErrInvalidTransfer
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Boundary accounts absorb the counterweight of value entering the
	// ledger; every other scope is hard-checked.
	if from.Scope != ScopeExternal && m.balances[from] < amount {
		return ErrInsufficientFunds
	}

	m.balances[from] -= amount
	m.balances[to] += amount
	m.movements = append(m.movements, Movement{
		From:   from,
		To:     to,
		Amount: amount,
		Ref:    ref,
		At:     m.now(),
	})
	return nil
}

func (m *MemoryLedger) TransferBatch(ctx context.Context, legs []Leg, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(legs) == 0 {
		return ErrInvalidTransfer
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Dry-run against a scratch view so a failing leg leaves nothing
	// half-applied.
	scratch := make(map[AccountKey]int64, len(legs)*2)
	for _, leg := range legs {
		if leg.Amount <= 0 || leg.From == leg.To {
			return ErrInvalidTransfer
		}
		if _, ok := scratch[leg.From]; !ok {
			scratch[leg.From] = m.balances[leg.From]
		}
		if _, ok := scratch[leg.To]; !ok {
			scratch[leg.To] = m.balances[leg.To]
		}
		if leg.From.Scope != ScopeExternal && scratch[leg.From] < leg.Amount {
			return ErrInsufficientFunds
		}
		scratch[leg.From] -= leg.Amount
		scratch[leg.To] += leg.Amount
	}

	at := m.now()
	for _, leg := range legs {
		m.balances[leg.From] -= leg.Amount
		m.balances[leg.To] += leg.Amount
		m.movements = append(m.movements, Movement{
			From:   leg.From,
			To:     leg.To,
			Amount: leg.Amount,
			Ref:    ref,
			At:     at,
		})
	}
	return nil
}

func (m *MemoryLedger) Balance(ctx context.Context, acct AccountKey) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[acct], nil
}

// Movements returns a copy of the committed transfer log.
func (m *MemoryLedger) Movements() []Movement {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Movement, len(m.movements))
	copy(out, m.movements)
	return out
}

// GlobalBalance sums every account. A zero-sum ledger always reports 0.
func (m *MemoryLedger) GlobalBalance() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, b := range m.balances {
		total += b
	}
	return total
}
