package ledger

import (
	"context"
	"errors"
)

// The ledger owns actual balances. It exposes atomic, balance-checked
// transfer primitives; everything above it (registry, state machine,
// orchestrator) treats it as an external system reachable only through
// this interface.

var (
	// ErrInsufficientFunds means the source account cannot cover the
	// transfer. The transfer had no effect.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInvalidTransfer means the transfer parameters were malformed
	// (non-positive amount, self-transfer). No effect.
	ErrInvalidTransfer = errors.New("ledger: invalid transfer")
)

// Ledger abstracts value movement between addressable accounts.
type Ledger interface {
	// Transfer atomically debits `from` and credits `to`. Either both
	// balance changes commit or neither does. The source balance check
	// and the debit happen in the same atomic unit; balances never go
	// negative at any intermediate point (except boundary accounts).
	// ref is an audit tag recorded with the movement.
	Transfer(ctx context.Context, from, to AccountKey, amount int64, ref string) error

	// TransferBatch commits several legs as one atomic unit: all legs
	// apply or none do. Used for settlement splits (net to seller, fee
	// to the fee sink) where a partial transfer would strand value.
	TransferBatch(ctx context.Context, legs []Leg, ref string) error

	// Balance returns the current balance of an account. Accounts that
	// never received funds report zero.
	Balance(ctx context.Context, acct AccountKey) (int64, error)
}

// Leg is one movement inside a TransferBatch.
type Leg struct {
	From   AccountKey
	To     AccountKey
	Amount int64
}
