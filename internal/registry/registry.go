package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"EscrowCore/internal/escrow"
)

// The registry is the durable source of truth for escrow records, keyed by
// escrow_id with secondary indexes by buyer and seller, plus an append-only
// transition log per successful state change.

var (
	// ErrNotFound means no record exists for the escrow ID.
	ErrNotFound = errors.New("registry: escrow not found")

	// ErrConflict means the compare-and-swap failed: the record's current
	// status did not match the expected status. A concurrent transition
	// already happened; the caller must re-fetch and decide, never retry
	// the same action blindly.
	ErrConflict = errors.New("registry: status conflict")

	// ErrDuplicate means Open was called with an escrow ID that already
	// exists.
	ErrDuplicate = errors.New("registry: escrow already exists")
)

// TransitionEntry is one row of the append-only transition log.
type TransitionEntry struct {
	EntryID  uuid.UUID
	EscrowID uuid.UUID
	From     escrow.Status
	To       escrow.Status
	Ref      string
	At       time.Time
}

// Registry owns EscrowRecord lifecycles.
type Registry interface {
	// Open persists a freshly created PendingFunding record.
	Open(ctx context.Context, rec *escrow.Record) error

	// Get returns the current record or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*escrow.Record, error)

	// Transition is a compare-and-swap on status: it applies mutate and
	// moves the record from expected to next atomically, appending a
	// transition log entry, or fails with ErrConflict if the current
	// status differs from expected. The first caller to observe the
	// expected status and CAS wins; all others get ErrConflict.
	Transition(ctx context.Context, id uuid.UUID, expected, next escrow.Status,
		mutate func(rec *escrow.Record) error) (*escrow.Record, error)

	// ListByBuyer returns records where the given account is the buyer,
	// newest first.
	ListByBuyer(ctx context.Context, buyer string) ([]*escrow.Record, error)

	// ListBySeller returns records where the given account is the seller,
	// newest first.
	ListBySeller(ctx context.Context, seller string) ([]*escrow.Record, error)

	// Log returns the transition log for one escrow, oldest first.
	Log(ctx context.Context, id uuid.UUID) ([]TransitionEntry, error)
}
