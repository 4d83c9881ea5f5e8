package escrow

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of an escrow.
type Status uint8

const (
	StatusPendingFunding Status = iota
	StatusFunded
	StatusReleased
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPendingFunding:
		return "pending_funding"
	case StatusFunded:
		return "funded"
	case StatusReleased:
		return "released"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseStatus converts a stored status string back to a Status.
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "pending_funding":
		return StatusPendingFunding, true
	case "funded":
		return StatusFunded, true
	case "released":
		return StatusReleased, true
	case "cancelled":
		return StatusCancelled, true
	case "failed":
		return StatusFailed, true
	default:
		return 0, false
	}
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	return s <= StatusFailed
}

// Terminal reports whether the status admits no further transitions.
// No terminal status may leave the vault holding value.
func (s Status) Terminal() bool {
	switch s {
	case StatusReleased, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo validates state transitions
func (s Status) CanTransitionTo(next Status) bool {
	validTransitions := map[Status][]Status{
		StatusPendingFunding: {
			StatusFunded,
			StatusFailed, // Funding window elapsed, nothing ever held
		},
		StatusFunded: {
			StatusReleased,
			StatusCancelled,
		},
	}

	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// Record is the registry's view of a single escrow. One per trade.
// The registry exclusively owns the record's lifecycle; balances are
// owned by the ledger; the vault is addressed purely by derivation.
type Record struct {
	EscrowID     uuid.UUID
	VaultAddress string

	Buyer      string
	Seller     string
	ListingRef string // Opaque marketplace listing reference, not interpreted

	GrossAmount    int64
	FeeBasisPoints int64
	Fee            int64
	NetAmount      int64

	Status Status

	// External transaction references, each settable exactly once.
	FundingRef string
	ReleaseRef string
	CancelRef  string

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time // Funding deadline; PendingFunding lapses to Failed past it
}

// Clone returns a deep copy so callers can mutate without affecting the
// stored instance.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}
