package settlement

import (
	"time"

	"github.com/google/uuid"
)

// Config carries the orchestrator's operating parameters.
type Config struct {
	// Authority is the marketplace account allowed to release or cancel
	// on behalf of the parties (dispute arbitration). Empty disables the
	// authority path entirely.
	Authority string

	// FundingWindow is how long a newly opened escrow may stay
	// PendingFunding before it lapses to Failed.
	FundingWindow time.Duration

	// FeeSinkAddress receives the protocol fee on Release. Defaults to
	// the derived fee sink when empty.
	FeeSinkAddress string

	// FeedBuffer sizes the outbound transition event channel.
	FeedBuffer int
}

// OpenRequest carries the inputs for creating a new escrow.
type OpenRequest struct {
	Buyer          string
	Seller         string
	ListingRef     string
	GrossAmount    int64
	FeeBasisPoints int64
}

// OpenResult reports the identifiers a caller needs to fund the escrow.
type OpenResult struct {
	EscrowID     uuid.UUID
	VaultAddress string
	Status       string
	ExpiresAt    time.Time
}

// FundRequest moves the gross amount from the buyer into the vault.
// FundingProof is the external payment reference; repeating it replays the
// recorded outcome instead of double-charging.
type FundRequest struct {
	EscrowID     uuid.UUID
	Caller       string
	FundingProof string
}

// FundResult reports the post-funding state.
type FundResult struct {
	EscrowID uuid.UUID
	Status   string
	Replayed bool
}

// ReleaseRequest settles a funded escrow to the seller.
type ReleaseRequest struct {
	EscrowID       uuid.UUID
	Caller         string
	IdempotencyKey string
}

// ReleaseResult reports the committed split.
type ReleaseResult struct {
	EscrowID uuid.UUID
	Status   string
	FeePaid  int64
	NetPaid  int64
	Replayed bool
}

// CancelRequest refunds a funded escrow to the buyer.
type CancelRequest struct {
	EscrowID       uuid.UUID
	Caller         string
	IdempotencyKey string
}

// CancelResult reports the committed refund.
type CancelResult struct {
	EscrowID uuid.UUID
	Status   string
	Refunded int64
	Replayed bool
}

// TransitionEvent is one entry on the outbound feed, emitted after a
// transition has been committed to the registry. The feed is advisory:
// consumers needing the authoritative state read the registry.
type TransitionEvent struct {
	EscrowID    uuid.UUID `json:"escrow_id"`
	Event       string    `json:"event"`
	Status      string    `json:"status"`
	Buyer       string    `json:"buyer"`
	Seller      string    `json:"seller"`
	GrossAmount int64     `json:"gross_amount"`
	Fee         int64     `json:"fee"`
	NetAmount   int64     `json:"net_amount"`
	Ref         string    `json:"ref,omitempty"`
	At          time.Time `json:"at"`
}

// Feed event names.
const (
	EventOpened    = "opened"
	EventFunded    = "funded"
	EventReleased  = "released"
	EventCancelled = "cancelled"
	EventExpired   = "expired"
	EventRepaired  = "repaired"
)
