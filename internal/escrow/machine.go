package escrow

import (
	"time"

	"github.com/google/uuid"
)

// The state machine is pure computation: every guard below validates a
// proposed transition against the current record without touching the
// ledger or the registry. Authorization is a function of the record's
// parties plus the configured settlement authority, never a key held by
// any party.

// OpenParams carries the validated inputs for creating a new escrow.
type OpenParams struct {
	EscrowID     uuid.UUID
	VaultAddress string
	Buyer        string
	Seller       string
	ListingRef   string
	GrossAmount  int64
	FeeBasisPts  int64
	Now          time.Time
	FundingWindow time.Duration
}

// NewRecord validates Open guards and builds the PendingFunding record.
// Guards: buyer != seller, amount > 0, 0 <= fee_bp <= 10000.
func NewRecord(p OpenParams) (*Record, error) {
	if p.Buyer == "" || p.Seller == "" {
		return nil, NewError(CodeInvalidParty, "buyer and seller are required")
	}
	if p.Buyer == p.Seller {
		return nil, NewError(CodeInvalidParty, "buyer and seller must differ")
	}

	fee, net, err := SplitFee(p.GrossAmount, p.FeeBasisPts)
	if err != nil {
		return nil, err
	}

	return &Record{
		EscrowID:       p.EscrowID,
		VaultAddress:   p.VaultAddress,
		Buyer:          p.Buyer,
		Seller:         p.Seller,
		ListingRef:     p.ListingRef,
		GrossAmount:    p.GrossAmount,
		FeeBasisPoints: p.FeeBasisPts,
		Fee:            fee,
		NetAmount:      net,
		Status:         StatusPendingFunding,
		CreatedAt:      p.Now,
		UpdatedAt:      p.Now,
		ExpiresAt:      p.Now.Add(p.FundingWindow),
	}, nil
}

// ValidateFund checks the Fund guard: only the buyer may fund, and only a
// PendingFunding escrow.
func ValidateFund(rec *Record, caller string) error {
	if rec.Status != StatusPendingFunding {
		return wrongStateFor(rec, StatusFunded)
	}
	if caller != rec.Buyer {
		return NewError(CodeUnauthorized, "only the buyer may fund")
	}
	return nil
}

// ValidateRelease checks the Release guard: caller must be the seller or
// the designated authority, and the escrow must be Funded. Delivery
// confirmation is an external precondition supplied by the marketplace
// layer; the core does not enforce it.
func ValidateRelease(rec *Record, caller, authority string) error {
	if rec.Status != StatusFunded {
		return wrongStateFor(rec, StatusReleased)
	}
	if caller != rec.Seller && !isAuthority(caller, authority) {
		return NewError(CodeUnauthorized, "only the seller or the settlement authority may release")
	}
	return CheckSplit(rec.GrossAmount, rec.Fee, rec.NetAmount)
}

// ValidateCancel checks the Cancel guard: caller must be the buyer or the
// designated authority, and the escrow must be Funded.
func ValidateCancel(rec *Record, caller, authority string) error {
	if rec.Status != StatusFunded {
		return wrongStateFor(rec, StatusCancelled)
	}
	if caller != rec.Buyer && !isAuthority(caller, authority) {
		return NewError(CodeUnauthorized, "only the buyer or the settlement authority may cancel")
	}
	return nil
}

// FundingLapsed reports whether a PendingFunding escrow has outlived its
// funding window. Expiry is lazy: checked on access, no background timer.
func FundingLapsed(rec *Record, now time.Time) bool {
	return rec.Status == StatusPendingFunding && !rec.ExpiresAt.IsZero() && now.After(rec.ExpiresAt)
}

func isAuthority(caller, authority string) bool {
	return authority != "" && caller == authority
}

// wrongStateFor distinguishes the two rejection shapes: attempting to
// settle an escrow that has already settled is a StateConflict whether
// the prior settlement was the sibling outcome or the same one with a
// different ref (re-fetch and decide); anything else is WrongState.
func wrongStateFor(rec *Record, attempted Status) *Error {
	settled := rec.Status == StatusReleased || rec.Status == StatusCancelled
	attemptsSettle := attempted == StatusReleased || attempted == StatusCancelled
	if settled && attemptsSettle {
		return NewError(CodeStateConflict,
			"escrow already settled as "+rec.Status.String())
	}
	return NewError(CodeWrongState,
		"cannot transition to "+attempted.String()+" from "+rec.Status.String())
}
