package escrow

import (
	fpmath "EscrowCore/internal/math"
)

// MaxFeeBasisPoints is the full-amount fee rate (10000 = 100%).
const MaxFeeBasisPoints = 10_000

// SplitFee computes the protocol fee and seller net for a gross amount.
// Integer-only basis-point arithmetic, rounding toward the protocol (floor).
// The returned split always satisfies fee + net == gross and 0 <= fee <= gross;
// callers must verify the invariant holds before issuing any transfer.
func SplitFee(gross, feeBasisPoints int64) (fee, net int64, err error) {
	if gross <= 0 {
		return 0, 0, NewError(CodeInvalidAmount, "gross amount must be positive")
	}
	if feeBasisPoints < 0 || feeBasisPoints > MaxFeeBasisPoints {
		return 0, 0, NewError(CodeInvalidFee, "fee basis points out of range")
	}

	// int128 intermediate: gross * feeBps can exceed 63 bits
	fee = fpmath.MulDivFloor(gross, feeBasisPoints, MaxFeeBasisPoints)
	net = gross - fee

	if fee < 0 || fee > gross || fee+net != gross {
		// Unreachable with the guards above; kept as the pre-transfer check
		// the split contract requires.
		return 0, 0, NewError(CodeInvalidFee, "fee split violates fee + net == gross")
	}
	return fee, net, nil
}

// CheckSplit re-validates a stored split against its gross amount.
// Used immediately before a settlement transfer is issued.
func CheckSplit(gross, fee, net int64) error {
	if fee < 0 || net < 0 || fee+net != gross {
		return NewError(CodeInvalidFee, "stored fee split violates fee + net == gross")
	}
	return nil
}
