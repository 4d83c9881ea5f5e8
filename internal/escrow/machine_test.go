package escrow_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"EscrowCore/internal/escrow"
)

func testRecord(t *testing.T, status escrow.Status) *escrow.Record {
	t.Helper()
	rec, err := escrow.NewRecord(escrow.OpenParams{
		EscrowID:      uuid.New(),
		VaultAddress:  "vault1deadbeef",
		Buyer:         "alice",
		Seller:        "bob",
		ListingRef:    "listing-42",
		GrossAmount:   1000,
		FeeBasisPts:   250,
		Now:           time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		FundingWindow: 72 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	rec.Status = status
	return rec
}

func TestNewRecord(t *testing.T) {
	rec := testRecord(t, escrow.StatusPendingFunding)

	if rec.Status != escrow.StatusPendingFunding {
		t.Errorf("status = %s, want pending_funding", rec.Status)
	}
	if rec.Fee != 25 || rec.NetAmount != 975 {
		t.Errorf("split = (%d, %d), want (25, 975)", rec.Fee, rec.NetAmount)
	}
	wantExpiry := rec.CreatedAt.Add(72 * time.Hour)
	if !rec.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expires_at = %v, want %v", rec.ExpiresAt, wantExpiry)
	}
}

func TestNewRecord_Rejections(t *testing.T) {
	base := escrow.OpenParams{
		EscrowID:      uuid.New(),
		VaultAddress:  "vault1deadbeef",
		Buyer:         "alice",
		Seller:        "bob",
		GrossAmount:   1000,
		FeeBasisPts:   250,
		Now:           time.Now(),
		FundingWindow: time.Hour,
	}

	tests := []struct {
		name     string
		mutate   func(*escrow.OpenParams)
		wantCode escrow.Code
	}{
		{"missing buyer", func(p *escrow.OpenParams) { p.Buyer = "" }, escrow.CodeInvalidParty},
		{"missing seller", func(p *escrow.OpenParams) { p.Seller = "" }, escrow.CodeInvalidParty},
		{"buyer equals seller", func(p *escrow.OpenParams) { p.Seller = "alice" }, escrow.CodeInvalidParty},
		{"non-positive amount", func(p *escrow.OpenParams) { p.GrossAmount = 0 }, escrow.CodeInvalidAmount},
		{"fee rate out of range", func(p *escrow.OpenParams) { p.FeeBasisPts = 10001 }, escrow.CodeInvalidFee},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			_, err := escrow.NewRecord(p)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := escrow.CodeOf(err); got != tt.wantCode {
				t.Errorf("error code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestValidateFund(t *testing.T) {
	rec := testRecord(t, escrow.StatusPendingFunding)

	if err := escrow.ValidateFund(rec, "alice"); err != nil {
		t.Errorf("buyer funding rejected: %v", err)
	}

	if err := escrow.ValidateFund(rec, "bob"); escrow.CodeOf(err) != escrow.CodeUnauthorized {
		t.Errorf("seller funding: code = %q, want unauthorized", escrow.CodeOf(err))
	}

	funded := testRecord(t, escrow.StatusFunded)
	if err := escrow.ValidateFund(funded, "alice"); escrow.CodeOf(err) != escrow.CodeWrongState {
		t.Errorf("funding a funded escrow: code = %q, want wrong_state", escrow.CodeOf(err))
	}
}

func TestValidateRelease(t *testing.T) {
	rec := testRecord(t, escrow.StatusFunded)

	if err := escrow.ValidateRelease(rec, "bob", "arbiter"); err != nil {
		t.Errorf("seller release rejected: %v", err)
	}
	if err := escrow.ValidateRelease(rec, "arbiter", "arbiter"); err != nil {
		t.Errorf("authority release rejected: %v", err)
	}
	if err := escrow.ValidateRelease(rec, "alice", "arbiter"); escrow.CodeOf(err) != escrow.CodeUnauthorized {
		t.Errorf("buyer release: code = %q, want unauthorized", escrow.CodeOf(err))
	}
	// Empty authority never matches an empty caller string.
	if err := escrow.ValidateRelease(rec, "", ""); escrow.CodeOf(err) != escrow.CodeUnauthorized {
		t.Errorf("empty caller with no authority: code = %q, want unauthorized", escrow.CodeOf(err))
	}

	pending := testRecord(t, escrow.StatusPendingFunding)
	if err := escrow.ValidateRelease(pending, "bob", ""); escrow.CodeOf(err) != escrow.CodeWrongState {
		t.Errorf("release before funding: code = %q, want wrong_state", escrow.CodeOf(err))
	}

	cancelled := testRecord(t, escrow.StatusCancelled)
	if err := escrow.ValidateRelease(cancelled, "bob", ""); escrow.CodeOf(err) != escrow.CodeStateConflict {
		t.Errorf("release after cancel: code = %q, want state_conflict", escrow.CodeOf(err))
	}

	// The second of two concurrent releases lands here too: same terminal
	// state, different ref. Still a conflict, not a wrong state.
	released := testRecord(t, escrow.StatusReleased)
	if err := escrow.ValidateRelease(released, "bob", ""); escrow.CodeOf(err) != escrow.CodeStateConflict {
		t.Errorf("release after release: code = %q, want state_conflict", escrow.CodeOf(err))
	}
}

func TestValidateCancel(t *testing.T) {
	rec := testRecord(t, escrow.StatusFunded)

	if err := escrow.ValidateCancel(rec, "alice", ""); err != nil {
		t.Errorf("buyer cancel rejected: %v", err)
	}
	if err := escrow.ValidateCancel(rec, "arbiter", "arbiter"); err != nil {
		t.Errorf("authority cancel rejected: %v", err)
	}
	if err := escrow.ValidateCancel(rec, "bob", ""); escrow.CodeOf(err) != escrow.CodeUnauthorized {
		t.Errorf("seller cancel: code = %q, want unauthorized", escrow.CodeOf(err))
	}

	released := testRecord(t, escrow.StatusReleased)
	if err := escrow.ValidateCancel(released, "alice", ""); escrow.CodeOf(err) != escrow.CodeStateConflict {
		t.Errorf("cancel after release: code = %q, want state_conflict", escrow.CodeOf(err))
	}

	cancelled := testRecord(t, escrow.StatusCancelled)
	if err := escrow.ValidateCancel(cancelled, "alice", ""); escrow.CodeOf(err) != escrow.CodeStateConflict {
		t.Errorf("cancel after cancel: code = %q, want state_conflict", escrow.CodeOf(err))
	}
}

func TestFundingLapsed(t *testing.T) {
	rec := testRecord(t, escrow.StatusPendingFunding)

	before := rec.ExpiresAt.Add(-time.Minute)
	after := rec.ExpiresAt.Add(time.Minute)

	if escrow.FundingLapsed(rec, before) {
		t.Error("lapsed before the deadline")
	}
	if !escrow.FundingLapsed(rec, after) {
		t.Error("not lapsed after the deadline")
	}

	funded := testRecord(t, escrow.StatusFunded)
	if escrow.FundingLapsed(funded, after) {
		t.Error("funded escrow reported lapsed")
	}
}
