package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"EscrowCore/internal/escrow"
	"EscrowCore/internal/registry"
)

func openRecord(t *testing.T, r registry.Registry, buyer, seller string) *escrow.Record {
	t.Helper()
	rec, err := escrow.NewRecord(escrow.OpenParams{
		EscrowID:      uuid.New(),
		VaultAddress:  "vault1" + uuid.NewString(),
		Buyer:         buyer,
		Seller:        seller,
		GrossAmount:   1000,
		FeeBasisPts:   250,
		Now:           time.Now(),
		FundingWindow: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if err := r.Open(context.Background(), rec); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return rec
}

func TestMemoryRegistry_OpenAndGet(t *testing.T) {
	ctx := context.Background()
	r := registry.NewMemoryRegistry()
	rec := openRecord(t, r, "alice", "bob")

	got, err := r.Get(ctx, rec.EscrowID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != escrow.StatusPendingFunding || got.Buyer != "alice" {
		t.Errorf("got %+v", got)
	}

	if err := r.Open(ctx, rec); !errors.Is(err, registry.ErrDuplicate) {
		t.Errorf("duplicate open: err = %v, want ErrDuplicate", err)
	}

	if _, err := r.Get(ctx, uuid.New()); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("unknown id: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryRegistry_TransitionCAS(t *testing.T) {
	ctx := context.Background()
	r := registry.NewMemoryRegistry()
	rec := openRecord(t, r, "alice", "bob")

	updated, err := r.Transition(ctx, rec.EscrowID, escrow.StatusPendingFunding, escrow.StatusFunded,
		func(rec *escrow.Record) error {
			rec.FundingRef = "tx-1"
			return nil
		})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if updated.Status != escrow.StatusFunded || updated.FundingRef != "tx-1" {
		t.Errorf("got %+v", updated)
	}

	// Same expected status again: the CAS must reject.
	_, err = r.Transition(ctx, rec.EscrowID, escrow.StatusPendingFunding, escrow.StatusFunded, nil)
	if !errors.Is(err, registry.ErrConflict) {
		t.Errorf("stale expected status: err = %v, want ErrConflict", err)
	}
}

func TestMemoryRegistry_TransitionMutateFailureLeavesRecord(t *testing.T) {
	ctx := context.Background()
	r := registry.NewMemoryRegistry()
	rec := openRecord(t, r, "alice", "bob")

	boom := errors.New("boom")
	_, err := r.Transition(ctx, rec.EscrowID, escrow.StatusPendingFunding, escrow.StatusFunded,
		func(rec *escrow.Record) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	got, _ := r.Get(ctx, rec.EscrowID)
	if got.Status != escrow.StatusPendingFunding {
		t.Errorf("status = %s after failed mutate, want pending_funding", got.Status)
	}
}

func TestMemoryRegistry_TransitionLog(t *testing.T) {
	ctx := context.Background()
	r := registry.NewMemoryRegistry()
	rec := openRecord(t, r, "alice", "bob")

	r.Transition(ctx, rec.EscrowID, escrow.StatusPendingFunding, escrow.StatusFunded,
		func(rec *escrow.Record) error {
			rec.FundingRef = "tx-1"
			return nil
		})
	r.Transition(ctx, rec.EscrowID, escrow.StatusFunded, escrow.StatusReleased,
		func(rec *escrow.Record) error {
			rec.ReleaseRef = "tx-2"
			return nil
		})

	entries, err := r.Log(ctx, rec.EscrowID)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("log length = %d, want 3 (created + 2 transitions)", len(entries))
	}
	if entries[1].From != escrow.StatusPendingFunding || entries[1].To != escrow.StatusFunded || entries[1].Ref != "tx-1" {
		t.Errorf("entry 1 = %+v", entries[1])
	}
	if entries[2].From != escrow.StatusFunded || entries[2].To != escrow.StatusReleased || entries[2].Ref != "tx-2" {
		t.Errorf("entry 2 = %+v", entries[2])
	}
}

func TestMemoryRegistry_PartyIndexes(t *testing.T) {
	ctx := context.Background()
	r := registry.NewMemoryRegistry()

	openRecord(t, r, "alice", "bob")
	openRecord(t, r, "alice", "carol")
	openRecord(t, r, "dave", "bob")

	byBuyer, err := r.ListByBuyer(ctx, "alice")
	if err != nil {
		t.Fatalf("ListByBuyer: %v", err)
	}
	if len(byBuyer) != 2 {
		t.Errorf("alice buys = %d, want 2", len(byBuyer))
	}

	bySeller, err := r.ListBySeller(ctx, "bob")
	if err != nil {
		t.Fatalf("ListBySeller: %v", err)
	}
	if len(bySeller) != 2 {
		t.Errorf("bob sells = %d, want 2", len(bySeller))
	}

	none, _ := r.ListByBuyer(ctx, "nobody")
	if len(none) != 0 {
		t.Errorf("unknown buyer returned %d records", len(none))
	}
}
