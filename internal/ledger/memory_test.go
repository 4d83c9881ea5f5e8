package ledger_test

import (
	"context"
	"errors"
	"testing"

	"EscrowCore/internal/ledger"
)

func seed(t *testing.T, l *ledger.MemoryLedger, acct ledger.AccountKey, amount int64) {
	t.Helper()
	err := l.Transfer(context.Background(), ledger.ExternalAccount("deposits"), acct, amount, "seed")
	if err != nil {
		t.Fatalf("seed %s: %v", acct.AccountPath(), err)
	}
}

func TestMemoryLedger_Transfer(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()

	alice := ledger.PartyAccount("alice")
	vault := ledger.VaultAccount("vault1abc")
	seed(t, l, alice, 1000)

	if err := l.Transfer(ctx, alice, vault, 400, "fund"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	got, _ := l.Balance(ctx, alice)
	if got != 600 {
		t.Errorf("alice balance = %d, want 600", got)
	}
	got, _ = l.Balance(ctx, vault)
	if got != 400 {
		t.Errorf("vault balance = %d, want 400", got)
	}
}

func TestMemoryLedger_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()

	alice := ledger.PartyAccount("alice")
	vault := ledger.VaultAccount("vault1abc")
	seed(t, l, alice, 100)

	err := l.Transfer(ctx, alice, vault, 101, "fund")
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("err = %v, want ErrInsufficientFunds", err)
	}

	// Exact balance is spendable.
	if err := l.Transfer(ctx, alice, vault, 100, "fund"); err != nil {
		t.Errorf("boundary transfer: %v", err)
	}
}

func TestMemoryLedger_InvalidTransfers(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()
	alice := ledger.PartyAccount("alice")

	if err := l.Transfer(ctx, alice, alice, 10, "self"); !errors.Is(err, ledger.ErrInvalidTransfer) {
		t.Errorf("self transfer: err = %v, want ErrInvalidTransfer", err)
	}
	if err := l.Transfer(ctx, alice, ledger.PartyAccount("bob"), 0, "zero"); !errors.Is(err, ledger.ErrInvalidTransfer) {
		t.Errorf("zero amount: err = %v, want ErrInvalidTransfer", err)
	}
	if err := l.Transfer(ctx, alice, ledger.PartyAccount("bob"), -5, "neg"); !errors.Is(err, ledger.ErrInvalidTransfer) {
		t.Errorf("negative amount: err = %v, want ErrInvalidTransfer", err)
	}
}

func TestMemoryLedger_ExternalMayGoNegative(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()

	deposits := ledger.ExternalAccount("deposits")
	alice := ledger.PartyAccount("alice")

	if err := l.Transfer(ctx, deposits, alice, 500, "deposit"); err != nil {
		t.Fatalf("boundary transfer: %v", err)
	}

	got, _ := l.Balance(ctx, deposits)
	if got != -500 {
		t.Errorf("deposits balance = %d, want -500", got)
	}
	if total := l.GlobalBalance(); total != 0 {
		t.Errorf("global balance = %d, want 0", total)
	}
}

func TestMemoryLedger_TransferBatch_Atomic(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()

	vault := ledger.VaultAccount("vault1abc")
	seller := ledger.PartyAccount("bob")
	feeSink := ledger.FeeSinkAccount("vault1fee")
	seed(t, l, vault, 1000)

	err := l.TransferBatch(ctx, []ledger.Leg{
		{From: vault, To: seller, Amount: 975},
		{From: vault, To: feeSink, Amount: 25},
	}, "release")
	if err != nil {
		t.Fatalf("TransferBatch: %v", err)
	}

	got, _ := l.Balance(ctx, vault)
	if got != 0 {
		t.Errorf("vault balance = %d, want 0", got)
	}
	got, _ = l.Balance(ctx, seller)
	if got != 975 {
		t.Errorf("seller balance = %d, want 975", got)
	}
	got, _ = l.Balance(ctx, feeSink)
	if got != 25 {
		t.Errorf("fee sink balance = %d, want 25", got)
	}
}

func TestMemoryLedger_TransferBatch_FailingLegAppliesNothing(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()

	vault := ledger.VaultAccount("vault1abc")
	seller := ledger.PartyAccount("bob")
	feeSink := ledger.FeeSinkAccount("vault1fee")
	seed(t, l, vault, 900) // one unit short of the full split

	err := l.TransferBatch(ctx, []ledger.Leg{
		{From: vault, To: seller, Amount: 875},
		{From: vault, To: feeSink, Amount: 26},
	}, "release")
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	got, _ := l.Balance(ctx, vault)
	if got != 900 {
		t.Errorf("vault balance after failed batch = %d, want 900", got)
	}
	got, _ = l.Balance(ctx, seller)
	if got != 0 {
		t.Errorf("seller balance after failed batch = %d, want 0", got)
	}
}

func TestMemoryLedger_ZeroSum(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()

	alice := ledger.PartyAccount("alice")
	bob := ledger.PartyAccount("bob")
	vault := ledger.VaultAccount("vault1abc")

	seed(t, l, alice, 1000)
	l.Transfer(ctx, alice, vault, 600, "fund")
	l.TransferBatch(ctx, []ledger.Leg{
		{From: vault, To: bob, Amount: 585},
		{From: vault, To: ledger.FeeSinkAccount("vault1fee"), Amount: 15},
	}, "release")

	if total := l.GlobalBalance(); total != 0 {
		t.Errorf("global balance = %d, want 0", total)
	}
	if len(l.Movements()) != 4 {
		t.Errorf("movement count = %d, want 4", len(l.Movements()))
	}
}
