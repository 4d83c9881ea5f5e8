package vault_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"EscrowCore/internal/vault"
)

func TestDerive_Deterministic(t *testing.T) {
	id := uuid.MustParse("0190a1b2-c3d4-7000-8000-000000000001")

	a := vault.Derive(id)
	b := vault.Derive(id)
	if a != b {
		t.Errorf("same id derived two addresses: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "vault1") {
		t.Errorf("address %q missing vault1 prefix", a)
	}
	if len(a) != len("vault1")+40 {
		t.Errorf("address length = %d, want %d", len(a), len("vault1")+40)
	}
}

func TestDerive_DistinctPerEscrow(t *testing.T) {
	seen := make(map[string]uuid.UUID)
	for i := 0; i < 1000; i++ {
		id := uuid.New()
		addr := vault.Derive(id)
		if prev, ok := seen[addr]; ok {
			t.Fatalf("address collision: %s and %s both derive %q", prev, id, addr)
		}
		seen[addr] = id
	}
}

func TestFeeSink(t *testing.T) {
	a := vault.FeeSink()
	if a != vault.FeeSink() {
		t.Error("fee sink address not stable")
	}
	if !strings.HasPrefix(a, "vault1") {
		t.Errorf("fee sink %q missing vault1 prefix", a)
	}
	if a == vault.Derive(uuid.Nil) {
		t.Error("fee sink collides with the nil-id vault")
	}
}
