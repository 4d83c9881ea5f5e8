package ledger

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	// ScopeParty holds a marketplace participant's spendable balance.
	ScopeParty AccountScope = iota
	// ScopeVault holds one escrow's funds; addressed by derivation only.
	ScopeVault
	// ScopeSystem holds protocol accounts (the fee sink).
	ScopeSystem
	// ScopeExternal marks boundary accounts where value enters or leaves
	// the ledger (deposits, withdrawals). Boundary accounts may go
	// negative; they absorb the zero-sum counterweight.
	ScopeExternal
)

func (s AccountScope) String() string {
	switch s {
	case ScopeParty:
		return "party"
	case ScopeVault:
		return "vault"
	case ScopeSystem:
		return "system"
	case ScopeExternal:
		return "external"
	}
	return "unknown"
}

// AccountKey addresses one balance in the ledger.
type AccountKey struct {
	Scope AccountScope
	ID    string
}

// PartyAccount creates a key for a marketplace participant.
func PartyAccount(id string) AccountKey {
	return AccountKey{Scope: ScopeParty, ID: id}
}

// VaultAccount creates a key for a derived escrow vault address.
func VaultAccount(address string) AccountKey {
	return AccountKey{Scope: ScopeVault, ID: address}
}

// FeeSinkAccount creates the key for the protocol fee sink.
func FeeSinkAccount(address string) AccountKey {
	return AccountKey{Scope: ScopeSystem, ID: address}
}

// ExternalAccount creates a key for a boundary account.
func ExternalAccount(name string) AccountKey {
	return AccountKey{Scope: ScopeExternal, ID: name}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	return k.Scope.String() + ":" + k.ID
}
