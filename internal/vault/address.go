package vault

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Vault addresses are a pure function of the escrow ID and a fixed
// program-level namespace constant, recomputable by any party without a
// lookup and without any stored secret. No private key exists for a vault;
// spending is authorized only by a registry-verified transition.

// Namespace is the program-level derivation domain. Changing it is a
// breaking change for every derived address.
const Namespace = "escrowcore/vault/v1"

const addressPrefix = "vault1"

// Derive computes the holding-account address for one escrow.
func Derive(escrowID uuid.UUID) string {
	h := sha256.New()
	h.Write([]byte(Namespace))
	h.Write([]byte{0x00})
	h.Write(escrowID[:])
	sum := h.Sum(nil)
	return addressPrefix + hex.EncodeToString(sum[:20])
}

// FeeSink computes the protocol fee collection address. Derived from the
// same namespace so it is equally recomputable and key-less.
func FeeSink() string {
	h := sha256.New()
	h.Write([]byte(Namespace))
	h.Write([]byte{0x01})
	h.Write([]byte("fee_sink"))
	sum := h.Sum(nil)
	return addressPrefix + hex.EncodeToString(sum[:20])
}
