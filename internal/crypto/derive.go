// derive.go - Protocol derivations: identities, epoch keys, blinding and nullifiers.
//
// These are the only places where the identity nullifier is mixed into public values.
// The bundled circuits recompute each of them with the same argument order.

package crypto

import (
	"encoding/binary"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Domain separators for the two nullifier families.
const (
	EpochKeyNullifierDomain   = 1
	ReputationNullifierDomain = 2
)

// Identity is a user's secret pair. Commitment(h) is the only public image of it.
type Identity struct {
	Nullifier fr.Element
	Trapdoor  fr.Element
}

// NewIdentity samples a fresh identity.
func NewIdentity() (Identity, error) {
	n, err := RandomElement()
	if err != nil {
		return Identity{}, err
	}
	t, err := RandomElement()
	if err != nil {
		return Identity{}, err
	}
	return Identity{Nullifier: n, Trapdoor: t}, nil
}

// Commitment is H(nullifier, trapdoor).
func (id Identity) Commitment(h Hasher) fr.Element {
	return h.Hash(id.Nullifier, id.Trapdoor)
}

// EpochKey derives the per-epoch pseudonym for nonce:
// H(identityNullifier, epoch, nonce) mod 2^depth. depth must be at most 64.
func EpochKey(h Hasher, identityNullifier fr.Element, epoch, nonce uint64, depth int) uint64 {
	d := h.Hash(identityNullifier, FromUint64(epoch), FromUint64(nonce))
	b := d.Bytes()
	v := binary.BigEndian.Uint64(b[24:])
	if depth >= 64 {
		return v
	}
	return v & (uint64(1)<<depth - 1)
}

// Blind hides value behind the identity for a given epoch and nonce.
func Blind(h Hasher, identityNullifier, value fr.Element, epoch, nonce uint64) fr.Element {
	return h.Hash(identityNullifier, value, FromUint64(epoch), FromUint64(nonce))
}

// EpochKeyNullifier marks an epoch key as consumed by a transition.
func EpochKeyNullifier(h Hasher, identityNullifier fr.Element, epoch, nonce uint64) fr.Element {
	return h.Hash(FromUint64(EpochKeyNullifierDomain), identityNullifier, FromUint64(epoch), FromUint64(nonce))
}

// ReputationNullifier marks one unit of reputation as spent.
func ReputationNullifier(h Hasher, identityNullifier fr.Element, epoch, nonce uint64) fr.Element {
	return h.Hash(FromUint64(ReputationNullifierDomain), identityNullifier, FromUint64(epoch), FromUint64(nonce))
}

// GlobalCommitment binds an identity to a user-state root.
func GlobalCommitment(h Hasher, identityCommitment, userStateRoot fr.Element) fr.Element {
	return h.HashLeftRight(identityCommitment, userStateRoot)
}

// SealLeaf closes an attestation hash chain into an epoch tree leaf.
func SealLeaf(h Hasher, chain fr.Element) fr.Element {
	return h.HashLeftRight(FromUint64(1), chain)
}
