// reputation.go - Reputation and attestation values.
//
// A Reputation is what a user holds per attester inside their user-state tree.
// An Attestation is an immutable delta an attester attaches to an epoch key.

package ledger

import (
	"fmt"
	"math/bits"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"repledger/internal/crypto"
	"repledger/internal/tree"
)

// Reputation is the per-attester state of a user.
type Reputation struct {
	PosRep   uint64
	NegRep   uint64
	Graffiti fr.Element
	SignUp   bool
}

// Hash is the user-state tree leaf of r.
func (r Reputation) Hash(h crypto.Hasher) fr.Element {
	return h.Hash(crypto.FromUint64(r.PosRep), crypto.FromUint64(r.NegRep), r.Graffiti, crypto.FromBool(r.SignUp))
}

// MaxReputationDelta bounds the counters of a single attestation.
const MaxReputationDelta = uint64(1)<<32 - 1

// Update folds an attestation into r. Counters add, graffiti is replaced only by a
// non-zero value and the sign-up flag never reverts. A counter that would pass
// 2^64-1 is an ErrPrecondition: the transition circuits add in the field and a
// wrapped native value could never be proved.
func (r Reputation) Update(a Attestation) (Reputation, error) {
	pos, carry := bits.Add64(r.PosRep, a.PosRep, 0)
	if carry != 0 {
		return r, fmt.Errorf("%w: positive reputation of attester %d overflows", ErrPrecondition, a.AttesterID)
	}
	neg, carry := bits.Add64(r.NegRep, a.NegRep, 0)
	if carry != 0 {
		return r, fmt.Errorf("%w: negative reputation of attester %d overflows", ErrPrecondition, a.AttesterID)
	}
	out := Reputation{
		PosRep:   pos,
		NegRep:   neg,
		Graffiti: r.Graffiti,
		SignUp:   r.SignUp || a.SignUp,
	}
	if !a.Graffiti.IsZero() {
		out.Graffiti = a.Graffiti
	}
	return out, nil
}

// Attestation is a reputation delta from one attester.
type Attestation struct {
	AttesterID uint64
	PosRep     uint64
	NegRep     uint64
	Graffiti   fr.Element
	SignUp     bool
}

// Hash is the value folded into an epoch key's hash chain.
func (a Attestation) Hash(h crypto.Hasher) fr.Element {
	return h.Hash(
		crypto.FromUint64(a.AttesterID),
		crypto.FromUint64(a.PosRep),
		crypto.FromUint64(a.NegRep),
		a.Graffiti,
		crypto.FromBool(a.SignUp),
	)
}

// HashChain folds attestation hashes in order, starting from zero.
func HashChain(h crypto.Hasher, atts []Attestation) fr.Element {
	var chain fr.Element
	for _, a := range atts {
		chain = h.HashLeftRight(a.Hash(h), chain)
	}
	return chain
}

// SealedLeaf is the epoch tree leaf of an epoch key with the given attestations.
func SealedLeaf(h crypto.Hasher, atts []Attestation) fr.Element {
	return crypto.SealLeaf(h, HashChain(h, atts))
}

// NewUserStateTree returns an empty user-state tree for p. Every untouched
// attester slot holds the hash of the zero Reputation.
func NewUserStateTree(p Params, h crypto.Hasher) *tree.SparseTree {
	return tree.NewSparse(p.UserStateTreeDepth, h, Reputation{}.Hash(h))
}

// NewEpochTree returns an empty epoch tree for p. Untouched keys hold the
// sealed leaf of an empty chain.
func NewEpochTree(p Params, h crypto.Hasher) *tree.SparseTree {
	return tree.NewSparse(p.EpochTreeDepth, h, SealedLeaf(h, nil))
}

// UserStateRoot computes the root of a user-state tree holding leaves.
func UserStateRoot(p Params, h crypto.Hasher, leaves map[uint64]Reputation) (fr.Element, error) {
	t := NewUserStateTree(p, h)
	for id, rep := range leaves {
		if err := t.Update(id, rep.Hash(h)); err != nil {
			return fr.Element{}, err
		}
	}
	return t.Root(), nil
}
