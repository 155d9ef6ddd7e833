// bundle.go - Proof-input bundles of a user state transition.
//
// A transition is proved by one StartBundle, one ProcessBundle per batch and one
// FinalBundle. Consecutive bundles are linked by blinded checkpoints: the input
// checkpoint of each ProcessBundle equals the output checkpoint of the bundle
// before it.

package transition

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/google/uuid"

	"repledger/internal/ledger"
	"repledger/internal/tree"
)

// StartBundle proves the user's commitment is in the epoch's global state tree
// and opens the checkpoint chain at nonce 0.
type StartBundle struct {
	Epoch             uint64
	IdentityNullifier fr.Element
	IdentityTrapdoor  fr.Element
	UserStateRoot     fr.Element
	GSTRoot           fr.Element
	GSTProof          tree.Proof

	BlindedUserState fr.Element
	BlindedHashChain fr.Element
}

// Slot is one attestation position of a batch. A slot with Selector unset is
// padding: zero attestation, attester 0 and the path of index 0.
type Slot struct {
	Selector    bool
	Attestation ledger.Attestation
	Old         ledger.Reputation
	New         ledger.Reputation
	Path        tree.Proof
	Root        fr.Element // user-state root after the slot
}

// ProcessBundle folds one batch of attestations of a single epoch key into the
// user-state tree. FromNonce differs from ToNonce only on the first batch of a
// nonce above 0.
type ProcessBundle struct {
	Epoch             uint64
	IdentityNullifier fr.Element
	FromNonce         uint64
	ToNonce           uint64

	InputUserStateRoot     fr.Element
	InputHashChain         fr.Element
	InputBlindedUserState  fr.Element
	InputBlindedHashChain  fr.Element
	Slots                  []Slot
	OutputUserStateRoot    fr.Element
	OutputHashChain        fr.Element
	OutputBlindedUserState fr.Element
	OutputBlindedHashChain fr.Element
}

// Attestations returns the number of used slots.
func (b *ProcessBundle) Attestations() int {
	n := 0
	for _, s := range b.Slots {
		if s.Selector {
			n++
		}
	}
	return n
}

// FinalBundle closes the chain: it checks every sealed hash chain against the
// epoch tree and derives the new global commitment and the epoch key nullifiers.
type FinalBundle struct {
	FromEpoch         uint64
	IdentityNullifier fr.Element
	IdentityTrapdoor  fr.Element
	GSTRoot           fr.Element
	GSTProof          tree.Proof
	EpochTreeRoot     fr.Element

	InitialUserStateRoot fr.Element
	FinalUserStateRoot   fr.Element
	// blinded user state at nonce 0 before processing and at the last nonce after
	BlindedUserStates [2]fr.Element

	EpochKeys         []uint64
	HashChains        []fr.Element
	SealedHashChains  []fr.Element
	BlindedHashChains []fr.Element
	EpochTreeProofs   []tree.Proof

	NewGlobalCommitment fr.Element
	Nullifiers          []fr.Element
}

// Result is everything needed to prove and publish one transition.
type Result struct {
	ID        uuid.UUID
	FromEpoch uint64
	ToEpoch   uint64

	Start   StartBundle
	Process []ProcessBundle
	Final   FinalBundle

	Leaves              map[uint64]ledger.Reputation
	FinalRoot           fr.Element
	NewGlobalCommitment fr.Element
	Nullifiers          []fr.Element
}

// Transition is the ledger-visible outcome, carrying the roots the bundles were
// built against.
func (r *Result) Transition() ledger.Transition {
	gst, et := r.Final.GSTRoot, r.Final.EpochTreeRoot
	return ledger.Transition{
		FromEpoch:           r.FromEpoch,
		NewGlobalCommitment: r.NewGlobalCommitment,
		Nullifiers:          append([]fr.Element(nil), r.Nullifiers...),
		GSTRoot:             &gst,
		EpochTreeRoot:       &et,
	}
}
