package ledger

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"repledger/internal/crypto"
	"repledger/internal/tree"
)

// Params returns the replica's parameters.
func (r *Replica) Params() Params { return r.params }

// Hasher returns the replica's hash collaborator.
func (r *Replica) Hasher() crypto.Hasher { return r.hasher }

// CurrentEpoch returns the epoch that accepts writes.
func (r *Replica) CurrentEpoch() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentEpoch
}

// UserCount returns the number of signed-up users.
func (r *Replica) UserCount() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userCount
}

// LatestOrigin returns the last applied origin, if any.
func (r *Replica) LatestOrigin() (Origin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest, r.hasLatest
}

// CheckOrigin returns ErrStaleEvent when origin is not after the last applied
// origin. A nil origin always passes.
func (r *Replica) CheckOrigin(origin *Origin) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkOrigin(origin)
}

// IsSignedUp reports whether an identity commitment has signed up.
func (r *Replica) IsSignedUp(identityCommitment fr.Element) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.commitments[crypto.Key(identityCommitment)]
	return ok
}

// NullifierExists reports whether n has been recorded.
func (r *Replica) NullifierExists(n fr.Element) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nullifiers[crypto.Key(n)]
	return ok
}

// NullifierCount returns the size of the nullifier set.
func (r *Replica) NullifierCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nullifiers)
}

// GSTRoot returns the current root of an epoch's global state tree.
func (r *Replica) GSTRoot(epoch uint64) (fr.Element, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	es, err := r.epochState(epoch)
	if err != nil {
		return fr.Element{}, err
	}
	return es.gst.Root(), nil
}

// GSTRootExists reports whether root was ever a root of the epoch's global state tree.
func (r *Replica) GSTRootExists(epoch uint64, root fr.Element) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	es, err := r.epochState(epoch)
	if err != nil {
		return false, err
	}
	_, ok := es.roots[crypto.Key(root)]
	return ok, nil
}

// GSTLeaves returns the epoch's global state leaves in insertion order.
func (r *Replica) GSTLeaves(epoch uint64) ([]fr.Element, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	es, err := r.epochState(epoch)
	if err != nil {
		return nil, err
	}
	return es.gst.Leaves(), nil
}

// GSTLeaf returns one leaf of the epoch's global state tree.
func (r *Replica) GSTLeaf(epoch, index uint64) (fr.Element, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	es, err := r.epochState(epoch)
	if err != nil {
		return fr.Element{}, err
	}
	l, err := es.gst.Leaf(index)
	if err != nil {
		return fr.Element{}, fmt.Errorf("%w: %v", ErrPrecondition, err)
	}
	return l, nil
}

// GSTProof returns the inclusion proof of a leaf of the epoch's global state tree.
func (r *Replica) GSTProof(epoch, index uint64) (tree.Proof, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	es, err := r.epochState(epoch)
	if err != nil {
		return tree.Proof{}, err
	}
	p, err := es.gst.Proof(index)
	if err != nil {
		return tree.Proof{}, fmt.Errorf("%w: %v", ErrPrecondition, err)
	}
	return p, nil
}

func (r *Replica) sealedEpoch(epoch uint64) (*epochState, error) {
	es, err := r.epochState(epoch)
	if err != nil {
		return nil, err
	}
	if !es.sealed {
		return nil, fmt.Errorf("%w: epoch %d not sealed", ErrPrecondition, epoch)
	}
	return es, nil
}

// EpochTreeRoot returns the frozen epoch tree root of a sealed epoch.
func (r *Replica) EpochTreeRoot(epoch uint64) (fr.Element, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	es, err := r.sealedEpoch(epoch)
	if err != nil {
		return fr.Element{}, err
	}
	return es.epochTree.Root(), nil
}

// EpochTreeLeaf returns the sealed leaf of an epoch key.
func (r *Replica) EpochTreeLeaf(epoch, epochKey uint64) (fr.Element, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	es, err := r.sealedEpoch(epoch)
	if err != nil {
		return fr.Element{}, err
	}
	if epochKey >= r.params.MaxEpochKey() {
		return fr.Element{}, fmt.Errorf("%w: epoch key %d out of range", ErrPrecondition, epochKey)
	}
	return es.epochTree.Leaf(epochKey), nil
}

// EpochTreeProof returns the inclusion proof of an epoch key in a sealed epoch.
func (r *Replica) EpochTreeProof(epoch, epochKey uint64) (tree.Proof, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	es, err := r.sealedEpoch(epoch)
	if err != nil {
		return tree.Proof{}, err
	}
	p, err := es.epochTree.Proof(epochKey)
	if err != nil {
		return tree.Proof{}, fmt.Errorf("%w: %v", ErrPrecondition, err)
	}
	return p, nil
}

// EpochTreeLeaves returns the non-default leaves of a sealed epoch, ascending by key.
func (r *Replica) EpochTreeLeaves(epoch uint64) ([]tree.Leaf, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	es, err := r.sealedEpoch(epoch)
	if err != nil {
		return nil, err
	}
	return es.epochTree.Leaves(), nil
}

// Attestations returns a copy of the attestations attached to an epoch key, in append order.
func (r *Replica) Attestations(epoch, epochKey uint64) ([]Attestation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	es, err := r.epochState(epoch)
	if err != nil {
		return nil, err
	}
	if es.pruned {
		return nil, fmt.Errorf("%w: attestations of epoch %d pruned", ErrPrecondition, epoch)
	}
	v, ok := es.attestations.Get(epochKey)
	if !ok {
		return nil, nil
	}
	list := v.([]Attestation)
	out := make([]Attestation, len(list))
	copy(out, list)
	return out, nil
}

// AttestedKeys returns the epoch keys that received attestations, ascending.
func (r *Replica) AttestedKeys(epoch uint64) ([]uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	es, err := r.epochState(epoch)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, es.attestations.Size())
	for _, k := range es.attestations.Keys() {
		out = append(out, k.(uint64))
	}
	return out, nil
}
