package tree

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"repledger/internal/crypto"
)

// IncrementalTree is an append-only tree: leaves are inserted at the next free
// position and never change afterwards.
type IncrementalTree struct {
	sparse *SparseTree
	leaves []fr.Element
}

// NewIncremental creates an empty append-only tree whose unused positions hold zero.
func NewIncremental(depth int, h crypto.Hasher, zero fr.Element) *IncrementalTree {
	return &IncrementalTree{sparse: NewSparse(depth, h, zero)}
}

// Insert appends leaf and returns its index.
func (t *IncrementalTree) Insert(leaf fr.Element) (uint64, error) {
	index := uint64(len(t.leaves))
	if index >= t.sparse.Capacity() {
		return 0, fmt.Errorf("%w: capacity %d", ErrTreeFull, t.sparse.Capacity())
	}
	if err := t.sparse.Update(index, leaf); err != nil {
		return 0, err
	}
	t.leaves = append(t.leaves, leaf)
	return index, nil
}

// Len returns the number of inserted leaves.
func (t *IncrementalTree) Len() uint64 { return uint64(len(t.leaves)) }

// Capacity returns the maximum number of leaves.
func (t *IncrementalTree) Capacity() uint64 { return t.sparse.Capacity() }

// Root returns the current root.
func (t *IncrementalTree) Root() fr.Element { return t.sparse.Root() }

// Leaf returns the leaf at index.
func (t *IncrementalTree) Leaf(index uint64) (fr.Element, error) {
	if index >= t.Len() {
		return fr.Element{}, fmt.Errorf("%w: %d >= %d leaves", ErrIndexOutOfRange, index, t.Len())
	}
	return t.leaves[index], nil
}

// Leaves returns a copy of the inserted leaves in insertion order.
func (t *IncrementalTree) Leaves() []fr.Element {
	out := make([]fr.Element, len(t.leaves))
	copy(out, t.leaves)
	return out
}

// Proof returns the inclusion proof of an inserted leaf.
func (t *IncrementalTree) Proof(index uint64) (Proof, error) {
	if index >= t.Len() {
		return Proof{}, fmt.Errorf("%w: %d >= %d leaves", ErrIndexOutOfRange, index, t.Len())
	}
	return t.sparse.Proof(index)
}
