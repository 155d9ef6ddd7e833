package tree

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"repledger/internal/crypto"
)

// Proof is a Merkle inclusion path. Siblings[0] is the leaf's sibling; bit i of
// Index tells whether the running node is the right child at level i.
type Proof struct {
	Index    uint64
	Siblings []fr.Element
}

// ComputeRoot folds leaf up the path.
func ComputeRoot(h crypto.Hasher, leaf fr.Element, p Proof) fr.Element {
	cur := leaf
	for level, sib := range p.Siblings {
		if (p.Index>>uint(level))&1 == 0 {
			cur = h.HashLeftRight(cur, sib)
		} else {
			cur = h.HashLeftRight(sib, cur)
		}
	}
	return cur
}

// VerifyProof reports whether leaf sits at p.Index under root.
func VerifyProof(h crypto.Hasher, root, leaf fr.Element, p Proof) bool {
	got := ComputeRoot(h, leaf, p)
	return got.Equal(&root)
}
