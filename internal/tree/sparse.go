// Package tree implements the fixed-depth binary accumulators of the ledger.
//
// Internal nodes are cached per level (nodes[level][index]) and empty subtrees are
// represented by precomputed zero hashes, so both the append-only and the sparse
// variants update in O(depth) and never materialise the full tree.
//
// Trees are not safe for concurrent use; the owning replica or user state serialises access.
package tree

import (
	"errors"
	"fmt"
	"sort"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"repledger/internal/crypto"
)

// MaxDepth bounds tree depth so that indices fit in a uint64.
const MaxDepth = 63

var (
	ErrIndexOutOfRange = errors.New("tree: index out of range")
	ErrTreeFull        = errors.New("tree: full")
)

// Leaf is a populated position of a sparse tree.
type Leaf struct {
	Index uint64
	Value fr.Element
}

// SparseTree is an update-in-place tree over 2^depth positions, all of which
// start at the default leaf.
type SparseTree struct {
	depth  int
	hasher crypto.Hasher
	zeros  []fr.Element            // zeros[l] is the root of an empty subtree of height l
	nodes  []map[uint64]fr.Element // nodes[0] holds leaves, nodes[depth][0] the root
}

// NewSparse creates an empty sparse tree. It panics when depth is outside [1, MaxDepth].
func NewSparse(depth int, h crypto.Hasher, defaultLeaf fr.Element) *SparseTree {
	if depth < 1 || depth > MaxDepth {
		panic(fmt.Sprintf("tree: depth %d outside [1, %d]", depth, MaxDepth))
	}
	t := &SparseTree{
		depth:  depth,
		hasher: h,
		zeros:  make([]fr.Element, depth+1),
		nodes:  make([]map[uint64]fr.Element, depth+1),
	}
	t.zeros[0] = defaultLeaf
	for l := 1; l <= depth; l++ {
		t.zeros[l] = h.HashLeftRight(t.zeros[l-1], t.zeros[l-1])
	}
	for l := range t.nodes {
		t.nodes[l] = make(map[uint64]fr.Element)
	}
	return t
}

// Depth returns the number of levels below the root.
func (t *SparseTree) Depth() int { return t.depth }

// Capacity returns the number of leaf positions.
func (t *SparseTree) Capacity() uint64 { return uint64(1) << t.depth }

func (t *SparseTree) node(level int, index uint64) fr.Element {
	if v, ok := t.nodes[level][index]; ok {
		return v
	}
	return t.zeros[level]
}

// Update sets the leaf at index and rehashes its path to the root.
func (t *SparseTree) Update(index uint64, leaf fr.Element) error {
	if index >= t.Capacity() {
		return fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, t.Capacity())
	}
	cur := leaf
	idx := index
	for level := 0; level < t.depth; level++ {
		t.nodes[level][idx] = cur
		if idx%2 == 0 {
			cur = t.hasher.HashLeftRight(cur, t.node(level, idx+1))
		} else {
			cur = t.hasher.HashLeftRight(t.node(level, idx-1), cur)
		}
		idx /= 2
	}
	t.nodes[t.depth][0] = cur
	return nil
}

// Leaf returns the value at index, or the default leaf if it was never set.
func (t *SparseTree) Leaf(index uint64) fr.Element {
	return t.node(0, index)
}

// Root returns the current root.
func (t *SparseTree) Root() fr.Element {
	return t.node(t.depth, 0)
}

// Proof returns the sibling path of index against the current root.
func (t *SparseTree) Proof(index uint64) (Proof, error) {
	if index >= t.Capacity() {
		return Proof{}, fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, t.Capacity())
	}
	p := Proof{Index: index, Siblings: make([]fr.Element, t.depth)}
	idx := index
	for level := 0; level < t.depth; level++ {
		p.Siblings[level] = t.node(level, idx^1)
		idx /= 2
	}
	return p, nil
}

// Leaves returns every explicitly set position in ascending index order.
func (t *SparseTree) Leaves() []Leaf {
	out := make([]Leaf, 0, len(t.nodes[0]))
	for i, v := range t.nodes[0] {
		out = append(out, Leaf{Index: i, Value: v})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Index < out[b].Index })
	return out
}

// Clone returns an independent copy.
func (t *SparseTree) Clone() *SparseTree {
	c := &SparseTree{
		depth:  t.depth,
		hasher: t.hasher,
		zeros:  t.zeros,
		nodes:  make([]map[uint64]fr.Element, len(t.nodes)),
	}
	for l, m := range t.nodes {
		c.nodes[l] = make(map[uint64]fr.Element, len(m))
		for k, v := range m {
			c.nodes[l][k] = v
		}
	}
	return c
}
