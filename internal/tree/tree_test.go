package tree

import (
	"errors"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repledger/internal/crypto"
)

var testHasher = crypto.MiMC{}

func leaf(v uint64) fr.Element { return crypto.FromUint64(v) }

// naiveRoot hashes a full level array bottom-up.
func naiveRoot(h crypto.Hasher, leaves []fr.Element) fr.Element {
	level := leaves
	for len(level) > 1 {
		next := make([]fr.Element, len(level)/2)
		for i := range next {
			next[i] = h.HashLeftRight(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0]
}

func TestSparseTree(t *testing.T) {
	def := leaf(5)

	t.Run("EmptyRoot", func(t *testing.T) {
		st := NewSparse(3, testHasher, def)
		all := make([]fr.Element, 8)
		for i := range all {
			all[i] = def
		}
		want := naiveRoot(testHasher, all)
		got := st.Root()
		assert.True(t, got.Equal(&want))
	})

	t.Run("UpdateMatchesNaive", func(t *testing.T) {
		st := NewSparse(3, testHasher, def)
		all := make([]fr.Element, 8)
		for i := range all {
			all[i] = def
		}
		for _, i := range []uint64{6, 1, 3} {
			require.NoError(t, st.Update(i, leaf(100+i)))
			all[i] = leaf(100 + i)
		}
		want := naiveRoot(testHasher, all)
		got := st.Root()
		assert.True(t, got.Equal(&want))

		// overwrite in place
		require.NoError(t, st.Update(3, leaf(7)))
		all[3] = leaf(7)
		want = naiveRoot(testHasher, all)
		got = st.Root()
		assert.True(t, got.Equal(&want))
	})

	t.Run("Proofs", func(t *testing.T) {
		st := NewSparse(4, testHasher, def)
		require.NoError(t, st.Update(9, leaf(1)))
		require.NoError(t, st.Update(2, leaf(2)))
		for _, i := range []uint64{0, 2, 9, 15} {
			p, err := st.Proof(i)
			require.NoError(t, err)
			assert.True(t, VerifyProof(testHasher, st.Root(), st.Leaf(i), p), "index %d", i)
		}
		p, _ := st.Proof(9)
		assert.False(t, VerifyProof(testHasher, st.Root(), leaf(3), p))
	})

	t.Run("OutOfRange", func(t *testing.T) {
		st := NewSparse(2, testHasher, def)
		err := st.Update(4, leaf(1))
		assert.True(t, errors.Is(err, ErrIndexOutOfRange))
		_, err = st.Proof(4)
		assert.True(t, errors.Is(err, ErrIndexOutOfRange))
	})

	t.Run("CloneIsIndependent", func(t *testing.T) {
		st := NewSparse(3, testHasher, def)
		require.NoError(t, st.Update(1, leaf(1)))
		c := st.Clone()
		require.NoError(t, c.Update(2, leaf(2)))
		a, b := st.Root(), c.Root()
		assert.False(t, a.Equal(&b))
		assert.Len(t, st.Leaves(), 1)
		assert.Len(t, c.Leaves(), 2)
	})

	t.Run("LeavesSorted", func(t *testing.T) {
		st := NewSparse(4, testHasher, def)
		for _, i := range []uint64{12, 3, 7} {
			require.NoError(t, st.Update(i, leaf(i)))
		}
		ls := st.Leaves()
		require.Len(t, ls, 3)
		assert.Equal(t, []uint64{3, 7, 12}, []uint64{ls[0].Index, ls[1].Index, ls[2].Index})
	})
}

func TestIncrementalTree(t *testing.T) {
	t.Run("InsertAndProve", func(t *testing.T) {
		it := NewIncremental(3, testHasher, fr.Element{})
		for i := uint64(0); i < 5; i++ {
			idx, err := it.Insert(leaf(i + 1))
			require.NoError(t, err)
			assert.Equal(t, i, idx)
		}
		all := make([]fr.Element, 8)
		copy(all, it.Leaves())
		want := naiveRoot(testHasher, all)
		got := it.Root()
		assert.True(t, got.Equal(&want))

		for i := uint64(0); i < it.Len(); i++ {
			p, err := it.Proof(i)
			require.NoError(t, err)
			l, err := it.Leaf(i)
			require.NoError(t, err)
			assert.True(t, VerifyProof(testHasher, it.Root(), l, p))
		}
		_, err := it.Proof(5)
		assert.Error(t, err)
	})

	t.Run("Full", func(t *testing.T) {
		it := NewIncremental(1, testHasher, fr.Element{})
		_, err := it.Insert(leaf(1))
		require.NoError(t, err)
		_, err = it.Insert(leaf(2))
		require.NoError(t, err)
		_, err = it.Insert(leaf(3))
		assert.True(t, errors.Is(err, ErrTreeFull))
		assert.Equal(t, uint64(2), it.Len())
	})

	t.Run("BadDepthPanics", func(t *testing.T) {
		assert.Panics(t, func() { NewIncremental(0, testHasher, fr.Element{}) })
		assert.Panics(t, func() { NewSparse(MaxDepth+1, testHasher, fr.Element{}) })
	})
}
