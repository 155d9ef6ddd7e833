package ledger

import (
	"errors"
	"math"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repledger/internal/crypto"
	"repledger/internal/tree"
)

var testHasher = crypto.MiMC{}

func testParams() Params {
	return Params{
		GlobalStateTreeDepth:     2,
		UserStateTreeDepth:       4,
		EpochTreeDepth:           8,
		NumEpochKeyNoncePerEpoch: 3,
		MaxReputationBudget:      5,
		AttestationsPerBatch:     5,
	}
}

func newTestReplica(t *testing.T) *Replica {
	t.Helper()
	r, err := NewReplica(testParams(), testHasher)
	require.NoError(t, err)
	return r
}

func el(v uint64) fr.Element { return crypto.FromUint64(v) }

func TestNewReplicaRejectsBadParams(t *testing.T) {
	p := testParams()
	p.NumEpochKeyNoncePerEpoch = 0
	_, err := NewReplica(p, testHasher)
	assert.Error(t, err)
}

func TestSignUp(t *testing.T) {
	t.Run("PlainSignUp", func(t *testing.T) {
		r := newTestReplica(t)
		idx, err := r.SignUp(1, el(100), 0, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), idx)
		assert.Equal(t, uint64(1), r.UserCount())
		assert.True(t, r.IsSignedUp(el(100)))

		emptyRoot := NewUserStateTree(testParams(), testHasher).Root()
		want := crypto.GlobalCommitment(testHasher, el(100), emptyRoot)
		got, err := r.GSTLeaf(1, 0)
		require.NoError(t, err)
		assert.True(t, got.Equal(&want))
	})

	t.Run("Airdrop", func(t *testing.T) {
		r := newTestReplica(t)
		_, err := r.SignUp(1, el(100), 1, 10, nil)
		require.NoError(t, err)

		ust := NewUserStateTree(testParams(), testHasher)
		require.NoError(t, ust.Update(1, Reputation{PosRep: 10, SignUp: true}.Hash(testHasher)))
		want := crypto.GlobalCommitment(testHasher, el(100), ust.Root())
		got, err := r.GSTLeaf(1, 0)
		require.NoError(t, err)
		assert.True(t, got.Equal(&want))
	})

	t.Run("AirdropLeavesTemplateEmpty", func(t *testing.T) {
		r := newTestReplica(t)
		_, err := r.SignUp(1, el(100), 1, 10, nil)
		require.NoError(t, err)
		idx, err := r.SignUp(1, el(101), 0, 0, nil)
		require.NoError(t, err)

		emptyRoot := NewUserStateTree(testParams(), testHasher).Root()
		want := crypto.GlobalCommitment(testHasher, el(101), emptyRoot)
		got, err := r.GSTLeaf(1, idx)
		require.NoError(t, err)
		assert.True(t, got.Equal(&want))
	})

	t.Run("CapacityExhausted", func(t *testing.T) {
		r := newTestReplica(t)
		for i := uint64(0); i < 4; i++ {
			_, err := r.SignUp(1, el(100+i), 0, 0, nil)
			require.NoError(t, err)
		}
		rootBefore, _ := r.GSTRoot(1)
		_, err := r.SignUp(1, el(200), 0, 0, nil)
		assert.True(t, errors.Is(err, ErrPrecondition))
		assert.Equal(t, uint64(4), r.UserCount())
		rootAfter, _ := r.GSTRoot(1)
		assert.True(t, rootBefore.Equal(&rootAfter))
	})

	t.Run("EveryRootRetained", func(t *testing.T) {
		r := newTestReplica(t)
		emptyRoot := NewUserStateTree(testParams(), testHasher).Root()
		var roots []fr.Element
		for i := uint64(0); i < testParams().GlobalStateTreeCapacity(); i++ {
			idx, err := r.SignUp(1, el(100+i), 0, 0, nil)
			require.NoError(t, err)
			root, err := r.GSTRoot(1)
			require.NoError(t, err)
			roots = append(roots, root)

			// the new commitment is provable under the root it produced
			proof, err := r.GSTProof(1, idx)
			require.NoError(t, err)
			leaf := crypto.GlobalCommitment(testHasher, el(100+i), emptyRoot)
			assert.True(t, tree.VerifyProof(testHasher, root, leaf, proof))

			for j, prev := range roots {
				ok, err := r.GSTRootExists(1, prev)
				require.NoError(t, err)
				assert.True(t, ok, "root after signup %d missing after signup %d", j, i)
			}
		}
		ok, err := r.GSTRootExists(1, el(12345))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("WrongEpoch", func(t *testing.T) {
		r := newTestReplica(t)
		_, err := r.SignUp(2, el(100), 0, 0, nil)
		assert.True(t, errors.Is(err, ErrPrecondition))
	})

	t.Run("Duplicate", func(t *testing.T) {
		r := newTestReplica(t)
		_, err := r.SignUp(1, el(100), 0, 0, nil)
		require.NoError(t, err)
		_, err = r.SignUp(1, el(100), 0, 0, nil)
		assert.True(t, errors.Is(err, ErrPrecondition))
		assert.Equal(t, uint64(1), r.UserCount())
	})

	t.Run("AttesterOutOfRange", func(t *testing.T) {
		r := newTestReplica(t)
		_, err := r.SignUp(1, el(100), 16, 5, nil)
		assert.True(t, errors.Is(err, ErrPrecondition))
		assert.Equal(t, uint64(0), r.UserCount())
	})
}

func TestOriginIdempotence(t *testing.T) {
	r := newTestReplica(t)
	_, err := r.SignUp(1, el(100), 0, 0, At(10, 0))
	require.NoError(t, err)
	root, _ := r.GSTRoot(1)

	// exact re-delivery
	_, err = r.SignUp(1, el(100), 0, 0, At(10, 0))
	assert.True(t, errors.Is(err, ErrStaleEvent))
	// older event
	err = r.AddAttestation(1, 3, Attestation{AttesterID: 1, PosRep: 1}, At(9, 7))
	assert.True(t, errors.Is(err, ErrStaleEvent))

	again, _ := r.GSTRoot(1)
	assert.True(t, root.Equal(&again))
	assert.Equal(t, uint64(1), r.UserCount())
	atts, err := r.Attestations(1, 3)
	require.NoError(t, err)
	assert.Empty(t, atts)

	// same block, later log index applies
	require.NoError(t, r.AddAttestation(1, 3, Attestation{AttesterID: 1, PosRep: 1}, At(10, 1)))
	o, ok := r.LatestOrigin()
	require.True(t, ok)
	assert.Equal(t, Origin{Block: 10, LogIndex: 1}, o)

	// a failed mutation does not advance the origin
	err = r.AddAttestation(1, 3, Attestation{AttesterID: 0}, At(11, 0))
	assert.True(t, errors.Is(err, ErrPrecondition))
	o, _ = r.LatestOrigin()
	assert.Equal(t, uint64(10), o.Block)
}

func TestAttestationsAndSeal(t *testing.T) {
	t.Run("SealWithoutAttestations", func(t *testing.T) {
		r := newTestReplica(t)
		require.NoError(t, r.SealEpoch(1, nil))
		assert.Equal(t, uint64(2), r.CurrentEpoch())

		root, err := r.EpochTreeRoot(1)
		require.NoError(t, err)
		want := NewEpochTree(testParams(), testHasher).Root()
		assert.True(t, root.Equal(&want))

		gst, err := r.GSTRoot(2)
		require.NoError(t, err)
		empty := tree.NewIncremental(testParams().GlobalStateTreeDepth, testHasher, fr.Element{}).Root()
		assert.True(t, gst.Equal(&empty))
	})

	t.Run("SealedLeavesAreHashChains", func(t *testing.T) {
		r := newTestReplica(t)
		a1 := Attestation{AttesterID: 1, PosRep: 5}
		a2 := Attestation{AttesterID: 2, NegRep: 1, Graffiti: el(9)}
		require.NoError(t, r.AddAttestation(1, 7, a1, nil))
		require.NoError(t, r.AddAttestation(1, 7, a2, nil))
		require.NoError(t, r.AddAttestation(1, 3, a1, nil))
		require.NoError(t, r.SealEpoch(1, nil))

		chain := testHasher.HashLeftRight(a2.Hash(testHasher), testHasher.HashLeftRight(a1.Hash(testHasher), fr.Element{}))
		want := crypto.SealLeaf(testHasher, chain)
		got, err := r.EpochTreeLeaf(1, 7)
		require.NoError(t, err)
		assert.True(t, got.Equal(&want))

		leaves, err := r.EpochTreeLeaves(1)
		require.NoError(t, err)
		require.Len(t, leaves, 2)
		assert.Equal(t, uint64(3), leaves[0].Index)
		assert.Equal(t, uint64(7), leaves[1].Index)

		root, _ := r.EpochTreeRoot(1)
		p, err := r.EpochTreeProof(1, 7)
		require.NoError(t, err)
		assert.True(t, tree.VerifyProof(testHasher, root, got, p))

		keys, err := r.AttestedKeys(1)
		require.NoError(t, err)
		assert.Equal(t, []uint64{3, 7}, keys)
	})

	t.Run("AttestationAfterSeal", func(t *testing.T) {
		r := newTestReplica(t)
		require.NoError(t, r.SealEpoch(1, nil))
		err := r.AddAttestation(1, 7, Attestation{AttesterID: 1}, nil)
		assert.True(t, errors.Is(err, ErrPrecondition))
	})

	t.Run("Validation", func(t *testing.T) {
		r := newTestReplica(t)
		assert.True(t, errors.Is(r.AddAttestation(1, 256, Attestation{AttesterID: 1}, nil), ErrPrecondition))
		assert.True(t, errors.Is(r.AddAttestation(1, 1, Attestation{AttesterID: 0}, nil), ErrPrecondition))
		assert.True(t, errors.Is(r.AddAttestation(1, 1, Attestation{AttesterID: 16}, nil), ErrPrecondition))
		assert.True(t, errors.Is(r.AddAttestation(2, 1, Attestation{AttesterID: 1}, nil), ErrPrecondition))
		assert.True(t, errors.Is(r.SealEpoch(2, nil), ErrPrecondition))
	})

	t.Run("UnsealedEpochHasNoTree", func(t *testing.T) {
		r := newTestReplica(t)
		_, err := r.EpochTreeRoot(1)
		assert.True(t, errors.Is(err, ErrPrecondition))
		_, err = r.GSTRoot(5)
		assert.True(t, errors.Is(err, ErrPrecondition))
	})

	t.Run("Prune", func(t *testing.T) {
		r := newTestReplica(t)
		require.NoError(t, r.AddAttestation(1, 7, Attestation{AttesterID: 1}, nil))
		require.NoError(t, r.SealEpoch(1, nil))
		assert.Equal(t, 1, r.PruneAttestations(2))
		_, err := r.Attestations(1, 7)
		assert.True(t, errors.Is(err, ErrPrecondition))
		_, err = r.EpochTreeRoot(1)
		assert.NoError(t, err)
	})
}

func TestNullifiers(t *testing.T) {
	r := newTestReplica(t)
	require.NoError(t, r.RecordNullifier(el(42), nil))
	assert.True(t, r.NullifierExists(el(42)))

	err := r.RecordNullifier(el(42), nil)
	assert.True(t, errors.Is(err, ErrDuplicateNullifier))
	assert.Equal(t, 1, r.NullifierCount())

	t.Run("BatchIsAtomic", func(t *testing.T) {
		err := r.RecordNullifiers([]fr.Element{el(1), el(42)}, nil)
		assert.True(t, errors.Is(err, ErrDuplicateNullifier))
		assert.False(t, r.NullifierExists(el(1)))

		err = r.RecordNullifiers([]fr.Element{el(2), el(2)}, nil)
		assert.True(t, errors.Is(err, ErrDuplicateNullifier))
		assert.False(t, r.NullifierExists(el(2)))
	})

	t.Run("ZeroSlotsSkipped", func(t *testing.T) {
		require.NoError(t, r.RecordNullifiers([]fr.Element{{}, el(3), {}}, nil))
		assert.True(t, r.NullifierExists(el(3)))
		assert.True(t, errors.Is(r.RecordNullifiers([]fr.Element{{}}, nil), ErrPrecondition))
	})
}

func TestSpendReputation(t *testing.T) {
	r := newTestReplica(t)
	require.NoError(t, r.SealEpoch(1, nil))

	require.NoError(t, r.SpendReputation(1, []fr.Element{el(1), {}}, At(1, 0)))
	require.NoError(t, r.SpendReputation(2, []fr.Element{el(2)}, At(1, 1)))
	assert.True(t, r.NullifierExists(el(1)))
	assert.True(t, r.NullifierExists(el(2)))

	cases := map[string]struct {
		epoch uint64
		batch []fr.Element
	}{
		"EpochZero":      {0, []fr.Element{el(3)}},
		"FutureEpoch":    {3, []fr.Element{el(3)}},
		"OverBudget":     {2, []fr.Element{el(3), el(4), el(5), el(6), el(7), el(8)}},
		"OnlyEmptySlots": {2, []fr.Element{{}, {}}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := r.SpendReputation(tc.epoch, tc.batch, At(2, 0))
			assert.True(t, errors.Is(err, ErrPrecondition))
			assert.False(t, r.NullifierExists(el(3)))
			latest, _ := r.LatestOrigin()
			assert.Equal(t, Origin{Block: 1, LogIndex: 1}, latest)
		})
	}

	err := r.SpendReputation(2, []fr.Element{el(9)}, At(1, 1))
	assert.True(t, errors.Is(err, ErrStaleEvent))
	assert.False(t, r.NullifierExists(el(9)))
}

func TestApplyTransition(t *testing.T) {
	setup := func(t *testing.T) *Replica {
		r := newTestReplica(t)
		_, err := r.SignUp(1, el(100), 0, 0, nil)
		require.NoError(t, err)
		require.NoError(t, r.SealEpoch(1, nil))
		return r
	}
	batch := []fr.Element{el(11), el(12), el(13)}

	t.Run("Applies", func(t *testing.T) {
		r := setup(t)
		gst, _ := r.GSTRoot(1)
		et, _ := r.EpochTreeRoot(1)
		idx, err := r.ApplyTransition(Transition{
			FromEpoch:           1,
			NewGlobalCommitment: el(999),
			Nullifiers:          batch,
			GSTRoot:             &gst,
			EpochTreeRoot:       &et,
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), idx)
		for _, n := range batch {
			assert.True(t, r.NullifierExists(n))
		}
		leaves, _ := r.GSTLeaves(2)
		require.Len(t, leaves, 1)
		want := el(999)
		assert.True(t, leaves[0].Equal(&want))
	})

	t.Run("WrongBatchSize", func(t *testing.T) {
		r := setup(t)
		_, err := r.ApplyTransition(Transition{FromEpoch: 1, NewGlobalCommitment: el(999), Nullifiers: batch[:2]}, nil)
		assert.True(t, errors.Is(err, ErrPrecondition))
		assert.False(t, r.NullifierExists(batch[0]))
	})

	t.Run("ReusedNullifier", func(t *testing.T) {
		r := setup(t)
		require.NoError(t, r.RecordNullifier(batch[2], nil))
		_, err := r.ApplyTransition(Transition{FromEpoch: 1, NewGlobalCommitment: el(999), Nullifiers: batch}, nil)
		assert.True(t, errors.Is(err, ErrDuplicateNullifier))
		assert.False(t, r.NullifierExists(batch[0]))
		leaves, _ := r.GSTLeaves(2)
		assert.Empty(t, leaves)
	})

	t.Run("FutureEpoch", func(t *testing.T) {
		r := setup(t)
		_, err := r.ApplyTransition(Transition{FromEpoch: 3, NewGlobalCommitment: el(999), Nullifiers: batch}, nil)
		assert.True(t, errors.Is(err, ErrPrecondition))
	})

	t.Run("RootMismatch", func(t *testing.T) {
		r := setup(t)
		bogus := el(5)
		_, err := r.ApplyTransition(Transition{FromEpoch: 1, NewGlobalCommitment: el(999), Nullifiers: batch, GSTRoot: &bogus}, nil)
		assert.True(t, errors.Is(err, ErrRootMismatch))
		_, err = r.ApplyTransition(Transition{FromEpoch: 1, NewGlobalCommitment: el(999), Nullifiers: batch, EpochTreeRoot: &bogus}, nil)
		assert.True(t, errors.Is(err, ErrRootMismatch))
		assert.Equal(t, 0, r.NullifierCount())
	})
}

func TestReputationUpdate(t *testing.T) {
	g := el(77)
	update := func(r Reputation, a Attestation) Reputation {
		t.Helper()
		out, err := r.Update(a)
		require.NoError(t, err)
		return out
	}
	r := Reputation{}
	r = update(r, Attestation{AttesterID: 1, PosRep: 5})
	r = update(r, Attestation{AttesterID: 1, PosRep: 3, Graffiti: g})
	assert.Equal(t, uint64(8), r.PosRep)
	assert.True(t, r.Graffiti.Equal(&g))

	// zero graffiti keeps the previous value
	r = update(r, Attestation{AttesterID: 1, NegRep: 2})
	assert.True(t, r.Graffiti.Equal(&g))
	assert.Equal(t, uint64(2), r.NegRep)

	// sign-up flag is sticky
	r = update(r, Attestation{AttesterID: 1, SignUp: true})
	r = update(r, Attestation{AttesterID: 1, SignUp: false})
	assert.True(t, r.SignUp)

	t.Run("Overflow", func(t *testing.T) {
		full := Reputation{PosRep: math.MaxUint64, NegRep: math.MaxUint64 - 1}
		_, err := full.Update(Attestation{AttesterID: 1, PosRep: 2})
		assert.True(t, errors.Is(err, ErrPrecondition))
		_, err = full.Update(Attestation{AttesterID: 1, NegRep: 2})
		assert.True(t, errors.Is(err, ErrPrecondition))

		out, err := full.Update(Attestation{AttesterID: 1, NegRep: 1})
		require.NoError(t, err)
		assert.Equal(t, uint64(math.MaxUint64), out.NegRep)
	})
}

func TestAttestationDeltaBound(t *testing.T) {
	r := newTestReplica(t)
	err := r.AddAttestation(1, 5, Attestation{AttesterID: 1, PosRep: MaxReputationDelta + 1}, nil)
	assert.True(t, errors.Is(err, ErrPrecondition))
	err = r.AddAttestation(1, 5, Attestation{AttesterID: 1, NegRep: math.MaxUint64}, At(1, 0))
	assert.True(t, errors.Is(err, ErrPrecondition))
	_, ok := r.LatestOrigin()
	assert.False(t, ok)

	require.NoError(t, r.AddAttestation(1, 5, Attestation{AttesterID: 1, PosRep: MaxReputationDelta}, nil))
	atts, err := r.Attestations(1, 5)
	require.NoError(t, err)
	assert.Len(t, atts, 1)
}
