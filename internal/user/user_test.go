package user

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repledger/internal/crypto"
	"repledger/internal/ledger"
)

var testHasher = crypto.MiMC{}

func testParams() ledger.Params {
	return ledger.Params{
		GlobalStateTreeDepth:     3,
		UserStateTreeDepth:       4,
		EpochTreeDepth:           32,
		NumEpochKeyNoncePerEpoch: 3,
		MaxReputationBudget:      5,
		AttestationsPerBatch:     2,
	}
}

func el(v uint64) fr.Element { return crypto.FromUint64(v) }

func testIdentity() crypto.Identity {
	return crypto.Identity{Nullifier: el(11), Trapdoor: el(12)}
}

func newTestUser(t *testing.T) *User {
	t.Helper()
	r, err := ledger.NewReplica(testParams(), testHasher)
	require.NoError(t, err)
	return New(r, testIdentity())
}

// ownTransition builds the transition the user would publish after folding
// leaves, from epoch 1.
func ownTransition(t *testing.T, u *User, leaves map[uint64]ledger.Reputation) ledger.Transition {
	t.Helper()
	root, err := ledger.UserStateRoot(testParams(), testHasher, leaves)
	require.NoError(t, err)
	return ledger.Transition{
		FromEpoch:           1,
		NewGlobalCommitment: crypto.GlobalCommitment(testHasher, u.Commitment(), root),
		Nullifiers:          u.EpochKeyNullifiers(1),
	}
}

func TestSignUpAirdrop(t *testing.T) {
	u := newTestUser(t)
	idx, err := u.SignUp(1, u.Commitment(), 7, 10, ledger.At(1, 0))
	require.NoError(t, err)

	assert.True(t, u.HasSignedUp())
	assert.Equal(t, uint64(1), u.LatestTransitionedEpoch())
	assert.Equal(t, idx, u.LatestGSTLeafIndex())
	assert.Equal(t, ledger.Reputation{PosRep: 10, SignUp: true}, u.ReputationByAttester(7))
	assert.Equal(t, ledger.Reputation{}, u.ReputationByAttester(3))

	// the projection's tree hashes to the leaf the replica inserted
	ust, err := u.BuildUserStateTree()
	require.NoError(t, err)
	want := crypto.GlobalCommitment(testHasher, u.Commitment(), ust.Root())
	got, err := u.Replica().GSTLeaf(1, idx)
	require.NoError(t, err)
	assert.True(t, want.Equal(&got))

	proof, err := u.GSTProof()
	require.NoError(t, err)
	assert.Equal(t, idx, proof.Index)
}

func TestSignUpOfOtherUser(t *testing.T) {
	u := newTestUser(t)
	_, err := u.SignUp(1, el(999), 7, 10, nil)
	require.NoError(t, err)
	assert.False(t, u.HasSignedUp())
	assert.Equal(t, uint64(1), u.Replica().UserCount())

	_, err = u.GSTProof()
	assert.True(t, errors.Is(err, ledger.ErrPrecondition))
}

func TestOwnTransition(t *testing.T) {
	graffiti := el(42)

	setup := func(t *testing.T) *User {
		u := newTestUser(t)
		_, err := u.SignUp(1, u.Commitment(), 0, 0, ledger.At(1, 0))
		require.NoError(t, err)
		keys := u.EpochKeys(1)
		require.NoError(t, u.AddAttestation(1, keys[0], ledger.Attestation{AttesterID: 3, PosRep: 5}, ledger.At(2, 0)))
		require.NoError(t, u.AddAttestation(1, keys[2], ledger.Attestation{AttesterID: 3, PosRep: 3, Graffiti: graffiti}, ledger.At(2, 1)))
		require.NoError(t, u.AddAttestation(1, keys[1], ledger.Attestation{AttesterID: 5, NegRep: 2, SignUp: true}, ledger.At(2, 2)))
		return u
	}
	expected := map[uint64]ledger.Reputation{
		3: {PosRep: 8, Graffiti: graffiti},
		5: {NegRep: 2, SignUp: true},
	}

	t.Run("WithSealCapture", func(t *testing.T) {
		u := setup(t)
		require.NoError(t, u.SealEpoch(1, ledger.At(3, 0)))
		require.NotNil(t, u.PendingAttestations(1))

		tr := ownTransition(t, u, expected)
		idx, err := u.ApplyTransition(tr, ledger.At(4, 0))
		require.NoError(t, err)

		assert.Equal(t, expected[3], u.ReputationByAttester(3))
		assert.Equal(t, expected[5], u.ReputationByAttester(5))
		assert.Equal(t, uint64(2), u.LatestTransitionedEpoch())
		assert.Equal(t, idx, u.LatestGSTLeafIndex())
		assert.Nil(t, u.PendingAttestations(1))

		leaf, err := u.Replica().GSTLeaf(2, idx)
		require.NoError(t, err)
		assert.True(t, leaf.Equal(&tr.NewGlobalCommitment))
		for _, n := range tr.Nullifiers {
			assert.True(t, u.Replica().NullifierExists(n))
		}
	})

	t.Run("WithoutSealCapture", func(t *testing.T) {
		u := setup(t)
		// sealed behind the projection's back
		require.NoError(t, u.Replica().SealEpoch(1, nil))
		assert.Nil(t, u.PendingAttestations(1))

		_, err := u.ApplyTransition(ownTransition(t, u, expected), nil)
		require.NoError(t, err)
		assert.Equal(t, expected[3], u.ReputationByAttester(3))
	})

	t.Run("WrongLeafRejected", func(t *testing.T) {
		u := setup(t)
		require.NoError(t, u.SealEpoch(1, nil))
		tr := ownTransition(t, u, map[uint64]ledger.Reputation{3: {PosRep: 9}})

		_, err := u.ApplyTransition(tr, nil)
		assert.True(t, errors.Is(err, ledger.ErrRootMismatch))
		assert.Equal(t, ledger.Reputation{}, u.ReputationByAttester(3))
		assert.Equal(t, uint64(1), u.LatestTransitionedEpoch())
		assert.Equal(t, 0, u.Replica().NullifierCount())
	})

	t.Run("StaleRedelivery", func(t *testing.T) {
		u := setup(t)
		require.NoError(t, u.SealEpoch(1, ledger.At(3, 0)))
		tr := ownTransition(t, u, expected)
		_, err := u.ApplyTransition(tr, ledger.At(4, 0))
		require.NoError(t, err)

		_, err = u.ApplyTransition(tr, ledger.At(4, 0))
		assert.True(t, errors.Is(err, ledger.ErrStaleEvent))
		assert.Equal(t, expected[3], u.ReputationByAttester(3))
		assert.Equal(t, uint64(2), u.LatestTransitionedEpoch())
		assert.Equal(t, 3, u.Replica().NullifierCount())

		// an older origin is stale as well
		_, err = u.ApplyTransition(tr, ledger.At(3, 5))
		assert.True(t, errors.Is(err, ledger.ErrStaleEvent))
	})

	t.Run("StaleSeal", func(t *testing.T) {
		u := setup(t)
		require.NoError(t, u.SealEpoch(1, ledger.At(3, 0)))
		require.NotNil(t, u.PendingAttestations(1))

		err := u.SealEpoch(1, ledger.At(3, 0))
		assert.True(t, errors.Is(err, ledger.ErrStaleEvent))
		assert.Equal(t, uint64(2), u.Replica().CurrentEpoch())
		assert.NotNil(t, u.PendingAttestations(1))
	})
}

func TestPartialNullifierMatchRejected(t *testing.T) {
	t.Run("ForeignEntry", func(t *testing.T) {
		u := newTestUser(t)
		_, err := u.SignUp(1, u.Commitment(), 0, 0, nil)
		require.NoError(t, err)
		require.NoError(t, u.SealEpoch(1, nil))

		batch := u.EpochKeyNullifiers(1)
		batch[2] = el(777)
		_, err = u.ApplyTransition(ledger.Transition{FromEpoch: 1, NewGlobalCommitment: el(1), Nullifiers: batch}, nil)
		assert.True(t, errors.Is(err, ledger.ErrPrecondition))
		assert.Equal(t, 0, u.Replica().NullifierCount())
	})

	t.Run("ShortBatch", func(t *testing.T) {
		u := newTestUser(t)
		_, err := u.SignUp(1, u.Commitment(), 0, 0, nil)
		require.NoError(t, err)
		require.NoError(t, u.SealEpoch(1, nil))

		batch := u.EpochKeyNullifiers(1)[:2]
		_, err = u.ApplyTransition(ledger.Transition{FromEpoch: 1, NewGlobalCommitment: el(1), Nullifiers: batch}, nil)
		assert.True(t, errors.Is(err, ledger.ErrPrecondition))
		assert.Equal(t, 0, u.Replica().NullifierCount())
		assert.Equal(t, uint64(1), u.LatestTransitionedEpoch())
	})
}

func TestForeignTransitionForwarded(t *testing.T) {
	u := newTestUser(t)
	_, err := u.SignUp(1, u.Commitment(), 7, 10, nil)
	require.NoError(t, err)
	require.NoError(t, u.SealEpoch(1, nil))

	tr := ledger.Transition{FromEpoch: 1, NewGlobalCommitment: el(555), Nullifiers: []fr.Element{el(1), el(2), el(3)}}
	idx, err := u.ApplyTransition(tr, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), idx)
	assert.Equal(t, uint64(1), u.LatestTransitionedEpoch())
	assert.Equal(t, ledger.Reputation{PosRep: 10, SignUp: true}, u.ReputationByAttester(7))
	assert.True(t, u.Replica().NullifierExists(el(2)))
}

func TestDerivedValues(t *testing.T) {
	u := newTestUser(t)
	p := testParams()

	keys := u.EpochKeys(4)
	require.Len(t, keys, int(p.NumEpochKeyNoncePerEpoch))
	for _, k := range keys {
		assert.Less(t, k, p.MaxEpochKey())
	}
	assert.NotEqual(t, keys, u.EpochKeys(5))

	n, err := u.ReputationNullifier(4, 0)
	require.NoError(t, err)
	want := crypto.ReputationNullifier(testHasher, testIdentity().Nullifier, 4, 0)
	assert.True(t, n.Equal(&want))

	_, err = u.ReputationNullifier(4, p.MaxReputationBudget)
	assert.True(t, errors.Is(err, ledger.ErrPrecondition))
}

func TestIdentityFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	id, err := crypto.NewIdentity()
	require.NoError(t, err)
	require.NoError(t, SaveIdentity(path, id))

	loaded, err := LoadIdentity(path)
	require.NoError(t, err)
	assert.True(t, loaded.Nullifier.Equal(&id.Nullifier))
	assert.True(t, loaded.Trapdoor.Equal(&id.Trapdoor))

	_, err = LoadIdentity(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
