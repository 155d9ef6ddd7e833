package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repledger/internal/crypto"
	"repledger/internal/ledger"
	"repledger/internal/metrics"
	"repledger/internal/prover/groth16"
)

func TestScenario(t *testing.T) {
	out, err := run(context.Background(), scenario{
		params:  scenarioParams(),
		epochs:  2,
		log:     zerolog.Nop(),
		metrics: metrics.New(),
	})
	require.NoError(t, err)

	t.Run("Ledger", func(t *testing.T) {
		assert.Equal(t, uint64(3), out.public.CurrentEpoch())
		assert.Equal(t, uint64(3), out.public.UserCount())
		// per epoch: two reputation nullifiers and two epoch key nullifiers per user
		assert.Equal(t, 16, out.public.NullifierCount())

		leaves, err := out.public.GSTLeaves(3)
		require.NoError(t, err)
		assert.Len(t, leaves, 3)
	})

	t.Run("Reputation", func(t *testing.T) {
		alice := out.users["alice"]
		assert.Equal(t, ledger.Reputation{PosRep: 20, SignUp: true}, alice.ReputationByAttester(attesterAirdrop))
		assert.Equal(t, ledger.Reputation{NegRep: 4, Graffiti: crypto.FromUint64(1002)}, alice.ReputationByAttester(attesterCritic))

		bob := out.users["bob"]
		assert.Equal(t, ledger.Reputation{PosRep: 6}, bob.ReputationByAttester(attesterPeer))
		assert.Len(t, bob.Leaves(), 1)

		carol := out.users["carol"]
		assert.Equal(t, ledger.Reputation{PosRep: 3, SignUp: true}, carol.ReputationByAttester(attesterCritic))
	})

	t.Run("ProjectionsMatchLedger", func(t *testing.T) {
		for name, u := range out.users {
			assert.Equal(t, uint64(3), u.LatestTransitionedEpoch(), name)

			ust, err := u.BuildUserStateTree()
			require.NoError(t, err)
			want := crypto.GlobalCommitment(crypto.MiMC{}, u.Commitment(), ust.Root())
			got, err := u.Replica().GSTLeaf(3, u.LatestGSTLeafIndex())
			require.NoError(t, err)
			assert.True(t, want.Equal(&got), name)

			// the user's own replica and the public one hold the same leaf
			public, err := out.public.GSTLeaf(3, u.LatestGSTLeafIndex())
			require.NoError(t, err)
			assert.True(t, public.Equal(&got), name)
		}
	})

	t.Run("SpentReputation", func(t *testing.T) {
		alice := out.users["alice"]
		for epoch := uint64(1); epoch <= 2; epoch++ {
			n, err := alice.ReputationNullifier(epoch, 0)
			require.NoError(t, err)
			assert.True(t, out.public.NullifierExists(n))
			n, err = alice.ReputationNullifier(epoch, 2)
			require.NoError(t, err)
			assert.False(t, out.public.NullifierExists(n))
		}
	})
}

func TestScenarioWithProofs(t *testing.T) {
	if testing.Short() {
		t.Skip("compiles and proves every circuit")
	}
	p := ledger.Params{
		GlobalStateTreeDepth:     2,
		UserStateTreeDepth:       2,
		EpochTreeDepth:           32,
		NumEpochKeyNoncePerEpoch: 2,
		MaxReputationBudget:      3,
		AttestationsPerBatch:     2,
	}
	m := metrics.New()
	backend := groth16.New(p, groth16.WithKeyDir(t.TempDir()), groth16.WithMetrics(m))

	out, err := run(context.Background(), scenario{
		params:  p,
		epochs:  1,
		prover:  backend,
		log:     zerolog.Nop(),
		metrics: m,
	})
	require.NoError(t, err)

	// start, final and at least one batch per nonce for each of three users
	assert.GreaterOrEqual(t, out.proofs, 3*4)
	assert.Equal(t, uint64(2), out.public.CurrentEpoch())
}
