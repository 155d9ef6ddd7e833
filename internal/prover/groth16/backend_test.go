package groth16

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repledger/internal/crypto"
	"repledger/internal/ledger"
	"repledger/internal/prover"
	"repledger/internal/transition"
	"repledger/internal/user"
)

// tinyParams keeps the circuits small enough for a full setup in a unit test.
func tinyParams() ledger.Params {
	return ledger.Params{
		GlobalStateTreeDepth:     1,
		UserStateTreeDepth:       2,
		EpochTreeDepth:           4,
		NumEpochKeyNoncePerEpoch: 1,
		MaxReputationBudget:      1,
		AttestationsPerBatch:     1,
	}
}

func tinyTransition(t *testing.T) *transition.Result {
	t.Helper()
	r, err := ledger.NewReplica(tinyParams(), crypto.MiMC{})
	require.NoError(t, err)
	u := user.New(r, crypto.Identity{Nullifier: crypto.FromUint64(5), Trapdoor: crypto.FromUint64(6)})
	_, err = u.SignUp(1, u.Commitment(), 1, 3, nil)
	require.NoError(t, err)
	require.NoError(t, u.AddAttestation(1, u.EpochKeys(1)[0], ledger.Attestation{AttesterID: 2, PosRep: 4}, nil))
	require.NoError(t, u.SealEpoch(1, nil))
	res, err := transition.New().Build(u)
	require.NoError(t, err)
	return res
}

func TestProveAndVerify(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup in short mode")
	}
	ctx := context.Background()
	res := tinyTransition(t)
	dir := t.TempDir()
	o := transition.New()

	b := New(tinyParams(), WithKeyDir(dir))
	proofs, err := o.Prove(ctx, b, res)
	require.NoError(t, err)
	require.NoError(t, o.Verify(ctx, b, proofs))

	t.Run("TamperedSignals", func(t *testing.T) {
		bad := *proofs.Final
		other := *proofs.Start
		bad.PublicSignals = other.PublicSignals
		ok, err := b.Verify(ctx, &bad)
		if err == nil {
			assert.False(t, ok)
		}
	})

	t.Run("KeysReloaded", func(t *testing.T) {
		reloaded := New(tinyParams(), WithKeyDir(dir))
		require.NoError(t, o.Verify(ctx, reloaded, proofs))
	})

	t.Run("UnknownCircuit", func(t *testing.T) {
		_, err := b.Verify(ctx, &prover.Proof{Circuit: "nope"})
		assert.True(t, errors.Is(err, prover.ErrUnknownCircuit))
	})
}

func TestKeyName(t *testing.T) {
	a := New(tinyParams()).keyName(prover.StartTransition)
	p := tinyParams()
	p.GlobalStateTreeDepth = 2
	b := New(p).keyName(prover.StartTransition)
	assert.NotEqual(t, a, b)
}
