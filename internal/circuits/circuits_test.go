package circuits

import (
	"errors"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/test"
	"github.com/stretchr/testify/require"

	"repledger/internal/crypto"
	"repledger/internal/ledger"
	"repledger/internal/prover"
	"repledger/internal/tree"
)

// gadgetCircuit checks the gadgets against the native derivations.
type gadgetCircuit struct {
	A, B  frontend.Variable
	Hash  frontend.Variable `gnark:",public"`
	Leaf  frontend.Variable
	Index frontend.Variable
	Path  []frontend.Variable
	Root  frontend.Variable `gnark:",public"`

	IdentityNullifier frontend.Variable
	Epoch, Nonce      frontend.Variable
	EpochKey          frontend.Variable `gnark:",public"`
	Blinded           frontend.Variable `gnark:",public"`
}

const gadgetKeyDepth = 10

func (c *gadgetCircuit) Define(api frontend.API) error {
	api.AssertIsEqual(c.Hash, hash(api, c.A, c.B))
	api.AssertIsEqual(c.Root, merkleRoot(api, c.Leaf, indexBits(api, c.Index, len(c.Path)), c.Path))
	api.AssertIsEqual(c.EpochKey, api.FromBinary(epochKeyBits(api, c.IdentityNullifier, c.Epoch, c.Nonce, gadgetKeyDepth)...))
	api.AssertIsEqual(c.Blinded, blind(api, c.IdentityNullifier, c.A, c.Epoch, c.Nonce))
	return nil
}

func TestGadgetsMatchNative(t *testing.T) {
	h := crypto.MiMC{}
	a, b := crypto.FromUint64(3), crypto.FromUint64(4)

	st := tree.NewSparse(4, h, crypto.FromUint64(0))
	for i, v := range []uint64{9, 8, 7} {
		require.NoError(t, st.Update(uint64(i*5), crypto.FromUint64(v)))
	}
	proof, err := st.Proof(5)
	require.NoError(t, err)

	idN := crypto.FromUint64(1234)
	ek := crypto.EpochKey(h, idN, 7, 2, gadgetKeyDepth)

	circuit := &gadgetCircuit{Path: make([]frontend.Variable, 4)}
	assignment := &gadgetCircuit{
		A:                 crypto.Format(a),
		B:                 crypto.Format(b),
		Hash:              crypto.Format(h.Hash(a, b)),
		Leaf:              crypto.Format(st.Leaf(5)),
		Index:             5,
		Path:              make([]frontend.Variable, 4),
		Root:              crypto.Format(st.Root()),
		IdentityNullifier: crypto.Format(idN),
		Epoch:             7,
		Nonce:             2,
		EpochKey:          ek,
		Blinded:           crypto.Format(crypto.Blind(h, idN, a, 7, 2)),
	}
	for i, s := range proof.Siblings {
		assignment.Path[i] = crypto.Format(s)
	}
	require.NoError(t, test.IsSolved(circuit, assignment, ecc.BN254.ScalarField()))

	t.Run("WrongRoot", func(t *testing.T) {
		bad := *assignment
		bad.Root = crypto.Format(crypto.FromUint64(1))
		require.Error(t, test.IsSolved(circuit, &bad, ecc.BN254.ScalarField()))
	})
}

func TestNewShapes(t *testing.T) {
	p := ledger.DefaultParams()

	c, err := New(prover.ProcessAttestations, p)
	require.NoError(t, err)
	pa := c.(*ProcessAttestations)
	require.Len(t, pa.Selectors, p.AttestationsPerBatch)
	require.Len(t, pa.UserStatePaths[0], p.UserStateTreeDepth)

	c, err = New(prover.UserStateTransition, p)
	require.NoError(t, err)
	require.Len(t, c.(*UserStateTransition).EpochTreePaths, int(p.NumEpochKeyNoncePerEpoch))

	_, err = New("nope", p)
	require.True(t, errors.Is(err, prover.ErrUnknownCircuit))
}
