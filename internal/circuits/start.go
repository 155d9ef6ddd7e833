// start.go - Start of a user state transition.
//
// Proves that the prover owns a leaf of the global state tree of the epoch being
// left, and opens the blinded checkpoint chain at nonce 0 with that leaf's
// user-state root and an empty hash chain.

package circuits

import "github.com/consensys/gnark/frontend"

type StartTransition struct {
	// Public inputs
	Epoch            frontend.Variable `gnark:",public"`
	GSTRoot          frontend.Variable `gnark:",public"`
	BlindedUserState frontend.Variable `gnark:",public"`
	BlindedHashChain frontend.Variable `gnark:",public"`

	// Private inputs
	IdentityNullifier frontend.Variable
	IdentityTrapdoor  frontend.Variable
	UserStateRoot     frontend.Variable
	GSTIndex          frontend.Variable
	GSTPath           []frontend.Variable
}

func (c *StartTransition) Define(api frontend.API) error {
	// Step 1: Global state leaf membership
	commitment := hash(api, c.IdentityNullifier, c.IdentityTrapdoor)
	leaf := hashLeftRight(api, commitment, c.UserStateRoot)
	root := merkleRoot(api, leaf, indexBits(api, c.GSTIndex, len(c.GSTPath)), c.GSTPath)
	api.AssertIsEqual(c.GSTRoot, root)

	// Step 2: First checkpoint
	api.AssertIsEqual(c.BlindedUserState, blind(api, c.IdentityNullifier, c.UserStateRoot, c.Epoch, 0))
	api.AssertIsEqual(c.BlindedHashChain, blind(api, c.IdentityNullifier, 0, c.Epoch, 0))
	return nil
}
