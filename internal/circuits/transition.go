// transition.go - Final step of a user state transition.
//
// Binds the start and last process checkpoints, proves every epoch key's hash
// chain is the sealed leaf under the epoch tree root, and derives the new global
// state leaf and the epoch-key nullifiers.

package circuits

import "github.com/consensys/gnark/frontend"

type UserStateTransition struct {
	// Public inputs
	FromEpoch           frontend.Variable    `gnark:",public"`
	GSTRoot             frontend.Variable    `gnark:",public"`
	EpochTreeRoot       frontend.Variable    `gnark:",public"`
	BlindedUserStates   [2]frontend.Variable `gnark:",public"`
	BlindedHashChains   []frontend.Variable  `gnark:",public"`
	NewGlobalCommitment frontend.Variable    `gnark:",public"`
	Nullifiers          []frontend.Variable  `gnark:",public"`

	// Private inputs
	IdentityNullifier    frontend.Variable
	IdentityTrapdoor     frontend.Variable
	InitialUserStateRoot frontend.Variable
	FinalUserStateRoot   frontend.Variable
	GSTIndex             frontend.Variable
	GSTPath              []frontend.Variable
	HashChains           []frontend.Variable
	EpochTreePaths       [][]frontend.Variable
}

func (c *UserStateTransition) Define(api frontend.API) error {
	// Step 1: Global state leaf membership
	commitment := hash(api, c.IdentityNullifier, c.IdentityTrapdoor)
	leaf := hashLeftRight(api, commitment, c.InitialUserStateRoot)
	root := merkleRoot(api, leaf, indexBits(api, c.GSTIndex, len(c.GSTPath)), c.GSTPath)
	api.AssertIsEqual(c.GSTRoot, root)

	// Step 2: First and last user state checkpoints
	last := len(c.Nullifiers) - 1
	api.AssertIsEqual(c.BlindedUserStates[0], blind(api, c.IdentityNullifier, c.InitialUserStateRoot, c.FromEpoch, 0))
	api.AssertIsEqual(c.BlindedUserStates[1], blind(api, c.IdentityNullifier, c.FinalUserStateRoot, c.FromEpoch, last))

	// Step 3: Per epoch key
	for n := range c.Nullifiers {
		api.AssertIsEqual(c.BlindedHashChains[n], blind(api, c.IdentityNullifier, c.HashChains[n], c.FromEpoch, n))

		sealed := hashLeftRight(api, sealPrefix, c.HashChains[n])
		bits := epochKeyBits(api, c.IdentityNullifier, c.FromEpoch, n, len(c.EpochTreePaths[n]))
		api.AssertIsEqual(c.EpochTreeRoot, merkleRoot(api, sealed, bits, c.EpochTreePaths[n]))

		api.AssertIsEqual(c.Nullifiers[n], hash(api, epochKeyNullifierDomain, c.IdentityNullifier, c.FromEpoch, n))
	}

	// Step 4: New global state leaf
	api.AssertIsEqual(c.NewGlobalCommitment, hashLeftRight(api, commitment, c.FinalUserStateRoot))
	return nil
}
