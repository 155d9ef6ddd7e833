// process.go - One batch of attestations folded into the user state.
//
// A batch moves the blinded checkpoint from (root, chain, fromNonce) to
// (root', chain', toNonce). toNonce is fromNonce or fromNonce+1; in the second
// case the batch opens a new epoch key and its hash chain restarts at zero.
// Unused slots carry selector 0 and all-zero attestation fields.

package circuits

import "github.com/consensys/gnark/frontend"

type ProcessAttestations struct {
	// Public inputs
	InputBlindedUserState  frontend.Variable `gnark:",public"`
	InputBlindedHashChain  frontend.Variable `gnark:",public"`
	OutputBlindedUserState frontend.Variable `gnark:",public"`
	OutputBlindedHashChain frontend.Variable `gnark:",public"`

	// Private inputs
	Epoch              frontend.Variable
	IdentityNullifier  frontend.Variable
	FromNonce          frontend.Variable
	ToNonce            frontend.Variable
	InputUserStateRoot frontend.Variable
	InputHashChain     frontend.Variable

	Selectors   []frontend.Variable
	AttesterIDs []frontend.Variable
	PosReps     []frontend.Variable
	NegReps     []frontend.Variable
	Graffities  []frontend.Variable
	SignUps     []frontend.Variable

	OldPosReps    []frontend.Variable
	OldNegReps    []frontend.Variable
	OldGraffities []frontend.Variable
	OldSignUps    []frontend.Variable

	UserStatePaths [][]frontend.Variable
}

func (c *ProcessAttestations) Define(api frontend.API) error {
	// Step 1: Input checkpoint
	api.AssertIsEqual(c.InputBlindedUserState, blind(api, c.IdentityNullifier, c.InputUserStateRoot, c.Epoch, c.FromNonce))
	api.AssertIsEqual(c.InputBlindedHashChain, blind(api, c.IdentityNullifier, c.InputHashChain, c.Epoch, c.FromNonce))

	// Step 2: Nonce step is 0 or 1
	step := api.Sub(c.ToNonce, c.FromNonce)
	api.AssertIsBoolean(step)
	chain := api.Select(step, 0, c.InputHashChain)
	root := c.InputUserStateRoot

	// Step 3: Fold every slot
	depth := len(c.UserStatePaths[0])
	for i := range c.Selectors {
		sel := c.Selectors[i]
		api.AssertIsBoolean(sel)
		api.AssertIsBoolean(c.SignUps[i])
		api.AssertIsBoolean(c.OldSignUps[i])

		// unused slots carry no attestation
		off := api.Sub(1, sel)
		api.AssertIsEqual(api.Mul(off, c.AttesterIDs[i]), 0)
		api.AssertIsEqual(api.Mul(off, c.PosReps[i]), 0)
		api.AssertIsEqual(api.Mul(off, c.NegReps[i]), 0)
		api.AssertIsEqual(api.Mul(off, c.Graffities[i]), 0)
		api.AssertIsEqual(api.Mul(off, c.SignUps[i]), 0)

		bits := indexBits(api, c.AttesterIDs[i], depth)

		// old leaf is in the running root
		oldLeaf := reputationHash(api, c.OldPosReps[i], c.OldNegReps[i], c.OldGraffities[i], c.OldSignUps[i])
		oldRoot := merkleRoot(api, oldLeaf, bits, c.UserStatePaths[i])
		api.AssertIsEqual(api.Mul(sel, api.Sub(oldRoot, root)), 0)

		// apply the attestation; deltas fit 32 bits and counters 64 bits as on the ledger
		api.ToBinary(c.PosReps[i], deltaBits)
		api.ToBinary(c.NegReps[i], deltaBits)
		posRep := api.Add(c.OldPosReps[i], c.PosReps[i])
		negRep := api.Add(c.OldNegReps[i], c.NegReps[i])
		api.ToBinary(posRep, counterBits)
		api.ToBinary(negRep, counterBits)
		graffiti := api.Select(api.IsZero(c.Graffities[i]), c.OldGraffities[i], c.Graffities[i])
		newLeaf := reputationHash(api,
			posRep,
			negRep,
			graffiti,
			api.Or(c.OldSignUps[i], c.SignUps[i]),
		)
		newRoot := merkleRoot(api, newLeaf, bits, c.UserStatePaths[i])
		attHash := attestationHash(api, c.AttesterIDs[i], c.PosReps[i], c.NegReps[i], c.Graffities[i], c.SignUps[i])

		root = api.Select(sel, newRoot, root)
		chain = api.Select(sel, hashLeftRight(api, attHash, chain), chain)
	}

	// Step 4: Output checkpoint
	api.AssertIsEqual(c.OutputBlindedUserState, blind(api, c.IdentityNullifier, root, c.Epoch, c.ToNonce))
	api.AssertIsEqual(c.OutputBlindedHashChain, blind(api, c.IdentityNullifier, chain, c.Epoch, c.ToNonce))
	return nil
}
