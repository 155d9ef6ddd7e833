// assign.go - Circuit assignments from bundles.
//
// Field elements are assigned as decimal strings, small integers as uint64.

package transition

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/frontend"

	"repledger/internal/circuits"
	"repledger/internal/crypto"
	"repledger/internal/tree"
)

func element(e fr.Element) frontend.Variable { return crypto.Format(e) }

func flag(b bool) frontend.Variable {
	if b {
		return 1
	}
	return 0
}

func path(p tree.Proof) []frontend.Variable {
	out := make([]frontend.Variable, len(p.Siblings))
	for i, s := range p.Siblings {
		out[i] = element(s)
	}
	return out
}

// AssignStart assigns the start circuit.
func AssignStart(b *StartBundle) *circuits.StartTransition {
	return &circuits.StartTransition{
		Epoch:             b.Epoch,
		GSTRoot:           element(b.GSTRoot),
		BlindedUserState:  element(b.BlindedUserState),
		BlindedHashChain:  element(b.BlindedHashChain),
		IdentityNullifier: element(b.IdentityNullifier),
		IdentityTrapdoor:  element(b.IdentityTrapdoor),
		UserStateRoot:     element(b.UserStateRoot),
		GSTIndex:          b.GSTProof.Index,
		GSTPath:           path(b.GSTProof),
	}
}

// AssignProcess assigns one batch circuit.
func AssignProcess(b *ProcessBundle) *circuits.ProcessAttestations {
	n := len(b.Slots)
	c := &circuits.ProcessAttestations{
		InputBlindedUserState:  element(b.InputBlindedUserState),
		InputBlindedHashChain:  element(b.InputBlindedHashChain),
		OutputBlindedUserState: element(b.OutputBlindedUserState),
		OutputBlindedHashChain: element(b.OutputBlindedHashChain),
		Epoch:                  b.Epoch,
		IdentityNullifier:      element(b.IdentityNullifier),
		FromNonce:              b.FromNonce,
		ToNonce:                b.ToNonce,
		InputUserStateRoot:     element(b.InputUserStateRoot),
		InputHashChain:         element(b.InputHashChain),
		Selectors:              make([]frontend.Variable, n),
		AttesterIDs:            make([]frontend.Variable, n),
		PosReps:                make([]frontend.Variable, n),
		NegReps:                make([]frontend.Variable, n),
		Graffities:             make([]frontend.Variable, n),
		SignUps:                make([]frontend.Variable, n),
		OldPosReps:             make([]frontend.Variable, n),
		OldNegReps:             make([]frontend.Variable, n),
		OldGraffities:          make([]frontend.Variable, n),
		OldSignUps:             make([]frontend.Variable, n),
		UserStatePaths:         make([][]frontend.Variable, n),
	}
	for i, s := range b.Slots {
		c.Selectors[i] = flag(s.Selector)
		c.AttesterIDs[i] = s.Attestation.AttesterID
		c.PosReps[i] = s.Attestation.PosRep
		c.NegReps[i] = s.Attestation.NegRep
		c.Graffities[i] = element(s.Attestation.Graffiti)
		c.SignUps[i] = flag(s.Attestation.SignUp)
		c.OldPosReps[i] = s.Old.PosRep
		c.OldNegReps[i] = s.Old.NegRep
		c.OldGraffities[i] = element(s.Old.Graffiti)
		c.OldSignUps[i] = flag(s.Old.SignUp)
		c.UserStatePaths[i] = path(s.Path)
	}
	return c
}

// AssignFinal assigns the final circuit.
func AssignFinal(b *FinalBundle) *circuits.UserStateTransition {
	n := len(b.Nullifiers)
	c := &circuits.UserStateTransition{
		FromEpoch:     b.FromEpoch,
		GSTRoot:       element(b.GSTRoot),
		EpochTreeRoot: element(b.EpochTreeRoot),
		BlindedUserStates: [2]frontend.Variable{
			element(b.BlindedUserStates[0]),
			element(b.BlindedUserStates[1]),
		},
		BlindedHashChains:    make([]frontend.Variable, n),
		NewGlobalCommitment:  element(b.NewGlobalCommitment),
		Nullifiers:           make([]frontend.Variable, n),
		IdentityNullifier:    element(b.IdentityNullifier),
		IdentityTrapdoor:     element(b.IdentityTrapdoor),
		InitialUserStateRoot: element(b.InitialUserStateRoot),
		FinalUserStateRoot:   element(b.FinalUserStateRoot),
		GSTIndex:             b.GSTProof.Index,
		GSTPath:              path(b.GSTProof),
		HashChains:           make([]frontend.Variable, n),
		EpochTreePaths:       make([][]frontend.Variable, n),
	}
	for i := 0; i < n; i++ {
		c.BlindedHashChains[i] = element(b.BlindedHashChains[i])
		c.Nullifiers[i] = element(b.Nullifiers[i])
		c.HashChains[i] = element(b.HashChains[i])
		c.EpochTreePaths[i] = path(b.EpochTreeProofs[i])
	}
	return c
}
