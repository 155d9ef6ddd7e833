// circuits.go - Shape of the bundled circuits for a parameter set.

package circuits

import (
	"fmt"

	"github.com/consensys/gnark/frontend"

	"repledger/internal/ledger"
	"repledger/internal/prover"
)

// NewStartTransition allocates an unassigned start circuit for p.
func NewStartTransition(p ledger.Params) *StartTransition {
	return &StartTransition{GSTPath: make([]frontend.Variable, p.GlobalStateTreeDepth)}
}

// NewProcessAttestations allocates an unassigned batch circuit for p.
func NewProcessAttestations(p ledger.Params) *ProcessAttestations {
	b := p.AttestationsPerBatch
	c := &ProcessAttestations{
		Selectors:      make([]frontend.Variable, b),
		AttesterIDs:    make([]frontend.Variable, b),
		PosReps:        make([]frontend.Variable, b),
		NegReps:        make([]frontend.Variable, b),
		Graffities:     make([]frontend.Variable, b),
		SignUps:        make([]frontend.Variable, b),
		OldPosReps:     make([]frontend.Variable, b),
		OldNegReps:     make([]frontend.Variable, b),
		OldGraffities:  make([]frontend.Variable, b),
		OldSignUps:     make([]frontend.Variable, b),
		UserStatePaths: make([][]frontend.Variable, b),
	}
	for i := range c.UserStatePaths {
		c.UserStatePaths[i] = make([]frontend.Variable, p.UserStateTreeDepth)
	}
	return c
}

// NewUserStateTransition allocates an unassigned final circuit for p.
func NewUserStateTransition(p ledger.Params) *UserStateTransition {
	n := int(p.NumEpochKeyNoncePerEpoch)
	c := &UserStateTransition{
		BlindedHashChains: make([]frontend.Variable, n),
		Nullifiers:        make([]frontend.Variable, n),
		GSTPath:           make([]frontend.Variable, p.GlobalStateTreeDepth),
		HashChains:        make([]frontend.Variable, n),
		EpochTreePaths:    make([][]frontend.Variable, n),
	}
	for i := range c.EpochTreePaths {
		c.EpochTreePaths[i] = make([]frontend.Variable, p.EpochTreeDepth)
	}
	return c
}

// New allocates the unassigned circuit id for p, as needed by compilation.
func New(id prover.CircuitID, p ledger.Params) (frontend.Circuit, error) {
	switch id {
	case prover.StartTransition:
		return NewStartTransition(p), nil
	case prover.ProcessAttestations:
		return NewProcessAttestations(p), nil
	case prover.UserStateTransition:
		return NewUserStateTransition(p), nil
	default:
		return nil, fmt.Errorf("%w: %q", prover.ErrUnknownCircuit, id)
	}
}
