// prover.go - Prover collaborator interface.
//
// The transition orchestrator hands fully assigned circuits to a Prover in a
// fixed order and never inspects the proofs it gets back. Proofs and public
// signals are opaque bytes so they can be stored and sent as-is.

package prover

import (
	"context"
	"errors"

	"github.com/consensys/gnark/frontend"
)

// CircuitID names one of the bundled circuits.
type CircuitID string

const (
	StartTransition     CircuitID = "startTransition"
	ProcessAttestations CircuitID = "processAttestations"
	UserStateTransition CircuitID = "userStateTransition"
)

// Circuits lists every circuit id in proving order.
var Circuits = []CircuitID{StartTransition, ProcessAttestations, UserStateTransition}

var (
	ErrUnknownCircuit = errors.New("unknown circuit")
	ErrInvalidProof   = errors.New("invalid proof")
)

// Proof is a proof together with the public signals it was produced for.
type Proof struct {
	Circuit       CircuitID `json:"circuit"`
	Proof         []byte    `json:"proof"`
	PublicSignals []byte    `json:"publicSignals"`
}

// Prover proves and verifies assignments of the bundled circuits.
type Prover interface {
	Prove(ctx context.Context, id CircuitID, assignment frontend.Circuit) (*Proof, error)
	Verify(ctx context.Context, proof *Proof) (bool, error)
}

// Known reports whether id is a bundled circuit.
func Known(id CircuitID) bool {
	for _, c := range Circuits {
		if c == id {
			return true
		}
	}
	return false
}
