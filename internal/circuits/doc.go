// Package circuits holds the gnark circuits that verify a user state transition
// over BN254 with MiMC: StartTransition, ProcessAttestations (one per batch) and
// UserStateTransition. Shapes depend on ledger.Params only; witnesses are
// produced by the transition package.
package circuits
