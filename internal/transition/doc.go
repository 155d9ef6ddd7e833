// Package transition builds the proof inputs that move a user from one epoch to
// the next: a start bundle, one process bundle per attestation batch and a
// final bundle, linked by blinded checkpoints. Proving is delegated to an
// injected prover.Prover.
package transition
