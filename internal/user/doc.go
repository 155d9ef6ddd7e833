// Package user is the private projection of one identity over a ledger replica.
//
// A User sits in front of a *ledger.Replica on the event path. It forwards every
// event, and keeps the per-attester reputation leaves of its own identity in step
// with the commitments the ledger holds for it.
package user
