// Package ledger implements the ledger state replica of the reputation protocol.
//
// Overview:
//   - One Replica per ledger timeline; epochs start at 1 and advance only through SealEpoch
//   - Each epoch owns an append-only global state tree (with root history) and, once sealed, a sparse epoch tree
//   - A single write-once nullifier set spans all epochs
//   - Every mutator carries an Origin; re-delivered events return ErrStaleEvent and change nothing
//
// Snapshot and Restore give a JSON-serializable view for persistence and fast restart.
package ledger
