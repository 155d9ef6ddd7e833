// events.go - Event handlers of the user projection.
//
// Each handler has the replica's signature so a User can stand in for the replica
// as the sink of the event stream.

package user

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"repledger/internal/crypto"
	"repledger/internal/ledger"
)

// SignUp mirrors a signup into the replica and, when the commitment is ours,
// records the user's leaf and initial reputation.
func (u *User) SignUp(epoch uint64, identityCommitment fr.Element, attesterID, airdrop uint64, origin *ledger.Origin) (uint64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	idx, err := u.replica.SignUp(epoch, identityCommitment, attesterID, airdrop, origin)
	if err != nil {
		return 0, err
	}
	if !identityCommitment.Equal(&u.commit) {
		return idx, nil
	}

	u.hasSignedUp = true
	u.latestTransitionedEpoch = epoch
	u.latestGSTLeafIndex = idx
	u.leaves = make(map[uint64]ledger.Reputation)
	if attesterID != 0 && airdrop != 0 {
		u.leaves[attesterID] = ledger.Reputation{PosRep: airdrop, SignUp: true}
	}
	u.log.Info().Uint64("epoch", epoch).Uint64("leaf_index", idx).Msg("signed up")
	return idx, nil
}

// AddAttestation forwards to the replica.
func (u *User) AddAttestation(epoch, epochKey uint64, att ledger.Attestation, origin *ledger.Origin) error {
	return u.replica.AddAttestation(epoch, epochKey, att, origin)
}

// SpendReputation forwards to the replica.
func (u *User) SpendReputation(epoch uint64, batch []fr.Element, origin *ledger.Origin) error {
	return u.replica.SpendReputation(epoch, batch, origin)
}

// SealEpoch captures the attestations of the user's epoch keys when the sealed
// epoch is the one the user must transition from, then seals the replica.
func (u *User) SealEpoch(epoch uint64, origin *ledger.Origin) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.replica.CheckOrigin(origin); err != nil {
		return err
	}
	var captured [][]ledger.Attestation
	if u.hasSignedUp && epoch == u.latestTransitionedEpoch && epoch == u.replica.CurrentEpoch() {
		keys := u.EpochKeys(epoch)
		captured = make([][]ledger.Attestation, len(keys))
		for n, k := range keys {
			atts, err := u.replica.Attestations(epoch, k)
			if err != nil {
				return err
			}
			captured[n] = atts
		}
	}

	if err := u.replica.SealEpoch(epoch, origin); err != nil {
		return err
	}
	if captured != nil {
		u.pending = captured
		u.pendingEpoch = epoch
	}
	return nil
}

// ApplyTransition applies a transition. When its nullifiers are exactly the
// user's epoch-key nullifiers of FromEpoch, the transition is the user's own:
// the new leaf is recomputed locally and must match before anything is applied.
// A batch that only partly matches is a protocol violation and is rejected.
func (u *User) ApplyTransition(t ledger.Transition, origin *ledger.Origin) (uint64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	// a redelivered event is stale before it is ours or foreign
	if err := u.replica.CheckOrigin(origin); err != nil {
		return 0, err
	}
	if !u.hasSignedUp {
		return u.replica.ApplyTransition(t, origin)
	}

	own := make(map[[32]byte]struct{})
	for _, n := range u.EpochKeyNullifiers(t.FromEpoch) {
		own[crypto.Key(n)] = struct{}{}
	}
	matched := 0
	for i := range t.Nullifiers {
		if _, ok := own[crypto.Key(t.Nullifiers[i])]; ok {
			matched++
		}
	}
	switch {
	case matched == 0:
		return u.replica.ApplyTransition(t, origin)
	case matched != len(own) || len(t.Nullifiers) != len(own):
		u.log.Warn().Uint64("from_epoch", t.FromEpoch).Int("matched", matched).Int("batch", len(t.Nullifiers)).
			Msg("transition batch partially matches own epoch keys")
		return 0, fmt.Errorf("%w: %d of %d nullifiers match own epoch keys", ledger.ErrPrecondition, matched, len(t.Nullifiers))
	}
	if t.FromEpoch != u.latestTransitionedEpoch {
		return 0, fmt.Errorf("%w: own transition from epoch %d, expected %d", ledger.ErrPrecondition, t.FromEpoch, u.latestTransitionedEpoch)
	}

	// Step 1: Replay on a copy
	next, err := u.replay(t.FromEpoch)
	if err != nil {
		return 0, err
	}
	ust, err := u.buildTree(next)
	if err != nil {
		return 0, err
	}
	leaf := crypto.GlobalCommitment(u.replica.Hasher(), u.commit, ust.Root())
	if !leaf.Equal(&t.NewGlobalCommitment) {
		return 0, fmt.Errorf("%w: own transition leaf does not match local replay", ledger.ErrRootMismatch)
	}

	// Step 2: Apply to the replica, then commit locally
	idx, err := u.replica.ApplyTransition(t, origin)
	if err != nil {
		return 0, err
	}
	u.leaves = next
	u.latestTransitionedEpoch = u.replica.CurrentEpoch()
	u.latestGSTLeafIndex = idx
	u.pending = nil
	u.pendingEpoch = 0

	u.log.Info().Uint64("from_epoch", t.FromEpoch).Uint64("epoch", u.latestTransitionedEpoch).
		Uint64("leaf_index", idx).Msg("transitioned")
	return idx, nil
}

// replay folds the attestations of the user's epoch keys of epoch into a copy of
// the current leaves. The seal-time capture is used when present.
func (u *User) replay(epoch uint64) (map[uint64]ledger.Reputation, error) {
	lists := u.pending
	if lists == nil || u.pendingEpoch != epoch {
		keys := u.EpochKeys(epoch)
		lists = make([][]ledger.Attestation, len(keys))
		for n, k := range keys {
			atts, err := u.replica.Attestations(epoch, k)
			if err != nil {
				return nil, err
			}
			lists[n] = atts
		}
	}
	next := copyLeaves(u.leaves)
	for _, atts := range lists {
		for _, a := range atts {
			rep, err := next[a.AttesterID].Update(a)
			if err != nil {
				return nil, err
			}
			next[a.AttesterID] = rep
		}
	}
	return next, nil
}
