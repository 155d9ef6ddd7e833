// user.go - User state projection over a ledger replica.
//
// A User follows the same ordered event stream as the replica it wraps. Events
// that concern the user (its own signup, its own transition) update the private
// projection; everything is forwarded to the replica so that both stay aligned.

package user

import (
	"fmt"
	"sort"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/rs/zerolog"

	"repledger/internal/crypto"
	"repledger/internal/ledger"
	"repledger/internal/tree"
)

// AttesterLeaf is one populated slot of a user-state tree.
type AttesterLeaf struct {
	AttesterID uint64
	Reputation ledger.Reputation
}

// User is the private projection of one identity.
type User struct {
	mu      sync.RWMutex
	replica *ledger.Replica
	id      crypto.Identity
	commit  fr.Element
	log     zerolog.Logger

	hasSignedUp             bool
	latestTransitionedEpoch uint64
	latestGSTLeafIndex      uint64
	leaves                  map[uint64]ledger.Reputation

	// attestations of our epoch keys, captured when latestTransitionedEpoch was sealed
	pendingEpoch uint64
	pending      [][]ledger.Attestation
}

// Option configures a User.
type Option func(*User)

// WithLogger sets the user's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(u *User) { u.log = l.With().Str("component", "user").Logger() }
}

// New wraps replica with the projection of id. The replica must not be driven
// by anyone else while the user is attached.
func New(replica *ledger.Replica, id crypto.Identity, opts ...Option) *User {
	u := &User{
		replica: replica,
		id:      id,
		commit:  id.Commitment(replica.Hasher()),
		log:     zerolog.Nop(),
		leaves:  make(map[uint64]ledger.Reputation),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Replica returns the wrapped replica.
func (u *User) Replica() *ledger.Replica { return u.replica }

// Identity returns the user's secret identity.
func (u *User) Identity() crypto.Identity { return u.id }

// Commitment returns the public identity commitment.
func (u *User) Commitment() fr.Element { return u.commit }

// HasSignedUp reports whether the user's signup has been observed.
func (u *User) HasSignedUp() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.hasSignedUp
}

// LatestTransitionedEpoch is the epoch whose global state tree holds the user's current leaf.
func (u *User) LatestTransitionedEpoch() uint64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.latestTransitionedEpoch
}

// LatestGSTLeafIndex is the index of that leaf.
func (u *User) LatestGSTLeafIndex() uint64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.latestGSTLeafIndex
}

// ReputationByAttester returns the user's reputation from one attester.
func (u *User) ReputationByAttester(attesterID uint64) ledger.Reputation {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.leaves[attesterID]
}

// Leaves returns the populated user-state slots in ascending attester order.
func (u *User) Leaves() []AttesterLeaf {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return sortedLeaves(u.leaves)
}

func sortedLeaves(m map[uint64]ledger.Reputation) []AttesterLeaf {
	out := make([]AttesterLeaf, 0, len(m))
	for id, rep := range m {
		out = append(out, AttesterLeaf{AttesterID: id, Reputation: rep})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttesterID < out[j].AttesterID })
	return out
}

// LeavesMap returns a copy of the user-state slots.
func (u *User) LeavesMap() map[uint64]ledger.Reputation {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return copyLeaves(u.leaves)
}

func copyLeaves(m map[uint64]ledger.Reputation) map[uint64]ledger.Reputation {
	out := make(map[uint64]ledger.Reputation, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// BuildUserStateTree rebuilds the user-state tree from the projection.
func (u *User) BuildUserStateTree() (*tree.SparseTree, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.buildTree(u.leaves)
}

func (u *User) buildTree(leaves map[uint64]ledger.Reputation) (*tree.SparseTree, error) {
	h := u.replica.Hasher()
	t := ledger.NewUserStateTree(u.replica.Params(), h)
	for _, l := range sortedLeaves(leaves) {
		if err := t.Update(l.AttesterID, l.Reputation.Hash(h)); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// EpochKeys returns the user's epoch keys of an epoch, one per nonce.
func (u *User) EpochKeys(epoch uint64) []uint64 {
	p := u.replica.Params()
	keys := make([]uint64, p.NumEpochKeyNoncePerEpoch)
	for n := range keys {
		keys[n] = crypto.EpochKey(u.replica.Hasher(), u.id.Nullifier, epoch, uint64(n), p.EpochTreeDepth)
	}
	return keys
}

// EpochKeyNullifiers returns the nullifiers that consume the user's epoch keys of an epoch.
func (u *User) EpochKeyNullifiers(epoch uint64) []fr.Element {
	p := u.replica.Params()
	out := make([]fr.Element, p.NumEpochKeyNoncePerEpoch)
	for n := range out {
		out[n] = crypto.EpochKeyNullifier(u.replica.Hasher(), u.id.Nullifier, epoch, uint64(n))
	}
	return out
}

// ReputationNullifier returns the nullifier spending reputation unit nonce in an epoch.
func (u *User) ReputationNullifier(epoch, nonce uint64) (fr.Element, error) {
	if nonce >= u.replica.Params().MaxReputationBudget {
		return fr.Element{}, fmt.Errorf("%w: reputation nonce %d beyond budget", ledger.ErrPrecondition, nonce)
	}
	return crypto.ReputationNullifier(u.replica.Hasher(), u.id.Nullifier, epoch, nonce), nil
}

// GSTProof returns the inclusion proof of the user's current global state leaf.
func (u *User) GSTProof() (tree.Proof, error) {
	u.mu.RLock()
	epoch, idx, ok := u.latestTransitionedEpoch, u.latestGSTLeafIndex, u.hasSignedUp
	u.mu.RUnlock()
	if !ok {
		return tree.Proof{}, fmt.Errorf("%w: user has not signed up", ledger.ErrPrecondition)
	}
	return u.replica.GSTProof(epoch, idx)
}

// PendingAttestations returns the attestations captured at the last observed
// seal of the user's epoch, per nonce, or nil when none were captured for epoch.
func (u *User) PendingAttestations(epoch uint64) [][]ledger.Attestation {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.pending == nil || u.pendingEpoch != epoch {
		return nil
	}
	out := make([][]ledger.Attestation, len(u.pending))
	for i, l := range u.pending {
		out[i] = append([]ledger.Attestation(nil), l...)
	}
	return out
}
