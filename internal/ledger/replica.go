// replica.go - Ledger state replica: epochs, accumulators and the nullifier set.
//
// The Replica mirrors the on-chain state byte-for-byte. It is mutated only by the
// five event-driven operations below, each of which validates every precondition
// before touching state, so a failed call leaves the replica unchanged.
//
// Queries take the read lock and may run concurrently with each other; mutators
// take the write lock and are serialised in event order by the caller.

package ledger

import (
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/rs/zerolog"

	"repledger/internal/crypto"
	"repledger/internal/tree"
)

// epochState is one slot of the epoch arena.
type epochState struct {
	epoch uint64
	gst   *tree.IncrementalTree
	roots map[[32]byte]struct{} // every root the global state tree had in this epoch

	attestations *treemap.Map // epoch key (uint64) -> []Attestation, ascending keys
	pruned       bool

	sealed    bool
	epochTree *tree.SparseTree
}

// Transition is the ledger-visible outcome of a user state transition.
type Transition struct {
	FromEpoch           uint64
	NewGlobalCommitment fr.Element
	Nullifiers          []fr.Element
	// Optional public roots the proof was built against.
	GSTRoot       *fr.Element
	EpochTreeRoot *fr.Element
}

// Replica is the authoritative local mirror of the ledger.
type Replica struct {
	mu     sync.RWMutex
	params Params
	hasher crypto.Hasher
	log    zerolog.Logger

	currentEpoch uint64
	epochs       []*epochState
	epochIndex   map[uint64]int

	nullifiers  map[[32]byte]struct{}
	commitments map[[32]byte]struct{}
	userCount   uint64

	latest    Origin
	hasLatest bool

	emptyUserState *tree.SparseTree // template cloned for airdrop signups
}

// Option configures a Replica.
type Option func(*Replica)

// WithLogger sets the replica's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Replica) { r.log = l.With().Str("component", "replica").Logger() }
}

// NewReplica creates an empty replica positioned at epoch 1.
func NewReplica(p Params, h crypto.Hasher, opts ...Option) (*Replica, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	r := &Replica{
		params:       p,
		hasher:       h,
		log:          zerolog.Nop(),
		currentEpoch: 1,
		epochIndex:   make(map[uint64]int),
		nullifiers:   make(map[[32]byte]struct{}),
		commitments:  make(map[[32]byte]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.emptyUserState = NewUserStateTree(p, h)
	r.openEpoch(1)
	return r, nil
}

func (r *Replica) openEpoch(epoch uint64) *epochState {
	es := &epochState{
		epoch:        epoch,
		gst:          tree.NewIncremental(r.params.GlobalStateTreeDepth, r.hasher, fr.Element{}),
		roots:        make(map[[32]byte]struct{}),
		attestations: treemap.NewWith(utils.UInt64Comparator),
	}
	r.epochIndex[epoch] = len(r.epochs)
	r.epochs = append(r.epochs, es)
	return es
}

func (r *Replica) current() *epochState {
	return r.epochs[r.epochIndex[r.currentEpoch]]
}

func (r *Replica) epochState(epoch uint64) (*epochState, error) {
	i, ok := r.epochIndex[epoch]
	if !ok {
		return nil, fmt.Errorf("%w: epoch %d not reached (current %d)", ErrPrecondition, epoch, r.currentEpoch)
	}
	return r.epochs[i], nil
}

// checkOrigin rejects origins that are not strictly newer than the last applied one.
// A nil origin is always accepted.
func (r *Replica) checkOrigin(o *Origin) error {
	if o == nil || !r.hasLatest {
		return nil
	}
	if !r.latest.Before(*o) {
		return fmt.Errorf("%w: origin %s not after %s", ErrStaleEvent, o, r.latest)
	}
	return nil
}

func (r *Replica) advance(o *Origin) {
	if o == nil {
		return
	}
	r.latest = *o
	r.hasLatest = true
}

func (r *Replica) checkWriteEpoch(epoch uint64) error {
	if epoch != r.currentEpoch {
		return fmt.Errorf("%w: epoch %d is not the current epoch %d", ErrPrecondition, epoch, r.currentEpoch)
	}
	return nil
}

// insertGlobal appends a non-zero leaf to the current global state tree and
// records the new root. Capacity must have been checked by the caller.
func (r *Replica) insertGlobal(leaf fr.Element) (uint64, error) {
	es := r.current()
	idx, err := es.gst.Insert(leaf)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPrecondition, err)
	}
	es.roots[crypto.Key(es.gst.Root())] = struct{}{}
	return idx, nil
}

// SignUp registers a new identity commitment in the current epoch, optionally
// with an initial reputation airdrop from attesterID. It returns the index of the
// user's leaf in the current global state tree.
func (r *Replica) SignUp(epoch uint64, identityCommitment fr.Element, attesterID, airdrop uint64, origin *Origin) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Step 1: Validate
	if err := r.checkOrigin(origin); err != nil {
		return 0, err
	}
	if err := r.checkWriteEpoch(epoch); err != nil {
		return 0, err
	}
	if r.userCount >= r.params.GlobalStateTreeCapacity() {
		return 0, fmt.Errorf("%w: global state tree full (%d users)", ErrPrecondition, r.userCount)
	}
	if identityCommitment.IsZero() {
		return 0, fmt.Errorf("%w: zero identity commitment", ErrPrecondition)
	}
	key := crypto.Key(identityCommitment)
	if _, ok := r.commitments[key]; ok {
		return 0, fmt.Errorf("%w: identity commitment already signed up", ErrPrecondition)
	}
	if attesterID >= r.params.MaxAttesters() {
		return 0, fmt.Errorf("%w: attester id %d out of range", ErrPrecondition, attesterID)
	}
	if r.current().gst.Len() >= r.current().gst.Capacity() {
		return 0, fmt.Errorf("%w: epoch %d global state tree full", ErrPrecondition, epoch)
	}

	// Step 2: Initial user state root
	root := r.emptyUserState.Root()
	if attesterID != 0 && airdrop != 0 {
		ust := r.emptyUserState.Clone()
		rep := Reputation{PosRep: airdrop, SignUp: true}
		if err := ust.Update(attesterID, rep.Hash(r.hasher)); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrPrecondition, err)
		}
		root = ust.Root()
	}

	// Step 3: Mutate
	leaf := crypto.GlobalCommitment(r.hasher, identityCommitment, root)
	idx := r.current().gst.Len()
	if !leaf.IsZero() {
		var err error
		if idx, err = r.insertGlobal(leaf); err != nil {
			return 0, err
		}
	}
	r.commitments[key] = struct{}{}
	r.userCount++
	r.advance(origin)

	r.log.Debug().Uint64("epoch", epoch).Uint64("leaf_index", idx).Uint64("attester", attesterID).
		Uint64("airdrop", airdrop).Msg("user signed up")
	return idx, nil
}

// AddAttestation appends an attestation to an epoch key of the current epoch.
func (r *Replica) AddAttestation(epoch, epochKey uint64, att Attestation, origin *Origin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOrigin(origin); err != nil {
		return err
	}
	if epoch < r.currentEpoch {
		return fmt.Errorf("%w: epoch %d already sealed", ErrPrecondition, epoch)
	}
	if err := r.checkWriteEpoch(epoch); err != nil {
		return err
	}
	if epochKey >= r.params.MaxEpochKey() {
		return fmt.Errorf("%w: epoch key %d out of range", ErrPrecondition, epochKey)
	}
	if att.AttesterID == 0 || att.AttesterID >= r.params.MaxAttesters() {
		return fmt.Errorf("%w: attester id %d out of range", ErrPrecondition, att.AttesterID)
	}
	if att.PosRep > MaxReputationDelta || att.NegRep > MaxReputationDelta {
		return fmt.Errorf("%w: reputation delta above %d", ErrPrecondition, MaxReputationDelta)
	}

	es := r.current()
	var list []Attestation
	if v, ok := es.attestations.Get(epochKey); ok {
		list = v.([]Attestation)
	}
	es.attestations.Put(epochKey, append(list, att))
	r.advance(origin)

	r.log.Debug().Uint64("epoch", epoch).Uint64("epoch_key", epochKey).Uint64("attester", att.AttesterID).
		Msg("attestation recorded")
	return nil
}

// RecordNullifier marks a single nullifier as used.
func (r *Replica) RecordNullifier(n fr.Element, origin *Origin) error {
	return r.RecordNullifiers([]fr.Element{n}, origin)
}

// RecordNullifiers marks a batch of nullifiers as used, all or nothing. Zero
// entries are unused slots and are skipped; a batch with no non-zero entry is rejected.
func (r *Replica) RecordNullifiers(batch []fr.Element, origin *Origin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOrigin(origin); err != nil {
		return err
	}
	return r.recordNullifiers(batch, origin)
}

// SpendReputation records the reputation nullifiers of one proof made in epoch.
// The epoch must not be ahead of the current one and the batch is at most
// MaxReputationBudget slots.
func (r *Replica) SpendReputation(epoch uint64, batch []fr.Element, origin *Origin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOrigin(origin); err != nil {
		return err
	}
	if epoch == 0 || epoch > r.currentEpoch {
		return fmt.Errorf("%w: reputation spent in epoch %d (current %d)", ErrPrecondition, epoch, r.currentEpoch)
	}
	if uint64(len(batch)) > r.params.MaxReputationBudget {
		return fmt.Errorf("%w: %d reputation nullifiers exceed budget %d", ErrPrecondition, len(batch), r.params.MaxReputationBudget)
	}
	return r.recordNullifiers(batch, origin)
}

func (r *Replica) recordNullifiers(batch []fr.Element, origin *Origin) error {
	keys, err := r.checkFreshNullifiers(batch, true)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty nullifier batch", ErrPrecondition)
	}
	for _, k := range keys {
		r.nullifiers[k] = struct{}{}
	}
	r.advance(origin)
	return nil
}

// checkFreshNullifiers returns the keys of batch after checking that none is
// recorded and none repeats. With skipZero unset, a zero entry is an error.
func (r *Replica) checkFreshNullifiers(batch []fr.Element, skipZero bool) ([][32]byte, error) {
	seen := make(map[[32]byte]struct{}, len(batch))
	keys := make([][32]byte, 0, len(batch))
	for i := range batch {
		if batch[i].IsZero() {
			if skipZero {
				continue
			}
			return nil, fmt.Errorf("%w: zero nullifier at position %d", ErrPrecondition, i)
		}
		k := crypto.Key(batch[i])
		if _, ok := seen[k]; ok {
			return nil, fmt.Errorf("%w: repeated inside batch at position %d", ErrDuplicateNullifier, i)
		}
		if _, ok := r.nullifiers[k]; ok {
			return nil, fmt.Errorf("%w: %s already recorded", ErrDuplicateNullifier, crypto.Format(batch[i]))
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys, nil
}

// SealEpoch freezes the current epoch: every attested key's hash chain is sealed
// into a fresh epoch tree, the epoch advances by one and a new empty global
// state tree is opened.
func (r *Replica) SealEpoch(epoch uint64, origin *Origin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOrigin(origin); err != nil {
		return err
	}
	if err := r.checkWriteEpoch(epoch); err != nil {
		return err
	}

	es := r.current()
	et := NewEpochTree(r.params, r.hasher)
	it := es.attestations.Iterator()
	for it.Next() {
		key := it.Key().(uint64)
		leaf := SealedLeaf(r.hasher, it.Value().([]Attestation))
		if err := et.Update(key, leaf); err != nil {
			return fmt.Errorf("%w: %v", ErrPrecondition, err)
		}
	}
	es.epochTree = et
	es.sealed = true

	r.currentEpoch++
	r.openEpoch(r.currentEpoch)
	r.advance(origin)

	root := et.Root()
	r.log.Info().Uint64("epoch", epoch).Int("epoch_keys", es.attestations.Size()).
		Str("epoch_tree_root", crypto.Format(root)).Msg("epoch sealed")
	return nil
}

// ApplyTransition records a transition's nullifiers and inserts its new global
// commitment into the current epoch. It returns the index of the inserted leaf.
func (r *Replica) ApplyTransition(t Transition, origin *Origin) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Step 1: Validate
	if err := r.checkOrigin(origin); err != nil {
		return 0, err
	}
	if t.FromEpoch == 0 || t.FromEpoch > r.currentEpoch {
		return 0, fmt.Errorf("%w: from epoch %d after current epoch %d", ErrPrecondition, t.FromEpoch, r.currentEpoch)
	}
	if uint64(len(t.Nullifiers)) != r.params.NumEpochKeyNoncePerEpoch {
		return 0, fmt.Errorf("%w: %d nullifiers, want %d", ErrPrecondition, len(t.Nullifiers), r.params.NumEpochKeyNoncePerEpoch)
	}
	keys, err := r.checkFreshNullifiers(t.Nullifiers, false)
	if err != nil {
		return 0, err
	}
	from, err := r.epochState(t.FromEpoch)
	if err != nil {
		return 0, err
	}
	if t.GSTRoot != nil {
		if _, ok := from.roots[crypto.Key(*t.GSTRoot)]; !ok {
			return 0, fmt.Errorf("%w: global state root not in epoch %d history", ErrRootMismatch, t.FromEpoch)
		}
	}
	if t.EpochTreeRoot != nil {
		if !from.sealed {
			return 0, fmt.Errorf("%w: epoch %d is not sealed", ErrRootMismatch, t.FromEpoch)
		}
		root := from.epochTree.Root()
		if !root.Equal(t.EpochTreeRoot) {
			return 0, fmt.Errorf("%w: epoch tree root of epoch %d", ErrRootMismatch, t.FromEpoch)
		}
	}
	cur := r.current()
	if !t.NewGlobalCommitment.IsZero() && cur.gst.Len() >= cur.gst.Capacity() {
		return 0, fmt.Errorf("%w: epoch %d global state tree full", ErrPrecondition, r.currentEpoch)
	}

	// Step 2: Mutate
	idx := cur.gst.Len()
	if !t.NewGlobalCommitment.IsZero() {
		if idx, err = r.insertGlobal(t.NewGlobalCommitment); err != nil {
			return 0, err
		}
	}
	for _, k := range keys {
		r.nullifiers[k] = struct{}{}
	}
	r.advance(origin)

	r.log.Debug().Uint64("from_epoch", t.FromEpoch).Uint64("epoch", r.currentEpoch).
		Uint64("leaf_index", idx).Msg("user state transitioned")
	return idx, nil
}

// PruneAttestations drops the attestation lists of sealed epochs before epoch.
// Their epoch trees stay queryable. It returns the number of epochs pruned.
func (r *Replica) PruneAttestations(before uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, es := range r.epochs {
		if es.epoch >= before || !es.sealed || es.pruned {
			continue
		}
		es.attestations.Clear()
		es.pruned = true
		n++
	}
	return n
}
