// orchestrator.go - Builds the proof inputs of a user state transition.
//
// Build reads the replica and the user projection and never mutates either. Any
// disagreement between the projection, the replica and the recomputed values
// aborts the whole attempt.

package transition

import (
	"fmt"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"repledger/internal/crypto"
	"repledger/internal/ledger"
	"repledger/internal/metrics"
	"repledger/internal/tree"
	"repledger/internal/user"
)

// Orchestrator builds and proves transitions. It holds no per-user state and is
// safe for concurrent use.
type Orchestrator struct {
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger, tagged with component=transition.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l.With().Str("component", "transition").Logger() }
}

// WithMetrics records build and proof durations in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New returns an Orchestrator that logs nowhere unless WithLogger is given.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Build produces the bundles moving u from its latest transitioned epoch to the
// replica's current epoch.
func (o *Orchestrator) Build(u *user.User) (*Result, error) {
	began := time.Now()
	r := u.Replica()
	p := r.Params()
	h := r.Hasher()
	id := u.Identity()
	commit := u.Commitment()

	// Step 1: Preconditions
	if !u.HasSignedUp() {
		return nil, fmt.Errorf("%w: user has not signed up", ledger.ErrPrecondition)
	}
	from, to := u.LatestTransitionedEpoch(), r.CurrentEpoch()
	if from >= to {
		return nil, fmt.Errorf("%w: epoch %d is not sealed (current %d)", ledger.ErrPrecondition, from, to)
	}
	keys := u.EpochKeys(from)
	seen := make(map[uint64]int, len(keys))
	for n, k := range keys {
		if prev, ok := seen[k]; ok {
			return nil, fmt.Errorf("%w: nonces %d and %d share epoch key %d", ledger.ErrPrecondition, prev, n, k)
		}
		seen[k] = n
	}

	res := &Result{ID: uuid.New(), FromEpoch: from, ToEpoch: to}
	log := o.log.With().Str("attempt", res.ID.String()).Uint64("from_epoch", from).Uint64("to_epoch", to).Logger()

	// Step 2: Snapshot
	leaves := u.LeavesMap()
	ust, err := u.BuildUserStateTree()
	if err != nil {
		return nil, fmt.Errorf("%w: user state tree: %v", ledger.ErrPrecondition, err)
	}
	r0 := ust.Root()
	gstRoot, err := r.GSTRoot(from)
	if err != nil {
		return nil, err
	}
	gstProof, err := u.GSTProof()
	if err != nil {
		return nil, err
	}
	if !tree.VerifyProof(h, gstRoot, crypto.GlobalCommitment(h, commit, r0), gstProof) {
		return nil, fmt.Errorf("%w: own global state leaf not under epoch %d root", ledger.ErrRootMismatch, from)
	}
	etRoot, err := r.EpochTreeRoot(from)
	if err != nil {
		return nil, err
	}
	lists := u.PendingAttestations(from)
	if lists == nil {
		lists = make([][]ledger.Attestation, len(keys))
		for n, k := range keys {
			if lists[n], err = r.Attestations(from, k); err != nil {
				return nil, err
			}
		}
	}

	// Step 3: Start
	res.Start = StartBundle{
		Epoch:             from,
		IdentityNullifier: id.Nullifier,
		IdentityTrapdoor:  id.Trapdoor,
		UserStateRoot:     r0,
		GSTRoot:           gstRoot,
		GSTProof:          gstProof,
		BlindedUserState:  crypto.Blind(h, id.Nullifier, r0, from, 0),
		BlindedHashChain:  crypto.Blind(h, id.Nullifier, fr.Element{}, from, 0),
	}

	// Step 4: Process
	b := &batcher{
		h:      h,
		idN:    id.Nullifier,
		epoch:  from,
		width:  p.AttestationsPerBatch,
		ust:    ust,
		leaves: leaves,
		outUS:  res.Start.BlindedUserState,
		outHC:  res.Start.BlindedHashChain,
	}
	chains := make([]fr.Element, len(keys))
	for n := range keys {
		bundles, err := b.nonce(uint64(n), lists[n])
		if err != nil {
			return nil, err
		}
		res.Process = append(res.Process, bundles...)
		chains[n] = b.chain
	}

	// Step 5: Finalize
	finalRoot := ust.Root()
	rebuilt, err := ledger.UserStateRoot(p, h, leaves)
	if err != nil {
		return nil, fmt.Errorf("%w: rebuild user state tree: %v", ledger.ErrPrecondition, err)
	}
	if !rebuilt.Equal(&finalRoot) {
		return nil, fmt.Errorf("%w: incremental user state root differs from rebuilt root", ledger.ErrRootMismatch)
	}

	last := p.NumEpochKeyNoncePerEpoch - 1
	final := FinalBundle{
		FromEpoch:            from,
		IdentityNullifier:    id.Nullifier,
		IdentityTrapdoor:     id.Trapdoor,
		GSTRoot:              gstRoot,
		GSTProof:             gstProof,
		EpochTreeRoot:        etRoot,
		InitialUserStateRoot: r0,
		FinalUserStateRoot:   finalRoot,
		BlindedUserStates: [2]fr.Element{
			crypto.Blind(h, id.Nullifier, r0, from, 0),
			crypto.Blind(h, id.Nullifier, finalRoot, from, last),
		},
		EpochKeys:           keys,
		HashChains:          chains,
		NewGlobalCommitment: crypto.GlobalCommitment(h, commit, finalRoot),
	}
	for n, k := range keys {
		sealed := crypto.SealLeaf(h, chains[n])
		onLedger, err := r.EpochTreeLeaf(from, k)
		if err != nil {
			return nil, err
		}
		if !sealed.Equal(&onLedger) {
			return nil, fmt.Errorf("%w: sealed chain of nonce %d differs from epoch tree leaf", ledger.ErrRootMismatch, n)
		}
		proof, err := r.EpochTreeProof(from, k)
		if err != nil {
			return nil, err
		}
		nullifier := crypto.EpochKeyNullifier(h, id.Nullifier, from, uint64(n))
		if r.NullifierExists(nullifier) {
			return nil, fmt.Errorf("%w: epoch key nullifier of nonce %d", ledger.ErrDuplicateNullifier, n)
		}
		final.SealedHashChains = append(final.SealedHashChains, sealed)
		final.BlindedHashChains = append(final.BlindedHashChains, crypto.Blind(h, id.Nullifier, chains[n], from, uint64(n)))
		final.EpochTreeProofs = append(final.EpochTreeProofs, proof)
		final.Nullifiers = append(final.Nullifiers, nullifier)
	}
	res.Final = final
	res.Leaves = leaves
	res.FinalRoot = finalRoot
	res.NewGlobalCommitment = final.NewGlobalCommitment
	res.Nullifiers = append([]fr.Element(nil), final.Nullifiers...)

	elapsed := time.Since(began)
	o.metrics.RecordTransitionBuild(elapsed)
	log.Info().Int("batches", len(res.Process)).Dur("elapsed", elapsed).Msg("transition built")
	return res, nil
}

// batcher folds attestations into the user-state tree batch by batch and carries
// the running checkpoint between batches and nonces.
type batcher struct {
	h      crypto.Hasher
	idN    fr.Element
	epoch  uint64
	width  int
	ust    *tree.SparseTree
	leaves map[uint64]ledger.Reputation

	chain        fr.Element
	outUS, outHC fr.Element
}

// nonce emits the max(1, ceil(len(atts)/width)) batches of one epoch key. The
// first batch of a nonce n > 0 crosses from n-1 and restarts the hash chain.
func (b *batcher) nonce(n uint64, atts []ledger.Attestation) ([]ProcessBundle, error) {
	count := (len(atts) + b.width - 1) / b.width
	if count == 0 {
		count = 1
	}
	out := make([]ProcessBundle, 0, count)
	for j := 0; j < count; j++ {
		bundle := ProcessBundle{
			Epoch:                 b.epoch,
			IdentityNullifier:     b.idN,
			FromNonce:             n,
			ToNonce:               n,
			InputUserStateRoot:    b.ust.Root(),
			InputHashChain:        b.chain,
			InputBlindedUserState: b.outUS,
			InputBlindedHashChain: b.outHC,
			Slots:                 make([]Slot, b.width),
		}
		if j == 0 {
			if n > 0 {
				bundle.FromNonce = n - 1
			}
			b.chain = fr.Element{}
		}

		end := (j + 1) * b.width
		if end > len(atts) {
			end = len(atts)
		}
		batch := atts[j*b.width : end]
		for k := range bundle.Slots {
			if k >= len(batch) {
				slot, err := b.padding()
				if err != nil {
					return nil, err
				}
				bundle.Slots[k] = slot
				continue
			}
			slot, err := b.apply(batch[k])
			if err != nil {
				return nil, err
			}
			bundle.Slots[k] = slot
		}

		bundle.OutputUserStateRoot = b.ust.Root()
		bundle.OutputHashChain = b.chain
		bundle.OutputBlindedUserState = crypto.Blind(b.h, b.idN, bundle.OutputUserStateRoot, b.epoch, n)
		bundle.OutputBlindedHashChain = crypto.Blind(b.h, b.idN, b.chain, b.epoch, n)
		b.outUS, b.outHC = bundle.OutputBlindedUserState, bundle.OutputBlindedHashChain
		out = append(out, bundle)
	}
	return out, nil
}

func (b *batcher) apply(a ledger.Attestation) (Slot, error) {
	path, err := b.ust.Proof(a.AttesterID)
	if err != nil {
		return Slot{}, fmt.Errorf("%w: attester %d: %v", ledger.ErrPrecondition, a.AttesterID, err)
	}
	old := b.leaves[a.AttesterID]
	next, err := old.Update(a)
	if err != nil {
		return Slot{}, err
	}
	if err := b.ust.Update(a.AttesterID, next.Hash(b.h)); err != nil {
		return Slot{}, fmt.Errorf("%w: attester %d: %v", ledger.ErrPrecondition, a.AttesterID, err)
	}
	b.leaves[a.AttesterID] = next
	b.chain = b.h.HashLeftRight(a.Hash(b.h), b.chain)
	return Slot{Selector: true, Attestation: a, Old: old, New: next, Path: path, Root: b.ust.Root()}, nil
}

func (b *batcher) padding() (Slot, error) {
	path, err := b.ust.Proof(0)
	if err != nil {
		return Slot{}, err
	}
	return Slot{Path: path, Root: b.ust.Root()}, nil
}
