// snapshot.go - Serializable replica state.
//
// A Snapshot holds enough to rebuild every accumulator. Global state roots are
// not stored: they are recomputed by re-inserting the leaves, which also rebuilds
// the per-epoch root history. Sealed epoch tree roots are stored and checked.

package ledger

import (
	"fmt"
	"sort"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"repledger/internal/crypto"
)

// Snapshot is the JSON form of a replica.
type Snapshot struct {
	Params               Params          `json:"params"`
	Hash                 string          `json:"hash"`
	CurrentEpoch         uint64          `json:"currentEpoch"`
	LatestProcessedBlock uint64          `json:"latestProcessedBlock"`
	LatestLogIndex       uint32          `json:"latestLogIndex"`
	HasOrigin            bool            `json:"hasOrigin"`
	UserCount            uint64          `json:"userCount"`
	Commitments          []string        `json:"commitments"`
	Nullifiers           []string        `json:"nullifiers"`
	Epochs               []EpochSnapshot `json:"epochs"`
}

// EpochSnapshot is one epoch of a Snapshot.
type EpochSnapshot struct {
	Epoch           uint64                `json:"epoch"`
	GlobalLeaves    []string              `json:"globalLeaves"`
	Sealed          bool                  `json:"sealed"`
	EpochTreeRoot   string                `json:"epochTreeRoot,omitempty"`
	EpochTreeLeaves []LeafSnapshot        `json:"epochTreeLeaves,omitempty"`
	Pruned          bool                  `json:"pruned,omitempty"`
	Attestations    []KeyAttestationsJSON `json:"attestations,omitempty"`
}

// LeafSnapshot is an indexed tree leaf.
type LeafSnapshot struct {
	Index uint64 `json:"index"`
	Value string `json:"value"`
}

// KeyAttestationsJSON lists the attestations of one epoch key.
type KeyAttestationsJSON struct {
	EpochKey     uint64            `json:"epochKey"`
	Attestations []AttestationJSON `json:"attestations"`
}

// AttestationJSON is the wire form of an Attestation.
type AttestationJSON struct {
	AttesterID uint64 `json:"attesterId"`
	PosRep     uint64 `json:"posRep"`
	NegRep     uint64 `json:"negRep"`
	Graffiti   string `json:"graffiti"`
	SignUp     bool   `json:"signUp"`
}

// ToJSON converts an attestation to its wire form.
func (a Attestation) ToJSON() AttestationJSON {
	return AttestationJSON{
		AttesterID: a.AttesterID,
		PosRep:     a.PosRep,
		NegRep:     a.NegRep,
		Graffiti:   crypto.Format(a.Graffiti),
		SignUp:     a.SignUp,
	}
}

// Attestation parses the wire form.
func (j AttestationJSON) Attestation() (Attestation, error) {
	g, err := crypto.Parse(j.Graffiti)
	if err != nil {
		return Attestation{}, fmt.Errorf("graffiti: %w", err)
	}
	return Attestation{AttesterID: j.AttesterID, PosRep: j.PosRep, NegRep: j.NegRep, Graffiti: g, SignUp: j.SignUp}, nil
}

// Snapshot captures the replica state.
func (r *Replica) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := &Snapshot{
		Params:       r.params,
		Hash:         r.hasher.Name(),
		CurrentEpoch: r.currentEpoch,
		HasOrigin:    r.hasLatest,
		UserCount:    r.userCount,
		Commitments:  make([]string, 0, len(r.commitments)),
		Nullifiers:   make([]string, 0, len(r.nullifiers)),
	}
	if r.hasLatest {
		s.LatestProcessedBlock = r.latest.Block
		s.LatestLogIndex = r.latest.LogIndex
	}
	for k := range r.commitments {
		s.Commitments = append(s.Commitments, keyString(k))
	}
	for k := range r.nullifiers {
		s.Nullifiers = append(s.Nullifiers, keyString(k))
	}
	sortStrings(s.Commitments)
	sortStrings(s.Nullifiers)

	for _, es := range r.epochs {
		e := EpochSnapshot{
			Epoch:        es.epoch,
			GlobalLeaves: crypto.FormatAll(es.gst.Leaves()),
			Sealed:       es.sealed,
			Pruned:       es.pruned,
		}
		if es.sealed {
			e.EpochTreeRoot = crypto.Format(es.epochTree.Root())
			for _, l := range es.epochTree.Leaves() {
				e.EpochTreeLeaves = append(e.EpochTreeLeaves, LeafSnapshot{Index: l.Index, Value: crypto.Format(l.Value)})
			}
		}
		it := es.attestations.Iterator()
		for it.Next() {
			ka := KeyAttestationsJSON{EpochKey: it.Key().(uint64)}
			for _, a := range it.Value().([]Attestation) {
				ka.Attestations = append(ka.Attestations, a.ToJSON())
			}
			e.Attestations = append(e.Attestations, ka)
		}
		s.Epochs = append(s.Epochs, e)
	}
	return s
}

// Restore rebuilds a replica from a snapshot. The hasher must be the one the
// snapshot was taken with.
func Restore(s *Snapshot, h crypto.Hasher, opts ...Option) (*Replica, error) {
	if s.Hash != h.Name() {
		return nil, fmt.Errorf("%w: snapshot hash %q, replica hash %q", ErrPrecondition, s.Hash, h.Name())
	}
	if len(s.Epochs) == 0 || uint64(len(s.Epochs)) != s.CurrentEpoch {
		return nil, fmt.Errorf("%w: snapshot has %d epochs for current epoch %d", ErrPrecondition, len(s.Epochs), s.CurrentEpoch)
	}
	r, err := NewReplica(s.Params, h, opts...)
	if err != nil {
		return nil, err
	}
	r.epochs = nil
	r.epochIndex = make(map[uint64]int)

	for i, e := range s.Epochs {
		if e.Epoch != uint64(i+1) {
			return nil, fmt.Errorf("%w: snapshot epoch %d at position %d", ErrPrecondition, e.Epoch, i)
		}
		es := r.openEpoch(e.Epoch)
		r.currentEpoch = e.Epoch

		leaves, err := crypto.ParseAll(e.GlobalLeaves)
		if err != nil {
			return nil, fmt.Errorf("epoch %d global leaves: %w", e.Epoch, err)
		}
		for _, l := range leaves {
			if _, err := r.insertGlobal(l); err != nil {
				return nil, fmt.Errorf("epoch %d: %w", e.Epoch, err)
			}
		}

		for _, ka := range e.Attestations {
			list := make([]Attestation, 0, len(ka.Attestations))
			for _, aj := range ka.Attestations {
				a, err := aj.Attestation()
				if err != nil {
					return nil, fmt.Errorf("epoch %d key %d: %w", e.Epoch, ka.EpochKey, err)
				}
				list = append(list, a)
			}
			es.attestations.Put(ka.EpochKey, list)
		}
		es.pruned = e.Pruned

		if e.Sealed {
			et := NewEpochTree(r.params, h)
			for _, l := range e.EpochTreeLeaves {
				v, err := crypto.Parse(l.Value)
				if err != nil {
					return nil, fmt.Errorf("epoch %d tree leaf %d: %w", e.Epoch, l.Index, err)
				}
				if err := et.Update(l.Index, v); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrPrecondition, err)
				}
			}
			want, err := crypto.Parse(e.EpochTreeRoot)
			if err != nil {
				return nil, fmt.Errorf("epoch %d tree root: %w", e.Epoch, err)
			}
			got := et.Root()
			if !got.Equal(&want) {
				return nil, fmt.Errorf("%w: epoch %d tree root", ErrRootMismatch, e.Epoch)
			}
			es.epochTree = et
			es.sealed = true
		}
	}
	if r.current().sealed {
		return nil, fmt.Errorf("%w: current epoch %d is sealed", ErrPrecondition, r.currentEpoch)
	}

	for _, c := range s.Commitments {
		v, err := crypto.Parse(c)
		if err != nil {
			return nil, fmt.Errorf("commitment: %w", err)
		}
		r.commitments[crypto.Key(v)] = struct{}{}
	}
	for _, n := range s.Nullifiers {
		v, err := crypto.Parse(n)
		if err != nil {
			return nil, fmt.Errorf("nullifier: %w", err)
		}
		r.nullifiers[crypto.Key(v)] = struct{}{}
	}
	r.userCount = s.UserCount
	if s.HasOrigin {
		r.latest = Origin{Block: s.LatestProcessedBlock, LogIndex: s.LatestLogIndex}
		r.hasLatest = true
	}
	return r, nil
}

func keyString(k [32]byte) string {
	var e fr.Element
	e.SetBytes(k[:])
	return crypto.Format(e)
}

func sortStrings(s []string) { sort.Strings(s) }
