// event.go - Ledger events as a closed set of variants.
//
// Every event carries the origin it was emitted at. The set is closed: only the
// variants below implement Event.

package events

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"repledger/internal/ledger"
)

// Type is the wire name of an event variant.
type Type string

const (
	TypeUserSignedUp          Type = "UserSignedUp"
	TypeAttestationSubmitted  Type = "AttestationSubmitted"
	TypeEpochEnded            Type = "EpochEnded"
	TypeUserStateTransitioned Type = "UserStateTransitioned"
	TypeReputationSpent       Type = "ReputationSpent"
)

// Event is one ledger event.
type Event interface {
	Type() Type
	Origin() ledger.Origin
	event()
}

// At is embedded by every variant.
type At struct {
	Block    uint64
	LogIndex uint32
}

// AtOrigin converts an origin to the embeddable form.
func AtOrigin(o ledger.Origin) At { return At{Block: o.Block, LogIndex: o.LogIndex} }

func (a At) Origin() ledger.Origin { return ledger.Origin{Block: a.Block, LogIndex: a.LogIndex} }
func (At) event()                  {}

type UserSignedUp struct {
	At
	Epoch              uint64
	IdentityCommitment fr.Element
	AttesterID         uint64
	AirdropAmount      uint64
}

type AttestationSubmitted struct {
	At
	Epoch       uint64
	EpochKey    uint64
	Attestation ledger.Attestation
}

type EpochEnded struct {
	At
	Epoch uint64
}

type UserStateTransitioned struct {
	At
	Transition ledger.Transition
}

// ReputationSpent records the reputation nullifiers of a proof; zero entries are unused slots.
type ReputationSpent struct {
	At
	Epoch      uint64
	Nullifiers []fr.Element
}

func (UserSignedUp) Type() Type          { return TypeUserSignedUp }
func (AttestationSubmitted) Type() Type  { return TypeAttestationSubmitted }
func (EpochEnded) Type() Type            { return TypeEpochEnded }
func (UserStateTransitioned) Type() Type { return TypeUserStateTransitioned }
func (ReputationSpent) Type() Type       { return TypeReputationSpent }

// Handler consumes events. *ledger.Replica and *user.User both implement it.
type Handler interface {
	SignUp(epoch uint64, identityCommitment fr.Element, attesterID, airdrop uint64, origin *ledger.Origin) (uint64, error)
	AddAttestation(epoch, epochKey uint64, att ledger.Attestation, origin *ledger.Origin) error
	SpendReputation(epoch uint64, batch []fr.Element, origin *ledger.Origin) error
	SealEpoch(epoch uint64, origin *ledger.Origin) error
	ApplyTransition(t ledger.Transition, origin *ledger.Origin) (uint64, error)
}

// Apply dispatches e to h, tagged with its origin.
func Apply(h Handler, e Event) error {
	o := e.Origin()
	switch ev := e.(type) {
	case UserSignedUp:
		_, err := h.SignUp(ev.Epoch, ev.IdentityCommitment, ev.AttesterID, ev.AirdropAmount, &o)
		return err
	case AttestationSubmitted:
		return h.AddAttestation(ev.Epoch, ev.EpochKey, ev.Attestation, &o)
	case EpochEnded:
		return h.SealEpoch(ev.Epoch, &o)
	case UserStateTransitioned:
		_, err := h.ApplyTransition(ev.Transition, &o)
		return err
	case ReputationSpent:
		return h.SpendReputation(ev.Epoch, ev.Nullifiers, &o)
	default:
		return ErrUnknownEvent
	}
}
