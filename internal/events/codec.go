// codec.go - JSON envelope of ledger events.
//
// An envelope is {type, blockNumber, logIndex, payload}. Decoding is strict:
// unknown envelope or payload fields, unknown types and unparsable elements
// are rejected rather than defaulted.

package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"repledger/internal/crypto"
	"repledger/internal/ledger"
)

var (
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrMalformedEvent = errors.New("malformed event")
)

// Envelope is the wire form of an event.
type Envelope struct {
	Type        Type            `json:"type"`
	BlockNumber uint64          `json:"blockNumber"`
	LogIndex    uint32          `json:"logIndex"`
	Payload     json.RawMessage `json:"payload"`
}

type userSignedUpJSON struct {
	Epoch              uint64 `json:"epoch"`
	IdentityCommitment string `json:"identityCommitment"`
	AttesterID         uint64 `json:"attesterId"`
	AirdropAmount      uint64 `json:"airdropAmount"`
}

type attestationSubmittedJSON struct {
	Epoch       uint64                 `json:"epoch"`
	EpochKey    uint64                 `json:"epochKey"`
	Attestation ledger.AttestationJSON `json:"attestation"`
}

type epochEndedJSON struct {
	Epoch uint64 `json:"epoch"`
}

type userStateTransitionedJSON struct {
	FromEpoch           uint64   `json:"fromEpoch"`
	NewGlobalCommitment string   `json:"newGlobalStateTreeLeaf"`
	Nullifiers          []string `json:"epochKeyNullifiers"`
	GSTRoot             string   `json:"globalStateTreeRoot,omitempty"`
	EpochTreeRoot       string   `json:"epochTreeRoot,omitempty"`
}

type reputationSpentJSON struct {
	Epoch      uint64   `json:"epoch"`
	Nullifiers []string `json:"reputationNullifiers"`
}

// Encode returns the envelope of e.
func Encode(e Event) ([]byte, error) {
	var payload interface{}
	switch ev := e.(type) {
	case UserSignedUp:
		payload = userSignedUpJSON{
			Epoch:              ev.Epoch,
			IdentityCommitment: crypto.Format(ev.IdentityCommitment),
			AttesterID:         ev.AttesterID,
			AirdropAmount:      ev.AirdropAmount,
		}
	case AttestationSubmitted:
		payload = attestationSubmittedJSON{Epoch: ev.Epoch, EpochKey: ev.EpochKey, Attestation: ev.Attestation.ToJSON()}
	case EpochEnded:
		payload = epochEndedJSON{Epoch: ev.Epoch}
	case UserStateTransitioned:
		t := ev.Transition
		j := userStateTransitionedJSON{
			FromEpoch:           t.FromEpoch,
			NewGlobalCommitment: crypto.Format(t.NewGlobalCommitment),
			Nullifiers:          crypto.FormatAll(t.Nullifiers),
		}
		if t.GSTRoot != nil {
			j.GSTRoot = crypto.Format(*t.GSTRoot)
		}
		if t.EpochTreeRoot != nil {
			j.EpochTreeRoot = crypto.Format(*t.EpochTreeRoot)
		}
		payload = j
	case ReputationSpent:
		payload = reputationSpentJSON{Epoch: ev.Epoch, Nullifiers: crypto.FormatAll(ev.Nullifiers)}
	default:
		return nil, ErrUnknownEvent
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	o := e.Origin()
	return json.Marshal(Envelope{Type: e.Type(), BlockNumber: o.Block, LogIndex: o.LogIndex, Payload: raw})
}

// Decode parses one envelope.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := strictUnmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrMalformedEvent, err)
	}
	return env.Event()
}

// Event decodes the payload of the envelope.
func (env *Envelope) Event() (Event, error) {
	at := At{Block: env.BlockNumber, LogIndex: env.LogIndex}
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: %s without payload", ErrMalformedEvent, env.Type)
	}

	switch env.Type {
	case TypeUserSignedUp:
		var p userSignedUpJSON
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		c, err := crypto.Parse(p.IdentityCommitment)
		if err != nil {
			return nil, malformed(env.Type, "identityCommitment", err)
		}
		if err := checkEpoch(env.Type, p.Epoch); err != nil {
			return nil, err
		}
		return UserSignedUp{At: at, Epoch: p.Epoch, IdentityCommitment: c, AttesterID: p.AttesterID, AirdropAmount: p.AirdropAmount}, nil

	case TypeAttestationSubmitted:
		var p attestationSubmittedJSON
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		att, err := p.Attestation.Attestation()
		if err != nil {
			return nil, malformed(env.Type, "attestation", err)
		}
		if err := checkEpoch(env.Type, p.Epoch); err != nil {
			return nil, err
		}
		return AttestationSubmitted{At: at, Epoch: p.Epoch, EpochKey: p.EpochKey, Attestation: att}, nil

	case TypeEpochEnded:
		var p epochEndedJSON
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if err := checkEpoch(env.Type, p.Epoch); err != nil {
			return nil, err
		}
		return EpochEnded{At: at, Epoch: p.Epoch}, nil

	case TypeUserStateTransitioned:
		var p userStateTransitionedJSON
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if err := checkEpoch(env.Type, p.FromEpoch); err != nil {
			return nil, err
		}
		leaf, err := crypto.Parse(p.NewGlobalCommitment)
		if err != nil {
			return nil, malformed(env.Type, "newGlobalStateTreeLeaf", err)
		}
		nullifiers, err := crypto.ParseAll(p.Nullifiers)
		if err != nil {
			return nil, malformed(env.Type, "epochKeyNullifiers", err)
		}
		t := ledger.Transition{FromEpoch: p.FromEpoch, NewGlobalCommitment: leaf, Nullifiers: nullifiers}
		if p.GSTRoot != "" {
			root, err := crypto.Parse(p.GSTRoot)
			if err != nil {
				return nil, malformed(env.Type, "globalStateTreeRoot", err)
			}
			t.GSTRoot = &root
		}
		if p.EpochTreeRoot != "" {
			root, err := crypto.Parse(p.EpochTreeRoot)
			if err != nil {
				return nil, malformed(env.Type, "epochTreeRoot", err)
			}
			t.EpochTreeRoot = &root
		}
		return UserStateTransitioned{At: at, Transition: t}, nil

	case TypeReputationSpent:
		var p reputationSpentJSON
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if err := checkEpoch(env.Type, p.Epoch); err != nil {
			return nil, err
		}
		nullifiers, err := crypto.ParseAll(p.Nullifiers)
		if err != nil {
			return nil, malformed(env.Type, "reputationNullifiers", err)
		}
		return ReputationSpent{At: at, Epoch: p.Epoch, Nullifiers: nullifiers}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

func decodePayload(env *Envelope, v interface{}) error {
	if err := strictUnmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedEvent, env.Type, err)
	}
	return nil
}

func strictUnmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data")
	}
	return nil
}

func malformed(t Type, field string, err error) error {
	return fmt.Errorf("%w: %s.%s: %v", ErrMalformedEvent, t, field, err)
}

func checkEpoch(t Type, epoch uint64) error {
	if epoch == 0 {
		return fmt.Errorf("%w: %s with epoch 0", ErrMalformedEvent, t)
	}
	return nil
}
