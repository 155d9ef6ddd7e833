// eventlog.go - Durable, ordered log of applied ledger events.
//
// Keys are "ev/" + big-endian block + big-endian log index, so a prefix scan
// visits events in ledger order. Values are CBOR records wrapping the JSON
// envelope.

package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"repledger/internal/events"
	"repledger/internal/ledger"
)

var (
	// ErrConflict is returned when a different event is already stored at an origin.
	ErrConflict = errors.New("conflicting event at origin")
)

var prefixEvent = []byte("ev/")

const eventKeyLen = 3 + 8 + 4

// record is the stored form of one event.
type record struct {
	Type     string `cbor:"1,keyasint"`
	Block    uint64 `cbor:"2,keyasint"`
	LogIndex uint32 `cbor:"3,keyasint"`
	Envelope []byte `cbor:"4,keyasint"`
}

// EventLog persists events by origin.
type EventLog struct {
	kv KV
}

func NewEventLog(kv KV) *EventLog {
	return &EventLog{kv: kv}
}

func eventKey(o ledger.Origin) []byte {
	key := make([]byte, eventKeyLen)
	copy(key, prefixEvent)
	binary.BigEndian.PutUint64(key[3:11], o.Block)
	binary.BigEndian.PutUint32(key[11:], o.LogIndex)
	return key
}

func parseEventKey(key []byte) (ledger.Origin, error) {
	if len(key) != eventKeyLen || !bytes.HasPrefix(key, prefixEvent) {
		return ledger.Origin{}, fmt.Errorf("bad event key %x", key)
	}
	return ledger.Origin{
		Block:    binary.BigEndian.Uint64(key[3:11]),
		LogIndex: binary.BigEndian.Uint32(key[11:]),
	}, nil
}

// Append stores e. Storing the same event twice is a no-op reported as
// stored == false; a different event at an occupied origin is ErrConflict.
func (l *EventLog) Append(e events.Event) (stored bool, err error) {
	env, err := events.Encode(e)
	if err != nil {
		return false, err
	}
	o := e.Origin()
	value, err := cbor.Marshal(record{Type: string(e.Type()), Block: o.Block, LogIndex: o.LogIndex, Envelope: env})
	if err != nil {
		return false, fmt.Errorf("failed to encode event record: %w", err)
	}

	key := eventKey(o)
	existing, ok, err := l.kv.Get(key)
	if err != nil {
		return false, err
	}
	if ok {
		if bytes.Equal(existing, value) {
			return false, nil
		}
		return false, fmt.Errorf("%w %s", ErrConflict, o)
	}
	if err := l.kv.Set(key, value); err != nil {
		return false, fmt.Errorf("failed to store event %s: %w", o, err)
	}
	return true, nil
}

func decodeRecord(key, value []byte) (events.Event, error) {
	o, err := parseEventKey(key)
	if err != nil {
		return nil, err
	}
	var rec record
	if err := cbor.Unmarshal(value, &rec); err != nil {
		return nil, fmt.Errorf("event %s: %w", o, err)
	}
	e, err := events.Decode(rec.Envelope)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", o, err)
	}
	if e.Origin() != o {
		return nil, fmt.Errorf("event stored at %s claims origin %s", o, e.Origin())
	}
	return e, nil
}

// Replay calls fn for every stored event strictly after from, in ledger order.
// A nil from replays everything.
func (l *EventLog) Replay(ctx context.Context, from *ledger.Origin, fn func(events.Event) error) error {
	return l.kv.IteratePrefix(prefixEvent, func(key, value []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := decodeRecord(key, value)
		if err != nil {
			return err
		}
		if from != nil && !from.Before(e.Origin()) {
			return nil
		}
		return fn(e)
	})
}

// Last returns the newest stored origin.
func (l *EventLog) Last() (ledger.Origin, bool, error) {
	var last ledger.Origin
	found := false
	err := l.kv.IteratePrefix(prefixEvent, func(key, _ []byte) error {
		o, err := parseEventKey(key)
		if err != nil {
			return err
		}
		last, found = o, true
		return nil
	})
	return last, found, err
}

// Count returns the number of stored events.
func (l *EventLog) Count() (int, error) {
	n := 0
	err := l.kv.IteratePrefix(prefixEvent, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// Source returns the stored events after from as an events.Source.
func (l *EventLog) Source(ctx context.Context, from *ledger.Origin) (events.Source, error) {
	var evs []events.Event
	err := l.Replay(ctx, from, func(e events.Event) error {
		evs = append(evs, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events.NewSliceSource(evs...), nil
}
