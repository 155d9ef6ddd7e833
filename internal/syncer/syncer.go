// syncer.go - Drives a replica (or a user projection over it) from an event source.
//
// Each event is persisted to the event log first and applied second, so that a
// restart can rebuild the replica from the last snapshot plus the log tail.
// Redelivered events are counted as stale and skipped. Events the replica
// rejects are counted and skipped; only storage failures stop the loop.

package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"repledger/internal/crypto"
	"repledger/internal/events"
	"repledger/internal/ledger"
	"repledger/internal/metrics"
	"repledger/internal/store"
)

// Stats counts what the syncer has seen.
type Stats struct {
	Applied  uint64
	Stale    uint64
	Rejected uint64
	Latest   ledger.Origin
	// LastError is the most recent rejection, empty when none.
	LastError string
}

type Syncer struct {
	replica  *ledger.Replica
	handler  events.Handler
	eventLog *store.EventLog

	snapshotPath  string
	snapshotEvery int
	keepEpochs    uint64

	log     zerolog.Logger
	metrics *metrics.Metrics

	mu            sync.Mutex
	stats         Stats
	sinceSnapshot int
}

type Option func(*Syncer)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Syncer) { s.log = l.With().Str("component", "syncer").Logger() }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Syncer) { s.metrics = m }
}

// WithHandler routes events through h instead of the bare replica, typically a
// *user.User wrapping the same replica.
func WithHandler(h events.Handler) Option {
	return func(s *Syncer) { s.handler = h }
}

// WithEventLog persists every event before it is applied.
func WithEventLog(l *store.EventLog) Option {
	return func(s *Syncer) { s.eventLog = l }
}

// WithSnapshots writes a snapshot to path every n applied events.
func WithSnapshots(path string, every int) Option {
	return func(s *Syncer) {
		s.snapshotPath = path
		s.snapshotEvery = every
	}
}

// WithPruning drops the attestation lists of sealed epochs older than keep epochs.
func WithPruning(keep uint64) Option {
	return func(s *Syncer) { s.keepEpochs = keep }
}

func New(replica *ledger.Replica, opts ...Option) *Syncer {
	s := &Syncer{replica: replica, handler: replica, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	if latest, ok := replica.LatestOrigin(); ok {
		s.stats.Latest = latest
	}
	return s
}

// OpenReplica restores the replica from the snapshot at path, or creates an
// empty one when path is empty or absent. The snapshot must match p.
func OpenReplica(path string, p ledger.Params, h crypto.Hasher, opts ...ledger.Option) (*ledger.Replica, bool, error) {
	if path == "" {
		r, err := ledger.NewReplica(p, h, opts...)
		return r, false, err
	}
	snap, err := store.LoadSnapshot(path)
	if errors.Is(err, os.ErrNotExist) {
		r, err := ledger.NewReplica(p, h, opts...)
		return r, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot: %w", err)
	}
	if snap.Params != p {
		return nil, false, fmt.Errorf("%w: snapshot params %+v differ from configured %+v", ledger.ErrPrecondition, snap.Params, p)
	}
	r, err := ledger.Restore(snap, h, opts...)
	if err != nil {
		return nil, false, fmt.Errorf("restore snapshot: %w", err)
	}
	return r, true, nil
}

// Recover replays the logged events newer than the replica's latest origin. It
// returns the number of events replayed.
func (s *Syncer) Recover(ctx context.Context) (int, error) {
	if s.eventLog == nil {
		return 0, nil
	}
	var from *ledger.Origin
	if latest, ok := s.replica.LatestOrigin(); ok {
		from = &latest
	}
	n := 0
	err := s.eventLog.Replay(ctx, from, func(e events.Event) error {
		n++
		return s.apply(e)
	})
	if err != nil {
		return n, fmt.Errorf("recover: %w", err)
	}
	s.log.Info().Int("events", n).Uint64("epoch", s.replica.CurrentEpoch()).Msg("recovered from event log")
	return n, nil
}

// Run consumes src until it is exhausted or ctx ends. A final snapshot is
// written when snapshots are enabled.
func (s *Syncer) Run(ctx context.Context, src events.Source) error {
	for {
		e, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return s.finish()
		}
		if err != nil {
			if ctx.Err() != nil {
				if ferr := s.finish(); ferr != nil {
					s.log.Error().Err(ferr).Msg("final snapshot failed")
				}
				return ctx.Err()
			}
			s.metrics.RecordError("source")
			return fmt.Errorf("read event: %w", err)
		}
		if err := s.Process(e); err != nil {
			return err
		}
	}
}

func (s *Syncer) finish() error {
	if s.snapshotPath == "" || s.snapshotEvery <= 0 {
		return nil
	}
	return s.Snapshot()
}

// Process persists and applies one event.
func (s *Syncer) Process(e events.Event) error {
	if s.eventLog != nil {
		if _, err := s.eventLog.Append(e); err != nil {
			s.metrics.RecordError("event_log")
			return fmt.Errorf("persist event %s: %w", e.Origin(), err)
		}
	}
	return s.apply(e)
}

func (s *Syncer) apply(e events.Event) error {
	typ := string(e.Type())
	o := e.Origin()

	err := events.Apply(s.handler, e)
	s.mu.Lock()
	switch {
	case errors.Is(err, ledger.ErrStaleEvent):
		s.stats.Stale++
		s.mu.Unlock()
		s.metrics.RecordStale(typ)
		s.log.Debug().Str("type", typ).Str("origin", o.String()).Msg("skipped stale event")
		return nil
	case err != nil:
		s.stats.Rejected++
		s.stats.LastError = fmt.Sprintf("%s at %s: %v", typ, o, err)
		s.mu.Unlock()
		s.metrics.RecordRejected(typ)
		s.log.Warn().Err(err).Str("type", typ).Str("origin", o.String()).Msg("rejected event")
		return nil
	}
	s.stats.Applied++
	s.stats.Latest = o
	s.sinceSnapshot++
	due := s.snapshotEvery > 0 && s.snapshotPath != "" && s.sinceSnapshot >= s.snapshotEvery
	s.mu.Unlock()

	s.metrics.RecordEvent(typ)
	switch ev := e.(type) {
	case events.EpochEnded:
		s.metrics.RecordSeal()
		s.prune()
	case events.ReputationSpent:
		s.metrics.RecordNullifiers(len(ev.Nullifiers))
	case events.UserStateTransitioned:
		s.metrics.RecordNullifiers(len(ev.Transition.Nullifiers))
	}
	s.metrics.SetLedgerState(s.replica.CurrentEpoch(), s.replica.UserCount())

	if due {
		if err := s.Snapshot(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) prune() {
	cur := s.replica.CurrentEpoch()
	if s.keepEpochs == 0 || cur <= s.keepEpochs {
		return
	}
	if n := s.replica.PruneAttestations(cur - s.keepEpochs); n > 0 {
		s.log.Debug().Int("epochs", n).Uint64("before", cur-s.keepEpochs).Msg("pruned attestations")
	}
}

// Snapshot writes the replica snapshot now.
func (s *Syncer) Snapshot() error {
	if s.snapshotPath == "" {
		return fmt.Errorf("snapshots are not configured")
	}
	if err := store.SaveSnapshot(s.snapshotPath, s.replica.Snapshot()); err != nil {
		s.metrics.RecordError("snapshot")
		return fmt.Errorf("snapshot: %w", err)
	}
	s.mu.Lock()
	s.sinceSnapshot = 0
	s.mu.Unlock()
	s.metrics.RecordSnapshot()
	s.log.Info().Str("path", s.snapshotPath).Uint64("epoch", s.replica.CurrentEpoch()).Msg("snapshot written")
	return nil
}

func (s *Syncer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
