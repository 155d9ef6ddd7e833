// node.go - Wiring shared by the repd commands.

package main

import (
	"context"
	"fmt"
	"os"

	"repledger/internal/config"
	"repledger/internal/ledger"
	"repledger/internal/logger"
	"repledger/internal/metrics"
	"repledger/internal/prover"
	"repledger/internal/prover/groth16"
	"repledger/internal/store"
	"repledger/internal/syncer"
	"repledger/internal/user"
)

// node is an opened replica with its storage, recovered from snapshot and log.
type node struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics
	kv      store.KV
	events  *store.EventLog
	replica *ledger.Replica
	user    *user.User
	syncer  *syncer.Syncer
}

type nodeOptions struct {
	identityPath string
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func openNode(ctx context.Context, cfg *config.Config, opts nodeOptions) (*node, error) {
	auditPath := ""
	if cfg.EnableAudit {
		auditPath = cfg.AuditLogPath
	}
	lg, err := logger.New(cfg.LogLevel, cfg.LogFile, auditPath)
	if err != nil {
		return nil, err
	}
	n := &node{cfg: cfg, log: lg, metrics: metrics.New()}

	// Step 1: Storage
	if n.kv, err = store.Open(cfg.Storage.Backend, cfg.Storage.Path); err != nil {
		n.Close()
		return nil, err
	}
	n.events = store.NewEventLog(n.kv)

	// Step 2: Replica from the last snapshot
	h, err := cfg.Hasher()
	if err != nil {
		n.Close()
		return nil, err
	}
	snapshotPath := ""
	if cfg.Snapshot.Every > 0 {
		snapshotPath = cfg.Snapshot.Path
	}
	replica, restored, err := syncer.OpenReplica(snapshotPath, cfg.Params, h, ledger.WithLogger(lg.Logger))
	if err != nil {
		n.Close()
		return nil, err
	}
	n.replica = replica

	// Step 3: Optional user projection. A projection is not part of the
	// snapshot, so it replays the log from the start on a fresh replica.
	syncOpts := []syncer.Option{
		syncer.WithLogger(lg.Logger),
		syncer.WithMetrics(n.metrics),
		syncer.WithEventLog(n.events),
		syncer.WithSnapshots(snapshotPath, cfg.Snapshot.Every),
		syncer.WithPruning(cfg.Snapshot.KeepEpochs),
	}
	if opts.identityPath != "" {
		id, err := user.LoadIdentity(opts.identityPath)
		if err != nil {
			n.Close()
			return nil, err
		}
		if restored {
			if n.replica, err = ledger.NewReplica(cfg.Params, h, ledger.WithLogger(lg.Logger)); err != nil {
				n.Close()
				return nil, err
			}
		}
		n.user = user.New(n.replica, id, user.WithLogger(lg.Logger))
		syncOpts = append(syncOpts, syncer.WithHandler(n.user), syncer.WithPruning(0))
	}
	n.syncer = syncer.New(n.replica, syncOpts...)

	// Step 4: Log tail
	replayed, err := n.syncer.Recover(ctx)
	if err != nil {
		n.Close()
		return nil, err
	}
	lg.Audit("node_opened", map[string]interface{}{
		"restored": restored,
		"replayed": replayed,
		"epoch":    n.replica.CurrentEpoch(),
	})
	return n, nil
}

// prover returns the configured proving backend.
func (n *node) prover() (prover.Prover, error) {
	if n.cfg.Prover.Backend != config.ProverGroth16 {
		return nil, fmt.Errorf("prover backend %q cannot prove", n.cfg.Prover.Backend)
	}
	var p prover.Prover = groth16.New(n.cfg.Params,
		groth16.WithKeyDir(n.cfg.Prover.KeyDir),
		groth16.WithLogger(n.log.Logger),
		groth16.WithMetrics(n.metrics),
	)
	if n.cfg.Prover.VerifyCache > 0 {
		cached, err := prover.NewCachedVerifier(p, n.cfg.Prover.VerifyCache)
		if err != nil {
			return nil, err
		}
		p = cached
	}
	return p, nil
}

func (n *node) Close() {
	if n.kv != nil {
		if err := n.kv.Close(); err != nil {
			n.log.Error().Err(err).Msg("failed to close store")
		}
	}
	n.log.Close()
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
