// main.go - repd, the reputation ledger daemon.
//
// Usage:
//   repd serve                      receive relayed events over HTTP
//   repd replay events.jsonl        apply a file of events
//   repd status                     print the replica state
//   repd snapshot                   write a snapshot now
//   repd identity new               create an identity file
//   repd transition --prove         build (and prove) the user's transition

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"repledger/internal/crypto"
	"repledger/internal/events"
	"repledger/internal/health"
	"repledger/internal/syncer"
	"repledger/internal/transition"
	"repledger/internal/user"
)

var Version = "dev"

func main() {
	var configPath string
	var identityPath string

	rootCmd := &cobra.Command{
		Use:   "repd",
		Short: "Privacy-preserving reputation ledger replica",
		Long: `repd mirrors the reputation ledger from its ordered event stream, keeps
a durable event log and snapshots, and builds user state transitions.`,
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "repd.json", "Config file (.json or .toml)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive events over HTTP and apply them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, configPath, identityPath)
		},
	}

	replayCmd := &cobra.Command{
		Use:   "replay <events.jsonl>",
		Short: "Apply a JSON lines file of events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return replay(cmd.Context(), configPath, identityPath, args[0])
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the replica state as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return status(cmd.Context(), configPath, identityPath)
		},
	}

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Write a replica snapshot now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			n, err := openNode(cmd.Context(), cfg, nodeOptions{})
			if err != nil {
				return err
			}
			defer n.Close()
			return n.syncer.Snapshot()
		},
	}

	identityCmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage identities",
	}
	identityNewCmd := &cobra.Command{
		Use:   "new",
		Short: "Create a fresh identity file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(identityPath); err == nil {
				return fmt.Errorf("%s already exists", identityPath)
			}
			id, err := crypto.NewIdentity()
			if err != nil {
				return err
			}
			if err := user.SaveIdentity(identityPath, id); err != nil {
				return err
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			h, err := cfg.Hasher()
			if err != nil {
				return err
			}
			fmt.Println(crypto.Format(id.Commitment(h)))
			return nil
		},
	}
	identityCmd.AddCommand(identityNewCmd)

	var prove bool
	transitionCmd := &cobra.Command{
		Use:   "transition",
		Short: "Build the user state transition of the identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return buildTransition(cmd.Context(), configPath, identityPath, prove)
		},
	}
	transitionCmd.Flags().BoolVar(&prove, "prove", false, "Prove and verify the transition")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}

	for _, c := range []*cobra.Command{serveCmd, replayCmd, statusCmd, transitionCmd} {
		c.Flags().StringVar(&identityPath, "identity", "", "Identity file; follows that user's projection")
	}
	identityNewCmd.Flags().StringVar(&identityPath, "out", "identity.json", "Where to write the identity")

	rootCmd.AddCommand(serveCmd, replayCmd, statusCmd, snapshotCmd, identityCmd, transitionCmd, versionCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fatalf("repd: %v", err)
	}
}

func serve(ctx context.Context, configPath, identityPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	n, err := openNode(ctx, cfg, nodeOptions{identityPath: identityPath})
	if err != nil {
		return err
	}
	defer n.Close()

	checker := health.NewChecker(Version)
	checker.RegisterComponent("store", func() error {
		_, _, err := n.events.Last()
		return err
	})
	checker.RegisterComponent("syncer", func() error {
		if s := n.syncer.Stats(); s.LastError != "" {
			return &health.DegradedError{Reason: s.LastError}
		}
		return nil
	})

	opts := []events.ReceiverOption{
		events.WithLogger(n.log.Logger),
		events.WithMetrics(n.metrics),
		events.WithQueueSize(cfg.Server.QueueSize),
		events.WithHandler("/health", checker.Handler()),
		events.WithHandler("/metrics", n.metrics.Handler()),
	}
	if cfg.Server.RateLimitBurst > 0 {
		period, err := cfg.RateLimitPeriod()
		if err != nil {
			return err
		}
		opts = append(opts, events.WithRateLimit(cfg.Server.RateLimitBurst, cfg.Server.RateLimitRate, period))
	}
	receiver := events.NewReceiver(cfg.Server.Addr, opts...)
	if err := receiver.Start(); err != nil {
		return err
	}
	n.log.Info().Str("addr", receiver.Addr()).Uint64("epoch", n.replica.CurrentEpoch()).Msg("serving")

	go func() {
		<-ctx.Done()
		receiver.Close()
	}()
	err = n.syncer.Run(ctx, receiver)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func replay(ctx context.Context, configPath, identityPath, file string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	n, err := openNode(ctx, cfg, nodeOptions{identityPath: identityPath})
	if err != nil {
		return err
	}
	defer n.Close()

	src, err := events.OpenFile(file)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := n.syncer.Run(ctx, src); err != nil {
		return err
	}
	return printJSON(n.syncer.Stats())
}

type statusReport struct {
	Epoch      uint64       `json:"epoch"`
	Users      uint64       `json:"users"`
	Nullifiers int          `json:"nullifiers"`
	Latest     string       `json:"latestOrigin,omitempty"`
	GSTRoot    string       `json:"globalStateTreeRoot"`
	User       *userStatus  `json:"user,omitempty"`
	Stats      syncer.Stats `json:"sync"`
}

type userStatus struct {
	Commitment              string            `json:"identityCommitment"`
	SignedUp                bool              `json:"signedUp"`
	LatestTransitionedEpoch uint64            `json:"latestTransitionedEpoch"`
	Reputation              map[uint64]string `json:"reputation"`
}

func status(ctx context.Context, configPath, identityPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	n, err := openNode(ctx, cfg, nodeOptions{identityPath: identityPath})
	if err != nil {
		return err
	}
	defer n.Close()

	r := n.replica
	root, err := r.GSTRoot(r.CurrentEpoch())
	if err != nil {
		return err
	}
	report := statusReport{
		Epoch:      r.CurrentEpoch(),
		Users:      r.UserCount(),
		Nullifiers: r.NullifierCount(),
		GSTRoot:    crypto.Format(root),
		Stats:      n.syncer.Stats(),
	}
	if latest, ok := r.LatestOrigin(); ok {
		report.Latest = latest.String()
	}
	if u := n.user; u != nil {
		us := &userStatus{
			Commitment:              crypto.Format(u.Commitment()),
			SignedUp:                u.HasSignedUp(),
			LatestTransitionedEpoch: u.LatestTransitionedEpoch(),
			Reputation:              make(map[uint64]string),
		}
		for _, l := range u.Leaves() {
			us.Reputation[l.AttesterID] = fmt.Sprintf("+%d -%d", l.Reputation.PosRep, l.Reputation.NegRep)
		}
		report.User = us
	}
	return printJSON(report)
}

func buildTransition(ctx context.Context, configPath, identityPath string, prove bool) error {
	if identityPath == "" {
		return fmt.Errorf("--identity is required")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	n, err := openNode(ctx, cfg, nodeOptions{identityPath: identityPath})
	if err != nil {
		return err
	}
	defer n.Close()

	o := transition.New(transition.WithLogger(n.log.Logger), transition.WithMetrics(n.metrics))
	res, err := o.Build(n.user)
	if err != nil {
		return err
	}

	if prove {
		p, err := n.prover()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, cfg.ProverTimeout())
		defer cancel()
		began := time.Now()
		proofs, err := o.Prove(ctx, p, res)
		if err != nil {
			return err
		}
		if err := o.Verify(ctx, p, proofs); err != nil {
			return err
		}
		n.log.Audit("transition_proved", map[string]interface{}{
			"attempt": res.ID.String(),
			"proofs":  len(proofs.All()),
			"elapsed": time.Since(began).String(),
		})
	}

	// The envelope a relayer would submit once the proofs are accepted on chain.
	ev := events.UserStateTransitioned{Transition: res.Transition()}
	data, err := events.Encode(ev)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
