// main.go - End-to-end reputation ledger scenario.
//
// Three users sign up, attesters rate their epoch keys, one user spends
// reputation, the epoch is sealed and every user builds (and optionally proves)
// its user state transition. Every event goes through the wire codec and is
// applied by a public replica and by each user's own replica.
//
// Usage:
//   go run . [-prove] [-epochs 2]

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/rs/zerolog"

	"repledger/internal/crypto"
	"repledger/internal/events"
	"repledger/internal/ledger"
	"repledger/internal/logger"
	"repledger/internal/metrics"
	"repledger/internal/prover"
	"repledger/internal/prover/groth16"
	"repledger/internal/syncer"
	"repledger/internal/transition"
	"repledger/internal/user"
)

// scenarioParams keep the circuits small enough to prove on a laptop.
func scenarioParams() ledger.Params {
	return ledger.Params{
		GlobalStateTreeDepth:     4,
		UserStateTreeDepth:       4,
		EpochTreeDepth:           32,
		NumEpochKeyNoncePerEpoch: 2,
		MaxReputationBudget:      3,
		AttestationsPerBatch:     2,
	}
}

// Attester ids used by the scenario.
const (
	attesterAirdrop = 1
	attesterCritic  = 2
	attesterPeer    = 3
)

// Initial airdrops per user name.
var airdrops = map[string]struct{ attester, amount uint64 }{
	"alice": {attesterAirdrop, 10},
	"carol": {attesterCritic, 3},
}

var userNames = []string{"alice", "bob", "carol"}

type scenario struct {
	params  ledger.Params
	epochs  int
	prover  prover.Prover
	log     zerolog.Logger
	metrics *metrics.Metrics
}

type outcome struct {
	public *ledger.Replica
	users  map[string]*user.User
	proofs int
}

// follower is one replica fed by the simulated ledger.
type follower struct {
	name    string
	replica *ledger.Replica
	user    *user.User
	syncer  *syncer.Syncer
}

// chain orders events and delivers them to every follower.
type chain struct {
	block     uint64
	followers []*follower
}

func (c *chain) next() events.At {
	c.block++
	return events.At{Block: c.block}
}

// emit round-trips e through the codec and applies it everywhere. Any rejection
// is a scenario failure.
func (c *chain) emit(e events.Event) error {
	data, err := events.Encode(e)
	if err != nil {
		return err
	}
	decoded, err := events.Decode(data)
	if err != nil {
		return err
	}
	for _, f := range c.followers {
		before := f.syncer.Stats()
		if err := f.syncer.Process(decoded); err != nil {
			return err
		}
		if after := f.syncer.Stats(); after.Applied != before.Applied+1 {
			return fmt.Errorf("%s did not apply %s at %s: %s", f.name, e.Type(), e.Origin(), after.LastError)
		}
	}
	return nil
}

func newFollower(sc *scenario, name string, id *crypto.Identity) (*follower, error) {
	r, err := ledger.NewReplica(sc.params, crypto.MiMC{})
	if err != nil {
		return nil, err
	}
	f := &follower{name: name, replica: r}
	opts := []syncer.Option{syncer.WithLogger(sc.log.With().Str("follower", name).Logger())}
	if id != nil {
		f.user = user.New(r, *id, user.WithLogger(sc.log.With().Str("user", name).Logger()))
		opts = append(opts, syncer.WithHandler(f.user))
	} else {
		opts = append(opts, syncer.WithMetrics(sc.metrics))
	}
	f.syncer = syncer.New(r, opts...)
	return f, nil
}

func run(ctx context.Context, sc scenario) (*outcome, error) {
	// Step 1: Followers
	public, err := newFollower(&sc, "public", nil)
	if err != nil {
		return nil, err
	}
	c := &chain{followers: []*follower{public}}
	users := make([]*follower, len(userNames))
	for i, name := range userNames {
		id, err := crypto.NewIdentity()
		if err != nil {
			return nil, err
		}
		if users[i], err = newFollower(&sc, name, &id); err != nil {
			return nil, err
		}
		c.followers = append(c.followers, users[i])
	}

	// Step 2: Signups
	for _, f := range users {
		drop := airdrops[f.name]
		err := c.emit(events.UserSignedUp{
			At:                 c.next(),
			Epoch:              1,
			IdentityCommitment: f.user.Commitment(),
			AttesterID:         drop.attester,
			AirdropAmount:      drop.amount,
		})
		if err != nil {
			return nil, fmt.Errorf("signup %s: %w", f.name, err)
		}
	}
	sc.log.Info().Int("users", len(users)).Msg("users signed up")

	out := &outcome{public: public.replica, users: make(map[string]*user.User)}
	for _, f := range users {
		out.users[f.name] = f.user
	}
	o := transition.New(transition.WithLogger(sc.log), transition.WithMetrics(sc.metrics))

	for round := 0; round < sc.epochs; round++ {
		epoch := public.replica.CurrentEpoch()

		// Step 3: Attestations
		if err := attest(c, epoch, users); err != nil {
			return nil, err
		}

		// Step 4: Alice spends two units of reputation
		alice := users[0].user
		spent := make([]fr.Element, sc.params.MaxReputationBudget)
		for nonce := uint64(0); nonce < 2; nonce++ {
			if spent[nonce], err = alice.ReputationNullifier(epoch, nonce); err != nil {
				return nil, err
			}
		}
		if err := c.emit(events.ReputationSpent{At: c.next(), Epoch: epoch, Nullifiers: spent}); err != nil {
			return nil, fmt.Errorf("spend: %w", err)
		}

		// Step 5: Seal
		if err := c.emit(events.EpochEnded{At: c.next(), Epoch: epoch}); err != nil {
			return nil, fmt.Errorf("seal epoch %d: %w", epoch, err)
		}

		// Step 6: Every user builds its transition from its own replica
		projections := make([]*user.User, len(users))
		for i, f := range users {
			projections[i] = f.user
		}
		results, err := o.BuildAll(ctx, projections, len(projections))
		if err != nil {
			return nil, err
		}
		for i, res := range results {
			if sc.prover != nil {
				proofs, err := o.Prove(ctx, sc.prover, res)
				if err != nil {
					return nil, fmt.Errorf("prove %s: %w", users[i].name, err)
				}
				if err := o.Verify(ctx, sc.prover, proofs); err != nil {
					return nil, fmt.Errorf("verify %s: %w", users[i].name, err)
				}
				out.proofs += len(proofs.All())
			}
			if err := c.emit(events.UserStateTransitioned{At: c.next(), Transition: res.Transition()}); err != nil {
				return nil, fmt.Errorf("transition %s: %w", users[i].name, err)
			}
		}
		sc.log.Info().Uint64("epoch", epoch).Int("transitions", len(results)).Msg("epoch complete")
	}

	// Step 7: Every replica agrees
	want, err := public.replica.GSTRoot(public.replica.CurrentEpoch())
	if err != nil {
		return nil, err
	}
	for _, f := range users {
		got, err := f.replica.GSTRoot(f.replica.CurrentEpoch())
		if err != nil {
			return nil, err
		}
		if !got.Equal(&want) {
			return nil, fmt.Errorf("%w: %s replica diverged", ledger.ErrRootMismatch, f.name)
		}
	}
	return out, nil
}

// attest rates the current epoch keys: alice gets praise and criticism on two
// keys, bob gets three small ratings on one key, carol gets nothing.
func attest(c *chain, epoch uint64, users []*follower) error {
	alice := users[0].user.EpochKeys(epoch)
	bob := users[1].user.EpochKeys(epoch)

	plan := []events.AttestationSubmitted{
		{Epoch: epoch, EpochKey: alice[0], Attestation: ledger.Attestation{AttesterID: attesterAirdrop, PosRep: 5}},
		{Epoch: epoch, EpochKey: alice[1], Attestation: ledger.Attestation{AttesterID: attesterCritic, NegRep: 2, Graffiti: crypto.FromUint64(1000 + epoch)}},
		{Epoch: epoch, EpochKey: bob[0], Attestation: ledger.Attestation{AttesterID: attesterPeer, PosRep: 1}},
		{Epoch: epoch, EpochKey: bob[0], Attestation: ledger.Attestation{AttesterID: attesterPeer, PosRep: 1}},
		{Epoch: epoch, EpochKey: bob[0], Attestation: ledger.Attestation{AttesterID: attesterPeer, PosRep: 1}},
	}
	for _, a := range plan {
		a.At = c.next()
		if err := c.emit(a); err != nil {
			return fmt.Errorf("attest epoch %d: %w", epoch, err)
		}
	}
	return nil
}

func main() {
	prove := flag.Bool("prove", false, "generate and verify Groth16 proofs for every transition")
	epochs := flag.Int("epochs", 2, "number of epochs to run")
	keyDir := flag.String("keys", "keys", "directory for proving and verifying keys")
	level := flag.String("log", "info", "log level")
	flag.Parse()

	lg := logger.NewWriter(os.Stderr, *level)
	lg.Info().Msg("=== Reputation ledger scenario ===")

	sc := scenario{params: scenarioParams(), epochs: *epochs, log: lg.Logger, metrics: metrics.New()}
	if *prove {
		backend := groth16.New(sc.params, groth16.WithKeyDir(*keyDir), groth16.WithLogger(lg.Logger), groth16.WithMetrics(sc.metrics))
		if err := backend.Setup(context.Background()); err != nil {
			lg.Fatal().Err(err).Msg("circuit setup failed")
		}
		sc.prover = backend
	}

	out, err := run(context.Background(), sc)
	if err != nil {
		if errors.Is(err, ledger.ErrRootMismatch) {
			lg.Error().Msg("replicas diverged")
		}
		lg.Fatal().Err(err).Msg("scenario failed")
	}

	fmt.Printf("epoch %d, %d users, %d nullifiers, %d proofs\n",
		out.public.CurrentEpoch(), out.public.UserCount(), out.public.NullifierCount(), out.proofs)
	for _, name := range userNames {
		u := out.users[name]
		fmt.Printf("%-6s transitioned to epoch %d\n", name, u.LatestTransitionedEpoch())
		for _, l := range u.Leaves() {
			fmt.Printf("       attester %d: +%d -%d\n", l.AttesterID, l.Reputation.PosRep, l.Reputation.NegRep)
		}
	}
}
