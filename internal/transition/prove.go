// prove.go - Driving the prover and building for many users.

package transition

import (
	"context"
	"fmt"
	"time"

	"github.com/consensys/gnark/frontend"
	"golang.org/x/sync/errgroup"

	"repledger/internal/prover"
	"repledger/internal/user"
)

// Proofs are the proofs of one Result, in proving order.
type Proofs struct {
	Start   *prover.Proof
	Process []*prover.Proof
	Final   *prover.Proof
}

// All returns the proofs in proving order.
func (p *Proofs) All() []*prover.Proof {
	out := make([]*prover.Proof, 0, len(p.Process)+2)
	out = append(out, p.Start)
	out = append(out, p.Process...)
	return append(out, p.Final)
}

// Prove proves the bundles of res in order: start, every batch, final. It stops
// at the first failure.
func (o *Orchestrator) Prove(ctx context.Context, p prover.Prover, res *Result) (*Proofs, error) {
	out := &Proofs{Process: make([]*prover.Proof, 0, len(res.Process))}

	var err error
	if out.Start, err = o.prove(ctx, p, prover.StartTransition, AssignStart(&res.Start)); err != nil {
		return nil, fmt.Errorf("start transition: %w", err)
	}
	for i := range res.Process {
		proof, err := o.prove(ctx, p, prover.ProcessAttestations, AssignProcess(&res.Process[i]))
		if err != nil {
			return nil, fmt.Errorf("process batch %d: %w", i, err)
		}
		out.Process = append(out.Process, proof)
	}
	if out.Final, err = o.prove(ctx, p, prover.UserStateTransition, AssignFinal(&res.Final)); err != nil {
		return nil, fmt.Errorf("user state transition: %w", err)
	}

	o.log.Info().Str("attempt", res.ID.String()).Int("proofs", len(out.Process)+2).Msg("transition proved")
	return out, nil
}

func (o *Orchestrator) prove(ctx context.Context, p prover.Prover, id prover.CircuitID, assignment frontend.Circuit) (*prover.Proof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	began := time.Now()
	proof, err := p.Prove(ctx, id, assignment)
	if err != nil {
		o.metrics.RecordError("prove")
		return nil, err
	}
	o.metrics.RecordProofGeneration(string(id), time.Since(began))
	return proof, nil
}

// Verify checks every proof of a transition. A rejected proof yields prover.ErrInvalidProof.
func (o *Orchestrator) Verify(ctx context.Context, p prover.Prover, proofs *Proofs) error {
	for i, proof := range proofs.All() {
		ok, err := p.Verify(ctx, proof)
		if err != nil {
			return fmt.Errorf("proof %d (%s): %w", i, proof.Circuit, err)
		}
		if !ok {
			return fmt.Errorf("%w: proof %d (%s)", prover.ErrInvalidProof, i, proof.Circuit)
		}
	}
	return nil
}

// BuildAll builds transitions for independent users, at most limit at a time.
// Each user must have its own replica or the replica must not be mutated while
// BuildAll runs. The first error cancels the remaining builds.
func (o *Orchestrator) BuildAll(ctx context.Context, users []*user.User, limit int) ([]*Result, error) {
	results := make([]*Result, len(users))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, u := range users {
		i, u := i, u
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := o.Build(u)
			if err != nil {
				return fmt.Errorf("user %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
