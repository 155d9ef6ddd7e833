// backend.go - Groth16 prover over BN254 for the bundled circuits.
//
// Circuits are compiled on first use. Keys come from a key directory when one is
// configured, otherwise from an in-memory setup. Either way the setup is a local
// one and only suited to development and tests.

package groth16

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/rs/zerolog"

	"repledger/internal/circuits"
	"repledger/internal/ledger"
	"repledger/internal/metrics"
	"repledger/internal/prover"
)

type compiled struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

// Backend implements prover.Prover.
type Backend struct {
	params  ledger.Params
	keyDir  string
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	circuits map[prover.CircuitID]*compiled
}

type Option func(*Backend)

// WithKeyDir stores and reuses keys under dir.
func WithKeyDir(dir string) Option { return func(b *Backend) { b.keyDir = dir } }

func WithLogger(l zerolog.Logger) Option {
	return func(b *Backend) { b.log = l.With().Str("component", "groth16").Logger() }
}

func WithMetrics(m *metrics.Metrics) Option { return func(b *Backend) { b.metrics = m } }

// New returns a backend for circuits shaped by p.
func New(p ledger.Params, opts ...Option) *Backend {
	b := &Backend{
		params:   p,
		log:      zerolog.Nop(),
		circuits: make(map[prover.CircuitID]*compiled),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// keyName identifies keys by circuit and shape, so changed params never pick up stale keys.
func (b *Backend) keyName(id prover.CircuitID) string {
	p := b.params
	return fmt.Sprintf("%s_g%d_u%d_e%d_n%d_b%d", id, p.GlobalStateTreeDepth, p.UserStateTreeDepth,
		p.EpochTreeDepth, p.NumEpochKeyNoncePerEpoch, p.AttestationsPerBatch)
}

func (b *Backend) load(id prover.CircuitID) (*compiled, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[id]; ok {
		return c, nil
	}

	// Step 1: Compile
	began := time.Now()
	circuit, err := circuits.New(id, b.params)
	if err != nil {
		return nil, err
	}
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return nil, fmt.Errorf("circuit compilation failed: %w", err)
	}

	// Step 2: Keys
	var pk groth16.ProvingKey
	var vk groth16.VerifyingKey
	if b.keyDir != "" {
		pk, vk, err = SetupOrLoadKeys(ccs, b.keyDir, b.keyName(id))
	} else {
		pk, vk, err = groth16.Setup(ccs)
	}
	if err != nil {
		return nil, fmt.Errorf("setup %s: %w", id, err)
	}

	c := &compiled{ccs: ccs, pk: pk, vk: vk}
	b.circuits[id] = c
	elapsed := time.Since(began)
	b.metrics.RecordCircuitCompile(string(id), elapsed)
	b.log.Info().Str("circuit", string(id)).Int("constraints", ccs.GetNbConstraints()).
		Dur("elapsed", elapsed).Msg("circuit ready")
	return c, nil
}

// Setup compiles every circuit ahead of the first proof.
func (b *Backend) Setup(ctx context.Context) error {
	for _, id := range prover.Circuits {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := b.load(id); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) Prove(ctx context.Context, id prover.CircuitID, assignment frontend.Circuit) (*prover.Proof, error) {
	c, err := b.load(id)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness creation failed: %w", err)
	}
	proof, err := groth16.Prove(c.ccs, c.pk, w)
	if err != nil {
		return nil, fmt.Errorf("proof generation failed: %w", err)
	}

	var proofBuf bytes.Buffer
	if _, err := proof.WriteTo(&proofBuf); err != nil {
		return nil, fmt.Errorf("proof marshaling failed: %w", err)
	}
	public, err := w.Public()
	if err != nil {
		return nil, err
	}
	signals, err := public.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("public witness marshaling failed: %w", err)
	}
	return &prover.Proof{Circuit: id, Proof: proofBuf.Bytes(), PublicSignals: signals}, nil
}

// Verify reports false for a well-formed proof that does not verify, and an
// error for one that cannot be decoded.
func (b *Backend) Verify(ctx context.Context, p *prover.Proof) (bool, error) {
	if !prover.Known(p.Circuit) {
		return false, fmt.Errorf("%w: %q", prover.ErrUnknownCircuit, p.Circuit)
	}
	c, err := b.load(p.Circuit)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(p.Proof)); err != nil {
		return false, fmt.Errorf("proof unmarshaling failed: %w", err)
	}
	public, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return false, err
	}
	if err := public.UnmarshalBinary(p.PublicSignals); err != nil {
		return false, fmt.Errorf("public witness unmarshaling failed: %w", err)
	}
	if err := groth16.Verify(proof, c.vk, public); err != nil {
		b.log.Debug().Str("circuit", string(p.Circuit)).Err(err).Msg("proof rejected")
		return false, nil
	}
	return true, nil
}
