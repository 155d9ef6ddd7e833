package ledger

import (
	"fmt"

	"repledger/internal/tree"
)

// Params fixes the shape of every accumulator and of the transition batches.
// All replicas and provers of one deployment must agree on them.
type Params struct {
	GlobalStateTreeDepth     int    `json:"global_state_tree_depth" toml:"global_state_tree_depth"`
	UserStateTreeDepth       int    `json:"user_state_tree_depth" toml:"user_state_tree_depth"`
	EpochTreeDepth           int    `json:"epoch_tree_depth" toml:"epoch_tree_depth"`
	NumEpochKeyNoncePerEpoch uint64 `json:"num_epoch_key_nonce_per_epoch" toml:"num_epoch_key_nonce_per_epoch"`
	MaxReputationBudget      uint64 `json:"max_reputation_budget" toml:"max_reputation_budget"`
	AttestationsPerBatch     int    `json:"attestations_per_batch" toml:"attestations_per_batch"`
}

// DefaultParams returns the production shape.
func DefaultParams() Params {
	return Params{
		GlobalStateTreeDepth:     16,
		UserStateTreeDepth:       16,
		EpochTreeDepth:           32,
		NumEpochKeyNoncePerEpoch: 3,
		MaxReputationBudget:      10,
		AttestationsPerBatch:     5,
	}
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if p.GlobalStateTreeDepth < 1 || p.GlobalStateTreeDepth > tree.MaxDepth {
		return fmt.Errorf("global_state_tree_depth must be in [1, %d]", tree.MaxDepth)
	}
	if p.UserStateTreeDepth < 1 || p.UserStateTreeDepth > tree.MaxDepth {
		return fmt.Errorf("user_state_tree_depth must be in [1, %d]", tree.MaxDepth)
	}
	if p.EpochTreeDepth < 1 || p.EpochTreeDepth > tree.MaxDepth {
		return fmt.Errorf("epoch_tree_depth must be in [1, %d]", tree.MaxDepth)
	}
	if p.NumEpochKeyNoncePerEpoch == 0 {
		return fmt.Errorf("num_epoch_key_nonce_per_epoch must be positive")
	}
	if p.MaxReputationBudget == 0 {
		return fmt.Errorf("max_reputation_budget must be positive")
	}
	if p.AttestationsPerBatch <= 0 {
		return fmt.Errorf("attestations_per_batch must be positive")
	}
	return nil
}

// GlobalStateTreeCapacity is the maximum number of users.
func (p Params) GlobalStateTreeCapacity() uint64 { return uint64(1) << p.GlobalStateTreeDepth }

// MaxAttesters is the exclusive upper bound of attester ids.
func (p Params) MaxAttesters() uint64 { return uint64(1) << p.UserStateTreeDepth }

// MaxEpochKey is the exclusive upper bound of epoch keys.
func (p Params) MaxEpochKey() uint64 { return uint64(1) << p.EpochTreeDepth }
