// gadgets.go - In-circuit counterparts of the native derivations.
//
// Every helper here must agree bit for bit with internal/crypto and internal/tree
// under the MiMC hasher: the orchestrator computes witnesses natively and the
// circuits recompute them.

package circuits

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// Domain separators, matching crypto.EpochKeyNullifierDomain and the sealed-leaf prefix.
const (
	epochKeyNullifierDomain = 1
	sealPrefix              = 1
)

// Range of reputation values, matching ledger.MaxReputationDelta and uint64 counters.
const (
	deltaBits   = 32
	counterBits = 64
)

// hash is crypto.MiMC.Hash. A fresh sponge per call; std/hash/mimc keeps its
// state across Sum.
func hash(api frontend.API, inputs ...frontend.Variable) frontend.Variable {
	h, _ := mimc.NewMiMC(api)
	h.Write(inputs...)
	return h.Sum()
}

func hashLeftRight(api frontend.API, left, right frontend.Variable) frontend.Variable {
	return hash(api, left, right)
}

// blind is crypto.Blind.
func blind(api frontend.API, identityNullifier, value, epoch, nonce frontend.Variable) frontend.Variable {
	return hash(api, identityNullifier, value, epoch, nonce)
}

// merkleRoot is tree.ComputeRoot with the index given as little-endian bits.
func merkleRoot(api frontend.API, leaf frontend.Variable, indexBits []frontend.Variable, siblings []frontend.Variable) frontend.Variable {
	cur := leaf
	for level, sib := range siblings {
		left := api.Select(indexBits[level], sib, cur)
		right := api.Select(indexBits[level], cur, sib)
		cur = hashLeftRight(api, left, right)
	}
	return cur
}

// indexBits decomposes index into depth bits, constraining index < 2^depth.
func indexBits(api frontend.API, index frontend.Variable, depth int) []frontend.Variable {
	return api.ToBinary(index, depth)
}

// epochKeyBits returns the low depth bits of H(identityNullifier, epoch, nonce),
// which is crypto.EpochKey as a bit path.
func epochKeyBits(api frontend.API, identityNullifier, epoch, nonce frontend.Variable, depth int) []frontend.Variable {
	bits := api.ToBinary(hash(api, identityNullifier, epoch, nonce))
	return bits[:depth]
}

// reputationHash is ledger.Reputation.Hash.
func reputationHash(api frontend.API, posRep, negRep, graffiti, signUp frontend.Variable) frontend.Variable {
	return hash(api, posRep, negRep, graffiti, signUp)
}

// attestationHash is ledger.Attestation.Hash.
func attestationHash(api frontend.API, attesterID, posRep, negRep, graffiti, signUp frontend.Variable) frontend.Variable {
	return hash(api, attesterID, posRep, negRep, graffiti, signUp)
}
