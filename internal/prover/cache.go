// cache.go - Verification result cache.

package prover

import (
	"context"
	"encoding/binary"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/zeebo/blake3"
)

// CachedVerifier wraps a Prover and remembers verification outcomes. Proving is
// passed through untouched. Errors are not cached.
type CachedVerifier struct {
	Prover
	cache  *lru.Cache
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCachedVerifier caches up to size outcomes of p.Verify.
func NewCachedVerifier(p Prover, size int) (*CachedVerifier, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedVerifier{Prover: p, cache: cache}, nil
}

func (c *CachedVerifier) Verify(ctx context.Context, proof *Proof) (bool, error) {
	key := cacheKey(proof)
	if cached, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return cached.(bool), nil
	}
	c.misses.Add(1)

	ok, err := c.Prover.Verify(ctx, proof)
	if err != nil {
		return false, err
	}
	c.cache.Add(key, ok)
	return ok, nil
}

// Stats returns cache hits and misses.
func (c *CachedVerifier) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// cacheKey is blake3 over the length-prefixed circuit id, proof and signals.
func cacheKey(p *Proof) [32]byte {
	h := blake3.New()
	var n [8]byte
	for _, part := range [][]byte{[]byte(p.Circuit), p.Proof, p.PublicSignals} {
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write(part)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
