// ratelimit.go - Token buckets for event submitters

package events

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket refilled by refillRate tokens every refillPeriod.
type RateLimiter struct {
	mu           sync.Mutex
	tokens       int
	maxTokens    int
	refillRate   int
	lastRefill   time.Time
	refillPeriod time.Duration
	now          func() time.Time
}

func NewRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration) *RateLimiter {
	return newRateLimiter(maxTokens, refillRate, refillPeriod, time.Now)
}

func newRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		tokens:       maxTokens,
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		lastRefill:   now(),
		refillPeriod: refillPeriod,
		now:          now,
	}
}

// Allow consumes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if rl.refillPeriod > 0 {
		if n := int(now.Sub(rl.lastRefill) / rl.refillPeriod); n > 0 {
			rl.tokens += n * rl.refillRate
			if rl.tokens > rl.maxTokens {
				rl.tokens = rl.maxTokens
			}
			rl.lastRefill = rl.lastRefill.Add(time.Duration(n) * rl.refillPeriod)
		}
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) Tokens() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.tokens
}

// SubmitterLimiter keeps one bucket per submitter address.
type SubmitterLimiter struct {
	mu           sync.Mutex
	limiters     map[string]*RateLimiter
	maxTokens    int
	refillRate   int
	refillPeriod time.Duration
	now          func() time.Time
}

func NewSubmitterLimiter(maxTokens, refillRate int, refillPeriod time.Duration) *SubmitterLimiter {
	return &SubmitterLimiter{
		limiters:     make(map[string]*RateLimiter),
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
		now:          time.Now,
	}
}

func (sl *SubmitterLimiter) Allow(submitter string) bool {
	sl.mu.Lock()
	limiter, ok := sl.limiters[submitter]
	if !ok {
		limiter = newRateLimiter(sl.maxTokens, sl.refillRate, sl.refillPeriod, sl.now)
		sl.limiters[submitter] = limiter
	}
	sl.mu.Unlock()

	return limiter.Allow()
}

// Tokens reports the remaining tokens of submitter; unknown submitters have a full bucket.
func (sl *SubmitterLimiter) Tokens(submitter string) int {
	sl.mu.Lock()
	limiter, ok := sl.limiters[submitter]
	sl.mu.Unlock()
	if !ok {
		return sl.maxTokens
	}
	return limiter.Tokens()
}
