// Package ratelimit provides a per-key token bucket limiter used to bound
// how often the core retransmits a proof message to the same offending
// origin (spec Design Note (iii): "DropByProof's retransmission rate limit
// is not specified in source — implementers should add one token-bucket
// per offender").
package ratelimit

import (
	"sync"

	"github.com/cockroachdb/tokenbucket"
)

// DefaultRate and DefaultBurst bound proof retransmission to roughly one
// every two seconds per offender, with a small burst allowance for the
// first few repeats while the offender catches up.
const (
	DefaultRate  = tokenbucket.TokensPerSecond(0.5)
	DefaultBurst = tokenbucket.Tokens(3)
)

// KeyedLimiter owns one token bucket per string key (a member id or
// retention key), created lazily on first use.
type KeyedLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenbucket.TokenBucket
	rate    tokenbucket.TokensPerSecond
	burst   tokenbucket.Tokens
}

// New creates a KeyedLimiter with the given per-key rate and burst.
func New(rate tokenbucket.TokensPerSecond, burst tokenbucket.Tokens) *KeyedLimiter {
	return &KeyedLimiter{
		buckets: make(map[string]*tokenbucket.TokenBucket),
		rate:    rate,
		burst:   burst,
	}
}

// Allow reports whether a new token is available for key, consuming it if
// so. The first call for any key always succeeds (the bucket starts full).
func (l *KeyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	tb, ok := l.buckets[key]
	if !ok {
		tb = &tokenbucket.TokenBucket{}
		tb.Init(l.rate, l.burst)
		l.buckets[key] = tb
	}
	ok, _ = tb.TryToFulfill(1)
	return ok
}

// Forget releases the bucket for key, reclaiming memory once an offender
// has been silent long enough that a fresh burst allowance is appropriate.
func (l *KeyedLimiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}
