// Package ratelimit implements the dual token-bucket rate limiting used by
// the resilient operation engine: one bucket for request count, one for
// estimated LLM tokens, both keyed by a provider bucket id.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Bucket is a token bucket backed by golang.org/x/time/rate.Limiter — the
// same rate-limiting primitive the teacher wires into its per-IP HTTP
// middleware, reused here for the provider-facing request/token budget
// instead of a hand-rolled refill loop.
type Bucket struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	capacity int
}

// NewBucket creates a bucket at full capacity.
func NewBucket(capacity int, refillRatePerSecond float64) *Bucket {
	return &Bucket{
		limiter:  rate.NewLimiter(rate.Limit(refillRatePerSecond), capacity),
		capacity: capacity,
	}
}

// Reservation is a held, uncommitted claim on a Bucket's tokens. A failed
// composite acquire (see Manager.tryAcquireBoth) calls Refund to reverse it.
type Reservation struct {
	r *rate.Reservation
}

// Refund reverses the reservation, returning its tokens to the bucket as
// much as the limiter's bookkeeping allows.
func (res *Reservation) Refund() {
	res.r.CancelAt(time.Now())
}

// Reserve attempts to claim n tokens without blocking. It reports false
// both when n can never be satisfied (n exceeds capacity) and when tokens
// aren't available right now — in the latter case no tokens are held, so
// the caller doesn't need to distinguish the two to retry later.
func (b *Bucket) Reserve(n int) (*Reservation, bool) {
	lim := b.currentLimiter()

	r := lim.ReserveN(time.Now(), n)
	if !r.OK() {
		return nil, false
	}
	if r.Delay() > 0 {
		r.CancelAt(time.Now())
		return nil, false
	}
	return &Reservation{r: r}, true
}

// TryRemove is a non-reserving convenience wrapper around Reserve, for
// callers (tests, single-bucket use) that don't need refund semantics.
func (b *Bucket) TryRemove(n int) bool {
	_, ok := b.Reserve(n)
	return ok
}

// Update replaces capacity and refill rate with new values reported by the
// server (e.g. from response headers), rebuilding the limiter from scratch
// so tokens reset to the new capacity rather than scaling the held balance
// proportionally: a dynamic update represents new ground truth, not a delta.
// This may over-grant briefly after a tighter limit is pushed down, which is
// an accepted, documented tradeoff (see spec.md §9 Open Questions).
func (b *Bucket) Update(capacity int, refillRatePerSecond float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limiter = rate.NewLimiter(rate.Limit(refillRatePerSecond), capacity)
	b.capacity = capacity
}

// Snapshot returns the current token count and capacity without consuming
// any, useful for metrics and tests.
func (b *Bucket) Snapshot() (tokens float64, capacity int) {
	lim := b.currentLimiter()
	b.mu.Lock()
	cap := b.capacity
	b.mu.Unlock()
	return lim.TokensAt(time.Now()), cap
}

func (b *Bucket) currentLimiter() *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limiter
}
