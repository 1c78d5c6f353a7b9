package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// pollInterval is the fixed cadence at which a blocked Acquire re-checks
// both buckets. It is design-fixed (spec.md §4.2): it bounds the latency of
// release propagation without busy-looping.
const pollInterval = 100 * time.Millisecond

// Config configures the pair of buckets owned by a Manager.
type Config struct {
	RequestsPerMinute int
	LLMTokensPerMinute int
}

// Manager owns exactly two buckets — requests and llmTokens — identified by
// a bucketId (typically the provider name) and shared by reference across
// every Resilient Operation targeting that bucket.
type Manager struct {
	mu        sync.Mutex
	requests  *Bucket
	llmTokens *Bucket
	logger    *zap.Logger
}

// NewManager creates a Manager from an initial Config. A zero RPM/TPM means
// "unlimited" and is modeled as a very large capacity bucket.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	reqCap, reqRate := capacityAndRate(cfg.RequestsPerMinute)
	tokCap, tokRate := capacityAndRate(cfg.LLMTokensPerMinute)
	return &Manager{
		requests:  NewBucket(reqCap, reqRate),
		llmTokens: NewBucket(tokCap, tokRate),
		logger:    logger,
	}
}

func capacityAndRate(perMinute int) (capacity int, ratePerSecond float64) {
	if perMinute <= 0 {
		// Unlimited: a large, never-exhausted bucket.
		return 1 << 30, 1 << 20
	}
	return perMinute, float64(perMinute) / 60
}

// Acquire blocks until both the requests and llmTokens buckets have
// sufficient tokens observed atomically — if the requests reservation
// succeeds but the llmTokens reservation fails, the request reservation is
// refunded before retrying. It returns ctx.Err() if ctx is done either
// before the first attempt or while sleeping between attempts.
func (m *Manager) Acquire(ctx context.Context, llmTokenCount int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for {
		if m.tryAcquireBoth(llmTokenCount) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// tryAcquireBoth attempts a single atomic check-and-decrement of both
// buckets. If the requests bucket succeeds but the llmTokens bucket does
// not, the requests reservation is refunded and the whole attempt fails —
// at no point does a failed attempt leave either bucket decreased.
func (m *Manager) tryAcquireBoth(llmTokenCount int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	reqRes, ok := m.requests.Reserve(1)
	if !ok {
		return false
	}
	if _, ok := m.llmTokens.Reserve(llmTokenCount); !ok {
		reqRes.Refund()
		return false
	}
	return true
}

// Update re-parameterizes both buckets from server-reported limits. A zero
// field leaves the corresponding bucket untouched.
func (m *Manager) Update(requestsPerMinute, llmTokensPerMinute int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if requestsPerMinute > 0 {
		c, rate := capacityAndRate(requestsPerMinute)
		m.requests.Update(c, rate)
	}
	if llmTokensPerMinute > 0 {
		c, rate := capacityAndRate(llmTokensPerMinute)
		m.llmTokens.Update(c, rate)
	}
	m.logger.Debug("rate limit manager updated",
		zap.Int("requests_per_minute", requestsPerMinute),
		zap.Int("llm_tokens_per_minute", llmTokensPerMinute))
}

// Snapshot returns the current occupancy of both buckets, for metrics/tests.
func (m *Manager) Snapshot() (requestTokens, llmTokens float64) {
	rt, _ := m.requests.Snapshot()
	lt, _ := m.llmTokens.Snapshot()
	return rt, lt
}
