// Package circuitbreaker implements a per-bucket-id circuit breaker with a
// failure-count threshold and a cooldown window. It deliberately has no
// half-open probe state: spec.md §4.3/§9 treats the first post-cooldown
// attempt as an ordinary closed-state call, so a single failure
// re-accumulates toward the threshold rather than reopening immediately.
package circuitbreaker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config configures a Breaker.
type Config struct {
	FailureThreshold int
	CooldownPeriod   time.Duration
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		CooldownPeriod:   30 * time.Second,
	}
}

// Status is the observable snapshot exposed to callers and tests.
type Status struct {
	Name              string
	IsOpen            bool
	FailCount         int
	FailureThreshold  int
	CooldownRemaining time.Duration
	LastFailureAt     time.Time
}

// Breaker is a per-bucket-id circuit breaker. All methods are safe for
// concurrent use and are shared by reference across every Resilient
// Operation targeting the same bucket id.
type Breaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu            sync.Mutex
	failCount     int
	isOpen        bool
	openedAt      time.Time
	lastFailureAt time.Time
}

// New creates a Breaker identified by name (typically the provider's
// bucket id), initially CLOSED.
func New(name string, config Config, logger *zap.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.CooldownPeriod <= 0 {
		config.CooldownPeriod = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{name: name, config: config, logger: logger}
}

// IsOpen reports whether the breaker currently fast-fails calls. A breaker
// whose cooldown has elapsed lazily transitions to CLOSED on this call.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.isOpen {
		return false
	}
	if time.Since(b.openedAt) > b.config.CooldownPeriod {
		b.logger.Debug("circuit breaker cooldown elapsed, closing", zap.String("bucket_id", b.name))
		b.isOpen = false
		b.failCount = 0
		b.openedAt = time.Time{}
		return false
	}
	return true
}

// RecordFailure increments the failure count and opens the breaker once
// the threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failCount++
	b.lastFailureAt = time.Now()

	if !b.isOpen && b.failCount >= b.config.FailureThreshold {
		b.isOpen = true
		b.openedAt = time.Now()
		b.logger.Warn("circuit breaker opened",
			zap.String("bucket_id", b.name),
			zap.Int("fail_count", b.failCount),
			zap.Int("threshold", b.config.FailureThreshold))
	}
}

// RecordSuccess fully resets the breaker to CLOSED with a zero failure
// count, regardless of the prior state.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasOpen := b.isOpen
	b.failCount = 0
	b.isOpen = false
	b.openedAt = time.Time{}

	if wasOpen {
		b.logger.Info("circuit breaker closed on success", zap.String("bucket_id", b.name))
	}
}

// ForceClose resets the breaker as if a success had just been recorded,
// for operator-triggered recovery.
func (b *Breaker) ForceClose() {
	b.RecordSuccess()
}

// Status returns an observable snapshot of the breaker's current state.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := time.Duration(0)
	if b.isOpen {
		if r := b.config.CooldownPeriod - time.Since(b.openedAt); r > 0 {
			remaining = r
		}
	}

	return Status{
		Name:              b.name,
		IsOpen:            b.isOpen,
		FailCount:         b.failCount,
		FailureThreshold:  b.config.FailureThreshold,
		CooldownRemaining: remaining,
		LastFailureAt:     b.lastFailureAt,
	}
}
