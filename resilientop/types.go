package resilientop

import (
	"context"
	"time"

	"github.com/resilient-llm/resilient-llm/circuitbreaker"
	"github.com/resilient-llm/resilient-llm/ratelimit"
)

// Response is the normalized shape fn must return on any HTTP status;
// transport failures are reported as a Go error instead.
type Response struct {
	Data          []byte
	StatusCode    int
	Headers       map[string]string
	RateLimitInfo *RateLimitInfo
}

// RateLimitInfo carries server-reported limits, applied back onto the
// bucket id's rate limit manager when present.
type RateLimitInfo struct {
	RequestsPerMinute  int
	LLMTokensPerMinute int
}

// Fn is the caller-supplied HTTP call. It must propagate ctx to the
// underlying transport so cancellation and timeout abort in-flight I/O.
type Fn func(ctx context.Context, url string, body any, headers map[string]string) (*Response, error)

// Config is the immutable-once-execution-starts configuration for a single
// Resilient Operation.
type Config struct {
	BucketID       string
	RateLimit      ratelimit.Config
	Retries        int
	Timeout        time.Duration
	BackoffFactor  float64
	CircuitBreaker circuitbreaker.Config
	MaxConcurrent  int // 0 = unlimited
}

// withDefaults fills zero-valued fields with spec-reasonable defaults.
func (c Config) withDefaults() Config {
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.CircuitBreaker.FailureThreshold <= 0 {
		c.CircuitBreaker = circuitbreaker.DefaultConfig()
	}
	return c
}
