package resilientop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/resilient-llm/resilient-llm/cache"
	"github.com/resilient-llm/resilient-llm/internal/metrics"
)

// Option configures an Operation at construction time.
type Option func(*Operation)

// WithTokens sets the expected LLM token cost charged against the bucket's
// token budget on every attempt. Defaults to 0 (requests-only limiting).
func WithTokens(tokens int) Option {
	return func(op *Operation) { op.tokens = tokens }
}

// WithCache enables request-level response caching against store. Reads
// bypass fn entirely on a hit; only 200 responses are written back.
func WithCache(store cache.Store) Option {
	return func(op *Operation) { op.cacheStore = store }
}

// WithRateLimitObserver registers a callback invoked whenever a server
// response carries rate limit information that updates the bucket.
func WithRateLimitObserver(fn func(bucketID string, info RateLimitInfo)) Option {
	return func(op *Operation) { op.onRateLimitUpdate = fn }
}

// WithLogger attaches a logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(op *Operation) { op.logger = logger }
}

// Operation is a single configured unit of resilience — rate limiting,
// circuit breaking, bulkheading, retry with backoff, and optional response
// caching — executed against a bucket id's shared state in a Registry.
// See spec.md §4 (the Resilient Operation) and §9.
type Operation struct {
	registry *Registry
	config   Config

	tokens            int
	cacheStore        cache.Store
	onRateLimitUpdate func(bucketID string, info RateLimitInfo)
	logger            *zap.Logger
}

// NewOperation builds an Operation bound to registry's shared bucket state.
func NewOperation(registry *Registry, config Config, opts ...Option) *Operation {
	op := &Operation{
		registry: registry,
		config:   config.withDefaults(),
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(op)
	}
	return op
}

// Execute runs fn under the full resilience stack. ctx governs the entire
// call including every retry attempt; the operation's own Config.Timeout
// further bounds the overall wall-clock budget starting from this call.
func (op *Operation) Execute(ctx context.Context, url string, body any, headers map[string]string, fn Fn) (*Response, error) {
	bucketID := op.config.BucketID

	var cacheKey string
	if op.cacheStore != nil {
		cacheKey = cache.Key(url, body, headers)
		if entry, ok, err := op.cacheStore.Get(ctx, cacheKey); err == nil && ok {
			metrics.CacheResults.WithLabelValues(bucketID, "hit").Inc()
			return &Response{Data: entry.Data, StatusCode: entry.StatusCode}, nil
		}
		metrics.CacheResults.WithLabelValues(bucketID, "miss").Inc()

		// Concurrent callers that missed the cache on the same key join the
		// first one's flight instead of each paying bulkhead+retry+upstream
		// again, collapsing a cache stampede into a single call.
		v, err := op.registry.Coalesce(cacheKey, func() (any, error) {
			return op.runAndCache(ctx, cacheKey, url, body, headers, fn)
		})
		if err != nil {
			return nil, err
		}
		return v.(*Response), nil
	}

	return op.runAndCache(ctx, "", url, body, headers, fn)
}

// runAndCache executes the bulkhead/timeout/retry stack once and, on a
// cacheable success, writes the result back under cacheKey. cacheKey is
// empty when caching is disabled.
func (op *Operation) runAndCache(ctx context.Context, cacheKey string, url string, body any, headers map[string]string, fn Fn) (*Response, error) {
	bucketID := op.config.BucketID

	bulkhead := op.registry.Bulkhead()
	if err := bulkhead.AcquireSlot(bucketID, op.config.MaxConcurrent); err != nil {
		metrics.BulkheadRejections.WithLabelValues(bucketID).Inc()
		return nil, &Error{Kind: KindConcurrencyExceeded, Message: "bucket has no free concurrency slot", Cause: err}
	}
	defer bulkhead.ReleaseSlot(bucketID, op.config.MaxConcurrent)
	metrics.BulkheadInFlight.WithLabelValues(bucketID).Inc()
	defer metrics.BulkheadInFlight.WithLabelValues(bucketID).Dec()

	callCtx, cancel := context.WithTimeout(ctx, op.config.Timeout)
	defer cancel()

	manager := op.registry.manager(bucketID, op.config.RateLimit)
	breaker := op.registry.breaker(bucketID, op.config.CircuitBreaker)

	resp, err := op.retryLoop(callCtx, breaker, manager, url, body, headers, fn)
	if err == nil && op.cacheStore != nil && cacheKey != "" && resp.StatusCode == 200 {
		_ = op.cacheStore.Set(ctx, cacheKey, &cache.Entry{Data: resp.Data, StatusCode: resp.StatusCode})
	}
	return resp, err
}

func (op *Operation) retryLoop(ctx context.Context, breaker breakerLike, manager managerLike, url string, body any, headers map[string]string, fn Fn) (*Response, error) {
	bucketID := op.config.BucketID
	var lastErr error

	for attempt := 0; attempt <= op.config.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, classifyCancel(err)
		}

		if breaker.IsOpen() {
			metrics.OperationAttempts.WithLabelValues(bucketID, "circuit_open").Inc()
			return nil, &Error{Kind: KindCircuitOpen, Message: fmt.Sprintf("bucket %q circuit is open", bucketID)}
		}

		waitStart := time.Now()
		if err := manager.Acquire(ctx, op.tokens); err != nil {
			metrics.RateLimitWaitSeconds.WithLabelValues(bucketID).Observe(time.Since(waitStart).Seconds())
			return nil, classifyCancel(err)
		}
		metrics.RateLimitWaitSeconds.WithLabelValues(bucketID).Observe(time.Since(waitStart).Seconds())

		resp, callErr := fn(ctx, url, body, headers)
		if callErr != nil {
			lastErr = classifyCancel(callErr)
			asErr, _ := lastErr.(*Error)

			// Cancellation is the caller giving up, not the provider
			// failing; it must never trip the breaker. A deadline
			// firing mid-call is a real failure and does count.
			if asErr == nil || asErr.Kind != KindCancelled {
				breaker.RecordFailure()
				metrics.CircuitBreakerFailures.WithLabelValues(bucketID).Inc()
			}

			if asErr != nil && (asErr.Kind == KindCancelled || asErr.Kind == KindTimeout) {
				return nil, lastErr
			}
			if !op.sleepBeforeRetry(ctx, attempt, 0, false) {
				return nil, classifyCancel(ctx.Err())
			}
			continue
		}

		if resp.RateLimitInfo != nil {
			manager.Update(resp.RateLimitInfo.RequestsPerMinute, resp.RateLimitInfo.LLMTokensPerMinute)
			if op.onRateLimitUpdate != nil {
				op.onRateLimitUpdate(bucketID, *resp.RateLimitInfo)
			}
		}

		kind, retriable, breakerFailure := classifyStatus(resp.StatusCode)
		if kind == "" {
			breaker.RecordSuccess()
			metrics.OperationAttempts.WithLabelValues(bucketID, "success").Inc()
			return resp, nil
		}

		if breakerFailure {
			breaker.RecordFailure()
			metrics.CircuitBreakerFailures.WithLabelValues(bucketID).Inc()
		}
		lastErr = &Error{Kind: kind, StatusCode: resp.StatusCode, Message: fmt.Sprintf("status %d", resp.StatusCode)}

		if !retriable || attempt == op.config.Retries {
			metrics.OperationAttempts.WithLabelValues(bucketID, string(kind)).Inc()
			return nil, lastErr
		}

		retryAfter := time.Duration(0)
		hasRetryAfter := false
		if v, ok := resp.Headers["Retry-After"]; ok {
			retryAfter = ParseRetryAfter(v)
			hasRetryAfter = true
		}
		if !op.sleepBeforeRetry(ctx, attempt, retryAfter, hasRetryAfter) {
			return nil, classifyCancel(ctx.Err())
		}
	}

	metrics.OperationAttempts.WithLabelValues(bucketID, "exhausted").Inc()
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &Error{Kind: KindHard, Message: "retries exhausted with no recorded error"}
}

// sleepBeforeRetry waits before the next attempt: a server-supplied
// Retry-After overrides the exponential backoff entirely when present (per
// spec.md §4.6 — it is not merely a floor), including waiting 0ms when an
// HTTP-date Retry-After has already passed. With no Retry-After, it falls
// back to the exponential backoff for attempt. Returns false if ctx was
// cancelled while waiting.
func (op *Operation) sleepBeforeRetry(ctx context.Context, attempt int, retryAfter time.Duration, hasRetryAfter bool) bool {
	wait := time.Duration(float64(time.Second) * pow(op.config.BackoffFactor, attempt))
	if hasRetryAfter {
		wait = retryAfter
	}

	if wait <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// classifyStatus maps an HTTP status code to a taxonomy Kind, whether that
// Kind is retriable, and whether it counts as a breaker failure. A zero
// Kind means the response is a success. See spec.md §7's taxonomy table.
//
// AuthMissing is not produced here: it names the pre-flight "no API key
// resolved" failure raised before a request is ever sent (see the llm
// facade), not a server's rejection of credentials it was given. A wire
// 401/403 is an ordinary non-retriable client fault and falls into Hard
// like any other 4xx. Only 529 ("overloaded", Anthropic's convention) maps
// to Overloaded; 503 is a plain transient 5xx and must not trigger the
// cross-provider fallback that Overloaded/RateLimited do.
func classifyStatus(statusCode int) (kind Kind, retriable bool, breakerFailure bool) {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "", false, false
	case statusCode == 429:
		return KindRateLimited, true, true
	case statusCode == 529:
		return KindOverloaded, true, true
	case statusCode >= 500:
		return KindTransient, true, true
	case statusCode >= 400:
		return KindHard, false, true
	default:
		return KindTransient, true, true
	}
}

// classifyCancel turns a context error (or a passthrough *Error) into the
// taxonomy's Cancelled/Timeout kinds. Any other error (a transport fault
// from fn) is wrapped as Transient, matching the retry loop, which retries
// such errors.
func classifyCancel(err error) error {
	if err == nil {
		return nil
	}
	var asErr *Error
	if errors.As(err, &asErr) {
		return asErr
	}
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Message: "operation was cancelled", Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "operation timed out", Cause: err}
	default:
		return &Error{Kind: KindTransient, Message: err.Error(), Cause: err}
	}
}

// breakerLike and managerLike narrow circuitbreaker.Breaker and
// ratelimit.Manager to the methods retryLoop needs, letting tests supply
// lightweight fakes without touching real token-bucket timing.
type breakerLike interface {
	IsOpen() bool
	RecordFailure()
	RecordSuccess()
}

type managerLike interface {
	Acquire(ctx context.Context, llmTokenCount int) error
	Update(requestsPerMinute, llmTokensPerMinute int)
}
