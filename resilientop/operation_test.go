package resilientop

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resilient-llm/resilient-llm/cache"
	"github.com/resilient-llm/resilient-llm/circuitbreaker"
	"github.com/resilient-llm/resilient-llm/ratelimit"
)

func newTestConfig(bucketID string) Config {
	return Config{
		BucketID:      bucketID,
		RateLimit:     ratelimit.Config{RequestsPerMinute: 6000, LLMTokensPerMinute: 6_000_000},
		Retries:       2,
		Timeout:       5 * time.Second,
		BackoffFactor: 1, // fixed 1s backoff keeps tests fast and deterministic
		CircuitBreaker: circuitbreaker.Config{
			FailureThreshold: 3,
			CooldownPeriod:   50 * time.Millisecond,
		},
		MaxConcurrent: 0,
	}
}

func TestExecute_HappyPathReturnsOnFirstSuccess(t *testing.T) {
	reg := NewRegistry(nil)
	op := NewOperation(reg, newTestConfig("p1"))

	var calls int32
	fn := func(ctx context.Context, url string, body any, headers map[string]string) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		return &Response{StatusCode: 200, Data: []byte("ok")}, nil
	}

	resp, err := op.Execute(context.Background(), "http://x", nil, nil, fn)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Data))
	assert.EqualValues(t, 1, calls)
}

func TestExecute_TransientFailureRetriesToSuccess(t *testing.T) {
	reg := NewRegistry(nil)
	op := NewOperation(reg, newTestConfig("p2"))

	var calls int32
	fn := func(ctx context.Context, url string, body any, headers map[string]string) (*Response, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return &Response{StatusCode: 500}, nil
		}
		return &Response{StatusCode: 200, Data: []byte("recovered")}, nil
	}

	start := time.Now()
	resp, err := op.Execute(context.Background(), "http://x", nil, nil, fn)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "recovered", string(resp.Data))
	assert.EqualValues(t, 3, calls)
	assert.GreaterOrEqual(t, elapsed, 2*time.Second, "two 1s backoffs should elapse before the third attempt")
}

func TestExecute_NonRetriableStatusFailsImmediately(t *testing.T) {
	reg := NewRegistry(nil)
	op := NewOperation(reg, newTestConfig("p3"))

	var calls int32
	fn := func(ctx context.Context, url string, body any, headers map[string]string) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		return &Response{StatusCode: 401}, nil
	}

	_, err := op.Execute(context.Background(), "http://x", nil, nil, fn)
	require.Error(t, err)

	var asErr *Error
	require.True(t, errors.As(err, &asErr))
	assert.Equal(t, KindHard, asErr.Kind, "a wire 401 is a client fault, not the pre-flight AuthMissing kind")
	assert.EqualValues(t, 1, calls, "a non-retriable status must not be retried")

	status, ok := reg.BreakerStatus("p3")
	require.True(t, ok)
	assert.Equal(t, 1, status.FailCount, "a Hard status still counts as a breaker failure")
}

func TestExecute_RetriesExhaustedReturnsLastClassifiedError(t *testing.T) {
	reg := NewRegistry(nil)
	cfg := newTestConfig("p4")
	cfg.Retries = 1
	op := NewOperation(reg, cfg)

	var calls int32
	fn := func(ctx context.Context, url string, body any, headers map[string]string) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		return &Response{StatusCode: 503}, nil
	}

	_, err := op.Execute(context.Background(), "http://x", nil, nil, fn)
	require.Error(t, err)

	var asErr *Error
	require.True(t, errors.As(err, &asErr))
	assert.Equal(t, KindTransient, asErr.Kind, "a plain 503 is Transient, not Overloaded")
	assert.EqualValues(t, 2, calls, "Retries=1 means one initial attempt plus one retry")
}

func TestExecute_ZeroRetriesMeansExactlyOneAttempt(t *testing.T) {
	reg := NewRegistry(nil)
	cfg := newTestConfig("p5")
	cfg.Retries = 0
	op := NewOperation(reg, cfg)

	var calls int32
	fn := func(ctx context.Context, url string, body any, headers map[string]string) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		return &Response{StatusCode: 500}, nil
	}

	_, err := op.Execute(context.Background(), "http://x", nil, nil, fn)
	require.Error(t, err)
	assert.EqualValues(t, 1, calls)
}

func TestExecute_CircuitOpensAfterThresholdAndFastFails(t *testing.T) {
	reg := NewRegistry(nil)
	cfg := newTestConfig("p6")
	cfg.Retries = 0 // each Execute call is exactly one attempt against the breaker
	op := NewOperation(reg, cfg)

	fn := func(ctx context.Context, url string, body any, headers map[string]string) (*Response, error) {
		return &Response{StatusCode: 500}, nil
	}

	// FailureThreshold is 3: the first three calls each record one failure.
	for i := 0; i < 3; i++ {
		_, err := op.Execute(context.Background(), "http://x", nil, nil, fn)
		require.Error(t, err)
	}

	start := time.Now()
	_, err := op.Execute(context.Background(), "http://x", nil, nil, fn)
	elapsed := time.Since(start)

	require.Error(t, err)
	var asErr *Error
	require.True(t, errors.As(err, &asErr))
	assert.Equal(t, KindCircuitOpen, asErr.Kind)
	assert.Less(t, elapsed, 100*time.Millisecond, "a fast-failed call must not pay rate limit or backoff latency")
}

func TestExecute_CacheHitBypassesFnEntirely(t *testing.T) {
	reg := NewRegistry(nil)
	store := cache.NewMemoryStore()
	op := NewOperation(reg, newTestConfig("p7"), WithCache(store))

	var calls int32
	fn := func(ctx context.Context, url string, body any, headers map[string]string) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		return &Response{StatusCode: 200, Data: []byte("first")}, nil
	}

	resp1, err := op.Execute(context.Background(), "http://x", map[string]string{"q": "1"}, nil, fn)
	require.NoError(t, err)
	assert.Equal(t, "first", string(resp1.Data))

	resp2, err := op.Execute(context.Background(), "http://x", map[string]string{"q": "1"}, nil, fn)
	require.NoError(t, err)
	assert.Equal(t, "first", string(resp2.Data), "cache hit must return the originally cached body")
	assert.EqualValues(t, 1, calls, "fn must not be invoked again on a cache hit")
}

func TestExecute_NonSuccessStatusIsNeverCached(t *testing.T) {
	reg := NewRegistry(nil)
	store := cache.NewMemoryStore()
	cfg := newTestConfig("p8")
	cfg.Retries = 0
	op := NewOperation(reg, cfg, WithCache(store))

	fn := func(ctx context.Context, url string, body any, headers map[string]string) (*Response, error) {
		return &Response{StatusCode: 500}, nil
	}

	_, err := op.Execute(context.Background(), "http://x", nil, nil, fn)
	require.Error(t, err)

	_, ok, err := store.Get(context.Background(), cache.Key("http://x", nil, nil))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExecute_BulkheadRejectsBeyondMaxConcurrent(t *testing.T) {
	reg := NewRegistry(nil)
	cfg := newTestConfig("p9")
	cfg.MaxConcurrent = 1
	op := NewOperation(reg, cfg)

	release := make(chan struct{})
	entered := make(chan struct{})
	fn := func(ctx context.Context, url string, body any, headers map[string]string) (*Response, error) {
		close(entered)
		<-release
		return &Response{StatusCode: 200}, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = op.Execute(context.Background(), "http://x", nil, nil, fn)
	}()
	<-entered

	_, err := op.Execute(context.Background(), "http://x", nil, nil, func(ctx context.Context, url string, body any, headers map[string]string) (*Response, error) {
		t.Fatal("fn must not run when the bulkhead has no free slot")
		return nil, nil
	})
	require.Error(t, err)
	var asErr *Error
	require.True(t, errors.As(err, &asErr))
	assert.Equal(t, KindConcurrencyExceeded, asErr.Kind)

	close(release)
	wg.Wait()
}

func TestExecute_CancelledContextStopsImmediatelyWithoutTrippingBreaker(t *testing.T) {
	reg := NewRegistry(nil)
	op := NewOperation(reg, newTestConfig("p10"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := op.Execute(ctx, "http://x", nil, nil, func(ctx context.Context, url string, body any, headers map[string]string) (*Response, error) {
		t.Fatal("fn must not run against an already-cancelled context")
		return nil, nil
	})
	require.Error(t, err)
	var asErr *Error
	require.True(t, errors.As(err, &asErr))
	assert.Equal(t, KindCancelled, asErr.Kind)

	status, ok := reg.BreakerStatus("p10")
	if ok {
		assert.Zero(t, status.FailCount, "cancellation must never count as a breaker failure")
	}
}

func TestExecute_RetryAfterHeaderExtendsWaitBeyondBackoff(t *testing.T) {
	reg := NewRegistry(nil)
	cfg := newTestConfig("p11")
	cfg.BackoffFactor = 1
	op := NewOperation(reg, cfg)

	var calls int32
	fn := func(ctx context.Context, url string, body any, headers map[string]string) (*Response, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return &Response{StatusCode: 429, Headers: map[string]string{"Retry-After": "2"}}, nil
		}
		return &Response{StatusCode: 200, Data: []byte("ok")}, nil
	}

	start := time.Now()
	_, err := op.Execute(context.Background(), "http://x", nil, nil, fn)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 2*time.Second)
}

func TestExecute_RetryAfterPastHTTPDateRetriesImmediately(t *testing.T) {
	reg := NewRegistry(nil)
	cfg := newTestConfig("p13")
	cfg.BackoffFactor = 1 // would otherwise impose a 1s backoff on attempt 0
	op := NewOperation(reg, cfg)

	var calls int32
	fn := func(ctx context.Context, url string, body any, headers map[string]string) (*Response, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			past := time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)
			return &Response{StatusCode: 429, Headers: map[string]string{"Retry-After": past}}, nil
		}
		return &Response{StatusCode: 200, Data: []byte("ok")}, nil
	}

	start := time.Now()
	_, err := op.Execute(context.Background(), "http://x", nil, nil, fn)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Less(t, elapsed, 500*time.Millisecond, "a past Retry-After date must retry immediately, not pay the exponential backoff")
}

func TestExecute_Only529MapsToOverloaded(t *testing.T) {
	reg := NewRegistry(nil)
	cfg := newTestConfig("p14")
	cfg.Retries = 0
	op := NewOperation(reg, cfg)

	fn := func(ctx context.Context, url string, body any, headers map[string]string) (*Response, error) {
		return &Response{StatusCode: 529}, nil
	}

	_, err := op.Execute(context.Background(), "http://x", nil, nil, fn)
	require.Error(t, err)

	var asErr *Error
	require.True(t, errors.As(err, &asErr))
	assert.Equal(t, KindOverloaded, asErr.Kind)
}

func TestExecute_ConcurrentCacheMissesCoalesceIntoOneCall(t *testing.T) {
	reg := NewRegistry(nil)
	store := cache.NewMemoryStore()
	op := NewOperation(reg, newTestConfig("p15"), WithCache(store))

	release := make(chan struct{})
	var calls int32
	fn := func(ctx context.Context, url string, body any, headers map[string]string) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return &Response{StatusCode: 200, Data: []byte("shared")}, nil
	}

	const concurrent = 5
	var wg sync.WaitGroup
	results := make([]*Response, concurrent)
	errs := make([]error, concurrent)
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = op.Execute(context.Background(), "http://x", map[string]string{"q": "1"}, nil, fn)
		}(i)
	}

	time.Sleep(50 * time.Millisecond) // let every goroutine miss the cache and join the flight
	close(release)
	wg.Wait()

	for i := 0; i < concurrent; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", string(results[i].Data))
	}
	assert.EqualValues(t, 1, calls, "concurrent callers sharing a cache key must coalesce into a single upstream call")
}

func TestExecute_RateLimitInfoUpdatesManagerAndFiresObserver(t *testing.T) {
	reg := NewRegistry(nil)
	var observed *RateLimitInfo
	op := NewOperation(reg, newTestConfig("p12"), WithRateLimitObserver(func(bucketID string, info RateLimitInfo) {
		observed = &info
	}))

	fn := func(ctx context.Context, url string, body any, headers map[string]string) (*Response, error) {
		return &Response{StatusCode: 200, RateLimitInfo: &RateLimitInfo{RequestsPerMinute: 10, LLMTokensPerMinute: 1000}}, nil
	}

	_, err := op.Execute(context.Background(), "http://x", nil, nil, fn)
	require.NoError(t, err)
	require.NotNil(t, observed)
	assert.Equal(t, 10, observed.RequestsPerMinute)
	assert.Equal(t, 1000, observed.LLMTokensPerMinute)
}
