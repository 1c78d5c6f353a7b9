package resilientop

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/resilient-llm/resilient-llm/bulkhead"
	"github.com/resilient-llm/resilient-llm/circuitbreaker"
	"github.com/resilient-llm/resilient-llm/ratelimit"
)

// Registry owns the process-wide, per-bucket-id shared state — rate limit
// managers, circuit breakers, and the bulkhead counter — that every
// Resilient Operation targeting a given bucket id reads and mutates by
// reference. It is an explicit value wired through construction rather
// than a package-level global, so tests (and multiple independent
// instances in one process) stay isolated. See spec.md §9.
type Registry struct {
	mu       sync.Mutex
	managers map[string]*ratelimit.Manager
	breakers map[string]*circuitbreaker.Breaker
	bulkhead *bulkhead.Counter
	group    singleflight.Group
	logger   *zap.Logger
}

// NewRegistry creates an empty shared-state registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		managers: make(map[string]*ratelimit.Manager),
		breakers: make(map[string]*circuitbreaker.Breaker),
		bulkhead: bulkhead.NewCounter(),
		logger:   logger,
	}
}

// manager returns the Manager for bucketID, creating it from cfg on first
// use. Subsequent calls ignore cfg — once created, a bucket's rate limits
// evolve only through Manager.Update.
func (r *Registry) manager(bucketID string, cfg ratelimit.Config) *ratelimit.Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[bucketID]; ok {
		return m
	}
	m := ratelimit.NewManager(cfg, r.logger)
	r.managers[bucketID] = m
	return m
}

// breaker returns the Breaker for bucketID, creating it from cfg on first use.
func (r *Registry) breaker(bucketID string, cfg circuitbreaker.Config) *circuitbreaker.Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[bucketID]; ok {
		return b
	}
	b := circuitbreaker.New(bucketID, cfg, r.logger)
	r.breakers[bucketID] = b
	return b
}

// BreakerStatus exposes the circuit breaker status for bucketID, if one
// has been created, for health endpoints and tests.
func (r *Registry) BreakerStatus(bucketID string) (circuitbreaker.Status, bool) {
	r.mu.Lock()
	b, ok := r.breakers[bucketID]
	r.mu.Unlock()
	if !ok {
		return circuitbreaker.Status{}, false
	}
	return b.Status(), true
}

// Bulkhead returns the shared bulkhead counter.
func (r *Registry) Bulkhead() *bulkhead.Counter {
	return r.bulkhead
}

// Coalesce collapses concurrent calls sharing key into a single execution of
// fn: callers that arrive while one is already in flight block on it and
// share its result instead of each paying the full resilience stack
// themselves. Used on the cache-keyed Execute path so a cache stampede
// becomes one upstream call instead of N.
func (r *Registry) Coalesce(key string, fn func() (any, error)) (any, error) {
	v, err, _ := r.group.Do(key, fn)
	return v, err
}
