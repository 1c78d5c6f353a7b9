package llm

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/resilient-llm/resilient-llm/cache"
	"github.com/resilient-llm/resilient-llm/circuitbreaker"
	"github.com/resilient-llm/resilient-llm/ratelimit"
	"github.com/resilient-llm/resilient-llm/registry"
	"github.com/resilient-llm/resilient-llm/resilientop"
)

// Config constructs a Client. See spec.md §6's facade public surface.
type Config struct {
	AIService       string
	Model           string
	Temperature     float64
	MaxTokens       int
	MaxInputTokens  int
	TopP            float64
	Timeout         time.Duration
	Retries         int
	BackoffFactor   float64
	RateLimitConfig ratelimit.Config
	CircuitBreaker  circuitbreaker.Config
	MaxConcurrent   int
	CacheStore      cache.Store
	OnRateLimitUpdate func(bucketID string, info resilientop.RateLimitInfo)
}

// ChatOptions overrides Config on a single Chat call.
type ChatOptions struct {
	AIService       string
	Model           string
	MaxTokens       int
	Temperature     float64
	TopP            float64
	ReasoningEffort string
	Tools           []ToolSchema
	APIKeyOverride  string
}

// Client is the LLM Facade: a configured chat entry point that resolves a
// provider, builds its wire request, executes it through a Resilient
// Operation, and classifies the response. See spec.md §4.8.
type Client struct {
	cfg       Config
	providers *registry.Registry
	ops       *resilientop.Registry
	http      *http.Client
	logger    *zap.Logger

	mu     sync.Mutex
	handle *resilientop.AbortHandle
}

// NewClient builds a facade bound to providers for provider configuration
// and its own internal Resilient Operation registry for shared bucket
// state.
func NewClient(cfg Config, providers *registry.Registry, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CircuitBreaker.FailureThreshold == 0 {
		cfg.CircuitBreaker = circuitbreaker.DefaultConfig()
	}
	return &Client{
		cfg:       cfg,
		providers: providers,
		ops:       resilientop.NewRegistry(logger),
		http:      &http.Client{},
		logger:    logger,
		handle:    resilientop.NewAbortHandle(),
	}
}

// Abort signals every in-flight Chat call on this instance and arms a
// fresh handle for subsequent calls.
func (c *Client) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handle.Abort()
	c.handle = resilientop.NewAbortHandle()
}

func (c *Client) abortHandle() *resilientop.AbortHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Chat sends history to the resolved provider and returns either a plain
// string or a ChatResult carrying tool calls, per spec.md §4.8 step 6.
func (c *Client) Chat(ctx context.Context, history []Message, opts ChatOptions) (any, error) {
	return c.chat(ctx, history, opts, map[string]bool{})
}

func (c *Client) chat(ctx context.Context, history []Message, opts ChatOptions, outOfService map[string]bool) (any, error) {
	traceID := uuid.NewString()

	providerID := opts.AIService
	if providerID == "" {
		providerID = c.cfg.AIService
	}

	c.logger.Debug("chat call starting", zap.String("trace_id", traceID), zap.String("provider", providerID))

	providerCfg, ok := c.providers.Get(providerID)
	if !ok {
		return nil, &resilientop.Error{Kind: resilientop.KindInvalidProvider, Provider: providerID, Message: "unknown provider id"}
	}

	model := opts.Model
	if model == "" {
		model = c.cfg.Model
	}
	if model == "" {
		model = providerCfg.DefaultModel
	}

	estimate := estimateTokens(model, history)
	if c.cfg.MaxInputTokens > 0 && estimate > c.cfg.MaxInputTokens {
		return nil, &resilientop.Error{Kind: resilientop.KindInputTooLarge, Provider: providerID, Message: "input exceeds configured maxInputTokens"}
	}

	effective := opts
	if effective.MaxTokens == 0 {
		effective.MaxTokens = c.cfg.MaxTokens
	}
	if effective.Temperature == 0 {
		effective.Temperature = c.cfg.Temperature
	}
	if effective.TopP == 0 {
		effective.TopP = c.cfg.TopP
	}

	body := buildRequestBody(providerCfg.ChatConfig.MessageFormat, model, history, effective, opts.Tools, providerCfg.ChatConfig.ToolSchemaType)

	key, err := c.providers.ResolveAPIKey(providerID, opts.APIKeyOverride)
	if err != nil {
		var authErr *registry.AuthMissingError
		if errors.As(err, &authErr) {
			return nil, &resilientop.Error{Kind: resilientop.KindAuthMissing, Provider: providerID, Cause: err}
		}
		return nil, err
	}

	headers, err := c.providers.BuildAuthHeaders(providerID, key, nil)
	if err != nil {
		return nil, err
	}
	chatURL, err := c.providers.ChatURL(providerID)
	if err != nil {
		return nil, err
	}
	chatURL, err = c.providers.BuildAPIURL(providerID, chatURL, key)
	if err != nil {
		return nil, err
	}

	opConfig := resilientop.Config{
		BucketID:       providerID,
		RateLimit:      c.cfg.RateLimitConfig,
		Retries:        c.cfg.Retries,
		Timeout:        c.cfg.Timeout,
		BackoffFactor:  c.cfg.BackoffFactor,
		CircuitBreaker: c.cfg.CircuitBreaker,
		MaxConcurrent:  c.cfg.MaxConcurrent,
	}

	opOpts := []resilientop.Option{resilientop.WithTokens(estimate), resilientop.WithLogger(c.logger)}
	if c.cfg.CacheStore != nil {
		opOpts = append(opOpts, resilientop.WithCache(c.cfg.CacheStore))
	}
	if c.cfg.OnRateLimitUpdate != nil {
		opOpts = append(opOpts, resilientop.WithRateLimitObserver(c.cfg.OnRateLimitUpdate))
	}

	op := resilientop.NewOperation(c.ops, opConfig, opOpts...)

	callCtx, release := c.abortHandle().Merge(ctx)
	defer release()

	resp, err := op.Execute(callCtx, chatURL, body, headers, httpFn(c.http))
	if err != nil {
		c.logger.Debug("chat call failed", zap.String("trace_id", traceID), zap.String("provider", providerID), zap.Error(err))
		var asErr *resilientop.Error
		if errors.As(err, &asErr) && (asErr.Kind == resilientop.KindRateLimited || asErr.Kind == resilientop.KindOverloaded) {
			return c.fallback(ctx, providerID, history, opts, outOfService, asErr)
		}
		return nil, err
	}

	content := extractContent(resp.Data, providerCfg.ChatConfig.ResponseParsePath)
	if len(opts.Tools) > 0 {
		if toolCalls := extractToolCalls(resp.Data, providerCfg.ChatConfig.ToolSchemaType); len(toolCalls) > 0 {
			return ChatResult{Content: content, ToolCalls: toolCalls}, nil
		}
	}
	return content, nil
}

// fallback implements spec.md §4.8's cross-provider fallback: the failed
// provider joins the per-call out-of-service set, and chat re-enters with
// the next active provider not in that set.
func (c *Client) fallback(ctx context.Context, failedProvider string, history []Message, opts ChatOptions, outOfService map[string]bool, cause *resilientop.Error) (any, error) {
	outOfService[failedProvider] = true

	for _, id := range c.providers.ActiveProviderIDs() {
		if outOfService[id] {
			continue
		}
		nextCfg, ok := c.providers.Get(id)
		if !ok {
			continue
		}
		nextOpts := opts
		nextOpts.AIService = id
		nextOpts.Model = nextCfg.DefaultModel
		return c.chat(ctx, history, nextOpts, outOfService)
	}

	return nil, &resilientop.Error{Kind: resilientop.KindNoAlternativeProvider, Provider: failedProvider, Cause: cause}
}
