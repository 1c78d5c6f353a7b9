package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Registry is the process-wide provider directory. The zero value is not
// usable; construct with New, which seeds the built-in providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]ProviderConfig
	models    map[string][]Model

	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a Registry seeded with OpenAI, Anthropic, Gemini (OpenAI
// compatible), and Ollama built-ins.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		providers:  make(map[string]ProviderConfig),
		models:     make(map[string][]Model),
		httpClient: &http.Client{},
		logger:     logger,
	}
	for _, cfg := range builtins() {
		r.providers[cfg.ID] = cfg
	}
	return r
}

// Get returns a copy of id's configuration.
func (r *Registry) Get(id string) (ProviderConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.providers[id]
	return cfg, ok
}

// Patch is a partial ProviderConfig update applied by Configure. A nil
// pointer field leaves the stored value unchanged; APIKey, when non-nil,
// replaces the stored key even with an empty string.
type Patch struct {
	DisplayName  *string
	Active       *bool
	ChatAPIURL   *string
	BaseURL      *string
	ModelsAPIURL *string
	DefaultModel *string
	EnvVarNames  []string
	APIKey       *string
	AuthConfig   *AuthConfig
	ChatConfig   *ChatConfig
	ParseConfig  *ParseConfig
	CustomHeaders map[string]string
	APIVersion   *string
}

// ActiveProviderIDs returns the ids of every active provider, sorted for
// deterministic fallback ordering.
func (r *Registry) ActiveProviderIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id, cfg := range r.providers {
		if cfg.Active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Configure merges patch into id's entry, creating it if absent.
func (r *Registry) Configure(id string, patch Patch) ProviderConfig {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.providers[id]
	if !ok {
		cfg = ProviderConfig{ID: id}
	}
	if patch.DisplayName != nil {
		cfg.DisplayName = *patch.DisplayName
	}
	if patch.Active != nil {
		cfg.Active = *patch.Active
	}
	if patch.ChatAPIURL != nil {
		cfg.ChatAPIURL = *patch.ChatAPIURL
	}
	if patch.BaseURL != nil {
		cfg.BaseURL = *patch.BaseURL
	}
	if patch.ModelsAPIURL != nil {
		cfg.ModelsAPIURL = *patch.ModelsAPIURL
	}
	if patch.DefaultModel != nil {
		cfg.DefaultModel = *patch.DefaultModel
	}
	if patch.EnvVarNames != nil {
		cfg.EnvVarNames = patch.EnvVarNames
	}
	if patch.APIKey != nil {
		cfg = cfg.WithAPIKey(*patch.APIKey)
	}
	if patch.AuthConfig != nil {
		cfg.AuthConfig = *patch.AuthConfig
	}
	if patch.ChatConfig != nil {
		cfg.ChatConfig = *patch.ChatConfig
	}
	if patch.ParseConfig != nil {
		cfg.ParseConfig = *patch.ParseConfig
	}
	if patch.CustomHeaders != nil {
		cfg.CustomHeaders = patch.CustomHeaders
	}
	if patch.APIVersion != nil {
		cfg.APIVersion = *patch.APIVersion
	}

	r.providers[id] = cfg
	return cfg
}

// ResolveAPIKey picks, in order: a per-call override, the stored apiKey,
// then the first non-empty environment variable among EnvVarNames. It
// returns AuthMissing (via the caller's error wrapping) when none is found
// and the provider's auth is not optional.
func (r *Registry) ResolveAPIKey(id string, perCallOverride string) (string, error) {
	if perCallOverride != "" {
		return perCallOverride, nil
	}

	r.mu.RLock()
	cfg, ok := r.providers[id]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("registry: unknown provider %q", id)
	}

	if cfg.apiKey != "" {
		return cfg.apiKey, nil
	}
	for _, name := range cfg.EnvVarNames {
		if v := os.Getenv(name); v != "" {
			return v, nil
		}
	}

	if cfg.AuthConfig.Optional {
		return "", nil
	}
	return "", &AuthMissingError{ProviderID: id}
}

// AuthMissingError reports that no API key could be resolved for a
// provider whose auth is not optional.
type AuthMissingError struct {
	ProviderID string
}

func (e *AuthMissingError) Error() string {
	return fmt.Sprintf("registry: no api key available for provider %q", e.ProviderID)
}

// BuildAuthHeaders returns a new map holding base plus id's custom headers,
// API version header, and auth header for a resolved key. For type=query
// the key is not added to headers; callers must use BuildAPIURL instead.
// Header auth with no HeaderName configured adds no auth header.
func (r *Registry) BuildAuthHeaders(id string, key string, base map[string]string) (map[string]string, error) {
	cfg, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("registry: unknown provider %q", id)
	}

	out := make(map[string]string, len(base)+len(cfg.CustomHeaders)+1)
	for k, v := range base {
		out[k] = v
	}
	for k, v := range cfg.CustomHeaders {
		out[k] = v
	}
	if cfg.APIVersion != "" {
		out["anthropic-version"] = cfg.APIVersion
	}

	if cfg.AuthConfig.Type == "header" && cfg.AuthConfig.HeaderName != "" && key != "" {
		format := cfg.AuthConfig.HeaderFormat
		if format == "" {
			format = "{key}"
		}
		out[cfg.AuthConfig.HeaderName] = strings.ReplaceAll(format, "{key}", key)
	}
	return out, nil
}

// BuildAPIURL returns base augmented with the API key as a query parameter
// when id's auth type is "query"; otherwise base is returned unchanged.
func (r *Registry) BuildAPIURL(id string, base string, key string) (string, error) {
	cfg, ok := r.Get(id)
	if !ok {
		return "", fmt.Errorf("registry: unknown provider %q", id)
	}
	if cfg.AuthConfig.Type != "query" || key == "" {
		return base, nil
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("registry: invalid chat api url for %q: %w", id, err)
	}
	q := u.Query()
	q.Set(cfg.AuthConfig.QueryParam, key)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ChatURL resolves the chat completions endpoint for id, auto-suffixing
// BaseURL per spec.md §6 when ChatAPIURL is not set explicitly.
func (r *Registry) ChatURL(id string) (string, error) {
	cfg, ok := r.Get(id)
	if !ok {
		return "", fmt.Errorf("registry: unknown provider %q", id)
	}
	if cfg.ChatAPIURL != "" {
		return cfg.ChatAPIURL, nil
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ChatConfig.MessageFormat == "ollama" {
		return base + "/api/generate", nil
	}
	return base + "/v1/chat/completions", nil
}

// GetModels fetches and caches id's model list, projecting the provider's
// raw JSON through ParseConfig via gjson.
func (r *Registry) GetModels(ctx context.Context, id string, key string) ([]Model, error) {
	r.mu.RLock()
	if cached, ok := r.models[id]; ok {
		r.mu.RUnlock()
		return cached, nil
	}
	cfg, ok := r.providers[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: unknown provider %q", id)
	}
	if cfg.ModelsAPIURL == "" {
		return nil, fmt.Errorf("registry: provider %q has no modelsApiUrl configured", id)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.ModelsAPIURL, nil)
	if err != nil {
		return nil, err
	}
	headers, err := r.BuildAuthHeaders(id, key, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry: models request for %q failed: %w", id, err)
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("registry: read models response for %q: %w", id, err)
	}

	models := parseModels(buf, cfg.ParseConfig)

	r.mu.Lock()
	r.models[id] = models
	r.mu.Unlock()
	return models, nil
}

func parseModels(raw []byte, pc ParseConfig) []Model {
	list := gjson.GetBytes(raw, pc.ModelsPath)
	if !list.IsArray() {
		return nil
	}

	var out []Model
	list.ForEach(func(_, item gjson.Result) bool {
		id := pc.IDPrefix + item.Get(pc.IDField).String()
		m := Model{ID: id}
		if pc.NameField != "" {
			m.Name = item.Get(pc.NameField).String()
		}
		if pc.DisplayNameField != "" {
			m.DisplayName = item.Get(pc.DisplayNameField).String()
		}
		if pc.ContextWindowField != "" {
			m.ContextWindow = int(item.Get(pc.ContextWindowField).Int())
		}
		out = append(out, m)
		return true
	})
	return out
}

// ClearCache drops cached model lists. With no ids given, every provider's
// cache is cleared.
func (r *Registry) ClearCache(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(ids) == 0 {
		r.models = make(map[string][]Model)
		return
	}
	for _, id := range ids {
		delete(r.models, id)
	}
}
