// Package registry implements the Provider Registry: a process-wide
// directory of LLM provider configurations — auth, chat wire format, and
// model-listing shape — seeded with built-ins and adjustable at runtime via
// Configure. See spec.md §4.7 and §6.
package registry

import "encoding/json"

// AuthConfig describes how to attach credentials to a request.
type AuthConfig struct {
	Type         string // "header" | "query"
	HeaderName   string
	HeaderFormat string // e.g. "Bearer {key}"
	QueryParam   string
	Optional     bool
}

// ChatConfig describes the wire format of the chat completion call.
type ChatConfig struct {
	MessageFormat     string // "openai" | "anthropic" | "ollama"
	ResponseParsePath string // dot/bracket path, e.g. "choices[0].message.content"
	ToolSchemaType    string // "openai" | "anthropic"
}

// ParseConfig describes how to project a models-list response into Models.
type ParseConfig struct {
	ModelsPath         string
	IDField            string
	NameField          string
	DisplayNameField   string
	ContextWindowField string
	IDPrefix           string
}

// ProviderConfig is one provider's full configuration. See spec.md §6 for
// the exact field set; apiKey is never exposed through read APIs.
type ProviderConfig struct {
	ID          string
	DisplayName string
	Active      bool

	ChatAPIURL string // explicit chat endpoint; takes precedence over BaseURL
	BaseURL    string // auto-suffixed with /v1/chat/completions or /api/generate

	ModelsAPIURL string
	DefaultModel string
	EnvVarNames  []string

	apiKey string // unexported: never serialized, never read back verbatim

	AuthConfig AuthConfig
	ChatConfig ChatConfig

	ParseConfig ParseConfig

	CustomHeaders map[string]string
	APIVersion    string
}

// WithAPIKey returns a copy of cfg with its stored API key set. Use this
// instead of a public field so a ProviderConfig can never be constructed
// with an API key by accident via a struct literal elsewhere in the tree.
func (c ProviderConfig) WithAPIKey(key string) ProviderConfig {
	c.apiKey = key
	return c
}

// MarshalJSON renders the config with the API key masked, matching the
// teacher's credential-masking convention: presence is visible, the value
// never is.
func (c ProviderConfig) MarshalJSON() ([]byte, error) {
	type alias struct {
		ID            string            `json:"id"`
		DisplayName   string            `json:"displayName"`
		Active        bool              `json:"active"`
		ChatAPIURL    string            `json:"chatApiUrl,omitempty"`
		BaseURL       string            `json:"baseUrl,omitempty"`
		ModelsAPIURL  string            `json:"modelsApiUrl,omitempty"`
		DefaultModel  string            `json:"defaultModel"`
		EnvVarNames   []string          `json:"envVarNames"`
		HasAPIKey     bool              `json:"hasApiKey"`
		AuthConfig    AuthConfig        `json:"authConfig"`
		ChatConfig    ChatConfig        `json:"chatConfig"`
		ParseConfig   ParseConfig       `json:"parseConfig"`
		CustomHeaders map[string]string `json:"customHeaders,omitempty"`
		APIVersion    string            `json:"apiVersion,omitempty"`
	}
	return json.Marshal(alias{
		ID:            c.ID,
		DisplayName:   c.DisplayName,
		Active:        c.Active,
		ChatAPIURL:    c.ChatAPIURL,
		BaseURL:       c.BaseURL,
		ModelsAPIURL:  c.ModelsAPIURL,
		DefaultModel:  c.DefaultModel,
		EnvVarNames:   c.EnvVarNames,
		HasAPIKey:     c.apiKey != "",
		AuthConfig:    c.AuthConfig,
		ChatConfig:    c.ChatConfig,
		ParseConfig:   c.ParseConfig,
		CustomHeaders: c.CustomHeaders,
		APIVersion:    c.APIVersion,
	})
}

// Model is the uniform model record projected from a provider's
// models-list response via ParseConfig.
type Model struct {
	ID            string
	Name          string
	DisplayName   string
	ContextWindow int
}
