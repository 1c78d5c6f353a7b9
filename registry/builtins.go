package registry

// builtins returns the seed set of provider configurations: OpenAI,
// Anthropic, Google Gemini (via its OpenAI-compatible endpoint), and a
// local Ollama install. See spec.md §4.7.
func builtins() []ProviderConfig {
	return []ProviderConfig{
		{
			ID:           "openai",
			DisplayName:  "OpenAI",
			Active:       true,
			BaseURL:      "https://api.openai.com",
			ModelsAPIURL: "https://api.openai.com/v1/models",
			DefaultModel: "gpt-5",
			EnvVarNames:  []string{"OPENAI_API_KEY"},
			AuthConfig: AuthConfig{
				Type:         "header",
				HeaderName:   "Authorization",
				HeaderFormat: "Bearer {key}",
			},
			ChatConfig: ChatConfig{
				MessageFormat:     "openai",
				ResponseParsePath: "choices[0].message.content",
				ToolSchemaType:    "openai",
			},
			ParseConfig: ParseConfig{
				ModelsPath: "data",
				IDField:    "id",
				NameField:  "id",
			},
		},
		{
			ID:           "anthropic",
			DisplayName:  "Anthropic",
			Active:       true,
			ChatAPIURL:   "https://api.anthropic.com/v1/messages",
			ModelsAPIURL: "https://api.anthropic.com/v1/models",
			DefaultModel: "claude-sonnet-4-6",
			EnvVarNames:  []string{"ANTHROPIC_API_KEY"},
			APIVersion:   "2023-06-01",
			AuthConfig: AuthConfig{
				Type:         "header",
				HeaderName:   "x-api-key",
				HeaderFormat: "{key}",
			},
			ChatConfig: ChatConfig{
				MessageFormat:     "anthropic",
				ResponseParsePath: "content[0].text",
				ToolSchemaType:    "anthropic",
			},
			ParseConfig: ParseConfig{
				ModelsPath: "data",
				IDField:    "id",
				NameField:  "display_name",
			},
		},
		{
			ID:           "gemini",
			DisplayName:  "Google Gemini",
			Active:       true,
			BaseURL:      "https://generativelanguage.googleapis.com/v1beta/openai",
			ModelsAPIURL: "https://generativelanguage.googleapis.com/v1beta/openai/models",
			DefaultModel: "gemini-2.5-pro",
			EnvVarNames:  []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"},
			AuthConfig: AuthConfig{
				Type:         "header",
				HeaderName:   "Authorization",
				HeaderFormat: "Bearer {key}",
			},
			ChatConfig: ChatConfig{
				MessageFormat:     "openai",
				ResponseParsePath: "choices[0].message.content",
				ToolSchemaType:    "openai",
			},
			ParseConfig: ParseConfig{
				ModelsPath: "data",
				IDField:    "id",
				NameField:  "id",
			},
		},
		{
			ID:           "ollama",
			DisplayName:  "Ollama (local)",
			Active:       true,
			BaseURL:      "http://localhost:11434",
			ModelsAPIURL: "http://localhost:11434/api/tags",
			DefaultModel: "llama3",
			EnvVarNames:  nil,
			AuthConfig: AuthConfig{
				Type:     "header",
				Optional: true,
			},
			ChatConfig: ChatConfig{
				MessageFormat:     "ollama",
				ResponseParsePath: "message.content",
				ToolSchemaType:    "openai",
			},
			ParseConfig: ParseConfig{
				ModelsPath: "models",
				IDField:    "name",
				NameField:  "name",
			},
		},
	}
}
