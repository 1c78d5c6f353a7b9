package llm

import (
	"encoding/json"
	"strings"
)

// isReasoningModel reports whether model id follows OpenAI's reasoning
// family naming (o1, o3, o4-mini, gpt-5, ...), which takes
// max_completion_tokens + reasoning_effort instead of
// max_tokens + temperature + top_p. See spec.md §4.8 step 3.
func isReasoningModel(model string) bool {
	return strings.HasPrefix(model, "o") || strings.HasPrefix(model, "gpt-5")
}

// buildRequestBody assembles the provider-specific chat request body for
// history under opts, following messageFormat and the reasoning-model
// branch. The returned value is JSON-serializable by the caller's Fn.
func buildRequestBody(messageFormat string, model string, history []Message, opts ChatOptions, tools []ToolSchema, toolSchemaType string) map[string]any {
	messages, system := splitMessages(messageFormat, history)

	body := map[string]any{
		"model":    model,
		"messages": messagesToWire(messages),
	}
	if messageFormat == "anthropic" && system != "" {
		body["system"] = system
	}

	if isReasoningModel(model) {
		if opts.MaxTokens > 0 {
			body["max_completion_tokens"] = opts.MaxTokens
		}
		if opts.ReasoningEffort != "" {
			body["reasoning_effort"] = opts.ReasoningEffort
		}
	} else {
		if opts.MaxTokens > 0 {
			body["max_tokens"] = opts.MaxTokens
		}
		if opts.Temperature != 0 {
			body["temperature"] = opts.Temperature
		}
		if opts.TopP != 0 {
			body["top_p"] = opts.TopP
		}
	}

	if len(tools) > 0 {
		body["tools"] = convertToolSchemas(tools, toolSchemaType)
	}

	return body
}

// splitMessages extracts the last system message for the "anthropic"
// message format (Anthropic's API takes system as a top-level field, not a
// message entry) and returns the remaining messages plus that system text.
// For any other format messages pass through unchanged.
func splitMessages(messageFormat string, history []Message) (messages []Message, system string) {
	if messageFormat != "anthropic" {
		return history, ""
	}

	for _, m := range history {
		if m.Role == RoleSystem {
			system = m.Content
		}
	}
	out := make([]Message, 0, len(history))
	for _, m := range history {
		if m.Role == RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out, system
}

func messagesToWire(messages []Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		wire := map[string]any{
			"role":    string(m.Role),
			"content": m.Content,
		}
		if m.Name != "" {
			wire["name"] = m.Name
		}
		if m.ToolCallID != "" {
			wire["tool_call_id"] = m.ToolCallID
		}
		if len(m.ToolCalls) > 0 {
			wire["tool_calls"] = m.ToolCalls
		}
		out = append(out, wire)
	}
	return out
}

// convertToolSchemas renders tools in OpenAI's "parameters" shape or
// Anthropic's "input_schema" shape per toolSchemaType.
func convertToolSchemas(tools []ToolSchema, toolSchemaType string) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		switch toolSchemaType {
		case "anthropic":
			out = append(out, map[string]any{
				"name":         tool.Name,
				"description":  tool.Description,
				"input_schema": json.RawMessage(tool.Parameters),
			})
		default:
			out = append(out, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        tool.Name,
					"description": tool.Description,
					"parameters":  json.RawMessage(tool.Parameters),
				},
			})
		}
	}
	return out
}
