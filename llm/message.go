// Package llm implements the LLM Facade: the chat(history, options) entry
// point that resolves a provider, builds its wire request, executes it
// through a Resilient Operation, and classifies the response. See
// spec.md §4.8 and §6.
package llm

import "encoding/json"

// Role identifies a message's speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolSchema describes a callable tool. Parameters carries the JSON Schema
// in OpenAI's "parameters" shape; convertToolSchemas translates it to
// Anthropic's "input_schema" shape when a provider requires it.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Message is one turn of a chat history.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}
