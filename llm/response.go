package llm

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ChatResult is returned from Chat when the response carries tool calls;
// plain-text responses are returned as a bare string instead, per
// spec.md §4.8 step 6.
type ChatResult struct {
	Content   string
	ToolCalls []ToolCall
}

// extractContent walks raw with path (dot + bracket notation, e.g.
// "choices[0].message.content") and returns the string found there.
// Bracket indices are rewritten to gjson's dot form ("choices.0...")
// before the lookup.
func extractContent(raw []byte, path string) string {
	path = strings.NewReplacer("[", ".", "]", "").Replace(path)
	return gjson.GetBytes(raw, path).String()
}

// extractToolCalls looks for a tool_calls array alongside the content path
// (OpenAI shape: choices[0].message.tool_calls) or a top-level
// content[].type=="tool_use" array (Anthropic shape), returning whichever
// is present.
func extractToolCalls(raw []byte, toolSchemaType string) []ToolCall {
	switch toolSchemaType {
	case "anthropic":
		return extractAnthropicToolCalls(raw)
	default:
		return extractOpenAIToolCalls(raw)
	}
}

func extractOpenAIToolCalls(raw []byte) []ToolCall {
	result := gjson.GetBytes(raw, "choices.0.message.tool_calls")
	if !result.IsArray() {
		return nil
	}
	var out []ToolCall
	result.ForEach(func(_, item gjson.Result) bool {
		out = append(out, ToolCall{
			ID:        item.Get("id").String(),
			Name:      item.Get("function.name").String(),
			Arguments: []byte(item.Get("function.arguments").Raw),
		})
		return true
	})
	return out
}

func extractAnthropicToolCalls(raw []byte) []ToolCall {
	result := gjson.GetBytes(raw, "content")
	if !result.IsArray() {
		return nil
	}
	var out []ToolCall
	result.ForEach(func(_, item gjson.Result) bool {
		if item.Get("type").String() != "tool_use" {
			return true
		}
		out = append(out, ToolCall{
			ID:        item.Get("id").String(),
			Name:      item.Get("name").String(),
			Arguments: []byte(item.Get("input").Raw),
		})
		return true
	})
	return out
}
