// Package agent implements the tool-calling orchestration core: the tool
// registry, the language-model provider contract, and the loop that drives a
// model through rounds of tool execution until it produces a final answer.
package agent

import (
	"context"
	"encoding/json"
)

// Tool is the uniform capability exposed by every tool, regardless of which
// provider transport serves it.
type Tool interface {
	// Name returns the tool name used for model function calling.
	Name() string

	// Description returns a natural language description of what the tool does.
	Description() string

	// Schema returns the JSON Schema describing the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON arguments.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult contains the output from a tool execution. Errors travel back to
// the model as content with IsError set, so it can react and self-correct.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}
