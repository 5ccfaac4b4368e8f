// Package models defines the shared data types for conversations and messages.
package models

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall represents a model's request to execute a tool.
// Arguments is the raw JSON argument payload as text; it stays opaque until
// the orchestration loop parses it at dispatch time.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one turn in a conversation.
//
// Assistant messages that request tools carry ToolCalls and may have empty
// Content. Tool messages answer exactly one earlier tool call, referenced by
// ToolCallID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// HasToolCalls reports whether the message requests any tool executions.
func (m *Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}
