package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/volans-ai/relay/internal/agent"
)

// ToolBridge wraps an MCP tool and exposes it through the agent.Tool
// capability, so the registry and loop never see transport details.
type ToolBridge struct {
	client *Client
	tool   *Tool
}

// NewToolBridge creates a bridge for one tool on a connected client.
func NewToolBridge(client *Client, tool *Tool) *ToolBridge {
	return &ToolBridge{client: client, tool: tool}
}

// Name returns the tool name registered with the model.
func (b *ToolBridge) Name() string {
	return b.tool.Name
}

// Description returns the MCP tool description.
func (b *ToolBridge) Description() string {
	return b.tool.Description
}

// Schema returns the MCP tool input schema.
func (b *ToolBridge) Schema() json.RawMessage {
	if len(b.tool.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return b.tool.InputSchema
}

// Execute invokes the MCP tool. Transport and provider failures return as
// errors for the orchestration loop to convert into tool-result content.
func (b *ToolBridge) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	text, err := b.client.CallToolText(ctx, b.tool.Name, params)
	if err != nil {
		return nil, err
	}
	return &agent.ToolResult{Content: text}, nil
}

// RegisterTools lists the client's tools and registers a bridge for each.
// It returns the number of tools registered.
func RegisterTools(ctx context.Context, registry *agent.ToolRegistry, client *Client) (int, error) {
	if !client.Connected() {
		return 0, &ProviderUnavailableError{Server: client.ID(), Err: errors.New("not connected")}
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		return 0, err
	}
	for _, tool := range tools {
		registry.Register(NewToolBridge(client, tool))
	}
	return len(tools), nil
}
