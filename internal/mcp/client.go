package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

const protocolVersion = "2024-11-05"

// InvocationError reports a failed tool call against a specific server.
// Callers are expected to catch it and feed the error text back to the model
// as a tool result rather than aborting the turn.
type InvocationError struct {
	Server string
	Tool   string
	Err    error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("tool %q on server %q: %v", e.Tool, e.Server, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// ProviderUnavailableError reports a tool server that could not be reached
// or failed its initialize handshake.
type ProviderUnavailableError struct {
	Server string
	Err    error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("tool server %q unavailable: %v", e.Server, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error { return e.Err }

// Client is an MCP client bound to a single tool server. It is connected once
// at startup and reused for repeated invocations.
type Client struct {
	config    *ServerConfig
	transport Transport
	logger    *slog.Logger

	serverInfo ServerInfo
}

// NewClient creates a new MCP client.
func NewClient(cfg *ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config:    cfg,
		transport: NewTransport(cfg),
		logger:    logger.With("mcp_server", cfg.ID),
	}
}

// ID returns the configured server identifier.
func (c *Client) ID() string {
	return c.config.ID
}

// Connect establishes the transport and performs the initialize handshake.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return &ProviderUnavailableError{Server: c.config.ID, Err: fmt.Errorf("transport connect: %w", err)}
	}

	result, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "relay",
			"version": "1.0.0",
		},
	})
	if err != nil {
		c.transport.Close()
		return &ProviderUnavailableError{Server: c.config.ID, Err: fmt.Errorf("initialize: %w", err)}
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		c.transport.Close()
		return &ProviderUnavailableError{Server: c.config.ID, Err: fmt.Errorf("parse initialize result: %w", err)}
	}

	c.serverInfo = initResult.ServerInfo
	c.logger.Info("connected to MCP server",
		"name", c.serverInfo.Name,
		"version", c.serverInfo.Version,
		"protocol", initResult.ProtocolVersion)

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("failed to send initialized notification", "error", err)
	}

	return nil
}

// Close closes the connection to the MCP server.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Connected returns whether the client is connected.
func (c *Client) Connected() bool {
	return c.transport.Connected()
}

// ServerInfo returns information about the connected server.
func (c *Client) ServerInfo() ServerInfo {
	return c.serverInfo
}

// ListTools queries the server's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]*Tool, error) {
	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list on %s: %w", c.config.ID, err)
	}

	var resp ListToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}

	c.logger.Debug("listed tools", "count", len(resp.Tools))
	return resp.Tools, nil
}

// CallToolText invokes a tool and normalizes the result to plain text: the
// first text content part wins; anything else is JSON-serialized so the model
// always receives a stable textual representation.
func (c *Client) CallToolText(ctx context.Context, name string, arguments json.RawMessage) (string, error) {
	params := CallToolParams{
		Name:      name,
		Arguments: arguments,
	}

	result, err := c.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return "", &InvocationError{Server: c.config.ID, Tool: name, Err: err}
	}

	var callResult CallToolResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return "", &InvocationError{Server: c.config.ID, Tool: name, Err: fmt.Errorf("parse result: %w", err)}
	}

	text := flattenContent(callResult.Content)
	if callResult.IsError {
		return "", &InvocationError{Server: c.config.ID, Tool: name, Err: fmt.Errorf("server reported error: %s", text)}
	}

	return text, nil
}

func flattenContent(content []ToolResultContent) string {
	for _, part := range content {
		if part.Type == "text" {
			return part.Text
		}
	}
	if len(content) == 0 {
		return ""
	}
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Sprintf("%v", content)
	}
	return string(data)
}
