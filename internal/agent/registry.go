package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool arguments JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// ToolRegistry aggregates tools from all providers into one flat catalog with
// thread-safe registration and lookup.
//
// Tool names are expected to be unique across providers. When two providers
// expose the same name, the last registration wins; the collision is logged
// so the shadowed provider is visible in operation.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	logger  *slog.Logger
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry(logger *slog.Logger) *ToolRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		logger:  logger.With("component", "tool_registry"),
	}
}

// Register adds a tool to the registry by its name, replacing any previous
// tool with the same name.
//
// The tool's parameter schema is compiled for argument validation at dispatch
// time; a schema that fails to compile disables validation for that tool only.
func (r *ToolRegistry) Register(tool Tool) {
	name := tool.Name()

	var compiled *jsonschema.Schema
	if raw := tool.Schema(); len(raw) > 0 {
		sch, err := jsonschema.CompileString(name+".schema.json", string(raw))
		if err != nil {
			r.logger.Warn("tool schema failed to compile, skipping argument validation",
				"tool", name, "error", err)
		} else {
			compiled = sch
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		r.logger.Warn("tool name collision, last registration wins", "tool", name)
	}
	r.tools[name] = tool
	if compiled != nil {
		r.schemas[name] = compiled
	} else {
		delete(r.schemas, name)
	}
}

// Resolve returns a tool by name and whether it was found.
func (r *ToolRegistry) Resolve(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Tools returns the full catalog, sorted by name so the model always sees a
// deterministic ordering.
func (r *ToolRegistry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute runs a tool by name with the given JSON arguments.
//
// Unknown tools, malformed arguments, and schema violations come back as
// error results rather than Go errors; only the tool's own execution error is
// returned as an error, for the caller to convert into a tool-result message.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return &ToolResult{
			Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
			IsError: true,
		}, nil
	}
	if len(params) > MaxToolParamsSize {
		return &ToolResult{
			Content: fmt.Sprintf("tool arguments exceed maximum size of %d bytes", MaxToolParamsSize),
			IsError: true,
		}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return &ToolResult{
			Content: fmt.Sprintf("Tool %q not found in available tools", name),
			IsError: true,
		}, nil
	}

	var args any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return &ToolResult{
				Content: fmt.Sprintf("malformed tool arguments: %v", err),
				IsError: true,
			}, nil
		}
	}

	if schema != nil && args != nil {
		if err := schema.Validate(args); err != nil {
			return &ToolResult{
				Content: fmt.Sprintf("tool arguments failed schema validation: %v", err),
				IsError: true,
			}, nil
		}
	}

	return tool.Execute(ctx, params)
}
