package agent

import (
	"context"

	"github.com/volans-ai/relay/pkg/models"
)

// LLMProvider is the contract for the chat-completion endpoint that drives
// the orchestration loop. Implementations must be safe for concurrent use.
type LLMProvider interface {
	// Complete sends the full history plus tool catalog and returns one
	// complete assistant message, tool calls included.
	Complete(ctx context.Context, req *CompletionRequest) (*models.Message, error)

	// Stream sends the same request in incremental-delivery mode. The
	// returned channel carries text deltas and raw tool-call fragments in
	// arrival order and is closed when the response ends.
	Stream(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name for logging and error reporting.
	Name() string
}

// CompletionRequest contains everything a model turn needs: the conversation
// history in chronological order and the flat tool catalog.
type CompletionRequest struct {
	Model    string
	Messages []models.Message
	Tools    []Tool
}

// CompletionChunk is one fragment of a streaming response.
//
// Text fragments are emitted to the caller immediately; tool-call fragments
// are accumulated by the loop, keyed by Delta.Index, until the stream ends.
type CompletionChunk struct {
	Text  string
	Delta *ToolCallDelta
	Err   error
}

// ToolCallDelta is a partial tool-call fragment from a streaming response.
// The model may send ID and Name once and omit them on later fragments for
// the same index, while Arguments arrives as concatenable text pieces.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}
