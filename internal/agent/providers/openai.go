// Package providers contains LLMProvider implementations for chat-completion
// endpoints.
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/volans-ai/relay/internal/agent"
	"github.com/volans-ai/relay/pkg/models"
)

// OpenAIProvider implements agent.LLMProvider against any OpenAI-compatible
// chat-completion endpoint, including Azure-style proxies that route by
// deployment name.
//
// Sampling is pinned to the most deterministic setting on every request to
// maximize tool-call reliability and keep turns reproducible.
//
// Thread safety: the underlying client is safe for concurrent use; each
// Stream call owns an independent response stream and goroutine.
type OpenAIProvider struct {
	client *openai.Client
	logger *slog.Logger
}

// Options configures the provider endpoint.
type Options struct {
	// APIKey authenticates against the endpoint.
	APIKey string

	// Endpoint is the base URL of an Azure-style OpenAI-compatible proxy.
	// Empty means the public OpenAI API.
	Endpoint string
}

// NewOpenAIProvider creates a provider for the configured endpoint.
func NewOpenAIProvider(opts Options, logger *slog.Logger) (*OpenAIProvider, error) {
	if opts.APIKey == "" {
		return nil, errors.New("API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var cfg openai.ClientConfig
	if opts.Endpoint != "" {
		cfg = openai.DefaultAzureConfig(opts.APIKey, opts.Endpoint)
	} else {
		cfg = openai.DefaultConfig(opts.APIKey)
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		logger: logger.With("component", "model_provider"),
	}, nil
}

// Name returns the provider identifier used in logs and error reporting.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete requests one full response, tool calls included.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*models.Message, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	choice := resp.Choices[0].Message
	msg := &models.Message{
		Role:    models.RoleAssistant,
		Content: choice.Content,
	}
	for _, tc := range choice.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	p.logger.Debug("completion finished",
		"content_bytes", len(msg.Content), "tool_calls", len(msg.ToolCalls))
	return msg, nil
}

// Stream requests incremental delivery. Text and tool-call fragments are
// forwarded in arrival order without reassembly; the orchestration loop owns
// accumulation.
func (p *OpenAIProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk) {
	defer close(chunks)
	defer stream.Close()

	// Every send races ctx so an abandoned consumer never strands this
	// goroutine on the unbuffered channel.
	send := func(chunk *agent.CompletionChunk) bool {
		select {
		case chunks <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			send(&agent.CompletionChunk{Err: ctx.Err()})
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			send(&agent.CompletionChunk{Err: err})
			return
		}

		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			if !send(&agent.CompletionChunk{Text: delta.Content}) {
				return
			}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			ok := send(&agent.CompletionChunk{Delta: &agent.ToolCallDelta{
				Index:     index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}})
			if !ok {
				return
			}
		}
	}
}

func (p *OpenAIProvider) buildRequest(req *agent.CompletionRequest, stream bool) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertMessages(req.Messages),
		Stream:   stream,
		// The zero value would be dropped by omitempty and fall back to the
		// server default, so the smallest positive float pins determinism.
		Temperature: math.SmallestNonzeroFloat32,
	}
	if len(req.Tools) > 0 {
		out.Tools = convertTools(req.Tools)
	}
	return out
}

func convertMessages(messages []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		converted := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		for _, tc := range msg.ToolCalls {
			converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		if msg.Role == models.RoleTool {
			converted.ToolCallID = msg.ToolCallID
		}
		out = append(out, converted)
	}
	return out
}

func convertTools(tools []agent.Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Schema(),
			},
		})
	}
	return out
}
