package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/volans-ai/relay/internal/observability"
	"github.com/volans-ai/relay/internal/redact"
	"github.com/volans-ai/relay/pkg/models"
)

// DefaultMaxToolRounds bounds the number of model turns in one chat turn.
// Without a bound an adversarial tool/model pairing could loop indefinitely.
const DefaultMaxToolRounds = 10

// LoopConfig configures the orchestration loop.
type LoopConfig struct {
	// Model is the model identifier sent with every completion request.
	Model string

	// MaxToolRounds limits consecutive model turns per chat turn.
	// Zero or negative falls back to DefaultMaxToolRounds.
	MaxToolRounds int
}

// StreamEvent is one caller-visible event from a streaming turn.
type StreamEvent struct {
	// Text carries a redacted incremental content fragment.
	Text string

	// Stop marks the terminal event of the turn; no further text follows.
	Stop bool
}

// EmitFunc receives stream events in strict generation order. Returning an
// error aborts the turn (e.g. the caller disconnected).
type EmitFunc func(StreamEvent) error

// Loop drives the model through rounds of tool execution until it answers
// without requesting tools.
//
//	AWAITING_MODEL -> MODEL_REQUESTED_TOOLS -> EXECUTING_TOOLS -> AWAITING_MODEL
//	AWAITING_MODEL -> MODEL_RESPONDED_FINAL -> done
//
// The loop operates on a working copy of the history; persistence belongs to
// the caller and happens only after a turn completes.
type Loop struct {
	provider LLMProvider
	registry *ToolRegistry
	config   LoopConfig
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewLoop creates an orchestration loop. Metrics may be nil.
func NewLoop(provider LLMProvider, registry *ToolRegistry, config LoopConfig, logger *slog.Logger, metrics *observability.Metrics) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxToolRounds <= 0 {
		config.MaxToolRounds = DefaultMaxToolRounds
	}
	return &Loop{
		provider: provider,
		registry: registry,
		config:   config,
		logger:   logger.With("component", "loop"),
		metrics:  metrics,
	}
}

// RunSync executes a non-streaming turn. It returns the extended history and
// the final assistant message. On a model failure the original history is
// returned unchanged so no partial turn leaks to persistence.
func (l *Loop) RunSync(ctx context.Context, history []models.Message) ([]models.Message, *models.Message, error) {
	if l.provider == nil {
		return history, nil, ErrNoProvider
	}

	working := history
	for round := 0; round < l.config.MaxToolRounds; round++ {
		msg, err := l.complete(ctx, working)
		if err != nil {
			return history, nil, err
		}

		msg.Content = redact.Filter(msg.Content)
		working = append(working, *msg)

		if !msg.HasToolCalls() {
			l.logger.Debug("turn complete", "rounds", round+1)
			return working, msg, nil
		}

		l.logger.Info("model requested tools",
			"round", round, "tool_calls", len(msg.ToolCalls))
		working = l.executeToolCalls(ctx, working, msg.ToolCalls)
	}

	return history, nil, fmt.Errorf("%w (limit %d)", ErrTooManyToolRounds, l.config.MaxToolRounds)
}

// RunStream executes a streaming turn, delivering redacted text fragments
// through emit in arrival order. Tool rounds continue on the same logical
// stream; emit receives a single Stop event when the final round ends.
//
// The returned history reflects everything that was streamed. On a model
// failure the original history is returned unchanged.
func (l *Loop) RunStream(ctx context.Context, history []models.Message, emit EmitFunc) ([]models.Message, *models.Message, error) {
	if l.provider == nil {
		return history, nil, ErrNoProvider
	}

	working := history
	for round := 0; round < l.config.MaxToolRounds; round++ {
		chunks, err := l.stream(ctx, working)
		if err != nil {
			return history, nil, err
		}

		var buf strings.Builder
		acc := newToolCallAccumulator()

		for chunk := range chunks {
			if chunk.Err != nil {
				l.countModelRequest("error")
				drainChunks(chunks)
				return history, nil, &ModelProviderError{Provider: l.provider.Name(), Err: chunk.Err}
			}
			if chunk.Text != "" {
				filtered := redact.Filter(chunk.Text)
				if err := emit(StreamEvent{Text: filtered}); err != nil {
					drainChunks(chunks)
					return history, nil, fmt.Errorf("emit stream event: %w", err)
				}
				l.countStreamEvent("delta")
				buf.WriteString(filtered)
			}
			if chunk.Delta != nil {
				acc.add(chunk.Delta)
			}
		}
		l.countModelRequest("success")

		calls := acc.finalize()
		assistant := models.Message{
			Role:      models.RoleAssistant,
			Content:   buf.String(),
			ToolCalls: calls,
		}
		working = append(working, assistant)

		if len(calls) == 0 {
			if err := emit(StreamEvent{Stop: true}); err != nil {
				return history, nil, fmt.Errorf("emit stop event: %w", err)
			}
			l.countStreamEvent("stop")
			l.logger.Debug("streaming turn complete", "rounds", round+1)
			return working, &assistant, nil
		}

		l.logger.Info("model requested tools while streaming",
			"round", round, "tool_calls", len(calls))
		working = l.executeToolCalls(ctx, working, calls)
	}

	return history, nil, fmt.Errorf("%w (limit %d)", ErrTooManyToolRounds, l.config.MaxToolRounds)
}

// drainChunks consumes the remainder of an abandoned chunk stream in the
// background so the producing goroutine can finish and close the channel.
func drainChunks(chunks <-chan *CompletionChunk) {
	go func() {
		for range chunks {
		}
	}()
}

// complete performs one non-streaming model call.
func (l *Loop) complete(ctx context.Context, history []models.Message) (*models.Message, error) {
	start := time.Now()
	msg, err := l.provider.Complete(ctx, &CompletionRequest{
		Model:    l.config.Model,
		Messages: history,
		Tools:    l.registry.Tools(),
	})
	l.observeModelDuration(start)
	if err != nil {
		l.countModelRequest("error")
		return nil, &ModelProviderError{Provider: l.provider.Name(), Err: err}
	}
	l.countModelRequest("success")
	return msg, nil
}

// stream opens one incremental model call.
func (l *Loop) stream(ctx context.Context, history []models.Message) (<-chan *CompletionChunk, error) {
	chunks, err := l.provider.Stream(ctx, &CompletionRequest{
		Model:    l.config.Model,
		Messages: history,
		Tools:    l.registry.Tools(),
	})
	if err != nil {
		l.countModelRequest("error")
		return nil, &ModelProviderError{Provider: l.provider.Name(), Err: err}
	}
	return chunks, nil
}

// executeToolCalls runs each requested tool in order and appends one
// tool-result message per call. Failures become error text in the result;
// they never abort the turn.
func (l *Loop) executeToolCalls(ctx context.Context, history []models.Message, calls []models.ToolCall) []models.Message {
	for _, call := range calls {
		start := time.Now()
		result, err := l.registry.Execute(ctx, call.Name, json.RawMessage(call.Arguments))

		var content string
		status := "success"
		switch {
		case err != nil:
			content = fmt.Sprintf("Tool execution failed: %v", err)
			status = "error"
			l.logger.Error("tool execution failed", "tool", call.Name, "error", err)
		case result.IsError:
			content = result.Content
			status = "error"
			l.logger.Warn("tool returned error result", "tool", call.Name)
		default:
			content = result.Content
			l.logger.Debug("tool executed", "tool", call.Name, "result_bytes", len(content))
		}

		if l.metrics != nil {
			l.metrics.ToolExecutions.WithLabelValues(call.Name, status).Inc()
			l.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
		}

		history = append(history, models.Message{
			Role:       models.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
		})
	}
	return history
}

func (l *Loop) countModelRequest(status string) {
	if l.metrics != nil {
		l.metrics.ModelRequests.WithLabelValues(l.provider.Name(), status).Inc()
	}
}

func (l *Loop) observeModelDuration(start time.Time) {
	if l.metrics != nil {
		l.metrics.ModelRequestDuration.WithLabelValues(l.provider.Name()).Observe(time.Since(start).Seconds())
	}
}

func (l *Loop) countStreamEvent(kind string) {
	if l.metrics != nil {
		l.metrics.StreamEvents.WithLabelValues(kind).Inc()
	}
}

// toolCallAccumulator reassembles fragmented streaming tool-call deltas,
// keyed by positional index. Identifying fields follow last-non-empty-wins;
// argument text concatenates in arrival order.
type toolCallAccumulator struct {
	byIndex map[int]*models.ToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]*models.ToolCall)}
}

func (a *toolCallAccumulator) add(delta *ToolCallDelta) {
	call, ok := a.byIndex[delta.Index]
	if !ok {
		call = &models.ToolCall{}
		a.byIndex[delta.Index] = call
	}
	if delta.ID != "" {
		call.ID = delta.ID
	}
	if delta.Name != "" {
		call.Name = delta.Name
	}
	call.Arguments += delta.Arguments
}

// finalize materializes one complete call per distinct index, ascending.
func (a *toolCallAccumulator) finalize() []models.ToolCall {
	if len(a.byIndex) == 0 {
		return nil
	}
	indices := make([]int, 0, len(a.byIndex))
	for idx := range a.byIndex {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	calls := make([]models.ToolCall, 0, len(indices))
	for _, idx := range indices {
		calls = append(calls, *a.byIndex[idx])
	}
	return calls
}
