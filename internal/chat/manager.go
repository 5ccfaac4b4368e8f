// Package chat owns conversation lifecycle and turn processing: it loads
// history, seeds system instructions, delegates to the orchestration loop,
// and commits the resulting history back to the store.
package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/volans-ai/relay/internal/agent"
	"github.com/volans-ai/relay/internal/observability"
	"github.com/volans-ai/relay/internal/store"
	"github.com/volans-ai/relay/pkg/models"
)

// DefaultTitle names conversations created without one.
const DefaultTitle = "New Conversation"

// persistTimeout bounds the post-stream history commit, which runs detached
// from the request context.
const persistTimeout = 10 * time.Second

// defaultSystemPrompt seeds every conversation's first turn. It can be
// overridden through configuration.
const defaultSystemPrompt = `You are a User Management Agent that helps users perform CRUD operations on user records.

## Core Functions
- Create, read, update, and delete user records
- Search and retrieve users by various criteria
- Answer questions about existing users

## Operating Rules
1. **Always explain your actions** before executing them
2. **Search priority**: Check the user records service first, then suggest web search if no results
3. **Missing information**: If user data is incomplete, search the web for details and confirm before proceeding
4. **Deletions require confirmation**: Always verify deletion requests - warn that this action is permanent
5. **Format responses clearly**: Present user data in structured, readable format
6. **Handle errors gracefully**: Explain what went wrong and suggest alternatives

## Boundaries
You specialize in user management only. For unrelated requests, politely redirect users to your core capabilities.

Stay focused, professional, and helpful within your domain.`

// Response is the result of a non-streaming chat turn.
type Response struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id"`
}

// StreamEvent is one frame of a streaming chat turn. Exactly one field group
// is set per event: the correlation id (first event of every turn), a text
// delta, the terminal stop, the end-of-stream sentinel, or a turn failure.
type StreamEvent struct {
	ConversationID string
	Text           string
	Stop           bool
	End            bool
	Err            error
}

// Manager coordinates conversation sessions.
type Manager struct {
	store        store.Store
	loop         *agent.Loop
	systemPrompt string
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// NewManager creates a session coordinator. An empty systemPrompt selects the
// built-in default; metrics may be nil.
func NewManager(st store.Store, loop *agent.Loop, systemPrompt string, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:        st,
		loop:         loop,
		systemPrompt: systemPrompt,
		logger:       logger.With("component", "chat"),
		metrics:      metrics,
	}
}

// Create starts a new empty conversation.
func (m *Manager) Create(ctx context.Context, title string) (*models.Conversation, error) {
	if title == "" {
		title = DefaultTitle
	}
	return m.store.Create(ctx, title)
}

// Get returns a conversation or store.ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*models.Conversation, error) {
	return m.store.Get(ctx, id)
}

// List returns conversation summaries, most recently updated first.
func (m *Manager) List(ctx context.Context) ([]models.ConversationSummary, error) {
	return m.store.List(ctx)
}

// Delete removes a conversation, reporting false for an unknown id.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	return m.store.Delete(ctx, id)
}

// Chat processes one non-streaming turn: the final assistant content is
// returned after the full updated history has been persisted.
func (m *Manager) Chat(ctx context.Context, conversationID string, userMessage models.Message) (*Response, error) {
	history, err := m.prepareHistory(ctx, conversationID, userMessage)
	if err != nil {
		return nil, err
	}

	updated, final, err := m.loop.RunSync(ctx, history)
	if err != nil {
		m.countTurn("sync", "error")
		return nil, err
	}

	if err := m.store.ReplaceMessages(ctx, conversationID, updated); err != nil {
		m.countTurn("sync", "error")
		return nil, err
	}

	m.countTurn("sync", "success")
	m.logger.Info("chat turn complete",
		"conversation_id", conversationID, "messages", len(updated))
	return &Response{
		Content:        final.Content,
		ConversationID: conversationID,
	}, nil
}

// ChatStream processes one streaming turn. The returned channel is a lazy,
// single-pass sequence: the first event carries the conversation id, text
// deltas follow in generation order, then a stop event and an end sentinel.
// History is persisted once, as a side effect, after the stream ends cleanly;
// a turn failure yields an Err event and persists nothing.
func (m *Manager) ChatStream(ctx context.Context, conversationID string, userMessage models.Message) (<-chan StreamEvent, error) {
	history, err := m.prepareHistory(ctx, conversationID, userMessage)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)

		send := func(ev StreamEvent) error {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		// Correlation frame before any model output.
		if err := send(StreamEvent{ConversationID: conversationID}); err != nil {
			return
		}

		updated, _, err := m.loop.RunStream(ctx, history, func(ev agent.StreamEvent) error {
			if ev.Stop {
				return send(StreamEvent{Stop: true})
			}
			return send(StreamEvent{Text: ev.Text})
		})
		if err != nil {
			m.countTurn("stream", "error")
			m.logger.Error("streaming turn failed",
				"conversation_id", conversationID, "error", err)
			_ = send(StreamEvent{Err: err})
			return
		}

		if err := send(StreamEvent{End: true}); err != nil {
			return
		}

		// Persist once, after the stream naturally ends. Use a fresh context:
		// the request context may already be closing as the caller drains.
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if err := m.store.ReplaceMessages(persistCtx, conversationID, updated); err != nil {
			m.countTurn("stream", "error")
			m.logger.Error("failed to persist streamed turn",
				"conversation_id", conversationID, "error", err)
			return
		}

		m.countTurn("stream", "success")
		m.logger.Info("streaming chat turn complete",
			"conversation_id", conversationID, "messages", len(updated))
	}()

	return events, nil
}

// prepareHistory reconstructs the working history for a turn: persisted
// messages, the system instruction on a first turn, then the user message.
func (m *Manager) prepareHistory(ctx context.Context, conversationID string, userMessage models.Message) ([]models.Message, error) {
	conv, err := m.store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	history := conv.Messages
	if len(history) == 0 {
		m.logger.Debug("first turn, seeding system prompt", "conversation_id", conversationID)
		history = append(history, models.Message{
			Role:    models.RoleSystem,
			Content: m.systemPrompt,
		})
	}

	if userMessage.Role == "" {
		userMessage.Role = models.RoleUser
	}
	return append(history, userMessage), nil
}

func (m *Manager) countTurn(mode, status string) {
	if m.metrics != nil {
		m.metrics.ChatTurns.WithLabelValues(mode, status).Inc()
	}
}
