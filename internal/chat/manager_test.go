package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/volans-ai/relay/internal/agent"
	"github.com/volans-ai/relay/internal/store"
	"github.com/volans-ai/relay/pkg/models"
)

type scriptedProvider struct {
	completions []*models.Message
	streams     [][]*agent.CompletionChunk
	err         error
	calls       int
}

func (p *scriptedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*models.Message, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.calls >= len(p.completions) {
		return nil, fmt.Errorf("unexpected completion call %d", p.calls)
	}
	msg := p.completions[p.calls]
	p.calls++
	return msg, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.calls >= len(p.streams) {
		return nil, fmt.Errorf("unexpected stream call %d", p.calls)
	}
	chunks := p.streams[p.calls]
	p.calls++

	out := make(chan *agent.CompletionChunk, len(chunks))
	for _, c := range chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

type lookupTool struct{}

func (lookupTool) Name() string { return "search_users" }
func (lookupTool) Description() string { return "Search user records" }
func (lookupTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (lookupTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: `{"name":"John","email":"john@example.com"}`}, nil
}

func newTestManager(t *testing.T, provider agent.LLMProvider) (*Manager, store.Store) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	registry := agent.NewToolRegistry(logger)
	registry.Register(lookupTool{})

	loop := agent.NewLoop(provider, registry, agent.LoopConfig{Model: "gpt-4o"}, logger, nil)
	st := store.NewMemoryStore()
	return NewManager(st, loop, "", logger, nil), st
}

func TestChatEndToEndToolRound(t *testing.T) {
	provider := &scriptedProvider{
		completions: []*models.Message{
			{
				Role: models.RoleAssistant,
				ToolCalls: []models.ToolCall{
					{ID: "call_1", Name: "search_users", Arguments: `{"query":"john"}`},
				},
			},
			{Role: models.RoleAssistant, Content: "John's email is john@example.com."},
		},
	}
	manager, _ := newTestManager(t, provider)
	ctx := context.Background()

	conv, err := manager.Create(ctx, "Demo")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	resp, err := manager.Chat(ctx, conv.ID, models.Message{Role: models.RoleUser, Content: "find user john"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.ConversationID != conv.ID {
		t.Errorf("ConversationID = %q, want %q", resp.ConversationID, conv.ID)
	}
	if !strings.Contains(resp.Content, "john@example.com") {
		t.Errorf("Content = %q", resp.Content)
	}

	stored, err := manager.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	wantRoles := []models.Role{models.RoleSystem, models.RoleUser, models.RoleAssistant, models.RoleTool, models.RoleAssistant}
	if len(stored.Messages) != len(wantRoles) {
		t.Fatalf("persisted %d messages, want %d", len(stored.Messages), len(wantRoles))
	}
	for i, want := range wantRoles {
		if stored.Messages[i].Role != want {
			t.Errorf("messages[%d].Role = %q, want %q", i, stored.Messages[i].Role, want)
		}
	}
	if stored.Messages[3].ToolCallID != "call_1" {
		t.Errorf("tool message ToolCallID = %q", stored.Messages[3].ToolCallID)
	}
}

func TestChatSeedsSystemPromptOnce(t *testing.T) {
	provider := &scriptedProvider{
		completions: []*models.Message{
			{Role: models.RoleAssistant, Content: "first"},
			{Role: models.RoleAssistant, Content: "second"},
		},
	}
	manager, _ := newTestManager(t, provider)
	ctx := context.Background()

	conv, _ := manager.Create(ctx, "Demo")
	if _, err := manager.Chat(ctx, conv.ID, models.Message{Content: "one"}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if _, err := manager.Chat(ctx, conv.ID, models.Message{Content: "two"}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	stored, _ := manager.Get(ctx, conv.ID)
	var systemCount int
	for _, msg := range stored.Messages {
		if msg.Role == models.RoleSystem {
			systemCount++
		}
	}
	if systemCount != 1 {
		t.Errorf("system messages = %d, want 1", systemCount)
	}
	if stored.Messages[0].Role != models.RoleSystem || stored.Messages[0].Content == "" {
		t.Errorf("messages[0] = %+v, want seeded system prompt", stored.Messages[0])
	}
}

func TestChatUnknownConversation(t *testing.T) {
	manager, _ := newTestManager(t, &scriptedProvider{})

	_, err := manager.Chat(context.Background(), "missing", models.Message{Content: "hi"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Chat() error = %v, want ErrNotFound", err)
	}
}

func TestChatModelFailurePersistsNothing(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("rate limited")}
	manager, _ := newTestManager(t, provider)
	ctx := context.Background()

	conv, _ := manager.Create(ctx, "Demo")
	if _, err := manager.Chat(ctx, conv.ID, models.Message{Content: "hi"}); err == nil {
		t.Fatal("expected provider error")
	}

	stored, _ := manager.Get(ctx, conv.ID)
	if len(stored.Messages) != 0 {
		t.Errorf("persisted %d messages after failed turn, want 0", len(stored.Messages))
	}
}

func TestChatStreamSequence(t *testing.T) {
	provider := &scriptedProvider{
		streams: [][]*agent.CompletionChunk{
			{
				{Text: "Hello "},
				{Text: "world."},
			},
		},
	}
	manager, _ := newTestManager(t, provider)
	ctx := context.Background()

	conv, _ := manager.Create(ctx, "Demo")
	events, err := manager.ChatStream(ctx, conv.ID, models.Message{Content: "hi"})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}

	var got []StreamEvent
	for ev := range events {
		got = append(got, ev)
	}

	// id, two deltas, stop, end
	if len(got) != 5 {
		t.Fatalf("events = %d (%+v), want 5", len(got), got)
	}
	if got[0].ConversationID != conv.ID {
		t.Errorf("first event = %+v, want conversation id", got[0])
	}
	if got[1].Text != "Hello " || got[2].Text != "world." {
		t.Errorf("deltas = %+v", got[1:3])
	}
	if !got[3].Stop {
		t.Errorf("got[3] = %+v, want Stop", got[3])
	}
	if !got[4].End {
		t.Errorf("got[4] = %+v, want End", got[4])
	}

	// The channel closes only after persistence, so the turn is durable here.
	stored, _ := manager.Get(ctx, conv.ID)
	if len(stored.Messages) != 3 {
		t.Fatalf("persisted %d messages, want 3", len(stored.Messages))
	}
	if stored.Messages[2].Content != "Hello world." {
		t.Errorf("assistant content = %q", stored.Messages[2].Content)
	}
}

func TestChatStreamModelFailure(t *testing.T) {
	provider := &scriptedProvider{
		streams: [][]*agent.CompletionChunk{
			{
				{Text: "partial"},
				{Err: errors.New("connection reset")},
			},
		},
	}
	manager, _ := newTestManager(t, provider)
	ctx := context.Background()

	conv, _ := manager.Create(ctx, "Demo")
	events, err := manager.ChatStream(ctx, conv.ID, models.Message{Content: "hi"})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}

	var sawErr bool
	for ev := range events {
		if ev.Err != nil {
			sawErr = true
		}
		if ev.End {
			t.Error("End event emitted on failed turn")
		}
	}
	if !sawErr {
		t.Fatal("expected an Err event")
	}

	stored, _ := manager.Get(ctx, conv.ID)
	if len(stored.Messages) != 0 {
		t.Errorf("persisted %d messages after failed turn, want 0", len(stored.Messages))
	}
}

func TestChatStreamUnknownConversation(t *testing.T) {
	manager, _ := newTestManager(t, &scriptedProvider{})

	_, err := manager.ChatStream(context.Background(), "missing", models.Message{Content: "hi"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("ChatStream() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteReportsMissing(t *testing.T) {
	manager, _ := newTestManager(t, &scriptedProvider{})
	ctx := context.Background()

	conv, _ := manager.Create(ctx, "Demo")
	deleted, err := manager.Delete(ctx, conv.ID)
	if err != nil || !deleted {
		t.Fatalf("Delete() = %v, %v", deleted, err)
	}
	deleted, err = manager.Delete(ctx, conv.ID)
	if err != nil || deleted {
		t.Fatalf("Delete() second call = %v, %v, want false, nil", deleted, err)
	}
}
