package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/volans-ai/relay/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for tests and local
// runs without Redis. The recency index is a monotonic sequence bumped on
// every create and replace, so listings stay deterministic even when two
// updates land within one clock tick.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	recency       map[string]uint64
	seq           uint64
}

// NewMemoryStore creates a new in-memory conversation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: map[string]*models.Conversation{},
		recency:       map[string]uint64{},
	}
}

func (m *MemoryStore) Create(ctx context.Context, title string) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		Messages:  []models.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.conversations[conv.ID] = conv
	m.seq++
	m.recency[conv.ID] = m.seq

	return cloneConversation(conv), nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(conv), nil
}

func (m *MemoryStore) List(ctx context.Context) ([]models.ConversationSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]models.ConversationSummary, 0, len(m.conversations))
	for _, conv := range m.conversations {
		summaries = append(summaries, conv.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		return m.recency[summaries[i].ID] > m.recency[summaries[j].ID]
	})
	return summaries, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[id]; !ok {
		return false, nil
	}
	delete(m.conversations, id)
	delete(m.recency, id)
	return true, nil
}

func (m *MemoryStore) ReplaceMessages(ctx context.Context, id string, messages []models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}

	conv.Messages = cloneMessages(messages)
	conv.UpdatedAt = time.Now().UTC()
	m.seq++
	m.recency[id] = m.seq
	return nil
}

func cloneConversation(conv *models.Conversation) *models.Conversation {
	clone := *conv
	clone.Messages = cloneMessages(conv.Messages)
	return &clone
}

func cloneMessages(messages []models.Message) []models.Message {
	out := make([]models.Message, len(messages))
	copy(out, messages)
	for i := range out {
		if len(out[i].ToolCalls) > 0 {
			calls := make([]models.ToolCall, len(out[i].ToolCalls))
			copy(calls, out[i].ToolCalls)
			out[i].ToolCalls = calls
		}
	}
	return out
}
