package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/volans-ai/relay/pkg/models"
)

const (
	conversationKeyPrefix = "conversation:"
	conversationIndexKey  = "conversations:index"
)

// RedisStore persists conversations as JSON records keyed by id, with a
// sorted set scoring each id by last-update time for recency listings.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore creates a store on an established Redis client.
func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		logger: logger.With("component", "store"),
	}
}

func conversationKey(id string) string {
	return conversationKeyPrefix + id
}

func (s *RedisStore) Create(ctx context.Context, title string) (*models.Conversation, error) {
	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		Messages:  []models.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.save(ctx, conv); err != nil {
		return nil, err
	}

	s.logger.Info("conversation created", "conversation_id", conv.ID, "title", title)
	return conv, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	data, err := s.client.Get(ctx, conversationKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}

	var conv models.Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return &conv, nil
}

func (s *RedisStore) List(ctx context.Context) ([]models.ConversationSummary, error) {
	ids, err := s.client.ZRevRange(ctx, conversationIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list conversation index: %w", err)
	}
	if len(ids) == 0 {
		return []models.ConversationSummary{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = conversationKey(id)
	}
	records, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load conversation records: %w", err)
	}

	summaries := make([]models.ConversationSummary, 0, len(records))
	for i, record := range records {
		data, ok := record.(string)
		if !ok {
			// Index entry without a record; a delete raced the listing.
			s.logger.Warn("dangling recency index entry", "conversation_id", ids[i])
			continue
		}
		var conv models.Conversation
		if err := json.Unmarshal([]byte(data), &conv); err != nil {
			s.logger.Warn("skipping undecodable conversation", "conversation_id", ids[i], "error", err)
			continue
		}
		summaries = append(summaries, conv.Summary())
	}
	return summaries, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.client.Del(ctx, conversationKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("delete conversation %s: %w", id, err)
	}
	if deleted == 0 {
		return false, nil
	}

	if err := s.client.ZRem(ctx, conversationIndexKey, id).Err(); err != nil {
		return false, fmt.Errorf("remove %s from recency index: %w", id, err)
	}

	s.logger.Info("conversation deleted", "conversation_id", id)
	return true, nil
}

func (s *RedisStore) ReplaceMessages(ctx context.Context, id string, messages []models.Message) error {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	conv.Messages = messages
	conv.UpdatedAt = time.Now().UTC()
	if err := s.save(ctx, conv); err != nil {
		return err
	}

	s.logger.Debug("conversation messages replaced",
		"conversation_id", id, "message_count", len(messages))
	return nil
}

// save writes the record and re-scores the recency index in one pipeline.
func (s *RedisStore) save(ctx context.Context, conv *models.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", conv.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, conversationKey(conv.ID), data, 0)
	pipe.ZAdd(ctx, conversationIndexKey, redis.Z{
		Score:  float64(conv.UpdatedAt.UnixMilli()),
		Member: conv.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}
	return nil
}
