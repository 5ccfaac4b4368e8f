// Package store persists conversations in a key-value store with a
// recency-ordered index for listings.
package store

import (
	"context"
	"errors"

	"github.com/volans-ai/relay/pkg/models"
)

// ErrNotFound indicates an unknown conversation id.
var ErrNotFound = errors.New("conversation not found")

// Store is the interface for conversation persistence. Implementations own
// durable state exclusively; callers operate on working copies and commit
// through ReplaceMessages.
type Store interface {
	// Create persists a new empty conversation with a fresh id.
	Create(ctx context.Context, title string) (*models.Conversation, error)

	// Get returns the conversation or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Conversation, error)

	// List returns summaries ordered most-recently-updated first.
	List(ctx context.Context) ([]models.ConversationSummary, error)

	// Delete removes the conversation and its recency index entry.
	// It reports false, without error, for an unknown id.
	Delete(ctx context.Context, id string) (bool, error)

	// ReplaceMessages overwrites the full message sequence, bumps the
	// updated-at timestamp, and re-scores the recency index.
	ReplaceMessages(ctx context.Context, id string, messages []models.Message) error
}
