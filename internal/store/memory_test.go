package store

import (
	"context"
	"errors"
	"testing"

	"github.com/volans-ai/relay/pkg/models"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	conv, err := st.Create(ctx, "Demo")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if conv.ID == "" {
		t.Fatal("Create() returned empty id")
	}
	if conv.Title != "Demo" {
		t.Errorf("Title = %q", conv.Title)
	}
	if len(conv.Messages) != 0 {
		t.Errorf("new conversation has %d messages", len(conv.Messages))
	}

	messages := []models.Message{
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "hi"},
	}
	if err := st.ReplaceMessages(ctx, conv.ID, messages); err != nil {
		t.Fatalf("ReplaceMessages() error = %v", err)
	}

	got, err := st.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(got.Messages))
	}
	if !got.UpdatedAt.After(got.CreatedAt) && !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Errorf("UpdatedAt %v before CreatedAt %v", got.UpdatedAt, got.CreatedAt)
	}
}

func TestMemoryStoreGetUnknown(t *testing.T) {
	st := NewMemoryStore()
	if _, err := st.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreListRecencyOrder(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	a, _ := st.Create(ctx, "A")
	b, _ := st.Create(ctx, "B")
	c, _ := st.Create(ctx, "C")

	// Touch A last so it outranks the newer conversations.
	if err := st.ReplaceMessages(ctx, a.ID, []models.Message{{Role: models.RoleUser, Content: "x"}}); err != nil {
		t.Fatalf("ReplaceMessages() error = %v", err)
	}

	summaries, err := st.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("summaries = %d, want 3", len(summaries))
	}
	wantOrder := []string{a.ID, c.ID, b.ID}
	for i, want := range wantOrder {
		if summaries[i].ID != want {
			t.Errorf("summaries[%d].ID = %q, want %q", i, summaries[i].ID, want)
		}
	}
	if summaries[0].MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", summaries[0].MessageCount)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	conv, _ := st.Create(ctx, "gone soon")

	deleted, err := st.Delete(ctx, conv.ID)
	if err != nil || !deleted {
		t.Fatalf("Delete() = %v, %v, want true, nil", deleted, err)
	}
	if _, err := st.Get(ctx, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
	}

	deleted, err = st.Delete(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Delete() second call error = %v", err)
	}
	if deleted {
		t.Error("Delete() second call = true, want false")
	}
}

func TestMemoryStoreReplaceMessagesUnknown(t *testing.T) {
	st := NewMemoryStore()
	err := st.ReplaceMessages(context.Background(), "missing", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReplaceMessages() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	conv, _ := st.Create(ctx, "isolated")
	if err := st.ReplaceMessages(ctx, conv.ID, []models.Message{{Role: models.RoleUser, Content: "original"}}); err != nil {
		t.Fatalf("ReplaceMessages() error = %v", err)
	}

	got, _ := st.Get(ctx, conv.ID)
	got.Messages[0].Content = "mutated"

	again, _ := st.Get(ctx, conv.ID)
	if again.Messages[0].Content != "original" {
		t.Errorf("stored message mutated through returned copy: %q", again.Messages[0].Content)
	}
}
