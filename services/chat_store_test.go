package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"medilink_back_end_go/db"
	"medilink_back_end_go/models"
)

// These tests need a running Postgres; they are skipped when
// TEST_DATABASE_URL is unset.

func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("skipping: TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := db.InitDatabase(ctx, url)
	if err != nil {
		t.Skipf("skipping: cannot connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	for _, table := range []string{"messages", "conversations", "push_tokens", "users"} {
		if _, err := pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("failed to reset %s: %v", table, err)
		}
	}
	return pool
}

func TestPgChatStoreConversationLifecycle(t *testing.T) {
	pool := getTestPool(t)
	store := NewPgChatStore(pool)
	ctx := context.Background()

	facility := int64(10)
	conv, err := store.CreateConversation(ctx, 1, 2, &facility, "refill request")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if conv.ID <= 0 || conv.Status != models.ConversationActive {
		t.Fatalf("unexpected conversation: %+v", conv)
	}

	// A second active conversation for the same patient and facility is
	// rejected.
	if _, err := store.CreateConversation(ctx, 1, 2, &facility, "again"); !errors.Is(err, ErrDuplicateConversation) {
		t.Fatalf("expected ErrDuplicateConversation, got %v", err)
	}

	msg, err := store.InsertMessage(ctx, conv.ID, 1, "Hi", models.MessageText, nil)
	if err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	if msg.ID <= 0 || msg.CreatedAt.IsZero() {
		t.Fatalf("message not materialized: %+v", msg)
	}

	if err := store.TouchConversation(ctx, conv.ID); err != nil {
		t.Fatalf("TouchConversation failed: %v", err)
	}
	reloaded, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if reloaded.LastActivityAt.Before(conv.LastActivityAt) {
		t.Error("last activity must be non-decreasing")
	}

	// Closing the conversation frees the (patient, facility) slot.
	if err := store.UpdateStatus(ctx, conv.ID, models.ConversationClosed); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if _, err := store.CreateConversation(ctx, 1, 2, &facility, "new issue"); err != nil {
		t.Fatalf("expected a new conversation after close, got %v", err)
	}
}

func TestPgChatStoreFacilityAndDirectSlotsAreIndependent(t *testing.T) {
	pool := getTestPool(t)
	store := NewPgChatStore(pool)
	ctx := context.Background()

	// Active conversation at facility 5, handled by professional 7.
	facility := int64(5)
	if _, err := store.CreateConversation(ctx, 1, 7, &facility, "refill"); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	// The same patient talking directly to professional 5 is a different
	// slot even though the professional's id matches the facility's id.
	if _, err := store.CreateConversation(ctx, 1, 5, nil, "second opinion"); err != nil {
		t.Fatalf("expected the direct conversation to open, got %v", err)
	}

	// Each slot still rejects its own duplicate.
	if _, err := store.CreateConversation(ctx, 1, 8, &facility, "again"); !errors.Is(err, ErrDuplicateConversation) {
		t.Fatalf("expected ErrDuplicateConversation for the facility slot, got %v", err)
	}
	if _, err := store.CreateConversation(ctx, 1, 5, nil, "again"); !errors.Is(err, ErrDuplicateConversation) {
		t.Fatalf("expected ErrDuplicateConversation for the direct slot, got %v", err)
	}
}

func TestPgChatStoreMarkReadIsIdempotent(t *testing.T) {
	pool := getTestPool(t)
	store := NewPgChatStore(pool)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, 1, 2, nil, "")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.InsertMessage(ctx, conv.ID, 2, fmt.Sprintf("msg %d", i), models.MessageText, nil); err != nil {
			t.Fatalf("InsertMessage failed: %v", err)
		}
	}
	if _, err := store.InsertMessage(ctx, conv.ID, 1, "own message", models.MessageText, nil); err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}

	count, err := store.MarkConversationRead(ctx, conv.ID, 1)
	if err != nil {
		t.Fatalf("MarkConversationRead failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 messages marked read, got %d", count)
	}

	count, err = store.MarkConversationRead(ctx, conv.ID, 1)
	if err != nil {
		t.Fatalf("second MarkConversationRead failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected repeat call to touch zero rows, got %d", count)
	}

	messages, err := store.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	for _, m := range messages {
		if m.SenderID == 1 && m.IsRead {
			t.Error("the reader's own message must stay unread")
		}
		if m.SenderID == 2 && !m.IsRead {
			t.Error("counterpart messages must be read")
		}
	}
}

func TestPgChatStorePushTokens(t *testing.T) {
	pool := getTestPool(t)
	store := NewPgChatStore(pool)
	ctx := context.Background()

	if err := store.RegisterPushToken(ctx, 5, "device-a", "ios", "token-1"); err != nil {
		t.Fatalf("RegisterPushToken failed: %v", err)
	}
	// Re-registering the same device replaces its token.
	if err := store.RegisterPushToken(ctx, 5, "device-a", "ios", "token-2"); err != nil {
		t.Fatalf("RegisterPushToken upsert failed: %v", err)
	}
	if err := store.RegisterPushToken(ctx, 5, "device-b", "android", "token-3"); err != nil {
		t.Fatalf("RegisterPushToken failed: %v", err)
	}

	tokens, err := store.ActivePushTokens(ctx, 5)
	if err != nil {
		t.Fatalf("ActivePushTokens failed: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %v", tokens)
	}
	for _, token := range tokens {
		if token == "token-1" {
			t.Error("replaced token must not be returned")
		}
	}
}

func TestPgChatStoreUnreadCounts(t *testing.T) {
	pool := getTestPool(t)
	store := NewPgChatStore(pool)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, 1, 2, nil, "")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if _, err := store.InsertMessage(ctx, conv.ID, 2, "unread one", models.MessageText, nil); err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	if _, err := store.InsertMessage(ctx, conv.ID, 2, "unread two", models.MessageText, nil); err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}

	summaries, err := store.ListConversationsForUser(ctx, 1)
	if err != nil {
		t.Fatalf("ListConversationsForUser failed: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(summaries))
	}
	if summaries[0].UnreadCount != 2 {
		t.Errorf("expected 2 unread, got %d", summaries[0].UnreadCount)
	}

	// The professional sees the same conversation with no unread of their
	// own making.
	summaries, err = store.ListConversationsForUser(ctx, 2)
	if err != nil {
		t.Fatalf("ListConversationsForUser failed: %v", err)
	}
	if len(summaries) != 1 || summaries[0].UnreadCount != 0 {
		t.Errorf("expected 0 unread for the sender, got %+v", summaries)
	}
}
