// ABOUTME: Tests for SQLiteStore conversation and message persistence
// ABOUTME: Covers creation, conditional transitions, ordering, and the accept race

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// createTestConversation inserts a conversation with one user message and
// returns it.
func createTestConversation(t *testing.T, s *SQLiteStore, userID string) *Conversation {
	t.Helper()
	ctx := context.Background()

	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Status:    StatusBot,
		CreatedAt: now,
		UpdatedAt: now,
	}
	first := &Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Sender:         SenderUser,
		Body:           "Hello",
		CreatedAt:      now,
	}

	require.NoError(t, s.CreateConversation(ctx, conv, first))
	return conv
}

func TestStore_CreateConversation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "user-1")

	retrieved, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, retrieved.ID)
	assert.Equal(t, "user-1", retrieved.UserID)
	assert.Equal(t, StatusBot, retrieved.Status)
	assert.Nil(t, retrieved.AgentID)

	// First message is written in the same transaction
	msgs, err := store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, SenderUser, msgs[0].Sender)
	assert.Equal(t, "Hello", msgs[0].Body)
}

func TestStore_GetConversation_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetConversation(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_AppendMessage_BumpsUpdatedAt(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "user-1")
	before, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Sender:         SenderBot,
		Body:           "Hi there",
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.AppendMessage(ctx, msg))

	after, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt),
		"appending a message should bump updated_at")
}

func TestStore_ListMessages_AscendingAndStable(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "user-1")

	// Append several messages with identical timestamps to exercise the
	// rowid tie-breaker.
	now := time.Now().UTC()
	var ids []string
	for i := 0; i < 5; i++ {
		msg := &Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			Sender:         SenderUser,
			Body:           fmt.Sprintf("message %d", i),
			CreatedAt:      now,
		}
		require.NoError(t, store.AppendMessage(ctx, msg))
		ids = append(ids, msg.ID)
	}

	first, err := store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, first, 6)

	// Insertion order preserved for equal timestamps
	for i, id := range ids {
		assert.Equal(t, id, first[i+1].ID)
	}

	// Two fetches with no writes in between are identical
	second, err := store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, second, 6)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestStore_RecentMessages_WindowAscending(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "user-1")

	for i := 0; i < 10; i++ {
		msg := &Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			Sender:         SenderUser,
			Body:           fmt.Sprintf("message %d", i),
			CreatedAt:      time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		}
		require.NoError(t, store.AppendMessage(ctx, msg))
	}

	recent, err := store.RecentMessages(ctx, conv.ID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)

	// Oldest of the window first
	assert.Equal(t, "message 7", recent[0].Body)
	assert.Equal(t, "message 8", recent[1].Body)
	assert.Equal(t, "message 9", recent[2].Body)
}

func TestStore_EscalateConversation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "user-1")

	require.NoError(t, store.EscalateConversation(ctx, conv.ID))

	updated, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingHuman, updated.Status)
	assert.Nil(t, updated.AgentID)

	// Already escalated: precondition (status = bot) no longer holds
	assert.ErrorIs(t, store.EscalateConversation(ctx, conv.ID), ErrConflict)
}

func TestStore_AcceptConversation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "user-1")
	require.NoError(t, store.EscalateConversation(ctx, conv.ID))

	require.NoError(t, store.AcceptConversation(ctx, conv.ID, "agent-1"))

	updated, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActiveHuman, updated.Status)
	require.NotNil(t, updated.AgentID)
	assert.Equal(t, "agent-1", *updated.AgentID)

	// A second accept finds the row already claimed
	assert.ErrorIs(t, store.AcceptConversation(ctx, conv.ID, "agent-2"), ErrConflict)
}

func TestStore_AcceptConversation_NotPending(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "user-1")

	// Still in bot mode: nothing to accept
	assert.ErrorIs(t, store.AcceptConversation(ctx, conv.ID, "agent-1"), ErrConflict)
}

func TestStore_AcceptConversation_ConcurrentRace(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "user-1")
	require.NoError(t, store.EscalateConversation(ctx, conv.ID))

	const agents = 10
	var wg sync.WaitGroup
	results := make([]error, agents)

	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n] = store.AcceptConversation(ctx, conv.ID, fmt.Sprintf("agent-%d", n))
		}(i)
	}
	wg.Wait()

	winners := 0
	var winner string
	for i, err := range results {
		if err == nil {
			winners++
			winner = fmt.Sprintf("agent-%d", i)
		} else {
			assert.ErrorIs(t, err, ErrConflict)
		}
	}
	assert.Equal(t, 1, winners, "exactly one accept must succeed")

	updated, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.AgentID)
	assert.Equal(t, winner, *updated.AgentID)
	assert.Equal(t, StatusActiveHuman, updated.Status)
}

func TestStore_DeescalateConversation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "user-1")
	require.NoError(t, store.EscalateConversation(ctx, conv.ID))
	require.NoError(t, store.DeescalateConversation(ctx, conv.ID))

	updated, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusBot, updated.Status)

	// Not pending anymore
	assert.ErrorIs(t, store.DeescalateConversation(ctx, conv.ID), ErrConflict)
}

func TestStore_DeescalateConversation_AssignedIsConflict(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "user-1")
	require.NoError(t, store.EscalateConversation(ctx, conv.ID))
	require.NoError(t, store.AcceptConversation(ctx, conv.ID, "agent-1"))

	assert.ErrorIs(t, store.DeescalateConversation(ctx, conv.ID), ErrConflict)
}

func TestStore_ReleaseConversation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "user-1")
	require.NoError(t, store.EscalateConversation(ctx, conv.ID))
	require.NoError(t, store.AcceptConversation(ctx, conv.ID, "agent-1"))

	require.NoError(t, store.ReleaseConversation(ctx, conv.ID, "agent-1"))

	updated, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusBot, updated.Status)
	assert.Nil(t, updated.AgentID)
}

func TestStore_ReleaseConversation_WrongAgent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "user-1")
	require.NoError(t, store.EscalateConversation(ctx, conv.ID))
	require.NoError(t, store.AcceptConversation(ctx, conv.ID, "agent-1"))

	assert.ErrorIs(t, store.ReleaseConversation(ctx, conv.ID, "agent-2"), ErrConflict)
}

func TestStore_CloseConversation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store, "user-1")
	require.NoError(t, store.CloseConversation(ctx, conv.ID))

	updated, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, updated.Status)

	// Closed is terminal
	assert.ErrorIs(t, store.CloseConversation(ctx, conv.ID), ErrConflict)
	assert.ErrorIs(t, store.EscalateConversation(ctx, conv.ID), ErrConflict)
}

func TestStore_ListConversationsByUser(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	c1 := createTestConversation(t, store, "user-1")
	time.Sleep(2 * time.Millisecond)
	c2 := createTestConversation(t, store, "user-1")
	createTestConversation(t, store, "user-2")

	convs, err := store.ListConversationsByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, convs, 2)

	// Most recently updated first
	assert.Equal(t, c2.ID, convs[0].ID)
	assert.Equal(t, c1.ID, convs[1].ID)
}

func TestStore_ListConversationsForAgent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	assigned := createTestConversation(t, store, "user-1")
	require.NoError(t, store.EscalateConversation(ctx, assigned.ID))
	require.NoError(t, store.AcceptConversation(ctx, assigned.ID, "agent-1"))

	pending := createTestConversation(t, store, "user-2")
	require.NoError(t, store.EscalateConversation(ctx, pending.ID))

	other := createTestConversation(t, store, "user-3")
	require.NoError(t, store.EscalateConversation(ctx, other.ID))
	require.NoError(t, store.AcceptConversation(ctx, other.ID, "agent-2"))

	convs, err := store.ListConversationsForAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, convs, 2)

	ids := []string{convs[0].ID, convs[1].ID}
	assert.Contains(t, ids, assigned.ID)
	assert.Contains(t, ids, pending.ID)
	assert.NotContains(t, ids, other.ID)
}

func TestStore_ListPendingConversations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	pending := createTestConversation(t, store, "user-1")
	require.NoError(t, store.EscalateConversation(ctx, pending.ID))

	createTestConversation(t, store, "user-2") // still bot

	convs, err := store.ListPendingConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, pending.ID, convs[0].ID)
}

func TestStore_TimeFormat_TextOrderIsChronological(t *testing.T) {
	// Whole-second timestamps must not sort after sub-second timestamps in
	// the same second, so the layout pads fractional seconds to fixed width.
	whole := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sub := whole.Add(500 * time.Millisecond)

	assert.Less(t, formatTime(whole), formatTime(sub))

	parsed, err := parseTime(formatTime(whole))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(whole))
}
