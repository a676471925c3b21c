package convmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/supervisor/domain"
)

func TestBuildHistoryPrefix_EmptyMessagesReturnsEmptyPrefix(t *testing.T) {
	got := BuildHistoryPrefix(nil)
	assert.Equal(t, "", got)
}

func TestBuildHistoryPrefix_MatchesLiteralTwoTurnFormat(t *testing.T) {
	messages := []domain.Message{
		{Role: domain.RoleUser, Content: "What is the Monty Hall problem?"},
		{Role: domain.RoleAssistant, Content: "..."},
	}
	got := BuildHistoryPrefix(messages)
	want := "Previous conversation:\n" +
		"USER: What is the Monty Hall problem?\n" +
		"ASSISTANT: ..."
	assert.Equal(t, want, got)
}

func TestHasPriorAssistantMessage(t *testing.T) {
	assert.False(t, HasPriorAssistantMessage(nil))
	assert.False(t, HasPriorAssistantMessage([]domain.Message{{Role: domain.RoleUser}}))
	assert.True(t, HasPriorAssistantMessage([]domain.Message{{Role: domain.RoleUser}, {Role: domain.RoleAssistant}}))
}

func TestLoadPrefix_EmptyConversationIDSkipsStore(t *testing.T) {
	got, err := LoadPrefix(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestLoadPrefix_NewConversationHasNoMessages(t *testing.T) {
	store := NewMemStore()
	require.NoError(t, store.Create(context.Background(), domain.Conversation{ID: "c1", CreatedAt: time.Now(), UpdatedAt: time.Now()}))

	got, err := LoadPrefix(context.Background(), store, "c1")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestMemStore_GetNeverFoundForEmptyConversation(t *testing.T) {
	store := NewMemStore()
	now := time.Now()
	require.NoError(t, store.Create(context.Background(), domain.Conversation{ID: "empty", CreatedAt: now, UpdatedAt: now}))

	got, err := store.Get(context.Background(), "empty")
	require.NoError(t, err)
	assert.Equal(t, "empty", got.ID)
}

func TestMemStore_GetUnknownReturnsErrNotFound(t *testing.T) {
	store := NewMemStore()
	_, err := store.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStore_ListOrderedByUpdatedAtDescending(t *testing.T) {
	store := NewMemStore()
	base := time.Now()
	require.NoError(t, store.Create(context.Background(), domain.Conversation{ID: "a", CreatedAt: base, UpdatedAt: base}))
	require.NoError(t, store.Create(context.Background(), domain.Conversation{ID: "b", CreatedAt: base, UpdatedAt: base.Add(time.Hour)}))
	require.NoError(t, store.Create(context.Background(), domain.Conversation{ID: "c", CreatedAt: base, UpdatedAt: base.Add(-time.Hour)}))

	list, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestMemStore_AppendMessageCreatesConversationImplicitly(t *testing.T) {
	store := NewMemStore()
	now := time.Now()
	require.NoError(t, store.AppendMessage(context.Background(), "new-conv", domain.Message{
		ID: "m1", Role: domain.RoleUser, Content: "hello", CreatedAt: now,
	}))

	msgs, err := store.RecentMessages(context.Background(), "new-conv", DefaultHistoryLimit)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestMemStore_RecentMessagesRespectsLimitAndOrder(t *testing.T) {
	store := NewMemStore()
	base := time.Now()
	for i := 0; i < 15; i++ {
		require.NoError(t, store.AppendMessage(context.Background(), "c1", domain.Message{
			ID:        "m" + string(rune('a'+i)),
			Role:      domain.RoleUser,
			Content:   string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	msgs, err := store.RecentMessages(context.Background(), "c1", DefaultHistoryLimit)
	require.NoError(t, err)
	require.Len(t, msgs, DefaultHistoryLimit)
	// Oldest-first within the retained window; the window keeps the 10 most recent.
	assert.Equal(t, "f", msgs[0].Content)
	assert.Equal(t, "o", msgs[len(msgs)-1].Content)
}

func TestRecordTurn_PersistsUserMessageOnly(t *testing.T) {
	store := NewMemStore()
	now := time.Now()
	err := RecordTurn(context.Background(), store, "c1", "what time is it", now)
	require.NoError(t, err)

	msgs, err := store.RecentMessages(context.Background(), "c1", DefaultHistoryLimit)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "what time is it", msgs[0].Content)
}

// TestRecordTurnThenRecordAssistantMessage_PersistsEachSideExactlyOnce
// guards against the double-assistant-persist regression: a Supervisor
// calls RecordTurn (user side) and HistorySink.RecordAssistantMessage
// (assistant side) once each per run, even when both are backed by the same
// store, and the conversation ends up [user, assistant] — never
// [user, assistant, assistant].
func TestRecordTurnThenRecordAssistantMessage_PersistsEachSideExactlyOnce(t *testing.T) {
	store := NewMemStore()
	now := time.Now()
	require.NoError(t, RecordTurn(context.Background(), store, "c1", "what time is it", now))
	require.NoError(t, store.RecordAssistantMessage(context.Background(), "c1", domain.Message{
		Role: domain.RoleAssistant, Content: "it's time to build", AgentID: "writer", CreatedAt: now,
	}))

	msgs, err := store.RecentMessages(context.Background(), "c1", DefaultHistoryLimit)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "writer", msgs[1].AgentID)
}

func TestRecordTurn_EmptyConversationIDIsNoop(t *testing.T) {
	store := NewMemStore()
	err := RecordTurn(context.Background(), store, "", "hi", time.Now())
	require.NoError(t, err)

	list, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}
