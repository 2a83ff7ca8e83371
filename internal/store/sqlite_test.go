package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "store_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedThread(t *testing.T, s *SQLiteStore) (*User, *Thread) {
	t.Helper()
	user, err := s.CreateUser("store-tester", "hash")
	require.NoError(t, err)
	thread, err := s.CreateThread(user.ID, nil)
	require.NoError(t, err)
	return user, thread
}

func TestGetThreadNotFound(t *testing.T) {
	s := newTestStore(t)
	thread, err := s.GetThread("no-such-thread")
	require.NoError(t, err)
	assert.Nil(t, thread)
}

func TestCreateAssistantTurn(t *testing.T) {
	s := newTestStore(t)
	_, thread := seedThread(t, s)

	userMsg := &Message{ThreadID: thread.ID, Role: "user", Content: "how do I set up rostering?"}
	require.NoError(t, s.CreateMessage(userMsg))

	msg := &Message{
		ThreadID:     thread.ID,
		Role:         "model",
		Content:      "Rostering is configured under admin settings.",
		Model:        "gemini-2.0-flash",
		Provider:     "google",
		InputTokens:  120,
		OutputTokens: 40,
		TotalTokens:  160,
		CostCents:    2,
		BillingMode:  BillingHouse,
	}
	citations := []Citation{
		{ChunkID: "a-1", Rank: 1, Score: 3.5, Snippet: "Rostering setup...", Weight: 1.0, Title: "Rostering", URL: "https://docs.example.com/rostering"},
		{ChunkID: "b-1", Rank: 2, Score: 1.2, Snippet: "SSO config...", Weight: 1.0, Title: "SSO", URL: "https://docs.example.com/sso"},
	}
	require.NoError(t, s.CreateAssistantTurn(msg, citations, "how do I set up rostering?"))
	require.NotEmpty(t, msg.ID)

	got, err := s.GetCitationsByMessageID(msg.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a-1", got[0].ChunkID)
	assert.Equal(t, 1, got[0].Rank)
	assert.Equal(t, "b-1", got[1].ChunkID)

	reloaded, err := s.GetThread(thread.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.Title)
	assert.Equal(t, "how do I set up rostering?", *reloaded.Title)
	assert.False(t, reloaded.UpdatedAt.Before(thread.UpdatedAt))
}

func TestAssistantTurnDoesNotOverwriteTitle(t *testing.T) {
	s := newTestStore(t)
	_, thread := seedThread(t, s)

	first := &Message{ThreadID: thread.ID, Role: "model", Content: "a"}
	require.NoError(t, s.CreateAssistantTurn(first, nil, "first title"))

	second := &Message{ThreadID: thread.ID, Role: "model", Content: "b"}
	require.NoError(t, s.CreateAssistantTurn(second, nil, "second title"))

	reloaded, err := s.GetThread(thread.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.Title)
	assert.Equal(t, "first title", *reloaded.Title)
}

func TestGetRecentMessagesOldestFirst(t *testing.T) {
	s := newTestStore(t)
	_, thread := seedThread(t, s)

	contents := []string{"one", "two", "three", "four", "five"}
	for _, c := range contents {
		require.NoError(t, s.CreateMessage(&Message{ThreadID: thread.ID, Role: "user", Content: c}))
		time.Sleep(2 * time.Millisecond)
	}

	recent, err := s.GetRecentMessages(thread.ID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "three", recent[0].Content)
	assert.Equal(t, "four", recent[1].Content)
	assert.Equal(t, "five", recent[2].Content)
}

func TestGetFirstUserMessage(t *testing.T) {
	s := newTestStore(t)
	_, thread := seedThread(t, s)

	require.NoError(t, s.CreateMessage(&Message{ThreadID: thread.ID, Role: "user", Content: "the question"}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.CreateMessage(&Message{ThreadID: thread.ID, Role: "model", Content: "the answer"}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.CreateMessage(&Message{ThreadID: thread.ID, Role: "user", Content: "a followup"}))

	first, err := s.GetFirstUserMessage(thread.ID)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "the question", first.Content)
}

func TestGetFirstUserMessageEmptyThread(t *testing.T) {
	s := newTestStore(t)
	_, thread := seedThread(t, s)

	first, err := s.GetFirstUserMessage(thread.ID)
	require.NoError(t, err)
	assert.Nil(t, first)
}

func TestUpdateMessageFeedback(t *testing.T) {
	s := newTestStore(t)
	_, thread := seedThread(t, s)

	msg := &Message{ThreadID: thread.ID, Role: "model", Content: "answer"}
	require.NoError(t, s.CreateMessage(msg))

	require.NoError(t, s.UpdateMessageFeedback(msg.ID, true))
	messages, err := s.GetMessagesByThreadID(thread.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.True(t, messages[0].NegativeFeedback)

	assert.Error(t, s.UpdateMessageFeedback("no-such-message", true))
}

func TestThreadListOrderedByActivity(t *testing.T) {
	s := newTestStore(t)
	user, err := s.CreateUser("lister", "hash")
	require.NoError(t, err)

	older, err := s.CreateThread(user.ID, nil)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	newer, err := s.CreateThread(user.ID, nil)
	require.NoError(t, err)

	// A turn on the older thread bumps it to the top.
	time.Sleep(2 * time.Millisecond)
	msg := &Message{ThreadID: older.ID, Role: "model", Content: "bump"}
	require.NoError(t, s.CreateAssistantTurn(msg, nil, ""))

	threads, err := s.GetThreadsByUserID(user.ID)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, older.ID, threads[0].ID)
	assert.Equal(t, newer.ID, threads[1].ID)
}

func TestCredentialRoundtrip(t *testing.T) {
	s := newTestStore(t)
	user, err := s.CreateUser("cred-owner", "hash")
	require.NoError(t, err)
	other, err := s.CreateUser("not-the-owner", "hash")
	require.NoError(t, err)

	cred, err := s.CreateCredential(user.ID, "google", []byte("sealed-bytes"), 1)
	require.NoError(t, err)

	got, err := s.GetCredential(cred.ID, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("sealed-bytes"), got.Ciphertext)
	assert.Equal(t, 1, got.KeyVersion)

	// Ownership is part of the lookup key.
	stolen, err := s.GetCredential(cred.ID, other.ID)
	require.NoError(t, err)
	assert.Nil(t, stolen)

	require.NoError(t, s.UpdateCredentialSeal(cred.ID, []byte("resealed"), 2))
	resealed, err := s.GetCredential(cred.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("resealed"), resealed.Ciphertext)
	assert.Equal(t, 2, resealed.KeyVersion)
}
