package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnguyen/mailbox/internal/model"
)

// newTestStore creates an in-memory store with all migrations applied.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

func TestCredential_SaveLoadDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	loaded, err := s.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded, "empty store must load no credential")

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	id, err := s.Save(ctx, model.Credential{
		UserEmail:       "user@example.com",
		Method:          model.AuthMethodOAuth,
		EncryptedSecret: "ciphertext-blob",
		Expiry:          &expiry,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	loaded, err = s.LoadLatest(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "user@example.com", loaded.UserEmail)
	assert.Equal(t, model.AuthMethodOAuth, loaded.Method)
	assert.Equal(t, "ciphertext-blob", loaded.EncryptedSecret)
	require.NotNil(t, loaded.Expiry)

	require.NoError(t, s.Delete(ctx, id))
	loaded, err = s.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestCredential_SaveOverwritesSameUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Save(ctx, model.Credential{
		UserEmail:       "user@example.com",
		Method:          model.AuthMethodAppPassword,
		EncryptedSecret: "old-blob",
	})
	require.NoError(t, err)

	second, err := s.Save(ctx, model.Credential{
		UserEmail:       "user@example.com",
		Method:          model.AuthMethodOAuth,
		EncryptedSecret: "new-blob",
	})
	require.NoError(t, err)
	assert.Equal(t, first, second, "re-auth must keep one row per user")

	loaded, err := s.LoadLatest(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, model.AuthMethodOAuth, loaded.Method)
	assert.Equal(t, "new-blob", loaded.EncryptedSecret)
}

func TestMessages_ExistsInsertList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exists, err := s.MessageExists(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, exists)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, ext := range []string{"msg-1", "msg-2", "msg-3"} {
		err := s.InsertMessage(ctx, model.Message{
			ExternalID: ext,
			Folder:     "inbox",
			From:       "sender@example.com",
			Subject:    "hello",
			Date:       base.Add(time.Duration(i) * time.Hour),
			Unread:     i == 2,
		})
		require.NoError(t, err)
	}

	exists, err = s.MessageExists(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, exists)

	count, err := s.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Newest first.
	page, err := s.ListMessages(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "msg-3", page[0].ExternalID)
	assert.Equal(t, "msg-2", page[1].ExternalID)
	assert.True(t, page[0].Unread)

	page, err = s.ListMessages(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "msg-1", page[0].ExternalID)

	// Duplicate external ids are rejected by the schema.
	err = s.InsertMessage(ctx, model.Message{ExternalID: "msg-1", Date: base})
	assert.Error(t, err)

	deleted, err := s.DeleteAllMessages(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)
}

func TestEvents_ExistsInsertList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)
	for i, ext := range []string{"ev-1", "ev-2"} {
		err := s.InsertEvent(ctx, model.Event{
			ExternalID: ext,
			Summary:    "standup",
			Start:      start.Add(time.Duration(i) * 24 * time.Hour),
			End:        start.Add(time.Duration(i)*24*time.Hour + 30*time.Minute),
		})
		require.NoError(t, err)
	}

	exists, err := s.EventExists(ctx, "ev-2")
	require.NoError(t, err)
	assert.True(t, exists)

	count, err := s.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	events, err := s.ListEvents(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ev-1", events[0].ExternalID, "events ordered by start time")

	deleted, err := s.DeleteAllEvents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)
}
