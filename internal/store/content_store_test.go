package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/internal/store"
	"github.com/nhle/mailcache/tests/testutil"
)

var day = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func threadsFor(folder string, uids ...uint32) []model.Thread {
	threads := make([]model.Thread, len(uids))
	for i, uid := range uids {
		threads[i] = model.Thread{
			ID:       fmt.Sprintf("%s/%d", folder, uid),
			FolderID: folder,
			UID:      uid,
			Subject:  fmt.Sprintf("message %d", uid),
			From:     "bob@example.org",
			To:       []string{"alice@example.org"},
			Date:     day.Add(time.Duration(uid) * time.Minute),
		}
	}
	return threads
}

func TestUpsertFoldersPreservesSyncState(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestContentStore(t)

	require.NoError(t, s.UpsertFolders(ctx, []model.Folder{
		{ID: "INBOX", Name: "INBOX", Role: model.RoleInbox},
		{ID: "Old", Name: "Old"},
	}))
	require.NoError(t, s.SetLastUpdate(ctx, "INBOX", day))
	require.NoError(t, s.MarkHistoryComplete(ctx, "INBOX"))
	_, err := s.UpsertThreads(ctx, threadsFor("Old", 1, 2))
	require.NoError(t, err)

	// The server renames nothing but drops "Old"; the fresh folder
	// carries zero-valued sync state.
	require.NoError(t, s.UpsertFolders(ctx, []model.Folder{
		{ID: "INBOX", Name: "Inbox", Role: model.RoleInbox},
		{ID: "Sent", Name: "Sent", Role: model.RoleSent},
	}))

	inbox, err := s.GetFolder(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, "Inbox", inbox.Name)
	assert.True(t, inbox.IsHistoryComplete)
	require.NotNil(t, inbox.LastUpdate)
	assert.True(t, inbox.LastUpdate.Equal(day))

	_, err = s.GetFolder(ctx, "Old")
	assert.ErrorIs(t, err, store.ErrNotFound)
	n, err := s.CountThreads(ctx, "Old")
	require.NoError(t, err)
	assert.Zero(t, n, "threads of removed folders are deleted")

	folders, err := s.GetFolders(ctx)
	require.NoError(t, err)
	require.Len(t, folders, 2)
	assert.Equal(t, "INBOX", folders[0].ID)
	assert.Equal(t, "Sent", folders[1].ID)
}

func TestCanLoadOlderFollowsStoredState(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestContentStore(t)
	require.NoError(t, s.UpsertFolders(ctx, []model.Folder{{ID: "INBOX", Name: "INBOX"}}))

	f, err := s.GetFolder(ctx, "INBOX")
	require.NoError(t, err)
	assert.Nil(t, f.LastUpdate)
	assert.False(t, f.CanLoadOlder(), "never synced")

	require.NoError(t, s.SetLastUpdate(ctx, "INBOX", day))
	f, err = s.GetFolder(ctx, "INBOX")
	require.NoError(t, err)
	assert.True(t, f.CanLoadOlder())

	require.NoError(t, s.MarkHistoryComplete(ctx, "INBOX"))
	require.NoError(t, s.MarkHistoryComplete(ctx, "INBOX"))
	f, err = s.GetFolder(ctx, "INBOX")
	require.NoError(t, err)
	assert.False(t, f.CanLoadOlder())

	assert.ErrorIs(t, s.MarkHistoryComplete(ctx, "missing"), store.ErrNotFound)
}

func TestUpsertThreadsCountsCreated(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestContentStore(t)
	require.NoError(t, s.UpsertFolders(ctx, []model.Folder{{ID: "INBOX", Name: "INBOX"}}))

	created, err := s.UpsertThreads(ctx, threadsFor("INBOX", 10, 11, 12))
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	again := threadsFor("INBOX", 11, 12, 13)
	again[0].Seen = true
	created, err = s.UpsertThreads(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	oldest, err := s.OldestUID(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(10), oldest)

	newest, err := s.NewestUID(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(13), newest)

	unseen, err := s.CountUnseen(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 3, unseen)

	threads, err := s.GetThreads(ctx, "INBOX", 2, 0)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, uint32(13), threads[0].UID)
	assert.Equal(t, uint32(12), threads[1].UID)
	assert.Equal(t, []string{"alice@example.org"}, threads[0].To)
}

func TestUIDBoundsOfEmptyFolder(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestContentStore(t)

	oldest, err := s.OldestUID(ctx, "INBOX")
	require.NoError(t, err)
	assert.Zero(t, oldest)

	created, err := s.UpsertThreads(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, created)
}
