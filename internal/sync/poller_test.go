package sync_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/internal/source"
	"github.com/nhle/mailcache/internal/store"
	mailsync "github.com/nhle/mailcache/internal/sync"
	"github.com/nhle/mailcache/tests/testutil"
)

func newPoller(
	t *testing.T,
	client source.MailClient,
) (*mailsync.Poller, *store.SQLiteContentStore, *store.SQLiteContactStore) {
	t.Helper()
	content := testutil.NewTestContentStore(t)
	contacts := testutil.NewTestContactStore(t)
	p := mailsync.NewPoller(client, content, contacts, model.SyncConfig{
		PageSize:        10,
		PollIntervalSec: 3600,
	}, testutil.DiscardLogger())
	return p, content, contacts
}

func TestRefreshFoldersKeepsSyncState(t *testing.T) {
	ctx := context.Background()
	client := &testutil.FakeMailClient{Folders: []model.Folder{
		{ID: "INBOX", Name: "INBOX", Role: model.RoleInbox},
		{ID: "Archive", Name: "Archive", Role: model.RoleArchive},
	}}
	p, content, _ := newPoller(t, client)

	require.NoError(t, content.UpsertFolders(ctx, []model.Folder{
		{ID: "INBOX", Name: "Inbox"},
		{ID: "Old", Name: "Old"},
	}))
	require.NoError(t, content.SetLastUpdate(ctx, "INBOX", time.Now()))
	require.NoError(t, content.MarkHistoryComplete(ctx, "INBOX"))

	folders, err := p.RefreshFolders(ctx)
	require.NoError(t, err)
	require.Len(t, folders, 2)

	assert.Equal(t, "INBOX", folders[0].ID)
	assert.Equal(t, "INBOX", folders[0].Name)
	assert.Equal(t, model.RoleInbox, folders[0].Role)
	assert.True(t, folders[0].IsHistoryComplete)
	assert.NotNil(t, folders[0].LastUpdate)

	assert.Equal(t, "Archive", folders[1].ID)
	assert.Nil(t, folders[1].LastUpdate)

	_, err = content.GetFolder(ctx, "Old")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRefreshFoldersError(t *testing.T) {
	client := &testutil.FakeMailClient{FoldersErr: &source.AuthError{Username: "u", Message: "expired"}}
	p, _, _ := newPoller(t, client)

	_, err := p.RefreshFolders(context.Background())
	assert.True(t, source.IsAuthError(err))
}

func TestRefreshFolderFirstSync(t *testing.T) {
	ctx := context.Background()
	client := &testutil.FakeMailClient{
		Folders: []model.Folder{{ID: "INBOX", Name: "INBOX", Role: model.RoleInbox}},
		Pages:   []testutil.Page{{Threads: testutil.MakeThreads("INBOX", 41, 50)}},
	}
	p, content, contacts := newPoller(t, client)

	_, err := p.RefreshFolders(ctx)
	require.NoError(t, err)

	before, err := content.GetFolder(ctx, "INBOX")
	require.NoError(t, err)
	assert.False(t, before.CanLoadOlder(), "never synced")

	created, err := p.RefreshFolder(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 10, created)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, source.Newer, reqs[0].Direction)
	assert.Zero(t, reqs[0].Cursor)

	folder, err := content.GetFolder(ctx, "INBOX")
	require.NoError(t, err)
	require.NotNil(t, folder.LastUpdate)
	assert.True(t, folder.CanLoadOlder())
	assert.Equal(t, 5, folder.UnreadCount)

	got, err := contacts.SearchContacts(ctx, "sender50@", 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRefreshFolderContinuesFromNewest(t *testing.T) {
	ctx := context.Background()
	client := &testutil.FakeMailClient{
		Folders: []model.Folder{{ID: "INBOX", Name: "INBOX"}},
		Pages: []testutil.Page{
			{Threads: testutil.MakeThreads("INBOX", 41, 50)},
			{Threads: testutil.MakeThreads("INBOX", 51, 52)},
		},
	}
	p, content, _ := newPoller(t, client)

	_, err := p.RefreshFolders(ctx)
	require.NoError(t, err)
	_, err = p.RefreshFolder(ctx, "INBOX")
	require.NoError(t, err)

	created, err := p.RefreshFolder(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, uint32(50), reqs[1].Cursor)

	count, err := content.CountThreads(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 12, count)
}

func TestRefreshFolderEmptyOnServer(t *testing.T) {
	ctx := context.Background()
	client := &testutil.FakeMailClient{Folders: []model.Folder{{ID: "Drafts", Name: "Drafts"}}}
	p, content, _ := newPoller(t, client)

	_, err := p.RefreshFolders(ctx)
	require.NoError(t, err)

	created, err := p.RefreshFolder(ctx, "Drafts")
	require.NoError(t, err)
	assert.Zero(t, created)

	folder, err := content.GetFolder(ctx, "Drafts")
	require.NoError(t, err)
	assert.NotNil(t, folder.LastUpdate)
	assert.True(t, folder.IsHistoryComplete)
}

func TestRefreshFolderFailureLeavesFolderUnsynced(t *testing.T) {
	ctx := context.Background()
	fetchErr := &source.ServerError{Code: "UNAVAILABLE", Message: "try later"}
	client := &testutil.FakeMailClient{
		Folders: []model.Folder{{ID: "INBOX", Name: "INBOX"}},
		Pages:   []testutil.Page{{Err: fetchErr}},
	}
	p, content, _ := newPoller(t, client)

	_, err := p.RefreshFolders(ctx)
	require.NoError(t, err)

	_, err = p.RefreshFolder(ctx, "INBOX")
	assert.True(t, errors.Is(err, fetchErr))

	folder, err := content.GetFolder(ctx, "INBOX")
	require.NoError(t, err)
	assert.Nil(t, folder.LastUpdate)
	assert.False(t, folder.IsHistoryComplete)
}

func TestRefreshUnknownFolder(t *testing.T) {
	p, _, _ := newPoller(t, &testutil.FakeMailClient{})

	_, err := p.RefreshFolder(context.Background(), "Nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPollerStartDeliversResults(t *testing.T) {
	client := &testutil.FakeMailClient{
		Folders: []model.Folder{{ID: "INBOX", Name: "INBOX"}},
		Pages:   []testutil.Page{{Threads: testutil.MakeThreads("INBOX", 1, 3)}},
	}
	p, _, _ := newPoller(t, client)

	cmd := p.Start()
	require.NotNil(t, cmd)
	defer p.Stop()

	assert.Nil(t, p.Start(), "second start is a no-op")

	msg, ok := cmd().(mailsync.RefreshResultMsg)
	require.True(t, ok)
	assert.Equal(t, "INBOX", msg.FolderID)
	assert.Equal(t, 3, msg.Created)
	assert.NoError(t, msg.Error)

	status, ok := p.Status("INBOX")
	require.True(t, ok)
	assert.Equal(t, mailsync.SyncIdle, status.State)
	assert.False(t, status.LastSync.IsZero())
	assert.Len(t, p.GetStatuses(), 1)

	// An on-demand refresh finds nothing new.
	p.Refresh("INBOX")
	msg, ok = p.WaitForNextResult()().(mailsync.RefreshResultMsg)
	require.True(t, ok)
	assert.Equal(t, "INBOX", msg.FolderID)
	assert.Zero(t, msg.Created)
}

func TestPollerReportsAuthExpiry(t *testing.T) {
	client := &testutil.FakeMailClient{
		FoldersErr: &source.AuthError{Username: "u", Message: "expired"},
	}
	p, _, _ := newPoller(t, client)

	cmd := p.Start()
	defer p.Stop()

	msg, ok := cmd().(mailsync.RefreshResultMsg)
	require.True(t, ok)
	assert.Empty(t, msg.FolderID)
	assert.True(t, msg.AuthExpired)
	assert.Error(t, msg.Error)
}

func TestPollerStopReleasesWaiters(t *testing.T) {
	client := &testutil.FakeMailClient{
		FoldersErr: &source.AuthError{Username: "u", Message: "expired"},
	}
	p, _, _ := newPoller(t, client)

	cmd := p.Start()
	_, ok := cmd().(mailsync.RefreshResultMsg)
	require.True(t, ok)

	got := make(chan any, 1)
	go func() { got <- p.WaitForNextResult()() }()

	p.Stop()
	select {
	case msg := <-got:
		assert.Nil(t, msg)
	case <-time.After(time.Second):
		t.Fatal("waiting command still blocked after Stop")
	}
}
