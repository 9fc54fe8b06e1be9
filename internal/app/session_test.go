package app

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/internal/source"
	"github.com/nhle/mailcache/tests/testutil"
)

func testDeps(t *testing.T, client *testutil.FakeMailClient) Deps {
	t.Helper()
	return Deps{
		Config: &model.AppConfig{
			DataDir: t.TempDir(),
			Sync:    model.SyncConfig{PageSize: 10, MaxFetchCalls: 5, PollIntervalSec: 3600},
			Account: model.AccountConfig{TokenLifetimeDays: 90},
		},
		Mailboxes: testutil.NewTestMailboxInfoStore(t),
		Contacts:  testutil.NewTestContactStore(t),
		NewClient: func(model.Token) source.MailClient { return client },
		Logger:    testutil.DiscardLogger(),
	}
}

func testAccount(userID string) model.Account {
	return model.Account{
		UserID: userID,
		Token: model.Token{
			UserID:    userID,
			Username:  userID,
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
}

func TestOpenSessionCachesRemoteMailboxes(t *testing.T) {
	ctx := context.Background()
	client := &testutil.FakeMailClient{Mailboxes: []model.Mailbox{
		{MailboxID: "ada@example.org", Email: "ada@example.org", QuotaMax: 100},
	}}
	deps := testDeps(t, client)

	s, err := OpenSession(ctx, deps, testAccount("ada"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.Equal(t, "ada@example.org", s.Mailbox.MailboxID)
	assert.Equal(t, "ada", s.Mailbox.UserID)

	cached, err := deps.Mailboxes.GetMailboxes(ctx, "ada")
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	_, err = os.Stat(deps.Config.MailboxContentPath("ada", "ada@example.org"))
	assert.NoError(t, err)
}

func TestOpenSessionFallsBackToCache(t *testing.T) {
	ctx := context.Background()
	client := &testutil.FakeMailClient{
		MailboxErr: &source.NetworkError{Op: "connect", Err: errors.New("offline")},
	}
	deps := testDeps(t, client)
	require.NoError(t, deps.Mailboxes.UpsertMailboxes(ctx, "ada", []model.Mailbox{
		{MailboxID: "m1", UserID: "ada", Email: "ada@example.org"},
	}))

	s, err := OpenSession(ctx, deps, testAccount("ada"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.Equal(t, "m1", s.Mailbox.MailboxID)
}

func TestOpenSessionWithoutMailbox(t *testing.T) {
	client := &testutil.FakeMailClient{
		MailboxErr: &source.NetworkError{Op: "connect", Err: errors.New("offline")},
	}

	_, err := OpenSession(context.Background(), testDeps(t, client), testAccount("ada"))
	assert.ErrorIs(t, err, ErrNoMailbox)
}

func TestOpenSessionRejectedCredential(t *testing.T) {
	client := &testutil.FakeMailClient{
		MailboxErr: &source.AuthError{Username: "ada", Message: "invalid credentials"},
	}

	_, err := OpenSession(context.Background(), testDeps(t, client), testAccount("ada"))
	assert.True(t, source.IsAuthError(err))
}

func TestSessionUpdateUnseen(t *testing.T) {
	ctx := context.Background()
	client := &testutil.FakeMailClient{Mailboxes: []model.Mailbox{{MailboxID: "m1"}}}
	deps := testDeps(t, client)

	s, err := OpenSession(ctx, deps, testAccount("ada"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Content.UpsertFolders(ctx, []model.Folder{
		{ID: "INBOX", Name: "INBOX", Role: model.RoleInbox},
		{ID: "Work", Name: "Work"},
		{ID: "Junk", Name: "Junk", Role: model.RoleSpam},
	}))
	require.NoError(t, s.Content.SetUnreadCount(ctx, "INBOX", 3))
	require.NoError(t, s.Content.SetUnreadCount(ctx, "Work", 2))
	require.NoError(t, s.Content.SetUnreadCount(ctx, "Junk", 40))

	n, err := s.UpdateUnseen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	mb, err := deps.Mailboxes.GetMailbox(ctx, "m1", "ada")
	require.NoError(t, err)
	assert.Equal(t, 5, mb.UnseenCount)
}

func TestSessionDiscardRemovesContent(t *testing.T) {
	ctx := context.Background()
	client := &testutil.FakeMailClient{Mailboxes: []model.Mailbox{{MailboxID: "m1"}}}
	deps := testDeps(t, client)

	s, err := OpenSession(ctx, deps, testAccount("ada"))
	require.NoError(t, err)

	require.NoError(t, s.Discard())

	_, err = os.Stat(deps.Config.MailboxContentPath("ada", "m1"))
	assert.True(t, os.IsNotExist(err))
}
