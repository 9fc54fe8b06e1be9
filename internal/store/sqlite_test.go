package store

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailcache/internal/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCorruptedStoreIsRecreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailbox-info.db")
	garbage := bytes.Repeat([]byte("definitely not sqlite "), 512)
	require.NoError(t, os.WriteFile(path, garbage, 0o600))

	s, err := NewSQLiteMailboxInfoStore(path, quietLogger())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.UpsertMailboxes(ctx, "u1", []model.Mailbox{{MailboxID: "m1"}}))
	got, err := s.GetMailboxes(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMigrationsUpgradeOlderStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contents.db")

	// Create a store at schema version 1 only.
	db, err := connect(path, contentMigrations[:1])
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO folders (id, name) VALUES ('INBOX', 'INBOX')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := NewSQLiteContentStore(path, quietLogger())
	require.NoError(t, err)
	defer s.Close()

	version, err := schemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, len(contentMigrations), version)

	ctx := context.Background()
	require.NoError(t, s.SetUnreadCount(ctx, "INBOX", 3))
	f, err := s.GetFolder(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 3, f.UnreadCount)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.db")
	ctx := context.Background()

	s, err := NewSQLiteContactStore(path, quietLogger())
	require.NoError(t, err)
	require.NoError(t, s.RecordContacts(ctx, []model.Contact{{Email: "x@example.org"}}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteContactStore(path, quietLogger())
	require.NoError(t, err)
	defer s.Close()

	got, err := s.SearchContacts(ctx, "x@", 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMigrationVersionsAreSequential(t *testing.T) {
	for name, migs := range map[string][]migration{
		"mailbox info": mailboxInfoMigrations,
		"content":      contentMigrations,
		"contacts":     contactMigrations,
	} {
		for i, m := range migs {
			assert.Equal(t, i+1, m.version, name)
		}
	}
}

func TestRemoveDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailbox-u1-m1.db")

	s, err := NewSQLiteContentStore(path, quietLogger())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.NoError(t, RemoveDatabase(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Removing again is fine.
	assert.NoError(t, RemoveDatabase(path))
	assert.NoError(t, RemoveDatabase(":memory:"))
}
