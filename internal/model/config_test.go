package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Sync.PageSize)
	assert.Equal(t, 5, cfg.Sync.MaxFetchCalls)
	assert.Equal(t, 120, cfg.Sync.PollIntervalSec)
	assert.Equal(t, "993", cfg.IMAP.Port)
	assert.True(t, cfg.IMAP.TLS)
	assert.Equal(t, 90, cfg.Account.TokenLifetimeDays)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /tmp/mailcache-test
imap:
  host: imap.example.org
sync:
  page_size: 20
  max_fetch_calls: 0
`), 0o600))
	t.Setenv("MAILCACHE_IMAP_HOST", "imap.override.org")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/mailcache-test", cfg.DataDir)
	assert.Equal(t, "imap.override.org", cfg.IMAP.Host)
	assert.Equal(t, 20, cfg.Sync.PageSize)
	assert.Equal(t, 5, cfg.Sync.MaxFetchCalls, "non-positive values fall back")
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultAppConfig()
	cfg.IMAP.Host = "imap.example.org"
	cfg.Sync.PageSize = 30

	require.NoError(t, SaveConfig(path, cfg))

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "imap.example.org", got.IMAP.Host)
	assert.Equal(t, 30, got.Sync.PageSize)
}

func TestMailboxContentPathIsSanitized(t *testing.T) {
	cfg := &AppConfig{DataDir: "/data"}

	assert.Equal(t, "/data/mailbox-ada@example.org-INBOX_a.db",
		cfg.MailboxContentPath("ada@example.org", "INBOX/a"))
	assert.Equal(t, "/data/mailbox-info.db", cfg.MailboxInfoPath())
	assert.Equal(t, "/data/contacts.db", cfg.ContactsPath())
}

func TestFolderCanLoadOlder(t *testing.T) {
	now := time.Now()

	assert.False(t, Folder{}.CanLoadOlder(), "never synced")
	assert.True(t, Folder{LastUpdate: &now}.CanLoadOlder())
	assert.False(t, Folder{LastUpdate: &now, IsHistoryComplete: true}.CanLoadOlder())
}

func TestTokenFreshness(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older := Token{UserID: "u", ExpiresAt: t0}
	newer := Token{UserID: "u", ExpiresAt: t0.Add(time.Minute)}

	assert.True(t, newer.FresherThan(older))
	assert.False(t, older.FresherThan(newer))
	assert.False(t, older.FresherThan(older))
	assert.True(t, older.IsExpired(t0.Add(time.Second)))
	assert.False(t, newer.IsExpired(t0))
}
