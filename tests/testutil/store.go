package testutil

import (
	"io"
	"log/slog"
	"testing"

	"github.com/nhle/mailcache/internal/store"
)

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestMailboxInfoStore creates an in-memory mailbox info store with all
// migrations applied. It is closed when the test completes.
func NewTestMailboxInfoStore(t *testing.T) *store.SQLiteMailboxInfoStore {
	t.Helper()

	s, err := store.NewSQLiteMailboxInfoStore(":memory:", DiscardLogger())
	if err != nil {
		t.Fatalf("creating mailbox info store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing mailbox info store: %v", err)
		}
	})
	return s
}

// NewTestContentStore creates an in-memory mailbox content store.
func NewTestContentStore(t *testing.T) *store.SQLiteContentStore {
	t.Helper()

	s, err := store.NewSQLiteContentStore(":memory:", DiscardLogger())
	if err != nil {
		t.Fatalf("creating content store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing content store: %v", err)
		}
	})
	return s
}

// NewTestContactStore creates an in-memory contact store.
func NewTestContactStore(t *testing.T) *store.SQLiteContactStore {
	t.Helper()

	s, err := store.NewSQLiteContactStore(":memory:", DiscardLogger())
	if err != nil {
		t.Fatalf("creating contact store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing contact store: %v", err)
		}
	})
	return s
}
