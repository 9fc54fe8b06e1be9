package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/mailcache/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnrecoverable is returned when a store is still unusable after it
	// was deleted and recreated.
	ErrUnrecoverable = errors.New("local store unrecoverable")
)

// MailboxInfoStore persists mailbox metadata for every signed-in user.
type MailboxInfoStore interface {
	// UpsertMailboxes merges fresh remote mailboxes for userID, keeping the
	// cache-only attributes of existing rows, and deletes the user's
	// mailboxes that are no longer present.
	UpsertMailboxes(ctx context.Context, userID string, mailboxes []model.Mailbox) error
	GetMailboxes(ctx context.Context, userID string) ([]model.Mailbox, error)
	GetMailbox(ctx context.Context, mailboxID, userID string) (*model.Mailbox, error)
	DeleteUserMailboxes(ctx context.Context, userID string) error

	// Cache-only attributes.
	SetUnseenCount(ctx context.Context, mailboxID, userID string, count int) error
	SetSpamFilter(ctx context.Context, mailboxID, userID string, enabled bool) error
	SetSenderRestrictions(ctx context.Context, mailboxID, userID string, r model.SenderRestrictions) error
}

// ContentStore persists the folders and threads of one mailbox.
type ContentStore interface {
	// UpsertFolders merges the server's folder list, keeping each folder's
	// sync state, and removes folders (and their threads) that are gone.
	UpsertFolders(ctx context.Context, folders []model.Folder) error
	GetFolders(ctx context.Context) ([]model.Folder, error)
	GetFolder(ctx context.Context, id string) (*model.Folder, error)
	MarkHistoryComplete(ctx context.Context, id string) error
	SetLastUpdate(ctx context.Context, id string, at time.Time) error
	SetUnreadCount(ctx context.Context, id string, count int) error

	// UpsertThreads stores threads and returns how many were new.
	UpsertThreads(ctx context.Context, threads []model.Thread) (int, error)
	GetThreads(ctx context.Context, folderID string, limit, offset int) ([]model.Thread, error)
	OldestUID(ctx context.Context, folderID string) (uint32, error)
	NewestUID(ctx context.Context, folderID string) (uint32, error)
	CountThreads(ctx context.Context, folderID string) (int, error)
	CountUnseen(ctx context.Context, folderID string) (int, error)
}

// ContactStore persists correspondents learned from message headers.
type ContactStore interface {
	RecordContacts(ctx context.Context, contacts []model.Contact) error
	SearchContacts(ctx context.Context, query string, limit int) ([]model.Contact, error)
}
