package model

import "time"

// Well-known folder roles, derived from IMAP special-use attributes.
const (
	RoleInbox   = "inbox"
	RoleSent    = "sent"
	RoleDrafts  = "drafts"
	RoleTrash   = "trash"
	RoleSpam    = "spam"
	RoleArchive = "archive"
)

// Folder is a named container of message threads.
type Folder struct {
	// ID is the folder path on the server (e.g. "INBOX", "Archive/2024").
	ID string `json:"id"`

	// Name is the last path component shown to the user.
	Name string `json:"name"`

	// Role is one of the Role* constants, or empty for user folders.
	Role string `json:"role,omitempty"`

	// IsHistoryComplete is set once no older messages remain on the
	// server. It only ever goes from false to true.
	IsHistoryComplete bool `json:"is_history_complete"`

	// LastUpdate is when the folder was last synced successfully.
	// Nil until the first sync completes.
	LastUpdate *time.Time `json:"last_update,omitempty"`

	UnreadCount int `json:"unread_count"`
}

// CanLoadOlder reports whether older history may still be requested.
func (f Folder) CanLoadOlder() bool {
	return !f.IsHistoryComplete && f.LastUpdate != nil
}

// Thread is a message thread as returned by the remote mail client.
// IMAP servers without THREAD support yield one message per thread.
type Thread struct {
	ID        string    `json:"id"`
	FolderID  string    `json:"folder_id"`
	UID       uint32    `json:"uid"`
	MessageID string    `json:"message_id"`
	Subject   string    `json:"subject"`
	From      string    `json:"from"`
	FromName  string    `json:"from_name"`
	To        []string  `json:"to,omitempty"`
	Date      time.Time `json:"date"`
	Seen      bool      `json:"seen"`
	Flagged   bool      `json:"flagged"`
}

// Contact is a correspondent learned from message headers.
type Contact struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	Frequency int       `json:"frequency" db:"frequency"`
	LastSeen  time.Time `json:"last_seen" db:"last_seen"`
}

// Sender returns the contact implied by the thread's From header.
func (t Thread) Sender() Contact {
	return Contact{
		Email:    t.From,
		Name:     t.FromName,
		LastSeen: t.Date,
	}
}
