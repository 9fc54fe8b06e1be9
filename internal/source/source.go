// Package source defines the remote mail client the cache is filled from
// and the errors it reports.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/mailcache/internal/model"
)

// Direction selects which end of a folder's history a page extends.
type Direction int

const (
	// Newer requests messages after the cursor (refresh).
	Newer Direction = iota
	// Older requests messages before the cursor (load more).
	Older
)

func (d Direction) String() string {
	if d == Older {
		return "older"
	}
	return "newer"
}

// PageRequest describes one page fetch.
type PageRequest struct {
	FolderID  string
	Direction Direction

	// Cursor is the boundary UID, exclusive. For Older it is the oldest
	// cached UID; for Newer the newest. Zero means nothing is cached and
	// the latest page is returned.
	Cursor uint32

	PageSize int
}

// Attachment is a downloaded message part.
type Attachment struct {
	Filename string
	MIMEType string
	Data     []byte
}

// MailClient is the remote side of the cache.
type MailClient interface {
	// ListFolders returns the folders of the signed-in mailbox.
	ListFolders(ctx context.Context) ([]model.Folder, error)

	// FetchPage returns one page of threads. A nil slice means the
	// folder has nothing more in the requested direction.
	FetchPage(ctx context.Context, req PageRequest) ([]model.Thread, error)

	// FetchMailboxes returns the mailboxes owned by userID.
	FetchMailboxes(ctx context.Context, userID string) ([]model.Mailbox, error)

	// DownloadAttachment returns the index-th attachment of a message.
	DownloadAttachment(ctx context.Context, folderID string, uid uint32, index int) (*Attachment, error)
}

// LocalError reports missing or inconsistent local state.
type LocalError struct {
	Message string
}

func (e *LocalError) Error() string {
	return "local error: " + e.Message
}

// NetworkError reports that a remote call could not be completed.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ServerError reports that the server rejected a request.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// AuthError indicates that authentication has failed or the token has
// expired.
type AuthError struct {
	Username string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Username, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsNetworkError reports whether err (or any error in its chain) is a
// NetworkError.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsServerError reports whether err (or any error in its chain) is a
// ServerError.
func IsServerError(err error) bool {
	var srvErr *ServerError
	return errors.As(err, &srvErr)
}

// IsLocalError reports whether err (or any error in its chain) is a
// LocalError.
func IsLocalError(err error) bool {
	var localErr *LocalError
	return errors.As(err, &localErr)
}
