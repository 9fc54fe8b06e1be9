package email

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/internal/source"
)

// Client implements source.MailClient over IMAP. Each call opens its own
// connection, so a Client is safe for concurrent use.
type Client struct {
	host     string
	port     string
	username string
	password string
	tls      bool
	logger   *slog.Logger
}

var _ source.MailClient = (*Client)(nil)

// NewClient creates an IMAP client that authenticates with the token's
// username and access token.
func NewClient(cfg model.IMAPConfig, token model.Token, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		host:     cfg.Host,
		port:     cfg.Port,
		username: token.Username,
		password: token.AccessToken,
		tls:      cfg.TLS,
		logger:   logger,
	}
}

// Connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The connection is closed early if ctx
// is done. The caller must call release when finished, which logs out and
// detaches the connection from ctx.
func (c *Client) Connect(ctx context.Context) (client *imapclient.Client, release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	addr := net.JoinHostPort(c.host, c.port)

	if c.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, nil, &source.NetworkError{Op: "connect " + addr, Err: err}
	}

	stop := closeWhenDone(ctx, client)
	release = func() {
		stop()
		_ = client.Logout().Wait()
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		release()
		return nil, nil, &source.AuthError{
			Username: c.username,
			Message:  fmt.Sprintf("authentication failed: %v", err),
		}
	}

	return client, release, nil
}

// closeWhenDone closes conn once ctx is done, unless stop is called first.
func closeWhenDone(ctx context.Context, conn io.Closer) (stop func() bool) {
	return context.AfterFunc(ctx, func() { _ = conn.Close() })
}

// session connects, selects folderID when non-empty, runs fn and logs out.
func (c *Client) session(
	ctx context.Context,
	folderID string,
	fn func(client *imapclient.Client) error,
) error {
	client, release, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	if folderID != "" {
		if _, err := client.Select(folderID, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
			return commandError(ctx, "select "+folderID, err)
		}
	}

	return fn(client)
}

// ListFolders returns every selectable folder with its special-use role.
func (c *Client) ListFolders(ctx context.Context) ([]model.Folder, error) {
	var folders []model.Folder
	err := c.session(ctx, "", func(client *imapclient.Client) error {
		list, err := client.List("", "*", nil).Collect()
		if err != nil {
			return commandError(ctx, "list", err)
		}
		for _, data := range list {
			if f, ok := folderFromList(data); ok {
				folders = append(folders, f)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	return folders, nil
}

// FetchPage returns the envelopes of one page of messages, or nil when
// the folder has nothing more in the requested direction.
func (c *Client) FetchPage(ctx context.Context, req source.PageRequest) ([]model.Thread, error) {
	var threads []model.Thread
	err := c.session(ctx, req.FolderID, func(client *imapclient.Client) error {
		searchData, err := client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
		if err != nil {
			return commandError(ctx, "search", err)
		}

		page := selectPage(searchData.AllUIDs(), req)
		if len(page) == 0 {
			return nil
		}

		fetchOpts := &imap.FetchOptions{
			Envelope: true,
			Flags:    true,
			UID:      true,
		}

		fetchCmd := client.Fetch(imap.UIDSetNum(page...), fetchOpts)
		defer fetchCmd.Close()

		threads = make([]model.Thread, 0, len(page))
		for {
			msg := fetchCmd.Next()
			if msg == nil {
				break
			}

			buf, err := msg.Collect()
			if err != nil {
				c.logger.Warn("skipping unreadable message", "folder", req.FolderID, "error", err)
				continue
			}
			threads = append(threads, threadFromBuffer(req.FolderID, buf))
		}

		if err := fetchCmd.Close(); err != nil {
			return commandError(ctx, "fetch", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s page of %s: %w", req.Direction, req.FolderID, err)
	}

	c.logger.Debug("fetched page",
		"folder", req.FolderID,
		"direction", req.Direction.String(),
		"cursor", req.Cursor,
		"threads", len(threads),
	)
	return threads, nil
}

// FetchMailboxes returns the single mailbox an IMAP login gives access to.
// Quotas are left to the account API; permissions follow the server's
// capabilities.
func (c *Client) FetchMailboxes(ctx context.Context, userID string) ([]model.Mailbox, error) {
	var mailbox model.Mailbox
	err := c.session(ctx, "", func(client *imapclient.Client) error {
		caps := client.Caps()
		mailbox = model.Mailbox{
			MailboxID: c.username,
			UserID:    userID,
			Email:     c.username,
			Permissions: model.MailboxPermissions{
				CanManageFilters: caps.Has(imap.CapFilters),
				CanManageAliases: false,
				CanRestoreEmails: caps.Has(imap.CapMove),
				CanReadQuota:     caps.Has(imap.CapQuota),
			},
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching mailboxes: %w", err)
	}
	return []model.Mailbox{mailbox}, nil
}

// DownloadAttachment fetches a full message and returns its index-th
// attachment.
func (c *Client) DownloadAttachment(
	ctx context.Context,
	folderID string,
	uid uint32,
	index int,
) (*source.Attachment, error) {
	var attachment *source.Attachment
	err := c.session(ctx, folderID, func(client *imapclient.Client) error {
		bodySection := &imap.FetchItemBodySection{
			Peek: true,
		}

		fetchCmd := client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
			UID:         true,
			BodySection: []*imap.FetchItemBodySection{bodySection},
		})
		defer fetchCmd.Close()

		msg := fetchCmd.Next()
		if msg == nil {
			return &source.ServerError{
				Code:    "NONEXISTENT",
				Message: fmt.Sprintf("message UID %d not found in %s", uid, folderID),
			}
		}

		buf, err := msg.Collect()
		if err != nil {
			return commandError(ctx, "fetch body", err)
		}

		raw := buf.FindBodySection(bodySection)
		if raw == nil {
			return &source.ServerError{Code: "NOBODY", Message: "server returned no body"}
		}

		attachment, err = extractAttachment(raw, index)
		if err != nil {
			return err
		}

		return fetchCmd.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("downloading attachment %d of %s/%d: %w", index, folderID, uid, err)
	}
	return attachment, nil
}

// selectPage picks the UIDs of one page from the folder's ascending UID
// list. It returns nil when the requested direction is exhausted.
func selectPage(uids []imap.UID, req source.PageRequest) []imap.UID {
	size := req.PageSize
	if size < 1 {
		size = 50
	}

	var candidates []imap.UID
	switch {
	case req.Cursor == 0:
		candidates = uids
	case req.Direction == source.Older:
		for _, uid := range uids {
			if uint32(uid) < req.Cursor {
				candidates = append(candidates, uid)
			}
		}
	default:
		for _, uid := range uids {
			if uint32(uid) > req.Cursor {
				candidates = append(candidates, uid)
			}
		}
	}

	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) <= size {
		return candidates
	}
	if req.Direction == source.Newer && req.Cursor != 0 {
		// Continue forward from the cursor; the next refresh picks up
		// the rest.
		return candidates[:size]
	}
	return candidates[len(candidates)-size:]
}

// folderFromList maps a LIST response to a folder. Non-selectable
// containers are skipped.
func folderFromList(data *imap.ListData) (model.Folder, bool) {
	role := ""
	for _, attr := range data.Attrs {
		switch attr {
		case imap.MailboxAttrNoSelect, imap.MailboxAttrNonExistent:
			return model.Folder{}, false
		case imap.MailboxAttrSent:
			role = model.RoleSent
		case imap.MailboxAttrDrafts:
			role = model.RoleDrafts
		case imap.MailboxAttrTrash:
			role = model.RoleTrash
		case imap.MailboxAttrJunk:
			role = model.RoleSpam
		case imap.MailboxAttrArchive:
			role = model.RoleArchive
		}
	}
	if strings.EqualFold(data.Mailbox, "INBOX") {
		role = model.RoleInbox
	}

	name := data.Mailbox
	if data.Delim != 0 {
		if i := strings.LastIndex(name, string(data.Delim)); i >= 0 {
			name = name[i+1:]
		}
	} else {
		name = path.Base(name)
	}

	return model.Folder{ID: data.Mailbox, Name: name, Role: role}, true
}

// threadFromBuffer converts a fetched message into a thread record.
func threadFromBuffer(folderID string, buf *imapclient.FetchMessageBuffer) model.Thread {
	t := model.Thread{
		ID:       fmt.Sprintf("%s:%d", folderID, buf.UID),
		FolderID: folderID,
		UID:      uint32(buf.UID),
	}

	if buf.Envelope != nil {
		t.MessageID = buf.Envelope.MessageID
		t.Subject = buf.Envelope.Subject
		t.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			t.From = from.Addr()
			t.FromName = from.Name
		}

		for _, to := range buf.Envelope.To {
			t.To = append(t.To, to.Addr())
		}
	}

	for _, flag := range buf.Flags {
		switch flag {
		case imap.FlagSeen:
			t.Seen = true
		case imap.FlagFlagged:
			t.Flagged = true
		}
	}

	return t
}

// commandError classifies a failed IMAP command. Responses from the
// server become ServerErrors; anything else is a network failure.
func commandError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		return &source.ServerError{Code: string(imapErr.Code), Message: imapErr.Text}
	}
	return &source.NetworkError{Op: op, Err: err}
}
