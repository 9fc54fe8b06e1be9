package email

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/internal/source"
)

func uidRange(from, to imap.UID) []imap.UID {
	var uids []imap.UID
	for u := from; u <= to; u++ {
		uids = append(uids, u)
	}
	return uids
}

func TestSelectPage(t *testing.T) {
	all := uidRange(1, 10)

	tests := []struct {
		name string
		req  source.PageRequest
		want []imap.UID
	}{
		{
			name: "empty cache takes latest page",
			req:  source.PageRequest{Direction: source.Older, PageSize: 3},
			want: []imap.UID{8, 9, 10},
		},
		{
			name: "older takes the page just before cursor",
			req:  source.PageRequest{Direction: source.Older, Cursor: 6, PageSize: 3},
			want: []imap.UID{3, 4, 5},
		},
		{
			name: "older returns a short final page",
			req:  source.PageRequest{Direction: source.Older, Cursor: 3, PageSize: 5},
			want: []imap.UID{1, 2},
		},
		{
			name: "older exhausted",
			req:  source.PageRequest{Direction: source.Older, Cursor: 1, PageSize: 5},
			want: nil,
		},
		{
			name: "newer continues forward from cursor",
			req:  source.PageRequest{Direction: source.Newer, Cursor: 4, PageSize: 2},
			want: []imap.UID{5, 6},
		},
		{
			name: "newer with nothing new",
			req:  source.PageRequest{Direction: source.Newer, Cursor: 10, PageSize: 2},
			want: nil,
		},
		{
			name: "zero page size falls back to default",
			req:  source.PageRequest{Direction: source.Older, Cursor: 11},
			want: all,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, selectPage(all, tt.req))
		})
	}
}

func TestSelectPageEmptyFolder(t *testing.T) {
	assert.Nil(t, selectPage(nil, source.PageRequest{PageSize: 10}))
}

func TestFolderFromList(t *testing.T) {
	tests := []struct {
		name     string
		data     imap.ListData
		want     model.Folder
		wantSkip bool
	}{
		{
			name: "inbox by name",
			data: imap.ListData{Mailbox: "INBOX", Delim: '/'},
			want: model.Folder{ID: "INBOX", Name: "INBOX", Role: model.RoleInbox},
		},
		{
			name: "special use sent in hierarchy",
			data: imap.ListData{
				Mailbox: "[Gmail]/Sent Mail",
				Delim:   '/',
				Attrs:   []imap.MailboxAttr{imap.MailboxAttrHasNoChildren, imap.MailboxAttrSent},
			},
			want: model.Folder{ID: "[Gmail]/Sent Mail", Name: "Sent Mail", Role: model.RoleSent},
		},
		{
			name: "dot delimiter",
			data: imap.ListData{
				Mailbox: "INBOX.Junk",
				Delim:   '.',
				Attrs:   []imap.MailboxAttr{imap.MailboxAttrJunk},
			},
			want: model.Folder{ID: "INBOX.Junk", Name: "Junk", Role: model.RoleSpam},
		},
		{
			name: "plain folder",
			data: imap.ListData{Mailbox: "Receipts", Delim: '/'},
			want: model.Folder{ID: "Receipts", Name: "Receipts"},
		},
		{
			name:     "non-selectable container",
			data:     imap.ListData{Mailbox: "[Gmail]", Attrs: []imap.MailboxAttr{imap.MailboxAttrNoSelect}},
			wantSkip: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := folderFromList(&tt.data)
			if tt.wantSkip {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestThreadFromBuffer(t *testing.T) {
	date := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	buf := &imapclient.FetchMessageBuffer{
		UID:   42,
		Flags: []imap.Flag{imap.FlagSeen, imap.FlagFlagged},
		Envelope: &imap.Envelope{
			Date:      date,
			Subject:   "Quarterly report",
			MessageID: "abc@example.org",
			From:      []imap.Address{{Name: "Ada", Mailbox: "ada", Host: "example.org"}},
			To: []imap.Address{
				{Mailbox: "bob", Host: "example.org"},
				{Mailbox: "eve", Host: "example.org"},
			},
		},
	}

	th := threadFromBuffer("INBOX", buf)

	assert.Equal(t, "INBOX:42", th.ID)
	assert.Equal(t, "INBOX", th.FolderID)
	assert.Equal(t, uint32(42), th.UID)
	assert.Equal(t, "Quarterly report", th.Subject)
	assert.Equal(t, "abc@example.org", th.MessageID)
	assert.Equal(t, "ada@example.org", th.From)
	assert.Equal(t, "Ada", th.FromName)
	assert.Equal(t, []string{"bob@example.org", "eve@example.org"}, th.To)
	assert.True(t, th.Date.Equal(date))
	assert.True(t, th.Seen)
	assert.True(t, th.Flagged)
}

func TestThreadFromBufferWithoutEnvelope(t *testing.T) {
	th := threadFromBuffer("Archive", &imapclient.FetchMessageBuffer{UID: 7})

	assert.Equal(t, "Archive:7", th.ID)
	assert.Empty(t, th.Subject)
	assert.False(t, th.Seen)
}

const multipartMessage = "From: ada@example.org\r\n" +
	"To: bob@example.org\r\n" +
	"Subject: Files\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"XYZ\"\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"See attached.\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/csv\r\n" +
	"Content-Disposition: attachment; filename=\"numbers.csv\"\r\n" +
	"\r\n" +
	"a,b\r\n1,2\r\n" +
	"--XYZ\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQ=\r\n" +
	"--XYZ--\r\n"

func TestExtractAttachment(t *testing.T) {
	first, err := extractAttachment([]byte(multipartMessage), 0)
	require.NoError(t, err)
	assert.Equal(t, "numbers.csv", first.Filename)
	assert.Equal(t, "text/csv", first.MIMEType)
	assert.Equal(t, "a,b\r\n1,2", strings.TrimRight(string(first.Data), "\r\n"))

	second, err := extractAttachment([]byte(multipartMessage), 1)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", second.Filename)
	assert.Equal(t, "application/pdf", second.MIMEType)
	assert.Equal(t, "%PDF-1.4", string(second.Data))
}

func TestExtractAttachmentOutOfRange(t *testing.T) {
	_, err := extractAttachment([]byte(multipartMessage), 2)
	require.Error(t, err)
	assert.True(t, source.IsLocalError(err))
}

func TestCommandError(t *testing.T) {
	ctx := context.Background()

	srvErr := commandError(ctx, "select", &imap.Error{
		Type: imap.StatusResponseTypeNo,
		Code: imap.ResponseCodeNonExistent,
		Text: "no such mailbox",
	})
	var se *source.ServerError
	require.ErrorAs(t, srvErr, &se)
	assert.Equal(t, "NONEXISTENT", se.Code)
	assert.Equal(t, "no such mailbox", se.Message)

	netErr := commandError(ctx, "fetch", errors.New("connection reset"))
	assert.True(t, source.IsNetworkError(netErr))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, commandError(cancelled, "fetch", errors.New("use of closed connection")), context.Canceled)
}

func TestConnectHonoursCancelledContext(t *testing.T) {
	c := NewClient(model.IMAPConfig{Host: "127.0.0.1", Port: "1", TLS: true}, model.Token{Username: "u"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Connect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type countingCloser struct {
	closed chan struct{}
}

func (c *countingCloser) Close() error {
	c.closed <- struct{}{}
	return nil
}

func TestCloseWhenDone(t *testing.T) {
	t.Run("closes on cancel", func(t *testing.T) {
		conn := &countingCloser{closed: make(chan struct{}, 1)}
		ctx, cancel := context.WithCancel(context.Background())
		closeWhenDone(ctx, conn)

		cancel()
		select {
		case <-conn.closed:
		case <-time.After(time.Second):
			t.Fatal("connection not closed after cancel")
		}
	})

	t.Run("stop detaches from context", func(t *testing.T) {
		conn := &countingCloser{closed: make(chan struct{}, 1)}
		ctx, cancel := context.WithCancel(context.Background())
		stop := closeWhenDone(ctx, conn)

		assert.True(t, stop())
		cancel()
		select {
		case <-conn.closed:
			t.Fatal("connection closed after stop")
		case <-time.After(50 * time.Millisecond):
		}
	})
}
