package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/internal/source"
)

// Page is one scripted FetchPage response.
type Page struct {
	Threads []model.Thread
	Err     error
}

// FakeMailClient is a scripted source.MailClient. FetchPage responses are
// consumed from Pages in order; once they run out FetchPage reports the
// folder as exhausted.
type FakeMailClient struct {
	Folders    []model.Folder
	FoldersErr error
	Mailboxes  []model.Mailbox
	MailboxErr error
	Pages      []Page

	// OnFetch, if set, is called with the 1-based call number before each
	// FetchPage returns.
	OnFetch func(call int, req source.PageRequest)

	// Started receives a value when FetchPage is entered, if non-nil.
	Started chan struct{}

	// Release, if non-nil, blocks FetchPage until it is closed or the
	// context is done.
	Release chan struct{}

	mu       sync.Mutex
	requests []source.PageRequest
}

var _ source.MailClient = (*FakeMailClient)(nil)

// ListFolders returns the scripted folder list.
func (f *FakeMailClient) ListFolders(_ context.Context) ([]model.Folder, error) {
	if f.FoldersErr != nil {
		return nil, f.FoldersErr
	}
	return f.Folders, nil
}

// FetchPage returns the next scripted page.
func (f *FakeMailClient) FetchPage(ctx context.Context, req source.PageRequest) ([]model.Thread, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	call := len(f.requests)
	var page *Page
	if len(f.Pages) > 0 {
		page = &f.Pages[0]
		f.Pages = f.Pages[1:]
	}
	f.mu.Unlock()

	if f.Started != nil {
		f.Started <- struct{}{}
	}
	if f.Release != nil {
		select {
		case <-f.Release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.OnFetch != nil {
		f.OnFetch(call, req)
	}

	if page == nil {
		return nil, nil
	}
	return page.Threads, page.Err
}

// FetchMailboxes returns the scripted mailboxes, stamped with userID.
func (f *FakeMailClient) FetchMailboxes(_ context.Context, userID string) ([]model.Mailbox, error) {
	if f.MailboxErr != nil {
		return nil, f.MailboxErr
	}
	out := make([]model.Mailbox, len(f.Mailboxes))
	for i, m := range f.Mailboxes {
		m.UserID = userID
		out[i] = m
	}
	return out, nil
}

// DownloadAttachment always fails; no test needs message bodies.
func (f *FakeMailClient) DownloadAttachment(
	_ context.Context,
	folderID string,
	uid uint32,
	index int,
) (*source.Attachment, error) {
	return nil, &source.LocalError{
		Message: fmt.Sprintf("no attachment %d on %s/%d", index, folderID, uid),
	}
}

// Requests returns a copy of every FetchPage request received so far.
func (f *FakeMailClient) Requests() []source.PageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]source.PageRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// Calls returns the number of FetchPage calls received so far.
func (f *FakeMailClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// MakeThreads builds threads for UIDs from..to inclusive. Even UIDs are
// marked seen and every sender is distinct.
func MakeThreads(folderID string, from, to uint32) []model.Thread {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	threads := make([]model.Thread, 0, to-from+1)
	for uid := from; uid <= to; uid++ {
		threads = append(threads, model.Thread{
			ID:       fmt.Sprintf("%s:%d", folderID, uid),
			FolderID: folderID,
			UID:      uid,
			Subject:  fmt.Sprintf("Message %d", uid),
			From:     fmt.Sprintf("sender%d@example.org", uid),
			FromName: fmt.Sprintf("Sender %d", uid),
			Date:     base.Add(time.Duration(uid) * time.Hour),
			Seen:     uid%2 == 0,
		})
	}
	return threads
}
