package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/internal/source"
	"github.com/nhle/mailcache/internal/store"
)

// SyncState represents the current state of a folder refresh.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

// SyncStatus holds the refresh state of a single folder.
type SyncStatus struct {
	FolderID string
	State    SyncState
	LastSync time.Time
	Error    error
}

// RefreshResultMsg is a tea.Msg sent when a refresh operation completes.
// An empty FolderID refers to the folder list itself.
type RefreshResultMsg struct {
	FolderID string
	Created  int
	Error    error

	// AuthExpired is set when the server rejected the credentials.
	AuthExpired bool
}

// fetchTimeout is the maximum time allowed for a single refresh.
const fetchTimeout = 30 * time.Second

// refreshAll is the trigger value requesting every folder.
const refreshAll = ""

// Poller keeps the newest end of every folder up to date, on a ticker and
// on demand.
type Poller struct {
	client   source.MailClient
	content  store.ContentStore
	contacts store.ContactStore
	logger   *slog.Logger
	now      func() time.Time

	pageSize int
	interval time.Duration

	statuses  map[string]*SyncStatus
	resultCh  chan RefreshResultMsg
	triggerCh chan string
	stopCh    chan struct{}
	mu        gosync.Mutex
	running   bool
}

// NewPoller creates a poller for one mailbox. contacts may be nil.
func NewPoller(
	client source.MailClient,
	content store.ContentStore,
	contacts store.ContactStore,
	cfg model.SyncConfig,
	logger *slog.Logger,
) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	interval := time.Duration(cfg.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = 120 * time.Second
	}
	return &Poller{
		client:    client,
		content:   content,
		contacts:  contacts,
		logger:    logger,
		now:       time.Now,
		pageSize:  pageSize,
		interval:  interval,
		statuses:  make(map[string]*SyncStatus),
		resultCh:  make(chan RefreshResultMsg, 16),
		triggerCh: make(chan string, 16),
		stopCh:    make(chan struct{}),
	}
}

// RefreshFolders merges the server's folder list into the cache. Sync
// state of folders that already exist is kept.
func (p *Poller) RefreshFolders(ctx context.Context) ([]model.Folder, error) {
	remote, err := p.client.ListFolders(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing remote folders: %w", err)
	}
	if err := p.content.UpsertFolders(ctx, remote); err != nil {
		return nil, fmt.Errorf("saving folders: %w", err)
	}
	return p.content.GetFolders(ctx)
}

// RefreshFolder fetches the page of messages following the newest cached
// one. A folder that was never synced gets its latest page. On success the
// folder's unread count and LastUpdate are refreshed. It returns the
// number of threads that were not cached before.
func (p *Poller) RefreshFolder(ctx context.Context, folderID string) (int, error) {
	if _, err := p.content.GetFolder(ctx, folderID); err != nil {
		return 0, fmt.Errorf("loading folder %s: %w", folderID, err)
	}

	cursor, err := p.content.NewestUID(ctx, folderID)
	if err != nil {
		return 0, fmt.Errorf("reading newest cached message: %w", err)
	}

	page, err := p.client.FetchPage(ctx, source.PageRequest{
		FolderID:  folderID,
		Direction: source.Newer,
		Cursor:    cursor,
		PageSize:  p.pageSize,
	})
	if err != nil {
		return 0, err
	}

	created := 0
	switch {
	case page != nil:
		created, err = p.content.UpsertThreads(ctx, page)
		if err != nil {
			return 0, fmt.Errorf("saving threads: %w", err)
		}
		recordSenders(ctx, p.contacts, p.logger, page)
	case cursor == 0:
		// The folder is empty on the server, so there is no older history.
		if err := p.content.MarkHistoryComplete(ctx, folderID); err != nil {
			return 0, fmt.Errorf("marking history complete: %w", err)
		}
	}

	unseen, err := p.content.CountUnseen(ctx, folderID)
	if err != nil {
		return created, fmt.Errorf("counting unseen threads: %w", err)
	}
	if err := p.content.SetUnreadCount(ctx, folderID, unseen); err != nil {
		return created, fmt.Errorf("saving unread count: %w", err)
	}
	if err := p.content.SetLastUpdate(ctx, folderID, p.now()); err != nil {
		return created, fmt.Errorf("saving last update: %w", err)
	}

	return created, nil
}

// Start returns a tea.Cmd that starts the polling goroutine and
// subscribes to results.
func (p *Poller) Start() tea.Cmd {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	go p.loop()

	return p.waitForResult()
}

// Stop halts the polling goroutine.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	close(p.stopCh)
	p.running = false
}

// RefreshAll triggers an immediate refresh of the folder list and every
// folder.
func (p *Poller) RefreshAll() tea.Cmd {
	return p.trigger(refreshAll)
}

// Refresh triggers an immediate refresh of a single folder.
func (p *Poller) Refresh(folderID string) tea.Cmd {
	return p.trigger(folderID)
}

func (p *Poller) trigger(folderID string) tea.Cmd {
	select {
	case p.triggerCh <- folderID:
	default:
		// Channel full; skip to avoid blocking
	}
	return nil
}

// GetStatuses returns the refresh status of every folder seen so far.
func (p *Poller) GetStatuses() []SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]SyncStatus, 0, len(p.statuses))
	for _, s := range p.statuses {
		statuses = append(statuses, *s)
	}
	return statuses
}

// Status returns the refresh status of one folder.
func (p *Poller) Status(folderID string) (SyncStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.statuses[folderID]
	if !ok {
		return SyncStatus{}, false
	}
	return *s, true
}

// WaitForNextResult returns a tea.Cmd that waits for the next refresh
// result. Call it after handling a RefreshResultMsg to keep listening.
func (p *Poller) WaitForNextResult() tea.Cmd {
	return p.waitForResult()
}

func (p *Poller) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.syncAll()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.syncAll()
		case folderID := <-p.triggerCh:
			if folderID == refreshAll {
				p.syncAll()
			} else {
				p.syncFolder(folderID)
			}
		}
	}
}

// syncAll refreshes the folder list, then each folder in turn.
func (p *Poller) syncAll() {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	folders, err := p.RefreshFolders(ctx)
	cancel()
	if err != nil {
		p.logger.Warn("folder list refresh failed", "error", err)
		p.sendResult(RefreshResultMsg{Error: err, AuthExpired: source.IsAuthError(err)})
		if source.IsAuthError(err) {
			return
		}
		// Fall back to the cached list.
		folders, err = p.content.GetFolders(context.Background())
		if err != nil {
			return
		}
	}

	for _, f := range folders {
		select {
		case <-p.stopCh:
			return
		default:
		}
		if !p.syncFolder(f.ID) {
			return
		}
	}
}

// syncFolder refreshes one folder and publishes the result. It returns
// false when the credentials were rejected and polling should pause.
func (p *Poller) syncFolder(folderID string) bool {
	p.setStatus(folderID, SyncRunning, nil)

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	created, err := p.RefreshFolder(ctx, folderID)
	if err != nil {
		p.setStatus(folderID, SyncError, err)
		p.logger.Warn("folder refresh failed", "folder", folderID, "error", err)

		authExpired := source.IsAuthError(err)
		p.sendResult(RefreshResultMsg{FolderID: folderID, Error: err, AuthExpired: authExpired})
		return !authExpired
	}

	p.setStatus(folderID, SyncIdle, nil)
	p.sendResult(RefreshResultMsg{FolderID: folderID, Created: created})
	return true
}

// setStatus updates the refresh status for a folder.
func (p *Poller) setStatus(folderID string, state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.statuses[folderID]
	if !ok {
		status = &SyncStatus{FolderID: folderID}
		p.statuses[folderID] = status
	}

	status.State = state
	status.Error = err
	if state == SyncIdle && err == nil {
		status.LastSync = p.now()
	}
}

// sendResult sends a RefreshResultMsg on the result channel without
// blocking.
func (p *Poller) sendResult(msg RefreshResultMsg) {
	select {
	case p.resultCh <- msg:
	default:
		// Drop if channel is full to avoid blocking the poller
	}
}

// waitForResult returns a tea.Cmd that waits for the next result from
// the result channel. It returns nil once the poller is stopped.
func (p *Poller) waitForResult() tea.Cmd {
	return func() tea.Msg {
		select {
		case result := <-p.resultCh:
			return result
		case <-p.stopCh:
			return nil
		}
	}
}
