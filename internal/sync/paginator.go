package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/internal/source"
	"github.com/nhle/mailcache/internal/store"
)

const (
	defaultPageSize      = 50
	defaultMaxFetchCalls = 5
)

var (
	// ErrNothingToLoad is returned when a folder has no older history to
	// request, either because it is complete or was never synced.
	ErrNothingToLoad = errors.New("no older history to load")

	// ErrLoadInProgress is returned when a load is already running for
	// the folder.
	ErrLoadInProgress = errors.New("load already in progress")
)

// ErrorReporter receives failures of background loads so they can be
// shown to the user.
type ErrorReporter interface {
	ReportError(folderID string, err error)
}

// ReporterFunc adapts a function to ErrorReporter.
type ReporterFunc func(folderID string, err error)

// ReportError calls f(folderID, err).
func (f ReporterFunc) ReportError(folderID string, err error) {
	f(folderID, err)
}

// LoadResult summarizes one LoadOlder invocation.
type LoadResult struct {
	// Calls is the number of page fetches attempted.
	Calls int

	// Created is the number of threads that were not cached before.
	Created int

	// HistoryComplete is set when the server reported no older messages.
	HistoryComplete bool
}

// LoadOlderDoneMsg is a tea.Msg sent when a LoadOlderCmd finishes.
type LoadOlderDoneMsg struct {
	FolderID string
	Result   LoadResult
	Err      error
}

// PaginatorOption configures a Paginator.
type PaginatorOption func(*Paginator)

// WithPaginatorLogger sets the logger.
func WithPaginatorLogger(logger *slog.Logger) PaginatorOption {
	return func(p *Paginator) { p.logger = logger }
}

// WithErrorReporter sets the sink fetch and persistence failures are
// reported to.
func WithErrorReporter(r ErrorReporter) PaginatorOption {
	return func(p *Paginator) { p.reporter = r }
}

// WithContactStore records the senders of loaded threads.
func WithContactStore(c store.ContactStore) PaginatorOption {
	return func(p *Paginator) { p.contacts = c }
}

// Paginator extends the cached history of a mailbox's folders backwards,
// one "load more" gesture at a time.
type Paginator struct {
	client   source.MailClient
	content  store.ContentStore
	contacts store.ContactStore
	reporter ErrorReporter
	logger   *slog.Logger

	pageSize int
	maxCalls int

	mu      gosync.Mutex
	loading map[string]bool
}

// NewPaginator creates a paginator over the given mailbox content store.
// Zero values in cfg fall back to a page size of 50 and 5 fetches per load.
func NewPaginator(
	client source.MailClient,
	content store.ContentStore,
	cfg model.SyncConfig,
	opts ...PaginatorOption,
) *Paginator {
	p := &Paginator{
		client:   client,
		content:  content,
		logger:   slog.Default(),
		pageSize: cfg.PageSize,
		maxCalls: cfg.MaxFetchCalls,
		loading:  make(map[string]bool),
	}
	if p.pageSize <= 0 {
		p.pageSize = defaultPageSize
	}
	if p.maxCalls <= 0 {
		p.maxCalls = defaultMaxFetchCalls
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.reporter == nil {
		p.reporter = ReporterFunc(func(folderID string, err error) {
			p.logger.Error("load older failed", "folder", folderID, "error", err)
		})
	}
	return p
}

// IsLoading reports whether a load is running for folderID.
func (p *Paginator) IsLoading(folderID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading[folderID]
}

// LoadOlder fetches older pages of folderID until half a page of new
// threads has been cached, the fetch budget is spent, or the server has
// nothing older. Fetches run one after another and ctx is checked before
// each of them.
//
// Fetch and persistence errors are passed to the error reporter and also
// returned; the partial result is always returned.
func (p *Paginator) LoadOlder(ctx context.Context, folderID string) (LoadResult, error) {
	var res LoadResult

	folder, err := p.content.GetFolder(ctx, folderID)
	if err != nil {
		return res, fmt.Errorf("loading folder %s: %w", folderID, err)
	}
	if !folder.CanLoadOlder() {
		return res, ErrNothingToLoad
	}

	if !p.begin(folderID) {
		return res, ErrLoadInProgress
	}
	defer p.end(folderID)

	// A load that finished while we waited may have completed the history.
	folder, err = p.content.GetFolder(ctx, folderID)
	if err != nil {
		return res, fmt.Errorf("loading folder %s: %w", folderID, err)
	}
	if !folder.CanLoadOlder() {
		return res, ErrNothingToLoad
	}

	loadID := uuid.New().String()
	logger := p.logger.With("folder", folderID, "load", loadID)
	target := p.pageSize / 2

	for {
		if err := ctx.Err(); err != nil {
			logger.Debug("load cancelled", "calls", res.Calls, "created", res.Created)
			return res, err
		}

		cursor, err := p.content.OldestUID(ctx, folderID)
		if err != nil {
			return res, p.fail(ctx, folderID, fmt.Errorf("reading oldest cached message: %w", err))
		}

		res.Calls++
		page, err := p.client.FetchPage(ctx, source.PageRequest{
			FolderID:  folderID,
			Direction: source.Older,
			Cursor:    cursor,
			PageSize:  p.pageSize,
		})
		if err != nil {
			return res, p.fail(ctx, folderID, err)
		}

		if page == nil {
			if err := p.content.MarkHistoryComplete(ctx, folderID); err != nil {
				return res, p.fail(ctx, folderID, fmt.Errorf("marking history complete: %w", err))
			}
			res.HistoryComplete = true
			break
		}

		created, err := p.content.UpsertThreads(ctx, page)
		if err != nil {
			return res, p.fail(ctx, folderID, fmt.Errorf("saving threads: %w", err))
		}
		res.Created += created
		recordSenders(ctx, p.contacts, logger, page)

		if res.Created >= target || res.Calls >= p.maxCalls {
			break
		}
	}

	logger.Info("loaded older threads",
		"calls", res.Calls,
		"created", res.Created,
		"history_complete", res.HistoryComplete,
	)
	return res, nil
}

// LoadOlderCmd runs LoadOlder in the background and delivers a
// LoadOlderDoneMsg.
func (p *Paginator) LoadOlderCmd(ctx context.Context, folderID string) tea.Cmd {
	return func() tea.Msg {
		res, err := p.LoadOlder(ctx, folderID)
		return LoadOlderDoneMsg{FolderID: folderID, Result: res, Err: err}
	}
}

func (p *Paginator) begin(folderID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loading[folderID] {
		return false
	}
	p.loading[folderID] = true
	return true
}

func (p *Paginator) end(folderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.loading, folderID)
}

// fail reports err unless the load was cancelled.
func (p *Paginator) fail(ctx context.Context, folderID string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	p.reporter.ReportError(folderID, err)
	return err
}

// recordSenders learns contacts from the From headers of threads. Failures
// only cost autocomplete suggestions and are logged.
func recordSenders(ctx context.Context, contacts store.ContactStore, logger *slog.Logger, threads []model.Thread) {
	if contacts == nil || len(threads) == 0 {
		return
	}
	senders := make([]model.Contact, 0, len(threads))
	for _, t := range threads {
		if t.From != "" {
			senders = append(senders, t.Sender())
		}
	}
	if err := contacts.RecordContacts(ctx, senders); err != nil {
		logger.Warn("recording contacts", "error", err)
	}
}
