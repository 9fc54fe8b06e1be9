package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/internal/source"
	"github.com/nhle/mailcache/internal/store"
	appsync "github.com/nhle/mailcache/internal/sync"
)

// ErrNoMailbox is returned when an account has no mailbox, neither on the
// server nor in the cache.
var ErrNoMailbox = errors.New("no mailbox available for account")

// Deps are the long-lived services sessions are built from.
type Deps struct {
	Config    *model.AppConfig
	Mailboxes store.MailboxInfoStore
	Contacts  store.ContactStore
	NewClient func(token model.Token) source.MailClient
	Reporter  appsync.ErrorReporter
	Logger    *slog.Logger
}

// Session is everything tied to the signed-in account's mailbox.
type Session struct {
	Account   model.Account
	Mailbox   model.Mailbox
	Content   *store.SQLiteContentStore
	Paginator *appsync.Paginator
	Poller    *appsync.Poller

	contentPath string
	mailboxes   store.MailboxInfoStore

	// ctx is cancelled when the session closes, stopping running loads.
	ctx    context.Context
	cancel context.CancelFunc
}

// OpenSession resolves the account's mailbox and opens its content store.
// Fresh mailbox metadata is fetched from the server when reachable;
// otherwise the cached metadata is used.
func OpenSession(ctx context.Context, deps Deps, acct model.Account) (*Session, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("user_id", acct.UserID)

	client := deps.NewClient(acct.Token)

	remote, err := client.FetchMailboxes(ctx, acct.UserID)
	switch {
	case err == nil:
		if err := deps.Mailboxes.UpsertMailboxes(ctx, acct.UserID, remote); err != nil {
			return nil, fmt.Errorf("caching mailboxes: %w", err)
		}
	case source.IsAuthError(err):
		return nil, err
	default:
		logger.Warn("using cached mailboxes", "error", err)
	}

	mailboxes, err := deps.Mailboxes.GetMailboxes(ctx, acct.UserID)
	if err != nil {
		return nil, fmt.Errorf("reading cached mailboxes: %w", err)
	}
	if len(mailboxes) == 0 {
		return nil, ErrNoMailbox
	}
	mailbox := mailboxes[0]

	path := deps.Config.MailboxContentPath(acct.UserID, mailbox.MailboxID)
	content, err := store.NewSQLiteContentStore(path, logger)
	if err != nil {
		return nil, err
	}

	paginatorOpts := []appsync.PaginatorOption{
		appsync.WithPaginatorLogger(logger),
		appsync.WithContactStore(deps.Contacts),
	}
	if deps.Reporter != nil {
		paginatorOpts = append(paginatorOpts, appsync.WithErrorReporter(deps.Reporter))
	}

	logger.Info("session opened", "mailbox", mailbox.MailboxID, "store", path)

	sctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ctx:         sctx,
		cancel:      cancel,
		Account:     acct,
		Mailbox:     mailbox,
		Content:     content,
		Paginator:   appsync.NewPaginator(client, content, deps.Config.Sync, paginatorOpts...),
		Poller:      appsync.NewPoller(client, content, deps.Contacts, deps.Config.Sync, logger),
		contentPath: path,
		mailboxes:   deps.Mailboxes,
	}, nil
}

// UpdateUnseen stores the mailbox-wide unread count, summed over folders.
func (s *Session) UpdateUnseen(ctx context.Context) (int, error) {
	folders, err := s.Content.GetFolders(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, f := range folders {
		if f.Role == model.RoleSpam || f.Role == model.RoleTrash {
			continue
		}
		total += f.UnreadCount
	}
	err = s.mailboxes.SetUnseenCount(ctx, s.Mailbox.MailboxID, s.Account.UserID, total)
	if err != nil {
		return 0, err
	}
	s.Mailbox.UnseenCount = total
	return total, nil
}

// LoadOlder returns a tea.Cmd running one "load more" gesture for
// folderID. It is cancelled if the session closes first.
func (s *Session) LoadOlder(folderID string) tea.Cmd {
	return s.Paginator.LoadOlderCmd(s.ctx, folderID)
}

// Close stops polling and running loads and closes the content store.
func (s *Session) Close() error {
	s.cancel()
	s.Poller.Stop()
	return s.Content.Close()
}

// Discard closes the session and deletes its cached folders and threads.
func (s *Session) Discard() error {
	if err := s.Close(); err != nil {
		return err
	}
	return store.RemoveDatabase(s.contentPath)
}
