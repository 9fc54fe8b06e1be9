// Package account owns the lifecycle of the single signed-in account and
// its credential.
package account

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nhle/mailcache/internal/model"
)

// TokenStore is the persistence the manager needs for credentials.
type TokenStore interface {
	Store(token model.Token) error
	Delete(userID string) error
	LoadAll() ([]model.Token, error)
}

// MailboxPurger drops cached mailbox metadata for a user on logout.
type MailboxPurger interface {
	DeleteUserMailboxes(ctx context.Context, userID string) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMailboxPurger clears the user's cached mailboxes on logout.
func WithMailboxPurger(p MailboxPurger) Option {
	return func(m *Manager) { m.purger = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager holds at most one current account. It is created once per
// process (or per test) and passed to whoever needs it.
type Manager struct {
	tokens TokenStore
	purger MailboxPurger
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	current *model.Account
}

// NewManager creates a manager with no current account. Call
// ReloadTokensAndAccounts to restore the previous session.
func NewManager(tokens TokenStore, opts ...Option) *Manager {
	m := &Manager{
		tokens: tokens,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateAndSetCurrentAccount persists token and makes it the current
// account. The token contents are not validated. If persisting fails the
// current account is left unchanged and the error is returned.
func (m *Manager) CreateAndSetCurrentAccount(
	_ context.Context,
	token model.Token,
) (*model.Account, error) {
	if err := m.tokens.Store(token); err != nil {
		return nil, fmt.Errorf("persisting token for user %s: %w", token.UserID, err)
	}

	acc := model.NewAccount(token, m.now())

	m.mu.Lock()
	m.current = acc
	m.mu.Unlock()

	m.logger.Info("account activated", "user_id", token.UserID, "expires_at", token.ExpiresAt)
	return acc, nil
}

// ReloadTokensAndAccounts restores the current account from the stored
// tokens. The token with the latest expiration wins; ties go to the lowest
// user id. With no stored tokens there is no current account.
func (m *Manager) ReloadTokensAndAccounts(_ context.Context) (*model.Account, error) {
	tokens, err := m.tokens.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("loading stored tokens: %w", err)
	}

	best := SelectToken(tokens)

	m.mu.Lock()
	defer m.mu.Unlock()

	if best == nil {
		m.current = nil
		m.logger.Info("no stored account")
		return nil, nil
	}

	m.current = model.NewAccount(*best, m.now())
	m.logger.Info("account restored",
		"user_id", best.UserID,
		"stored_tokens", len(tokens),
		"expired", best.IsExpired(m.now()),
	)
	return m.current, nil
}

// DeleteTokenAndAccount removes the current account's token and clears
// the current account. It does nothing when no account is active, so
// calling it twice is the same as calling it once.
//
// The account stays current if its token cannot be removed. Failing to
// purge the cached mailboxes afterwards is logged, not returned.
func (m *Manager) DeleteTokenAndAccount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil
	}

	userID := m.current.UserID
	if err := m.tokens.Delete(userID); err != nil {
		return fmt.Errorf("deleting token for user %s: %w", userID, err)
	}
	m.current = nil

	// Signed out once the token is gone; a failed purge only leaves stale
	// cache rows behind.
	if m.purger != nil {
		if err := m.purger.DeleteUserMailboxes(ctx, userID); err != nil {
			m.logger.Warn("purging cached mailboxes", "user_id", userID, "error", err)
		}
	}

	m.logger.Info("account removed", "user_id", userID)
	return nil
}

// CurrentAccount returns a copy of the current account, or nil.
func (m *Manager) CurrentAccount() *model.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return nil
	}
	acc := *m.current
	return &acc
}

// IsLoggedIn reports whether an account is current.
func (m *Manager) IsLoggedIn() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil
}

// SelectToken picks the token to activate on start: the latest expiration,
// ties broken by the lowest user id. It returns nil for an empty slice.
func SelectToken(tokens []model.Token) *model.Token {
	var best *model.Token
	for i := range tokens {
		t := &tokens[i]
		switch {
		case best == nil:
			best = t
		case t.FresherThan(*best):
			best = t
		case t.ExpiresAt.Equal(best.ExpiresAt) && t.UserID < best.UserID:
			best = t
		}
	}
	if best == nil {
		return nil
	}
	picked := *best
	return &picked
}
