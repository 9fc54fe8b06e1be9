package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailcache/internal/model"
)

// SQLiteMailboxInfoStore implements MailboxInfoStore on a SQLite file
// shared by every account.
type SQLiteMailboxInfoStore struct {
	db *sqlx.DB
}

// NewSQLiteMailboxInfoStore opens the mailbox info database at dbPath.
func NewSQLiteMailboxInfoStore(dbPath string, logger *slog.Logger) (*SQLiteMailboxInfoStore, error) {
	db, err := openDB(dbPath, mailboxInfoMigrations, logger)
	if err != nil {
		return nil, fmt.Errorf("opening mailbox info store: %w", err)
	}
	return &SQLiteMailboxInfoStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteMailboxInfoStore) Close() error {
	return s.db.Close()
}

const mailboxColumns = `mailbox_id, user_id, email, aliases, quota_used, quota_max,
	permissions, unseen_count, spam_filter_enabled, sender_restrictions`

type mailboxRow struct {
	MailboxID          string `db:"mailbox_id"`
	UserID             string `db:"user_id"`
	Email              string `db:"email"`
	Aliases            string `db:"aliases"`
	QuotaUsed          int64  `db:"quota_used"`
	QuotaMax           int64  `db:"quota_max"`
	Permissions        string `db:"permissions"`
	UnseenCount        int    `db:"unseen_count"`
	SpamFilterEnabled  int    `db:"spam_filter_enabled"`
	SenderRestrictions string `db:"sender_restrictions"`
}

func (r mailboxRow) toModel() (model.Mailbox, error) {
	m := model.Mailbox{
		MailboxID:         r.MailboxID,
		UserID:            r.UserID,
		Email:             r.Email,
		QuotaUsed:         r.QuotaUsed,
		QuotaMax:          r.QuotaMax,
		UnseenCount:       r.UnseenCount,
		SpamFilterEnabled: r.SpamFilterEnabled != 0,
	}
	if err := json.Unmarshal([]byte(r.Aliases), &m.Aliases); err != nil {
		return model.Mailbox{}, fmt.Errorf("unmarshaling aliases of %s: %w", r.MailboxID, err)
	}
	if err := json.Unmarshal([]byte(r.Permissions), &m.Permissions); err != nil {
		return model.Mailbox{}, fmt.Errorf("unmarshaling permissions of %s: %w", r.MailboxID, err)
	}
	if err := json.Unmarshal([]byte(r.SenderRestrictions), &m.SenderRestrictions); err != nil {
		return model.Mailbox{}, fmt.Errorf("unmarshaling sender restrictions of %s: %w", r.MailboxID, err)
	}
	return m, nil
}

// UpsertMailboxes merges the fresh mailboxes of userID in one transaction.
// Remote attributes are overwritten; unseen count, spam filter and sender
// restrictions of existing rows are kept. Mailboxes of userID missing from
// the fresh list are deleted.
func (s *SQLiteMailboxInfoStore) UpsertMailboxes(
	ctx context.Context,
	userID string,
	mailboxes []model.Mailbox,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO mailboxes (
			mailbox_id, user_id, email, aliases, quota_used, quota_max,
			permissions, unseen_count, spam_filter_enabled, sender_restrictions,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mailbox_id, user_id) DO UPDATE SET
			email       = excluded.email,
			aliases     = excluded.aliases,
			quota_used  = excluded.quota_used,
			quota_max   = excluded.quota_max,
			permissions = excluded.permissions,
			updated_at  = excluded.updated_at`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing mailbox upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	keep := make([]string, 0, len(mailboxes))
	for _, m := range mailboxes {
		if m.UserID == "" {
			m.UserID = userID
		}
		if m.UserID != userID {
			return fmt.Errorf("mailbox %s belongs to user %s, not %s", m.MailboxID, m.UserID, userID)
		}

		aliases, err := json.Marshal(nonNil(m.Aliases))
		if err != nil {
			return fmt.Errorf("marshaling aliases of %s: %w", m.MailboxID, err)
		}
		perms, err := json.Marshal(m.Permissions)
		if err != nil {
			return fmt.Errorf("marshaling permissions of %s: %w", m.MailboxID, err)
		}
		restrictions, err := json.Marshal(m.SenderRestrictions)
		if err != nil {
			return fmt.Errorf("marshaling sender restrictions of %s: %w", m.MailboxID, err)
		}

		_, err = stmt.ExecContext(ctx,
			m.MailboxID, userID, m.Email, string(aliases), m.QuotaUsed, m.QuotaMax,
			string(perms), m.UnseenCount, boolToInt(m.SpamFilterEnabled), string(restrictions),
			now,
		)
		if err != nil {
			return fmt.Errorf("upserting mailbox %s: %w", m.MailboxID, err)
		}
		keep = append(keep, m.MailboxID)
	}

	if len(keep) == 0 {
		_, err = tx.ExecContext(ctx, "DELETE FROM mailboxes WHERE user_id = ?", userID)
	} else {
		var (
			query string
			args  []interface{}
		)
		query, args, err = sqlx.In(
			"DELETE FROM mailboxes WHERE user_id = ? AND mailbox_id NOT IN (?)",
			userID, keep,
		)
		if err != nil {
			return fmt.Errorf("building stale mailbox query: %w", err)
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(query), args...)
	}
	if err != nil {
		return fmt.Errorf("deleting stale mailboxes of user %s: %w", userID, err)
	}

	return tx.Commit()
}

// GetMailboxes returns the cached mailboxes of userID ordered by email.
func (s *SQLiteMailboxInfoStore) GetMailboxes(
	ctx context.Context,
	userID string,
) ([]model.Mailbox, error) {
	var rows []mailboxRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+mailboxColumns+" FROM mailboxes WHERE user_id = ? ORDER BY email",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying mailboxes of user %s: %w", userID, err)
	}

	mailboxes := make([]model.Mailbox, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		mailboxes = append(mailboxes, m)
	}
	return mailboxes, nil
}

// GetMailbox returns one mailbox, or ErrNotFound.
func (s *SQLiteMailboxInfoStore) GetMailbox(
	ctx context.Context,
	mailboxID, userID string,
) (*model.Mailbox, error) {
	var r mailboxRow
	err := s.db.GetContext(ctx, &r,
		"SELECT "+mailboxColumns+" FROM mailboxes WHERE mailbox_id = ? AND user_id = ?",
		mailboxID, userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mailbox %s of user %s: %w", mailboxID, userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting mailbox %s: %w", mailboxID, err)
	}

	m, err := r.toModel()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteUserMailboxes removes every cached mailbox of userID.
func (s *SQLiteMailboxInfoStore) DeleteUserMailboxes(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM mailboxes WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("deleting mailboxes of user %s: %w", userID, err)
	}
	return nil
}

// SetUnseenCount updates the cached unseen message count.
func (s *SQLiteMailboxInfoStore) SetUnseenCount(
	ctx context.Context,
	mailboxID, userID string,
	count int,
) error {
	return s.updateOne(ctx, mailboxID, userID, "unseen_count = ?", count)
}

// SetSpamFilter updates the cached spam filter flag.
func (s *SQLiteMailboxInfoStore) SetSpamFilter(
	ctx context.Context,
	mailboxID, userID string,
	enabled bool,
) error {
	return s.updateOne(ctx, mailboxID, userID, "spam_filter_enabled = ?", boolToInt(enabled))
}

// SetSenderRestrictions updates the cached blocked/authorized senders.
func (s *SQLiteMailboxInfoStore) SetSenderRestrictions(
	ctx context.Context,
	mailboxID, userID string,
	r model.SenderRestrictions,
) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling sender restrictions: %w", err)
	}
	return s.updateOne(ctx, mailboxID, userID, "sender_restrictions = ?", string(data))
}

func (s *SQLiteMailboxInfoStore) updateOne(
	ctx context.Context,
	mailboxID, userID string,
	set string,
	value interface{},
) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE mailboxes SET "+set+" WHERE mailbox_id = ? AND user_id = ?",
		value, mailboxID, userID,
	)
	if err != nil {
		return fmt.Errorf("updating mailbox %s: %w", mailboxID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("mailbox %s of user %s: %w", mailboxID, userID, ErrNotFound)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
