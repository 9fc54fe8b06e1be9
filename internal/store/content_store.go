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

// SQLiteContentStore implements ContentStore on one SQLite file per
// mailbox.
type SQLiteContentStore struct {
	db *sqlx.DB
}

// NewSQLiteContentStore opens the content database of one mailbox.
func NewSQLiteContentStore(dbPath string, logger *slog.Logger) (*SQLiteContentStore, error) {
	db, err := openDB(dbPath, contentMigrations, logger)
	if err != nil {
		return nil, fmt.Errorf("opening mailbox content store: %w", err)
	}
	return &SQLiteContentStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteContentStore) Close() error {
	return s.db.Close()
}

// === Folders ===

type folderRow struct {
	ID                string       `db:"id"`
	Name              string       `db:"name"`
	Role              string       `db:"role"`
	IsHistoryComplete int          `db:"is_history_complete"`
	LastUpdate        sql.NullTime `db:"last_update"`
	UnreadCount       int          `db:"unread_count"`
}

func (r folderRow) toModel() model.Folder {
	f := model.Folder{
		ID:                r.ID,
		Name:              r.Name,
		Role:              r.Role,
		IsHistoryComplete: r.IsHistoryComplete != 0,
		UnreadCount:       r.UnreadCount,
	}
	if r.LastUpdate.Valid {
		t := r.LastUpdate.Time
		f.LastUpdate = &t
	}
	return f
}

const folderColumns = "id, name, role, is_history_complete, last_update, unread_count"

// UpsertFolders merges the server folder list. Name and role come from the
// server; history state, last update and unread count are kept. Folders
// not in the list are deleted along with their threads.
func (s *SQLiteContentStore) UpsertFolders(ctx context.Context, folders []model.Folder) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(folders))
	for _, f := range folders {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO folders (id, name, role) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				role = excluded.role`,
			f.ID, f.Name, f.Role,
		)
		if err != nil {
			return fmt.Errorf("upserting folder %s: %w", f.ID, err)
		}
		ids = append(ids, f.ID)
	}

	if len(ids) == 0 {
		_, err = tx.ExecContext(ctx, "DELETE FROM folders")
	} else {
		var (
			query string
			args  []interface{}
		)
		query, args, err = sqlx.In("DELETE FROM folders WHERE id NOT IN (?)", ids)
		if err != nil {
			return fmt.Errorf("building stale folder query: %w", err)
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(query), args...)
	}
	if err != nil {
		return fmt.Errorf("deleting stale folders: %w", err)
	}

	return tx.Commit()
}

// GetFolders returns every folder, role folders first.
func (s *SQLiteContentStore) GetFolders(ctx context.Context) ([]model.Folder, error) {
	var rows []folderRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+folderColumns+` FROM folders
		ORDER BY
			CASE role
				WHEN 'inbox'   THEN 0
				WHEN 'drafts'  THEN 1
				WHEN 'sent'    THEN 2
				WHEN 'archive' THEN 3
				WHEN 'spam'    THEN 4
				WHEN 'trash'   THEN 5
				ELSE 6
			END,
			name`)
	if err != nil {
		return nil, fmt.Errorf("querying folders: %w", err)
	}

	folders := make([]model.Folder, len(rows))
	for i, r := range rows {
		folders[i] = r.toModel()
	}
	return folders, nil
}

// GetFolder returns one folder, or ErrNotFound.
func (s *SQLiteContentStore) GetFolder(ctx context.Context, id string) (*model.Folder, error) {
	var r folderRow
	err := s.db.GetContext(ctx, &r, "SELECT "+folderColumns+" FROM folders WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("folder %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting folder %s: %w", id, err)
	}
	f := r.toModel()
	return &f, nil
}

// MarkHistoryComplete flags that no older messages remain. The flag is
// never cleared.
func (s *SQLiteContentStore) MarkHistoryComplete(ctx context.Context, id string) error {
	return s.updateFolder(ctx, id, "is_history_complete = 1")
}

// SetLastUpdate records a successful sync of the folder.
func (s *SQLiteContentStore) SetLastUpdate(ctx context.Context, id string, at time.Time) error {
	return s.updateFolder(ctx, id, "last_update = ?", at.UTC())
}

// SetUnreadCount updates the cached unread count of the folder.
func (s *SQLiteContentStore) SetUnreadCount(ctx context.Context, id string, count int) error {
	return s.updateFolder(ctx, id, "unread_count = ?", count)
}

func (s *SQLiteContentStore) updateFolder(
	ctx context.Context,
	id string,
	set string,
	args ...interface{},
) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE folders SET "+set+" WHERE id = ?",
		append(args, id)...,
	)
	if err != nil {
		return fmt.Errorf("updating folder %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("folder %s: %w", id, ErrNotFound)
	}
	return nil
}

// === Threads ===

type threadRow struct {
	FolderID  string    `db:"folder_id"`
	UID       uint32    `db:"uid"`
	ID        string    `db:"id"`
	MessageID string    `db:"message_id"`
	Subject   string    `db:"subject"`
	From      string    `db:"from_addr"`
	FromName  string    `db:"from_name"`
	To        string    `db:"to_addrs"`
	Date      time.Time `db:"date"`
	Seen      int       `db:"seen"`
	Flagged   int       `db:"flagged"`
}

const threadColumns = `folder_id, uid, id, message_id, subject, from_addr, from_name,
	to_addrs, date, seen, flagged`

// UpsertThreads stores threads in one transaction and returns how many
// were not cached before. Existing threads get their subject and flags
// refreshed.
func (s *SQLiteContentStore) UpsertThreads(ctx context.Context, threads []model.Thread) (int, error) {
	if len(threads) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	insert, err := tx.PreparexContext(ctx, `
		INSERT OR IGNORE INTO threads (`+threadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing thread insert: %w", err)
	}
	defer insert.Close()

	update, err := tx.PreparexContext(ctx, `
		UPDATE threads SET subject = ?, seen = ?, flagged = ?, fetched_at = CURRENT_TIMESTAMP
		WHERE folder_id = ? AND uid = ?`)
	if err != nil {
		return 0, fmt.Errorf("preparing thread update: %w", err)
	}
	defer update.Close()

	created := 0
	for _, t := range threads {
		to, err := json.Marshal(nonNil(t.To))
		if err != nil {
			return 0, fmt.Errorf("marshaling recipients of %s: %w", t.ID, err)
		}

		result, err := insert.ExecContext(ctx,
			t.FolderID, t.UID, t.ID, t.MessageID, t.Subject, t.From, t.FromName,
			string(to), t.Date.UTC(), boolToInt(t.Seen), boolToInt(t.Flagged),
		)
		if err != nil {
			return 0, fmt.Errorf("inserting thread %s: %w", t.ID, err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			created++
			continue
		}

		_, err = update.ExecContext(ctx,
			t.Subject, boolToInt(t.Seen), boolToInt(t.Flagged), t.FolderID, t.UID,
		)
		if err != nil {
			return 0, fmt.Errorf("updating thread %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing threads: %w", err)
	}
	return created, nil
}

// GetThreads returns a page of the folder's threads, newest first.
func (s *SQLiteContentStore) GetThreads(
	ctx context.Context,
	folderID string,
	limit, offset int,
) ([]model.Thread, error) {
	query := "SELECT " + threadColumns + " FROM threads WHERE folder_id = ? ORDER BY date DESC, uid DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
		if offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", offset)
		}
	}

	var rows []threadRow
	if err := s.db.SelectContext(ctx, &rows, query, folderID); err != nil {
		return nil, fmt.Errorf("querying threads of %s: %w", folderID, err)
	}

	threads := make([]model.Thread, 0, len(rows))
	for _, r := range rows {
		t := model.Thread{
			ID:        r.ID,
			FolderID:  r.FolderID,
			UID:       r.UID,
			MessageID: r.MessageID,
			Subject:   r.Subject,
			From:      r.From,
			FromName:  r.FromName,
			Date:      r.Date,
			Seen:      r.Seen != 0,
			Flagged:   r.Flagged != 0,
		}
		if err := json.Unmarshal([]byte(r.To), &t.To); err != nil {
			return nil, fmt.Errorf("unmarshaling recipients of %s: %w", r.ID, err)
		}
		threads = append(threads, t)
	}
	return threads, nil
}

// OldestUID returns the smallest cached UID of the folder, or 0.
func (s *SQLiteContentStore) OldestUID(ctx context.Context, folderID string) (uint32, error) {
	return s.uidAggregate(ctx, "MIN", folderID)
}

// NewestUID returns the largest cached UID of the folder, or 0.
func (s *SQLiteContentStore) NewestUID(ctx context.Context, folderID string) (uint32, error) {
	return s.uidAggregate(ctx, "MAX", folderID)
}

func (s *SQLiteContentStore) uidAggregate(ctx context.Context, fn, folderID string) (uint32, error) {
	var uid uint32
	err := s.db.GetContext(ctx, &uid,
		"SELECT COALESCE("+fn+"(uid), 0) FROM threads WHERE folder_id = ?", folderID)
	if err != nil {
		return 0, fmt.Errorf("reading %s uid of %s: %w", fn, folderID, err)
	}
	return uid, nil
}

// CountThreads returns the number of cached threads in the folder.
func (s *SQLiteContentStore) CountThreads(ctx context.Context, folderID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM threads WHERE folder_id = ?", folderID); err != nil {
		return 0, fmt.Errorf("counting threads of %s: %w", folderID, err)
	}
	return n, nil
}

// CountUnseen returns the number of cached unseen threads in the folder.
func (s *SQLiteContentStore) CountUnseen(ctx context.Context, folderID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM threads WHERE folder_id = ? AND seen = 0", folderID)
	if err != nil {
		return 0, fmt.Errorf("counting unseen threads of %s: %w", folderID, err)
	}
	return n, nil
}
