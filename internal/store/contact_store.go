package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailcache/internal/model"
)

// SQLiteContactStore implements ContactStore on a SQLite file.
type SQLiteContactStore struct {
	db *sqlx.DB
}

// NewSQLiteContactStore opens the contacts database at dbPath.
func NewSQLiteContactStore(dbPath string, logger *slog.Logger) (*SQLiteContactStore, error) {
	db, err := openDB(dbPath, contactMigrations, logger)
	if err != nil {
		return nil, fmt.Errorf("opening contact store: %w", err)
	}
	return &SQLiteContactStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteContactStore) Close() error {
	return s.db.Close()
}

// RecordContacts upserts contacts by case-insensitive email. Each sighting
// bumps the frequency; a non-empty name replaces the stored one and
// last_seen only moves forward.
func (s *SQLiteContactStore) RecordContacts(ctx context.Context, contacts []model.Contact) error {
	if len(contacts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO contacts (id, email, name, frequency, last_seen)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(email) DO UPDATE SET
			frequency = contacts.frequency + 1,
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
			last_seen = CASE WHEN excluded.last_seen > contacts.last_seen
				THEN excluded.last_seen ELSE contacts.last_seen END`)
	if err != nil {
		return fmt.Errorf("preparing contact upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range contacts {
		email := normalizeEmail(c.Email)
		if email == "" {
			continue
		}
		seen := c.LastSeen
		if seen.IsZero() {
			seen = time.Now()
		}
		_, err := stmt.ExecContext(ctx,
			uuid.New().String(), email, strings.TrimSpace(c.Name), seen.UTC(),
		)
		if err != nil {
			return fmt.Errorf("recording contact %s: %w", email, err)
		}
	}

	return tx.Commit()
}

// SearchContacts returns up to limit contacts matching query. Exact email
// matches rank first, then email prefixes, then names with a word starting
// with query, then any substring match. Ties are broken by frequency.
func (s *SQLiteContactStore) SearchContacts(
	ctx context.Context,
	query string,
	limit int,
) ([]model.Contact, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	esc := escapeLike(q)
	prefix := esc + "%"
	word := "% " + esc + "%"
	substring := "%" + esc + "%"

	type rankedContact struct {
		model.Contact
		Rank int `db:"match_rank"`
	}

	var rows []rankedContact
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, email, name, frequency, last_seen,
			CASE
				WHEN email = ? THEN 0
				WHEN email LIKE ? ESCAPE '\' THEN 1
				WHEN name LIKE ? ESCAPE '\' OR name LIKE ? ESCAPE '\' THEN 2
				ELSE 3
			END AS match_rank
		FROM contacts
		WHERE email LIKE ? ESCAPE '\' OR name LIKE ? ESCAPE '\'
		ORDER BY match_rank, frequency DESC, email
		LIMIT ?`,
		q, prefix, prefix, word, substring, substring, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching contacts for %q: %w", query, err)
	}

	contacts := make([]model.Contact, len(rows))
	for i, r := range rows {
		contacts[i] = r.Contact
	}
	return contacts, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
