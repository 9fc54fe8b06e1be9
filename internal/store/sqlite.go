package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// openDB opens (or creates) the SQLite database at dbPath and applies
// pending migrations. A corrupted file is deleted and recreated once; if
// the second attempt fails too, ErrUnrecoverable is returned.
func openDB(dbPath string, migrations []migration, logger *slog.Logger) (*sqlx.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := connect(dbPath, migrations)
	if err == nil {
		return db, nil
	}
	if isMemory(dbPath) || !isCorruption(err) {
		return nil, err
	}

	logger.Warn("local store corrupted, recreating", "path", dbPath, "error", err)
	if err := removeDBFiles(dbPath); err != nil {
		return nil, fmt.Errorf("%w: removing %s: %v", ErrUnrecoverable, dbPath, err)
	}

	db, err = connect(dbPath, migrations)
	if err != nil {
		return nil, fmt.Errorf("%w: reopening %s: %v", ErrUnrecoverable, dbPath, err)
	}
	logger.Info("local store recreated", "path", dbPath)
	return db, nil
}

func connect(dbPath string, migrations []migration) (*sqlx.DB, error) {
	if !isMemory(dbPath) {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection serializes writes and keeps ":memory:"
	// databases from being split across pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := runMigrations(db, migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return db, nil
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in ascending order, each in its own transaction.
func runMigrations(db *sqlx.DB, migrations []migration) error {
	currentVersion, err := schemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		tx, err := db.Beginx()
		if err != nil {
			return fmt.Errorf("beginning migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// schemaVersion returns the highest applied migration, or 0 for a new
// database.
func schemaVersion(db *sqlx.DB) (int, error) {
	var tableCount int
	err := db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return 0, fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount == 0 {
		return 0, nil
	}

	var version int
	if err := db.Get(&version, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// isCorruption reports whether err means the file is not a usable
// SQLite database.
func isCorruption(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return true
	}
	return false
}

func isMemory(dbPath string) bool {
	return dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")
}

// RemoveDatabase deletes a closed database file and its WAL side files.
// Missing files are not an error.
func RemoveDatabase(dbPath string) error {
	if isMemory(dbPath) {
		return nil
	}
	return removeDBFiles(dbPath)
}

func removeDBFiles(dbPath string) error {
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
