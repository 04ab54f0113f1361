package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteCursorStore keeps sync cursors in a local SQLite file so a sweep
// resumes where it stopped after a restart.
type SQLiteCursorStore struct {
	db *sql.DB
}

// OpenSQLiteCursorStore opens (creating if needed) the database at path.
// ":memory:" is accepted for tests.
func OpenSQLiteCursorStore(path string) (*SQLiteCursorStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("sqlite: create cursor dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// a second pooled connection would see a different :memory: database
	db.SetMaxOpenConns(1)

	return NewSQLiteCursorStore(db)
}

// NewSQLiteCursorStore wraps an open database and ensures the schema.
func NewSQLiteCursorStore(db *sql.DB) (*SQLiteCursorStore, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sync_cursors (
			name          TEXT PRIMARY KEY,
			cursor_offset INTEGER NOT NULL DEFAULT 0,
			updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create sync_cursors: %w", err)
	}
	return &SQLiteCursorStore{db: db}, nil
}

// Load returns the saved offset for name, or 0 when none is stored.
func (s *SQLiteCursorStore) Load(ctx context.Context, name string) (int, error) {
	var offset int
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor_offset FROM sync_cursors WHERE name = ?`, name).Scan(&offset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: load cursor %q: %w", name, err)
	}
	return offset, nil
}

// Save stores offset for name.
func (s *SQLiteCursorStore) Save(ctx context.Context, name string, offset int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (name, cursor_offset, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET cursor_offset = excluded.cursor_offset, updated_at = CURRENT_TIMESTAMP
	`, name, offset)
	if err != nil {
		return fmt.Errorf("sqlite: save cursor %q: %w", name, err)
	}
	return nil
}

func (s *SQLiteCursorStore) Close() error {
	return s.db.Close()
}
