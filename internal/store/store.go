package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/runwatch/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on cursors.updated_at for List
const currentSchemaVersion = 1

// ErrNotFound is returned by Load when no cursor exists for a repository.
var ErrNotFound = errors.New("cursor not found")

// Backend is implemented by every store in this package.
type Backend interface {
	Load(ctx context.Context, repo ir.RepoID) (ir.Cursor, error)
	Save(ctx context.Context, repo ir.RepoID, c ir.Cursor) error
	Delete(ctx context.Context, repo ir.RepoID) error
	List(ctx context.Context) ([]Entry, error)
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*FileStore)(nil)
	_ Backend = (*Postgres)(nil)
	_ Backend = (*Memory)(nil)
)

// Entry describes one stored cursor without decoding it.
type Entry struct {
	Repo      ir.RepoID
	UpdatedAt time.Time
}

// Store keeps cursors in a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the cursor of repo, or ErrNotFound.
func (s *Store) Load(ctx context.Context, repo ir.RepoID) (ir.Cursor, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `
		SELECT document FROM cursors WHERE owner = ? AND name = ?
	`, repo.Owner, repo.Name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Cursor{}, fmt.Errorf("load %s: %w", repo, ErrNotFound)
	}
	if err != nil {
		return ir.Cursor{}, fmt.Errorf("load %s: %w", repo, err)
	}

	c, err := ir.DecodeCursor([]byte(doc))
	if err != nil {
		return ir.Cursor{}, fmt.Errorf("load %s: %w", repo, err)
	}
	return c, nil
}

// Save replaces the cursor of repo.
func (s *Store) Save(ctx context.Context, repo ir.RepoID, c ir.Cursor) error {
	doc, err := ir.EncodeCursor(c)
	if err != nil {
		return fmt.Errorf("save %s: %w", repo, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cursors (owner, name, document, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner, name) DO UPDATE SET
			document = excluded.document,
			updated_at = excluded.updated_at
	`, repo.Owner, repo.Name, string(doc), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save %s: %w", repo, err)
	}
	return nil
}

// Delete removes the cursor of repo. The next watch bootstraps afresh.
// Returns ErrNotFound if there was nothing to delete.
func (s *Store) Delete(ctx context.Context, repo ir.RepoID) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cursors WHERE owner = ? AND name = ?
	`, repo.Owner, repo.Name)
	if err != nil {
		return fmt.Errorf("delete %s: %w", repo, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", repo, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", repo, ErrNotFound)
	}
	return nil
}

// List returns every stored repository ordered by owner, then name.
//
// Returns an empty slice (not nil) if the store is empty.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner, name, updated_at FROM cursors
		ORDER BY owner COLLATE BINARY ASC, name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var updated string
		if err := rows.Scan(&e.Repo.Owner, &e.Repo.Name, &updated); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated)
		if err != nil {
			return nil, fmt.Errorf("parse updated_at for %s: %w", e.Repo, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursors: %w", err)
	}
	return entries, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 indexes updated_at so status listings stay cheap.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_cursors_updated_at
		ON cursors(updated_at)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
