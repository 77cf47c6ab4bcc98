package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/runwatch/internal/ir"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS runwatch_cursors (
    owner      TEXT        NOT NULL,
    name       TEXT        NOT NULL,
    document   JSONB       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (owner, name)
)`

// Postgres keeps cursors in a PostgreSQL table, so several hosts can share
// state (each repository must still be watched by one process at a time).
type Postgres struct {
	pool *pgxpool.Pool
}

// ConnectPostgres opens a pool and creates the cursor table if needed.
func ConnectPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Load returns the cursor of repo, or ErrNotFound.
func (p *Postgres) Load(ctx context.Context, repo ir.RepoID) (ir.Cursor, error) {
	var doc string
	err := p.pool.QueryRow(ctx,
		`SELECT document::text FROM runwatch_cursors WHERE owner = $1 AND name = $2`,
		repo.Owner, repo.Name,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
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

// Save upserts the cursor of repo.
func (p *Postgres) Save(ctx context.Context, repo ir.RepoID, c ir.Cursor) error {
	doc, err := ir.EncodeCursor(c)
	if err != nil {
		return fmt.Errorf("save %s: %w", repo, err)
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO runwatch_cursors (owner, name, document)
		 VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (owner, name) DO UPDATE SET document = EXCLUDED.document, updated_at = NOW()`,
		repo.Owner, repo.Name, string(doc),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", repo, err)
	}
	return nil
}

// Delete removes the cursor of repo.
func (p *Postgres) Delete(ctx context.Context, repo ir.RepoID) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM runwatch_cursors WHERE owner = $1 AND name = $2`,
		repo.Owner, repo.Name,
	)
	if err != nil {
		return fmt.Errorf("delete %s: %w", repo, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete %s: %w", repo, ErrNotFound)
	}
	return nil
}

// List returns every stored repository ordered by owner, then name.
func (p *Postgres) List(ctx context.Context) ([]Entry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT owner, name, updated_at FROM runwatch_cursors ORDER BY owner, name`)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Repo.Owner, &e.Repo.Name, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		e.UpdatedAt = e.UpdatedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursors: %w", err)
	}
	return entries, nil
}
