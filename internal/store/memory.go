package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roach88/runwatch/internal/ir"
)

// Memory keeps cursors in a map. It stores and returns clones, so callers
// can never alias persisted state.
//
// Thread-safety: safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	cursors map[ir.RepoID]ir.Cursor
	updated map[ir.RepoID]time.Time
	saves   int
	failErr error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		cursors: make(map[ir.RepoID]ir.Cursor),
		updated: make(map[ir.RepoID]time.Time),
	}
}

// Load returns a clone of the cursor of repo, or ErrNotFound.
func (m *Memory) Load(ctx context.Context, repo ir.RepoID) (ir.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return ir.Cursor{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cursors[repo]
	if !ok {
		return ir.Cursor{}, fmt.Errorf("load %s: %w", repo, ErrNotFound)
	}
	return c.Clone(), nil
}

// Save stores a clone of c. If FailSaves was called it returns that error
// and keeps the previous cursor.
func (m *Memory) Save(ctx context.Context, repo ir.RepoID, c ir.Cursor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return fmt.Errorf("save %s: %w", repo, m.failErr)
	}
	m.cursors[repo] = c.Clone()
	m.updated[repo] = time.Now().UTC()
	m.saves++
	return nil
}

// Delete removes the cursor of repo.
func (m *Memory) Delete(ctx context.Context, repo ir.RepoID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cursors[repo]; !ok {
		return fmt.Errorf("delete %s: %w", repo, ErrNotFound)
	}
	delete(m.cursors, repo)
	delete(m.updated, repo)
	return nil
}

// List returns every stored repository sorted by owner/name.
func (m *Memory) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]Entry, 0, len(m.cursors))
	for repo := range m.cursors {
		entries = append(entries, Entry{Repo: repo, UpdatedAt: m.updated[repo]})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Repo.String() < entries[j].Repo.String()
	})
	return entries, nil
}

// FailSaves makes every subsequent Save return err. Pass nil to recover.
func (m *Memory) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Saves returns the number of successful saves.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
