package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/runwatch/internal/ir"
)

const fileSuffix = ".json"

// FileStore keeps each cursor in <dir>/<owner>__<name>.json.
//
// Writes go to a temporary file in the same directory which is then renamed
// over the target, so a crash never leaves a truncated cursor.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. The directory is created on
// the first Save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the file that holds repo's cursor.
func (s *FileStore) Path(repo ir.RepoID) string {
	return filepath.Join(s.dir, repo.Owner+"__"+repo.Name+fileSuffix)
}

// Load returns the cursor of repo, or ErrNotFound.
func (s *FileStore) Load(ctx context.Context, repo ir.RepoID) (ir.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return ir.Cursor{}, err
	}
	data, err := os.ReadFile(s.Path(repo))
	if errors.Is(err, fs.ErrNotExist) {
		return ir.Cursor{}, fmt.Errorf("load %s: %w", repo, ErrNotFound)
	}
	if err != nil {
		return ir.Cursor{}, fmt.Errorf("load %s: %w", repo, err)
	}
	c, err := ir.DecodeCursor(data)
	if err != nil {
		return ir.Cursor{}, fmt.Errorf("load %s: %w", repo, err)
	}
	return c, nil
}

// Save atomically replaces the cursor of repo.
func (s *FileStore) Save(ctx context.Context, repo ir.RepoID, c ir.Cursor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := ir.EncodeCursor(c)
	if err != nil {
		return fmt.Errorf("save %s: %w", repo, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("save %s: %w", repo, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".cursor-*.tmp")
	if err != nil {
		return fmt.Errorf("save %s: %w", repo, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save %s: %w", repo, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("save %s: %w", repo, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save %s: %w", repo, err)
	}
	if err := os.Rename(tmpName, s.Path(repo)); err != nil {
		return fmt.Errorf("save %s: %w", repo, err)
	}
	return nil
}

// Delete removes the cursor file of repo.
func (s *FileStore) Delete(ctx context.Context, repo ir.RepoID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.Path(repo))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", repo, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", repo, err)
	}
	return nil
}

// List returns every repository with a cursor file, sorted by owner/name.
// A missing directory is an empty store.
func (s *FileStore) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}

	entries := []Entry{}
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		owner, repoName, ok := strings.Cut(strings.TrimSuffix(name, fileSuffix), "__")
		if !ok || owner == "" || repoName == "" {
			continue
		}
		info, err := de.Info()
		if err != nil {
			return nil, fmt.Errorf("list cursors: %w", err)
		}
		entries = append(entries, Entry{
			Repo:      ir.RepoID{Owner: owner, Name: repoName},
			UpdatedAt: info.ModTime().UTC(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Repo.String() < entries[j].Repo.String()
	})
	return entries, nil
}
