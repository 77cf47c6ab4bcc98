package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/runwatch/internal/ir"
)

var (
	t0       = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	testRepo = ir.RepoID{Owner: "octo", Name: "hello"}
)

// createTestStore creates a SQLite store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestCursor returns a cursor with one open run and two dedup entries.
func createTestCursor() ir.Cursor {
	c := ir.NewCursor(t0)
	c.StableWatermark = t0.Add(5 * time.Minute)
	c.OpenRuns[42] = ir.RunMeta{CreatedAt: t0.Add(time.Minute), Branch: "main", CommitSHA: "abc1234", Name: "CI"}
	c.ProcessedEventIDs["fp-1"] = t0.Add(time.Minute)
	c.ProcessedEventIDs["fp-2"] = t0.Add(2 * time.Minute)
	return c
}
