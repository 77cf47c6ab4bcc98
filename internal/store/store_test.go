package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='cursors'").Scan(&name)
	if err != nil {
		t.Errorf("cursors table not found after idempotent opens: %v", err)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}

func TestOpen_MigrationCreatesIndex(t *testing.T) {
	s := createTestStore(t)

	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_cursors_updated_at'",
	).Scan(&name)
	if err != nil {
		t.Errorf("index not found: %v", err)
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestSave_RecordsUpdatedAt(t *testing.T) {
	s := createTestStore(t)
	stamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return stamp }

	if err := s.Save(context.Background(), testRepo, createTestCursor()); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	entries, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(entries) != 1 || !entries[0].UpdatedAt.Equal(stamp) {
		t.Errorf("List() = %+v, want one entry updated at %v", entries, stamp)
	}
}

func TestSave_DocumentLayout(t *testing.T) {
	s := createTestStore(t)
	if err := s.Save(context.Background(), testRepo, createTestCursor()); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	var doc string
	if err := s.db.QueryRow("SELECT document FROM cursors").Scan(&doc); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	for _, key := range []string{`"bootstrap_instant"`, `"stable_watermark"`, `"open_runs"`, `"processed_event_ids"`} {
		if !strings.Contains(doc, key) {
			t.Errorf("document missing %s: %s", key, doc)
		}
	}
}

func TestLoad_CorruptDocument(t *testing.T) {
	s := createTestStore(t)
	_, err := s.db.Exec(
		"INSERT INTO cursors (owner, name, document, updated_at) VALUES (?, ?, ?, ?)",
		testRepo.Owner, testRepo.Name, "{not json", "2024-01-01T00:00:00Z",
	)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	_, err = s.Load(context.Background(), testRepo)
	if err == nil || !strings.Contains(err.Error(), "decode cursor") {
		t.Errorf("Load() error = %v, want decode error", err)
	}
}

func TestLoad_CancelledContext(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Load(ctx, testRepo); err == nil {
		t.Error("expected error for cancelled context")
	}
}
