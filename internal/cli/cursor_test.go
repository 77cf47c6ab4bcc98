package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runwatch/internal/ir"
	"github.com/roach88/runwatch/internal/store"
)

var cursorBootstrap = time.Date(2024, 3, 1, 11, 55, 0, 0, time.UTC)

// seedCursor stores a cursor for octo/hello with one open run.
func seedCursor(t *testing.T, dir string) {
	t.Helper()
	c := ir.NewCursor(cursorBootstrap)
	c.StableWatermark = cursorBootstrap.Add(10 * time.Second)
	c.OpenRuns[42] = ir.RunMeta{
		CreatedAt: cursorBootstrap.Add(time.Minute),
		Branch:    "main",
		CommitSHA: "abcdef1234567",
		Name:      "CI",
	}
	c.ProcessedEventIDs["fp-1"] = cursorBootstrap.Add(time.Minute)
	require.NoError(t, store.NewFileStore(dir).Save(context.Background(), ir.RepoID{Owner: "octo", Name: "hello"}, c))
}

func runCursorCommand(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	clearEnv(t)
	out := &bytes.Buffer{}
	cmd := NewCursorCommand(&RootOptions{Format: format})
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCursorList(t *testing.T) {
	dir := t.TempDir()

	out, err := runCursorCommand(t, "text", "list", "--store", "file", "--state-dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "No cursors stored.\n", out)

	seedCursor(t, dir)
	out, err = runCursorCommand(t, "text", "list", "--store", "file", "--state-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "octo/hello")
	assert.Contains(t, out, "updated ")
}

func TestCursorList_JSON(t *testing.T) {
	dir := t.TempDir()
	seedCursor(t, dir)

	out, err := runCursorCommand(t, "json", "list", "--store", "file", "--state-dir", dir)
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   []CursorEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "octo/hello", resp.Data[0].Repo)
}

func TestCursorShow(t *testing.T) {
	dir := t.TempDir()
	seedCursor(t, dir)

	out, err := runCursorCommand(t, "text", "show", "octo/hello", "--store", "file", "--state-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Cursor for octo/hello")
	assert.Contains(t, out, "Bootstrap instant: 2024-03-01T11:55:00Z")
	assert.Contains(t, out, "Stable watermark:  2024-03-01T11:55:10Z")
	assert.Contains(t, out, "Open runs:         1 (oldest 2024-03-01T11:56:00Z)")
	assert.Contains(t, out, "Processed events:  1")
	assert.NotContains(t, out, "=== Open Runs ===")

	out, err = runCursorCommand(t, "text", "show", "octo/hello", "--runs", "--store", "file", "--state-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "=== Open Runs ===")
	assert.Contains(t, out, "42  2024-03-01T11:56:00Z  main @ abcdef1  CI")
}

func TestCursorShow_JSON(t *testing.T) {
	dir := t.TempDir()
	seedCursor(t, dir)

	out, err := runCursorCommand(t, "json", "show", "octo/hello", "--runs", "--store", "file", "--state-dir", dir)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   CursorView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "octo/hello", resp.Data.Repo)
	assert.Equal(t, 1, resp.Data.Summary.OpenRuns)
	assert.True(t, cursorBootstrap.Equal(resp.Data.Summary.BootstrapInstant))
	require.Len(t, resp.Data.Runs, 1)
	assert.Equal(t, int64(42), resp.Data.Runs[0].RunID)
	assert.NotContains(t, out, "fp-1", "dedup table is not shown")
}

func TestCursorShow_Missing(t *testing.T) {
	_, err := runCursorCommand(t, "text", "show", "octo/none", "--store", "file", "--state-dir", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "no cursor stored for octo/none")
}

func TestCursorReset(t *testing.T) {
	dir := t.TempDir()
	seedCursor(t, dir)

	_, err := runCursorCommand(t, "text", "reset", "octo/hello", "--store", "file", "--state-dir", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "without --yes")

	_, err = store.NewFileStore(dir).Load(context.Background(), ir.RepoID{Owner: "octo", Name: "hello"})
	require.NoError(t, err, "refused reset keeps the cursor")

	out, err := runCursorCommand(t, "text", "reset", "octo/hello", "-y", "--store", "file", "--state-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ cursor for octo/hello reset")

	_, err = store.NewFileStore(dir).Load(context.Background(), ir.RepoID{Owner: "octo", Name: "hello"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = runCursorCommand(t, "text", "reset", "octo/hello", "--yes", "--store", "file", "--state-dir", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestCursor_InvalidStore(t *testing.T) {
	_, err := runCursorCommand(t, "text", "list", "--store", "redis")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "store must be one of")
}
