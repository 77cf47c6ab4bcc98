package cli

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/roach88/runwatch/internal/config"
	"github.com/roach88/runwatch/internal/engine"
	"github.com/roach88/runwatch/internal/ir"
	"github.com/roach88/runwatch/internal/server"
	"github.com/roach88/runwatch/internal/testutil"
)

// syncBuffer is a bytes.Buffer safe for a concurrent writer and reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// clearEnv isolates a test from the caller's GitHub and runwatch settings.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvGitHubToken, config.EnvToken, config.EnvRepos, config.EnvStore,
		config.EnvStateDir, config.EnvDatabaseURL, config.EnvListen, config.EnvBaseURL,
		config.EnvPollInterval, config.EnvColor,
	} {
		t.Setenv(key, "")
	}
}

// recentRun is a queued run created a minute ago, inside the bootstrap window.
func recentRun(id int64) ir.RunSnapshot {
	return ir.RunSnapshot{
		ID:         id,
		Name:       "CI",
		HeadBranch: "main",
		HeadSHA:    "abcdef1234567",
		Status:     ir.StatusQueued,
		CreatedAt:  time.Now().UTC().Add(-time.Minute).Truncate(time.Second),
	}
}

func fakeSourceFactory(src *testutil.FakeSource) SourceFactory {
	return func(config.Config, *slog.Logger) (engine.SnapshotSource, server.RateLimitReporter, error) {
		return src, nil, nil
	}
}
