package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/runwatch/internal/clock"
	"github.com/roach88/runwatch/internal/ir"
	"github.com/roach88/runwatch/internal/store"
)

// SnapshotSource lists provider state. Implemented by github.Source
// (production) and testutil.FakeSource (tests).
//
// Both calls return complete, finite results; pagination is the source's
// concern.
type SnapshotSource interface {
	// ListRuns returns every run created within [from, to].
	ListRuns(ctx context.Context, repo ir.RepoID, from, to time.Time) ([]ir.RunSnapshot, error)

	// ListJobs returns every job of a run, each with its steps.
	ListJobs(ctx context.Context, repo ir.RepoID, runID int64) ([]ir.JobSnapshot, error)
}

// CursorStore persists one cursor per repository.
//
// Load returns store.ErrNotFound when the repository has never been
// watched. A Save failure is fatal for the cycle.
type CursorStore interface {
	Load(ctx context.Context, repo ir.RepoID) (ir.Cursor, error)
	Save(ctx context.Context, repo ir.RepoID, c ir.Cursor) error
}

// Sink receives emitted events. It is called from one goroutine at a time
// and in OccurredAt order within a cycle.
type Sink interface {
	Emit(ctx context.Context, e Emitted) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Emitted) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, e Emitted) error {
	return f(ctx, e)
}

// Watcher runs the polling loop for one or more repositories.
//
// A Watcher holds no per-repository state; each Watch call owns its own
// cursor, so the same Watcher may drive several repositories concurrently.
type Watcher struct {
	source   SnapshotSource
	store    CursorStore
	opts     Options
	clock    clock.Clock
	logger   *slog.Logger
	cycleIDs CycleIDGenerator
}

// NewWatcher creates a Watcher with DefaultOptions, the real clock, the
// default logger, and UUIDv7 cycle ids, then applies opts.
func NewWatcher(source SnapshotSource, cursors CursorStore, opts ...Option) *Watcher {
	w := &Watcher{
		source:   source,
		store:    cursors,
		opts:     DefaultOptions(),
		clock:    clock.Real(),
		logger:   slog.Default(),
		cycleIDs: UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Options returns the tunables in effect.
func (w *Watcher) Options() Options {
	return w.opts
}

// Bootstrap loads the cursor of repo. If none exists it creates one with
// bootstrap instant and watermark at now-SafetyDelay and persists it before
// returning.
func (w *Watcher) Bootstrap(ctx context.Context, repo ir.RepoID) (ir.Cursor, error) {
	c, err := w.store.Load(ctx, repo)
	switch {
	case err == nil:
		if c.BootstrapInstant.IsZero() || c.StableWatermark.Before(c.BootstrapInstant) {
			return ir.Cursor{}, newRepoError(ErrCodeInvalidCursor, repo,
				"stored cursor breaks its invariants", nil)
		}
		w.logger.Debug("cursor loaded",
			"repo", repo.String(),
			"watermark", c.StableWatermark,
			"open_runs", len(c.OpenRuns),
			"processed", len(c.ProcessedEventIDs))
		return c, nil

	case errors.Is(err, store.ErrNotFound):
		c = ir.NewCursor(w.clock.Now().Add(-w.opts.SafetyDelay))
		if err := w.store.Save(ctx, repo, c); err != nil {
			if ctx.Err() != nil {
				return ir.Cursor{}, ctx.Err()
			}
			return ir.Cursor{}, newRepoError(ErrCodePersistFailed, repo, "save bootstrap cursor", err)
		}
		w.logger.Info("bootstrapped cursor",
			"repo", repo.String(),
			"bootstrap", c.BootstrapInstant)
		return c, nil

	default:
		if ctx.Err() != nil {
			return ir.Cursor{}, ctx.Err()
		}
		return ir.Cursor{}, newRepoError(ErrCodeInvalidCursor, repo, "load cursor", err)
	}
}

// PollOnce fetches one snapshot for repo and reconciles it against c.
// It neither persists nor emits. Events carry repo.
func (w *Watcher) PollOnce(ctx context.Context, repo ir.RepoID, c ir.Cursor) (Result, error) {
	now := w.clock.Now()
	from, to := QueryWindow(c, now, w.opts)

	runs, err := w.source.ListRuns(ctx, repo, from, to)
	if err != nil {
		return Result{}, w.sourceError(ctx, repo, "list runs", err)
	}

	snap := Snapshot{Runs: runs, Jobs: make(map[int64][]ir.JobSnapshot)}
	for _, runID := range RunsToPoll(c, runs) {
		jobs, err := w.source.ListJobs(ctx, repo, runID)
		if err != nil {
			return Result{}, w.sourceError(ctx, repo, "list jobs", err)
		}
		snap.Jobs[runID] = jobs
	}

	res, err := Reconcile(c, snap, now, w.opts)
	if err != nil {
		var re *RuntimeError
		if errors.As(err, &re) {
			re.Repo = repo
		}
		return Result{}, err
	}
	for i := range res.Events {
		res.Events[i].Repo = repo
	}
	return res, nil
}

// Watch runs the polling loop for repo until ctx is cancelled or a fatal
// error occurs. On cancellation it returns ctx.Err().
//
// Each cycle persists the next cursor before handing events to sink. If
// the save fails nothing from that cycle is emitted.
func (w *Watcher) Watch(ctx context.Context, repo ir.RepoID, sink Sink) error {
	c, err := w.Bootstrap(ctx, repo)
	if err != nil {
		return err
	}

	for {
		next, err := w.cycle(ctx, repo, c, sink)
		if err != nil {
			return err
		}
		c = next

		if !clock.Sleep(ctx.Done(), w.clock, w.opts.PollInterval) {
			w.logger.Info("watch stopping: context cancelled", "repo", repo.String())
			return ctx.Err()
		}
	}
}

func (w *Watcher) cycle(ctx context.Context, repo ir.RepoID, c ir.Cursor, sink Sink) (ir.Cursor, error) {
	logger := w.logger.With("repo", repo.String(), "cycle", w.cycleIDs.Generate())

	res, err := w.PollOnce(ctx, repo, c)
	if err != nil {
		if ctx.Err() != nil {
			return c, ctx.Err()
		}
		logger.Error("poll failed", "error", err)
		return c, err
	}

	if err := w.store.Save(ctx, repo, res.Cursor); err != nil {
		if ctx.Err() != nil {
			return c, ctx.Err()
		}
		logger.Error("cursor save failed, dropping cycle", "error", err, "events", len(res.Events))
		return c, newRepoError(ErrCodePersistFailed, repo, "save cursor", err)
	}

	r := res.Report
	logger.Debug("cycle complete",
		"runs_listed", r.RunsListed,
		"runs_polled", r.RunsPolled,
		"emitted", r.EventsEmitted,
		"suppressed", r.EventsSuppressed,
		"retired", r.Retired,
		"pruned", r.Pruned,
		"watermark", r.Watermark)
	if r.Expired > 0 {
		logger.Warn("retired open runs past TTL", "count", r.Expired, "ttl", w.opts.OpenRunTTL)
	}

	for _, e := range res.Events {
		if err := sink.Emit(ctx, e); err != nil {
			if ctx.Err() != nil {
				return res.Cursor, ctx.Err()
			}
			return res.Cursor, newRepoError(ErrCodeEmitFailed, repo, "emit "+string(e.Event.Kind()), err)
		}
	}
	return res.Cursor, nil
}

func (w *Watcher) sourceError(ctx context.Context, repo ir.RepoID, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return newRepoError(ErrCodeSourceFailed, repo, op, err)
}
