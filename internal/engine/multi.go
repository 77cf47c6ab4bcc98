package engine

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/runwatch/internal/ir"
)

var errQueueClosed = errors.New("event queue closed")

// WatchAll watches every repository concurrently, one loop per repository.
//
// Events from all loops are funneled through one FIFO queue and delivered
// to sink from a single goroutine, so sink needs no locking. Each loop
// enqueues a cycle's events only after persisting its cursor, and in
// OccurredAt order; events of different repositories interleave.
//
// The first fatal error cancels every loop and is returned. When ctx is
// cancelled WatchAll returns ctx.Err(). Events still queued at that point
// are dropped; their cursors are already persisted.
func (w *Watcher) WatchAll(ctx context.Context, repos []ir.RepoID, sink Sink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	q := newEventQueue()

	enqueue := SinkFunc(func(_ context.Context, e Emitted) error {
		if !q.Enqueue(e) {
			return errQueueClosed
		}
		return nil
	})

	for _, repo := range repos {
		g.Go(func() error {
			return w.Watch(gctx, repo, enqueue)
		})
	}

	drained := make(chan error, 1)
	go func() {
		err := q.Drain(gctx, sink)
		if err != nil {
			cancel()
		}
		drained <- err
	}()

	err := g.Wait()
	q.Close()
	drainErr := <-drained

	// A sink failure cancels gctx, which the loops report as cancellation.
	if drainErr != nil && !errors.Is(drainErr, context.Canceled) {
		return drainErr
	}
	return err
}
