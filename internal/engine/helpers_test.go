package engine

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/runwatch/internal/ir"
	"github.com/roach88/runwatch/internal/testutil"
)

var (
	T    = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	repo = ir.RepoID{Owner: "octo", Name: "hello"}
)

func testOptions() Options {
	return DefaultOptions()
}

func run(id int64, created time.Time) ir.RunSnapshot {
	return ir.RunSnapshot{
		ID:         id,
		Name:       "CI",
		HeadBranch: "main",
		HeadSHA:    "abc1234def",
		Status:     ir.StatusInProgress,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func runningJob(runID, id int64, started time.Time) ir.JobSnapshot {
	return ir.JobSnapshot{
		ID:        id,
		RunID:     runID,
		Name:      "build",
		Status:    ir.StatusInProgress,
		StartedAt: started,
	}
}

func finishedJob(runID, id int64, started, completed time.Time, c ir.Conclusion) ir.JobSnapshot {
	j := runningJob(runID, id, started)
	j.Status = ir.StatusCompleted
	j.CompletedAt = completed
	j.Conclusion = c
	return j
}

func kinds(events []Emitted) []ir.EventKind {
	out := make([]ir.EventKind, len(events))
	for i, e := range events {
		out[i] = e.Event.Kind()
	}
	return out
}

// recorder is a Sink that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []Emitted
}

func (r *recorder) Emit(_ context.Context, e Emitted) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Events() []Emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Emitted(nil), r.events...)
}

// stopClock is a fake clock that cancels the watch loop on its nth sleep.
// It is only safe for a single Watch goroutine.
type stopClock struct {
	*testutil.FakeClock
	cancel context.CancelFunc
	n      int
	sleeps int
}

func newStopClock(start time.Time, cancel context.CancelFunc, n int) *stopClock {
	return &stopClock{FakeClock: testutil.NewFakeClock(start), cancel: cancel, n: n}
}

func (c *stopClock) After(d time.Duration) <-chan time.Time {
	c.sleeps++
	if c.sleeps >= c.n {
		c.cancel()
		return make(chan time.Time)
	}
	return c.FakeClock.After(d)
}

// frozenClock never moves; every sleep returns at once.
type frozenClock struct{ now time.Time }

func (c frozenClock) Now() time.Time { return c.now }

func (c frozenClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}
