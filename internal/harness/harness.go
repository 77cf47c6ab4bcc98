package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/runwatch/internal/engine"
	"github.com/roach88/runwatch/internal/ir"
	"github.com/roach88/runwatch/internal/store"
	"github.com/roach88/runwatch/internal/testutil"
)

// Harness is the test execution engine.
// It drives a real engine.Watcher against a scripted source with a
// deterministic clock and an in-memory SQLite cursor store.
type Harness struct {
	store  *store.Store
	source *testutil.FakeSource
	clock  *testutil.FakeClock
	opts   engine.Options
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
//  1. Create fresh in-memory database and scripted source
//  2. Start a watcher at scenario.Start
//  3. Let it poll once per scripted poll, restarting where asked
//  4. Record emitted events and the final cursor
//  5. Evaluate assertions
//
// A runtime error ends the scenario and is recorded in Result.Failure;
// it is only an error return when setup itself fails.
func Run(scenario *Scenario) (*Result, error) {
	repo, err := ir.ParseRepoID(scenario.Repo)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	polls := make([]testutil.FakePoll, len(scenario.Polls))
	for i, p := range scenario.Polls {
		polls[i] = testutil.FakePoll{Runs: p.Runs, Jobs: p.Jobs}
	}

	h := &Harness{
		store:  st,
		source: testutil.NewFakeSource(polls...),
		clock:  testutil.NewFakeClock(scenario.Start),
		opts:   scenario.Options.engineOptions(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	ctx := context.Background()
	result := NewResult()

	for _, seg := range segments(scenario.Polls) {
		if seg.first > 0 {
			h.clock.Advance(h.opts.PollInterval + scenario.Polls[seg.first].Advance)
		}
		failure := h.watch(ctx, repo, scenario.Polls[seg.first:seg.end], result)
		if failure != nil {
			result.Failure = failure
			break
		}
	}
	result.Polls = h.source.Polls()

	final, err := st.Load(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to load final cursor: %w", err)
	}
	result.Cursor = finalCursor(final)

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

// watch runs one watcher over polls. It returns the runtime error that
// stopped it, or nil when every poll completed.
func (h *Harness) watch(ctx context.Context, repo ir.RepoID, polls []Poll, result *Result) *Failure {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	clk := &scriptClock{FakeClock: h.clock, cancel: cancel}
	for _, p := range polls[1:] {
		clk.advances = append(clk.advances, p.Advance)
	}

	w := engine.NewWatcher(h.source, h.store,
		engine.WithOptions(h.opts),
		engine.WithClock(clk),
		engine.WithLogger(h.logger),
		engine.WithCycleIDs(testutil.NewSequentialIDGenerator("cycle")),
	)

	sink := engine.SinkFunc(func(_ context.Context, e engine.Emitted) error {
		result.AddEvent(h.source.Polls()-1, e)
		return nil
	})

	err := w.Watch(ctx, repo, sink)
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}

	f := &Failure{Message: err.Error(), Poll: h.source.Polls() - 1}
	var re *engine.RuntimeError
	if errors.As(err, &re) {
		f.Code = re.Code
	}
	return f
}

type segment struct{ first, end int }

// segments splits polls at every restart.
func segments(polls []Poll) []segment {
	var out []segment
	first := 0
	for i := 1; i < len(polls); i++ {
		if polls[i].Restart {
			out = append(out, segment{first, i})
			first = i
		}
	}
	return append(out, segment{first, len(polls)})
}

// scriptClock lets a watcher sleep once per remaining poll, moving the
// fake clock forward, then cancels the watch on the following sleep.
type scriptClock struct {
	*testutil.FakeClock
	cancel   context.CancelFunc
	advances []time.Duration
}

func (c *scriptClock) After(d time.Duration) <-chan time.Time {
	if len(c.advances) == 0 {
		c.cancel()
		return nil
	}
	extra := c.advances[0]
	c.advances = c.advances[1:]
	return c.FakeClock.After(d + extra)
}

func finalCursor(c ir.Cursor) FinalCursor {
	ids := make([]int64, 0, len(c.OpenRuns))
	for id := range c.OpenRuns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return FinalCursor{CursorSummary: c.Summary(), OpenRunIDs: ids}
}
