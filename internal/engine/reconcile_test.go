package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runwatch/internal/ir"
)

func TestQueryWindow(t *testing.T) {
	opts := testOptions()

	t.Run("clamped to bootstrap", func(t *testing.T) {
		c := ir.NewCursor(T)
		from, to := QueryWindow(c, T.Add(time.Minute), opts)
		assert.Equal(t, T, from)
		assert.Equal(t, T.Add(time.Minute), to)
	})

	t.Run("overlap below watermark", func(t *testing.T) {
		c := ir.NewCursor(T)
		c.StableWatermark = T.Add(time.Hour)
		from, _ := QueryWindow(c, T.Add(2*time.Hour), opts)
		assert.Equal(t, T.Add(time.Hour-2*time.Minute), from)
	})
}

func TestRunsToPoll(t *testing.T) {
	c := ir.NewCursor(T)
	c.OpenRuns[30] = ir.RunMeta{CreatedAt: T}
	c.OpenRuns[10] = ir.RunMeta{CreatedAt: T}

	got := RunsToPoll(c, []ir.RunSnapshot{run(20, T), run(10, T)})
	assert.Equal(t, []int64{10, 20, 30}, got)
}

func TestReconcile_Bootstrap(t *testing.T) {
	prev := ir.NewCursor(T.Add(-5 * time.Minute))

	res, err := Reconcile(prev, Snapshot{}, T, testOptions())
	require.NoError(t, err)

	assert.Empty(t, res.Events)
	assert.Empty(t, res.Cursor.OpenRuns)
	assert.Equal(t, T.Add(-5*time.Minute), res.Cursor.BootstrapInstant)
	assert.Equal(t, T.Add(-5*time.Minute), res.Cursor.StableWatermark)
}

func TestReconcile_SimpleRunLifecycle(t *testing.T) {
	prev := ir.NewCursor(T.Add(-5 * time.Minute))
	snap := Snapshot{
		Runs: []ir.RunSnapshot{run(1, T)},
		Jobs: map[int64][]ir.JobSnapshot{
			1: {finishedJob(1, 11, T.Add(time.Second), T.Add(10*time.Second), ir.ConclusionSuccess)},
		},
	}

	res, err := Reconcile(prev, snap, T.Add(time.Minute), testOptions())
	require.NoError(t, err)

	require.Equal(t, []ir.EventKind{ir.KindRunQueued, ir.KindJobStarted, ir.KindJobFinished}, kinds(res.Events))
	assert.Equal(t, ir.RunQueued{At: T, RunID: 1, Branch: "main", CommitSHA: "abc1234def"}, res.Events[0].Event)
	assert.Equal(t, ir.JobFinished{
		At:         T.Add(10 * time.Second),
		Job:        ir.JobRef{RunID: 1, JobID: 11},
		Conclusion: ir.ConclusionSuccess,
	}, res.Events[2].Event)

	assert.NotContains(t, res.Cursor.OpenRuns, int64(1))
	assert.Equal(t, []int64{1}, res.Retired)
	assert.Equal(t, 1, res.Report.Retired)
	assert.Len(t, res.Cursor.ProcessedEventIDs, 3)
}

func TestReconcile_DedupAcrossPolls(t *testing.T) {
	opts := testOptions()
	prev := ir.NewCursor(T.Add(-5 * time.Minute))

	first, err := Reconcile(prev, Snapshot{
		Runs: []ir.RunSnapshot{run(1, T)},
		Jobs: map[int64][]ir.JobSnapshot{1: {runningJob(1, 11, T.Add(time.Second))}},
	}, T.Add(5*time.Second), opts)
	require.NoError(t, err)
	assert.Equal(t, []ir.EventKind{ir.KindRunQueued, ir.KindJobStarted}, kinds(first.Events))
	assert.Contains(t, first.Cursor.OpenRuns, int64(1))

	second, err := Reconcile(first.Cursor, Snapshot{
		Runs: []ir.RunSnapshot{run(1, T)},
		Jobs: map[int64][]ir.JobSnapshot{
			1: {finishedJob(1, 11, T.Add(time.Second), T.Add(10*time.Second), ir.ConclusionSuccess)},
		},
	}, T.Add(15*time.Second), opts)
	require.NoError(t, err)

	assert.Equal(t, []ir.EventKind{ir.KindJobFinished}, kinds(second.Events))
	assert.Equal(t, 2, second.Report.EventsSuppressed)
	assert.NotContains(t, second.Cursor.OpenRuns, int64(1))
}

func TestReconcile_SameSnapshotTwiceEmitsNothing(t *testing.T) {
	opts := testOptions()
	snap := Snapshot{
		Runs: []ir.RunSnapshot{run(1, T), run(2, T.Add(time.Second))},
		Jobs: map[int64][]ir.JobSnapshot{
			1: {runningJob(1, 11, T.Add(2*time.Second))},
			2: {runningJob(2, 21, T.Add(3*time.Second))},
		},
	}

	first, err := Reconcile(ir.NewCursor(T.Add(-5*time.Minute)), snap, T.Add(time.Minute), opts)
	require.NoError(t, err)
	require.Len(t, first.Events, 4)

	second, err := Reconcile(first.Cursor, snap, T.Add(2*time.Minute), opts)
	require.NoError(t, err)
	assert.Empty(t, second.Events)
	assert.Equal(t, 4, second.Report.EventsSuppressed)
}

func TestReconcile_DuplicateRunInOneSnapshot(t *testing.T) {
	snap := Snapshot{Runs: []ir.RunSnapshot{run(1, T), run(1, T)}}

	res, err := Reconcile(ir.NewCursor(T.Add(-5*time.Minute)), snap, T.Add(time.Minute), testOptions())
	require.NoError(t, err)
	assert.Equal(t, []ir.EventKind{ir.KindRunQueued}, kinds(res.Events))
}

func TestReconcile_StepEvents(t *testing.T) {
	job := runningJob(1, 11, T.Add(time.Second))
	job.Steps = []ir.StepSnapshot{
		{
			Number:      1,
			Name:        "checkout",
			Status:      ir.StatusCompleted,
			Conclusion:  ir.ConclusionSuccess,
			StartedAt:   T.Add(time.Second),
			CompletedAt: T.Add(3 * time.Second),
		},
		{Number: 2, Name: "test", Status: ir.StatusInProgress, StartedAt: T.Add(3 * time.Second)},
		{Number: 3, Name: "deploy", Status: ir.StatusQueued},
	}
	snap := Snapshot{Runs: []ir.RunSnapshot{run(1, T)}, Jobs: map[int64][]ir.JobSnapshot{1: {job}}}

	res, err := Reconcile(ir.NewCursor(T.Add(-5*time.Minute)), snap, T.Add(time.Minute), testOptions())
	require.NoError(t, err)

	// Ties keep discovery order: job before its step, finish before next start.
	assert.Equal(t, []ir.EventKind{
		ir.KindRunQueued,
		ir.KindJobStarted,
		ir.KindStepStarted,
		ir.KindStepFinished,
		ir.KindStepStarted,
	}, kinds(res.Events))
	assert.Equal(t, ir.StepStarted{
		At:       T.Add(time.Second),
		Step:     ir.StepRef{JobRef: ir.JobRef{RunID: 1, JobID: 11}, Number: 1},
		StepName: "checkout",
	}, res.Events[2].Event)
	assert.Contains(t, res.Cursor.OpenRuns, int64(1))
}

func TestReconcile_EventsSortedByOccurredAt(t *testing.T) {
	snap := Snapshot{
		Runs: []ir.RunSnapshot{run(2, T.Add(time.Second)), run(1, T)},
		Jobs: map[int64][]ir.JobSnapshot{
			1: {finishedJob(1, 11, T.Add(30*time.Second), T.Add(40*time.Second), ir.ConclusionFailure)},
			2: {runningJob(2, 21, T.Add(20*time.Second))},
		},
	}

	res, err := Reconcile(ir.NewCursor(T.Add(-5*time.Minute)), snap, T.Add(time.Minute), testOptions())
	require.NoError(t, err)

	for i := 1; i < len(res.Events); i++ {
		assert.False(t, res.Events[i].Event.OccurredAt().Before(res.Events[i-1].Event.OccurredAt()),
			"event %d precedes event %d", i, i-1)
	}
	assert.Equal(t, []int64{1, 2, 2, 1, 1}, []int64{
		res.Events[0].Event.Run(),
		res.Events[1].Event.Run(),
		res.Events[2].Event.Run(),
		res.Events[3].Event.Run(),
		res.Events[4].Event.Run(),
	})
}

func TestReconcile_ProtocolViolation(t *testing.T) {
	job := runningJob(1, 11, T.Add(time.Second))
	job.Steps = []ir.StepSnapshot{
		{Number: 4, Name: "lint", Status: ir.StatusCompleted, StartedAt: T.Add(time.Second)},
	}
	snap := Snapshot{Runs: []ir.RunSnapshot{run(1, T)}, Jobs: map[int64][]ir.JobSnapshot{1: {job}}}

	_, err := Reconcile(ir.NewCursor(T.Add(-5*time.Minute)), snap, T.Add(time.Minute), testOptions())
	require.Error(t, err)
	assert.True(t, IsProtocolViolation(err))

	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, int64(1), re.RunID)
	assert.Equal(t, int64(11), re.JobID)
	assert.Equal(t, 4, re.Step)
}

func TestReconcile_TerminalJobWithoutConclusionStaysOpen(t *testing.T) {
	job := finishedJob(1, 11, T.Add(time.Second), T.Add(10*time.Second), "")
	snap := Snapshot{Runs: []ir.RunSnapshot{run(1, T)}, Jobs: map[int64][]ir.JobSnapshot{1: {job}}}

	res, err := Reconcile(ir.NewCursor(T.Add(-5*time.Minute)), snap, T.Add(time.Minute), testOptions())
	require.NoError(t, err)
	assert.Equal(t, []ir.EventKind{ir.KindRunQueued, ir.KindJobStarted}, kinds(res.Events))
	assert.Contains(t, res.Cursor.OpenRuns, int64(1))
}

func TestReconcile_RunWithoutJobsStaysOpen(t *testing.T) {
	snap := Snapshot{Runs: []ir.RunSnapshot{run(1, T)}}

	res, err := Reconcile(ir.NewCursor(T.Add(-5*time.Minute)), snap, T.Add(time.Minute), testOptions())
	require.NoError(t, err)
	assert.Contains(t, res.Cursor.OpenRuns, int64(1))
	assert.Empty(t, res.Retired)
}

func TestReconcile_PartiallyFinishedRunStaysOpen(t *testing.T) {
	snap := Snapshot{
		Runs: []ir.RunSnapshot{run(1, T)},
		Jobs: map[int64][]ir.JobSnapshot{1: {
			finishedJob(1, 11, T.Add(time.Second), T.Add(5*time.Second), ir.ConclusionSuccess),
			runningJob(1, 12, T.Add(6*time.Second)),
		}},
	}

	res, err := Reconcile(ir.NewCursor(T.Add(-5*time.Minute)), snap, T.Add(time.Minute), testOptions())
	require.NoError(t, err)
	assert.Contains(t, res.Cursor.OpenRuns, int64(1))
}

func TestReconcile_OpenRunPolledOutsideWindow(t *testing.T) {
	prev := ir.NewCursor(T.Add(-2 * time.Hour))
	prev.StableWatermark = T.Add(-65 * time.Minute)
	prev.OpenRuns[7] = ir.RunMeta{CreatedAt: T.Add(-time.Hour), Branch: "release", CommitSHA: "feed", Name: "Deploy"}

	snap := Snapshot{Jobs: map[int64][]ir.JobSnapshot{
		7: {finishedJob(7, 70, T.Add(-59*time.Minute), T.Add(-time.Minute), ir.ConclusionCancelled)},
	}}

	res, err := Reconcile(prev, snap, T, testOptions())
	require.NoError(t, err)

	require.Equal(t, []ir.EventKind{ir.KindJobStarted, ir.KindJobFinished}, kinds(res.Events))
	assert.Equal(t, "release", res.Events[1].Branch)
	assert.Equal(t, "feed", res.Events[1].CommitSHA)
	assert.Equal(t, "Deploy", res.Events[1].RunName)
	assert.Empty(t, res.Cursor.OpenRuns)
	assert.Equal(t, 1, res.Report.RunsPolled)
}

func TestReconcile_WatermarkHeldByOldestOpenRun(t *testing.T) {
	prev := ir.NewCursor(T.Add(-10 * time.Minute))
	snap := Snapshot{
		Runs: []ir.RunSnapshot{run(1, T)},
		Jobs: map[int64][]ir.JobSnapshot{1: {runningJob(1, 11, T.Add(time.Second))}},
	}

	res, err := Reconcile(prev, snap, T.Add(time.Hour), testOptions())
	require.NoError(t, err)
	assert.Equal(t, T.Add(-5*time.Minute), res.Cursor.StableWatermark)
}

func TestReconcile_WatermarkNeverRegresses(t *testing.T) {
	prev := ir.NewCursor(T.Add(-time.Hour))
	prev.StableWatermark = T.Add(time.Hour)

	res, err := Reconcile(prev, Snapshot{}, T.Add(30*time.Minute), testOptions())
	require.NoError(t, err)
	assert.Equal(t, T.Add(time.Hour), res.Cursor.StableWatermark)

	// A late-discovered old run cannot pull it back either.
	res, err = Reconcile(prev, Snapshot{Runs: []ir.RunSnapshot{run(1, T)}}, T.Add(2*time.Hour), testOptions())
	require.NoError(t, err)
	assert.Equal(t, T.Add(time.Hour), res.Cursor.StableWatermark)
}

func TestReconcile_PrunesDedupTable(t *testing.T) {
	prev := ir.NewCursor(T.Add(-3 * time.Hour))
	prev.ProcessedEventIDs["stale"] = T.Add(-2 * time.Hour)
	prev.ProcessedEventIDs["fresh"] = T.Add(50 * time.Minute)

	res, err := Reconcile(prev, Snapshot{}, T.Add(time.Hour), testOptions())
	require.NoError(t, err)

	// watermark = T+55m, horizon = T+25m
	assert.Equal(t, T.Add(55*time.Minute), res.Cursor.StableWatermark)
	assert.NotContains(t, res.Cursor.ProcessedEventIDs, "stale")
	assert.Contains(t, res.Cursor.ProcessedEventIDs, "fresh")
	assert.Equal(t, 1, res.Report.Pruned)
}

func TestReconcile_PruneNeverBelowBootstrap(t *testing.T) {
	prev := ir.NewCursor(T)
	prev.ProcessedEventIDs["kept"] = T

	res, err := Reconcile(prev, Snapshot{}, T.Add(10*time.Minute), testOptions())
	require.NoError(t, err)
	assert.Contains(t, res.Cursor.ProcessedEventIDs, "kept")
}

func TestReconcile_OpenRunTTL(t *testing.T) {
	opts := testOptions()
	opts.OpenRunTTL = time.Hour

	prev := ir.NewCursor(T.Add(-3 * time.Hour))
	prev.OpenRuns[1] = ir.RunMeta{CreatedAt: T.Add(-2 * time.Hour)}
	prev.OpenRuns[2] = ir.RunMeta{CreatedAt: T.Add(-30 * time.Minute)}

	res, err := Reconcile(prev, Snapshot{}, T, opts)
	require.NoError(t, err)

	assert.NotContains(t, res.Cursor.OpenRuns, int64(1))
	assert.Contains(t, res.Cursor.OpenRuns, int64(2))
	assert.Equal(t, []int64{1}, res.Retired)
	assert.Equal(t, 1, res.Report.Expired)
	assert.Equal(t, 0, res.Report.Retired)
	assert.Equal(t, T.Add(-35*time.Minute), res.Cursor.StableWatermark)
}

func TestReconcile_TTLDisabledKeepsStuckRuns(t *testing.T) {
	prev := ir.NewCursor(T.Add(-48 * time.Hour))
	prev.OpenRuns[1] = ir.RunMeta{CreatedAt: T.Add(-47 * time.Hour)}

	res, err := Reconcile(prev, Snapshot{}, T, testOptions())
	require.NoError(t, err)
	assert.Contains(t, res.Cursor.OpenRuns, int64(1))
}

func TestReconcile_DoesNotMutatePrevious(t *testing.T) {
	prev := ir.NewCursor(T.Add(-5 * time.Minute))
	prev.OpenRuns[9] = ir.RunMeta{CreatedAt: T.Add(-time.Minute)}
	prev.ProcessedEventIDs["x"] = T.Add(-time.Minute)
	before := prev.Clone()

	snap := Snapshot{
		Runs: []ir.RunSnapshot{run(1, T)},
		Jobs: map[int64][]ir.JobSnapshot{
			1: {finishedJob(1, 11, T.Add(time.Second), T.Add(2*time.Second), ir.ConclusionSuccess)},
			9: {finishedJob(9, 91, T, T.Add(time.Second), ir.ConclusionSuccess)},
		},
	}
	_, err := Reconcile(prev, snap, T.Add(time.Hour), testOptions())
	require.NoError(t, err)

	assert.Equal(t, before, prev)
}

func TestReconcile_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	snap := Snapshot{Runs: []ir.RunSnapshot{run(1, T.In(loc))}}

	res, err := Reconcile(ir.NewCursor(T.Add(-5*time.Minute)), snap, T.Add(time.Minute).In(loc), testOptions())
	require.NoError(t, err)

	assert.Equal(t, time.UTC, res.Events[0].Event.OccurredAt().Location())
	assert.Equal(t, time.UTC, res.Cursor.OpenRuns[1].CreatedAt.Location())
}
