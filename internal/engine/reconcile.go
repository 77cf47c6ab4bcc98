package engine

import (
	"cmp"
	"slices"
	"time"

	"github.com/roach88/runwatch/internal/ir"
)

// Snapshot is everything the source reported during one cycle.
//
// Jobs is keyed by run id. A run that was polled but has no entry is
// treated as having no jobs yet.
type Snapshot struct {
	Runs []ir.RunSnapshot
	Jobs map[int64][]ir.JobSnapshot
}

// Emitted is an event together with the run context needed to render it.
type Emitted struct {
	Event     ir.Event
	Repo      ir.RepoID
	Branch    string
	CommitSHA string
	RunName   string
}

// CycleReport summarizes one reconciliation for logging.
type CycleReport struct {
	RunsListed       int
	RunsPolled       int
	EventsEmitted    int
	EventsSuppressed int
	Retired          int
	Expired          int
	Pruned           int
	Watermark        time.Time
}

// Result is the outcome of Reconcile.
type Result struct {
	// Events are the new events in OccurredAt order.
	Events []Emitted

	// Cursor is the state to persist before emitting Events.
	Cursor ir.Cursor

	// Retired lists runs that left the open set this cycle, ascending.
	Retired []int64

	Report CycleReport
}

// QueryWindow returns the creation-time range of runs to list:
// [max(bootstrap, watermark-overlap), now].
func QueryWindow(c ir.Cursor, now time.Time, opts Options) (from, to time.Time) {
	from = c.StableWatermark.Add(-opts.Overlap)
	if from.Before(c.BootstrapInstant) {
		from = c.BootstrapInstant
	}
	return from, now
}

// RunsToPoll returns the union of the cursor's open runs and the listed
// runs, ascending by id. Every one of them needs its jobs fetched.
func RunsToPoll(c ir.Cursor, runs []ir.RunSnapshot) []int64 {
	set := make(map[int64]struct{}, len(c.OpenRuns)+len(runs))
	for id := range c.OpenRuns {
		set[id] = struct{}{}
	}
	for _, run := range runs {
		set[run.ID] = struct{}{}
	}
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Reconcile folds one snapshot into the cursor.
//
// It discovers new runs, derives job and step transitions for every open
// run, drops events already present in the dedup table, retires runs whose
// jobs have all finished, advances the watermark, and prunes the dedup
// table. prev is not modified.
//
// A step reported as terminal without a conclusion is a protocol violation;
// Reconcile then returns a *RuntimeError and no cursor.
func Reconcile(prev ir.Cursor, snap Snapshot, now time.Time, opts Options) (Result, error) {
	now = now.UTC()
	next := prev.Clone()
	var candidates []Emitted

	// Run discovery, oldest first.
	runs := slices.Clone(snap.Runs)
	slices.SortStableFunc(runs, func(a, b ir.RunSnapshot) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	for _, run := range runs {
		if _, open := next.OpenRuns[run.ID]; !open {
			next.OpenRuns[run.ID] = ir.RunMeta{
				CreatedAt: run.CreatedAt.UTC(),
				Branch:    run.HeadBranch,
				CommitSHA: run.HeadSHA,
				Name:      run.Name,
			}
		}
		candidates = append(candidates, withRun(ir.RunQueued{
			At:        run.CreatedAt.UTC(),
			RunID:     run.ID,
			Branch:    run.HeadBranch,
			CommitSHA: run.HeadSHA,
		}, next.OpenRuns[run.ID]))
	}

	// Job and step expansion over every open run.
	polled := RunsToPoll(prev, snap.Runs)
	var retired []int64
	for _, runID := range polled {
		meta := next.OpenRuns[runID]
		jobs := snap.Jobs[runID]

		allFinished := len(jobs) > 0
		for _, job := range jobs {
			events, finished, err := expandJob(runID, job)
			if err != nil {
				return Result{}, err
			}
			for _, e := range events {
				candidates = append(candidates, withRun(e, meta))
			}
			allFinished = allFinished && finished
		}
		if allFinished {
			delete(next.OpenRuns, runID)
			retired = append(retired, runID)
		}
	}

	expired := expireOpenRuns(&next, now, opts)
	retired = append(retired, expired...)
	slices.Sort(retired)

	// Watermark: never past the oldest open run, never backwards.
	candidate := now.Add(-opts.SafetyDelay)
	if oldest, ok := next.OldestOpenRun(); ok {
		if bound := oldest.Add(-opts.SafetyDelay); bound.Before(candidate) {
			candidate = bound
		}
	}
	if candidate.After(prev.StableWatermark) {
		next.StableWatermark = candidate
	}

	// Dedup fold.
	events := make([]Emitted, 0, len(candidates))
	for _, c := range candidates {
		fp := ir.Fingerprint(c.Event)
		if _, seen := next.ProcessedEventIDs[fp]; seen {
			continue
		}
		next.ProcessedEventIDs[fp] = c.Event.OccurredAt().UTC()
		events = append(events, c)
	}

	horizon := next.PruneHorizon(opts.DedupeRetention)
	pruned := 0
	for fp, at := range next.ProcessedEventIDs {
		if at.Before(horizon) {
			delete(next.ProcessedEventIDs, fp)
			pruned++
		}
	}

	slices.SortStableFunc(events, func(a, b Emitted) int {
		return a.Event.OccurredAt().Compare(b.Event.OccurredAt())
	})

	return Result{
		Events:  events,
		Cursor:  next,
		Retired: retired,
		Report: CycleReport{
			RunsListed:       len(snap.Runs),
			RunsPolled:       len(polled),
			EventsEmitted:    len(events),
			EventsSuppressed: len(candidates) - len(events),
			Retired:          len(retired) - len(expired),
			Expired:          len(expired),
			Pruned:           pruned,
			Watermark:        next.StableWatermark,
		},
	}, nil
}

// expandJob derives the events of one job and its steps. finished reports
// whether the job has reached a state the run may retire on.
func expandJob(runID int64, job ir.JobSnapshot) (events []ir.Event, finished bool, err error) {
	ref := ir.JobRef{RunID: runID, JobID: job.ID}

	if !job.StartedAt.IsZero() {
		events = append(events, ir.JobStarted{At: job.StartedAt.UTC(), Job: ref, JobName: job.Name})
	}

	// A completed job whose conclusion has not propagated yet stays open
	// until the provider reports it.
	finished = job.Status.IsTerminal() && !job.CompletedAt.IsZero() && job.Conclusion != ""
	if finished {
		events = append(events, ir.JobFinished{At: job.CompletedAt.UTC(), Job: ref, Conclusion: job.Conclusion})
	}

	for _, step := range job.Steps {
		sref := ir.StepRef{JobRef: ref, Number: step.Number}
		if !step.StartedAt.IsZero() {
			events = append(events, ir.StepStarted{At: step.StartedAt.UTC(), Step: sref, StepName: step.Name})
		}
		if !step.Status.IsTerminal() {
			continue
		}
		if step.Conclusion == "" {
			return nil, false, NewProtocolViolation(runID, job.ID, step.Number)
		}
		if !step.CompletedAt.IsZero() {
			events = append(events, ir.StepFinished{At: step.CompletedAt.UTC(), Step: sref, Conclusion: step.Conclusion})
		}
	}
	return events, finished, nil
}

// expireOpenRuns retires runs older than OpenRunTTL and returns their ids.
func expireOpenRuns(c *ir.Cursor, now time.Time, opts Options) []int64 {
	if opts.OpenRunTTL <= 0 {
		return nil
	}
	cutoff := now.Add(-opts.OpenRunTTL)
	var expired []int64
	for id, meta := range c.OpenRuns {
		if meta.CreatedAt.Before(cutoff) {
			delete(c.OpenRuns, id)
			expired = append(expired, id)
		}
	}
	slices.Sort(expired)
	return expired
}

func withRun(e ir.Event, meta ir.RunMeta) Emitted {
	return Emitted{Event: e, Branch: meta.Branch, CommitSHA: meta.CommitSHA, RunName: meta.Name}
}
