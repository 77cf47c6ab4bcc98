package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/runwatch/internal/ir"
)

// FakePoll is what the provider reports during one poll cycle.
type FakePoll struct {
	Runs []ir.RunSnapshot
	Jobs map[int64][]ir.JobSnapshot
}

// RunQuery records one ListRuns call.
type RunQuery struct {
	Repo ir.RepoID
	From time.Time
	To   time.Time
}

// FakeSource is an in-memory snapshot source returning canned polls.
//
// Each ListRuns call advances to the next poll; ListJobs answers from the
// poll most recently returned by ListRuns. Once the script is exhausted the
// last poll repeats. Runs are filtered to the requested creation window the
// way the provider filters them.
//
// Implements engine.SnapshotSource.
type FakeSource struct {
	mu       sync.Mutex
	polls    []FakePoll
	next     int
	current  FakePoll
	queries  []RunQuery
	jobCalls []int64
	runsErr  error
	jobsErr  error
}

// NewFakeSource creates a source that plays polls in order.
func NewFakeSource(polls ...FakePoll) *FakeSource {
	return &FakeSource{polls: polls}
}

// ListRuns returns the runs of the next poll created within [from, to].
func (s *FakeSource) ListRuns(ctx context.Context, repo ir.RepoID, from, to time.Time) ([]ir.RunSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries = append(s.queries, RunQuery{Repo: repo, From: from, To: to})
	if s.runsErr != nil {
		return nil, s.runsErr
	}

	if len(s.polls) > 0 {
		idx := s.next
		if idx >= len(s.polls) {
			idx = len(s.polls) - 1
		}
		s.current = s.polls[idx]
		s.next++
	}

	var out []ir.RunSnapshot
	for _, run := range s.current.Runs {
		if run.CreatedAt.Before(from) || run.CreatedAt.After(to) {
			continue
		}
		out = append(out, run)
	}
	return out, nil
}

// ListJobs returns the jobs of runID in the current poll. Unknown runs have
// no jobs.
func (s *FakeSource) ListJobs(ctx context.Context, repo ir.RepoID, runID int64) ([]ir.JobSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobCalls = append(s.jobCalls, runID)
	if s.jobsErr != nil {
		return nil, s.jobsErr
	}
	jobs := s.current.Jobs[runID]
	out := make([]ir.JobSnapshot, len(jobs))
	copy(out, jobs)
	return out, nil
}

// FailRuns makes every subsequent ListRuns call return err.
func (s *FakeSource) FailRuns(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runsErr = err
}

// FailJobs makes every subsequent ListJobs call return err.
func (s *FakeSource) FailJobs(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobsErr = err
}

// Queries returns every ListRuns call in order.
func (s *FakeSource) Queries() []RunQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunQuery, len(s.queries))
	copy(out, s.queries)
	return out
}

// JobCalls returns the run ids passed to ListJobs in order.
func (s *FakeSource) JobCalls() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.jobCalls))
	copy(out, s.jobCalls)
	return out
}

// Polls returns how many times ListRuns has been called.
func (s *FakeSource) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}
