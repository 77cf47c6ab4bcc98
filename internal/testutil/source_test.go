package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runwatch/internal/ir"
)

var repo = ir.RepoID{Owner: "octo", Name: "hello"}

func TestFakeSource_PlaysPollsInOrderThenRepeatsLast(t *testing.T) {
	first := FakePoll{Runs: []ir.RunSnapshot{{ID: 1, CreatedAt: start}}}
	second := FakePoll{Runs: []ir.RunSnapshot{{ID: 1, CreatedAt: start}, {ID: 2, CreatedAt: start}}}
	src := NewFakeSource(first, second)
	ctx := context.Background()

	for _, want := range []int{1, 2, 2} {
		runs, err := src.ListRuns(ctx, repo, start.Add(-time.Hour), start.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, runs, want)
	}
	assert.Equal(t, 3, src.Polls())
}

func TestFakeSource_FiltersByCreationWindow(t *testing.T) {
	src := NewFakeSource(FakePoll{Runs: []ir.RunSnapshot{
		{ID: 1, CreatedAt: start.Add(-time.Minute)},
		{ID: 2, CreatedAt: start},
		{ID: 3, CreatedAt: start.Add(time.Minute)},
		{ID: 4, CreatedAt: start.Add(2 * time.Minute)},
	}})

	runs, err := src.ListRuns(context.Background(), repo, start, start.Add(time.Minute))
	require.NoError(t, err)

	var ids []int64
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{2, 3}, ids, "window bounds are inclusive")

	q := src.Queries()
	require.Len(t, q, 1)
	assert.Equal(t, RunQuery{Repo: repo, From: start, To: start.Add(time.Minute)}, q[0])
}

func TestFakeSource_JobsFollowCurrentPoll(t *testing.T) {
	src := NewFakeSource(
		FakePoll{Jobs: map[int64][]ir.JobSnapshot{1: {{ID: 10, RunID: 1}}}},
		FakePoll{Jobs: map[int64][]ir.JobSnapshot{1: {{ID: 10, RunID: 1}, {ID: 11, RunID: 1}}}},
	)
	ctx := context.Background()

	_, err := src.ListRuns(ctx, repo, start, start)
	require.NoError(t, err)
	jobs, err := src.ListJobs(ctx, repo, 1)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = src.ListRuns(ctx, repo, start, start)
	require.NoError(t, err)
	jobs, err = src.ListJobs(ctx, repo, 1)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = src.ListJobs(ctx, repo, 99)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	assert.Equal(t, []int64{1, 1, 99}, src.JobCalls())
}

func TestFakeSource_InjectedErrors(t *testing.T) {
	boom := errors.New("boom")
	src := NewFakeSource()
	ctx := context.Background()

	src.FailRuns(boom)
	_, err := src.ListRuns(ctx, repo, start, start)
	assert.ErrorIs(t, err, boom)

	src.FailJobs(boom)
	_, err = src.ListJobs(ctx, repo, 1)
	assert.ErrorIs(t, err, boom)
}

func TestFakeSource_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFakeSource().ListRuns(ctx, repo, start, start)
	assert.ErrorIs(t, err, context.Canceled)
}
