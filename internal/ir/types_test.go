package ir

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseRepoID(t *testing.T) {
	tests := []struct {
		in      string
		want    RepoID
		wantErr bool
	}{
		{"octo/hello", RepoID{Owner: "octo", Name: "hello"}, false},
		{"octo/hello.go", RepoID{Owner: "octo", Name: "hello.go"}, false},
		{"octo", RepoID{}, true},
		{"octo/", RepoID{}, true},
		{"/hello", RepoID{}, true},
		{" /hello", RepoID{}, true},
		{"a/b/c", RepoID{}, true},
		{"", RepoID{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRepoID(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	for _, s := range []Status{StatusQueued, StatusInProgress, StatusRequested, StatusWaiting, StatusPending, ""} {
		assert.False(t, s.IsTerminal(), "%q", s)
	}
}

func TestSnapshotJSONFieldNaming(t *testing.T) {
	job := JobSnapshot{
		ID:        1,
		RunID:     2,
		Name:      "build",
		Status:    StatusInProgress,
		StartedAt: t0,
		Steps:     []StepSnapshot{{Number: 1, Name: "checkout", Status: StatusQueued}},
	}
	data, err := json.Marshal(job)
	require.NoError(t, err)

	assert.Contains(t, string(data), `"run_id"`)
	assert.Contains(t, string(data), `"started_at"`)
	assert.NotContains(t, string(data), `"completed_at"`, "zero times are omitted")
	assert.NotContains(t, string(data), `"runId"`)
}

func TestSnapshotYAMLTimestamps(t *testing.T) {
	doc := `
id: 10
head_branch: main
head_sha: abc
status: completed
created_at: 2024-01-02T03:04:05Z
`
	var run RunSnapshot
	require.NoError(t, yaml.Unmarshal([]byte(doc), &run))

	assert.Equal(t, int64(10), run.ID)
	assert.True(t, run.CreatedAt.Equal(t0))
	assert.True(t, run.UpdatedAt.IsZero())
	assert.Equal(t, StatusCompleted, run.Status)
}

func TestEventAccessors(t *testing.T) {
	job := JobRef{RunID: 5, JobID: 6}
	tests := []struct {
		event Event
		kind  EventKind
	}{
		{RunQueued{At: t0, RunID: 5}, KindRunQueued},
		{JobStarted{At: t0, Job: job}, KindJobStarted},
		{JobFinished{At: t0, Job: job}, KindJobFinished},
		{StepStarted{At: t0, Step: StepRef{JobRef: job, Number: 1}}, KindStepStarted},
		{StepFinished{At: t0, Step: StepRef{JobRef: job, Number: 1}}, KindStepFinished},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.event.Kind())
			assert.Equal(t, int64(5), tt.event.Run())
			assert.Equal(t, t0, tt.event.OccurredAt())
		})
	}
}

func TestStepRefJSONIsFlat(t *testing.T) {
	data, err := json.Marshal(StepFinished{
		At:         time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Step:       StepRef{JobRef: JobRef{RunID: 1, JobID: 2}, Number: 3},
		Conclusion: ConclusionSuccess,
	})
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"occurred_at":"2024-01-02T03:04:05Z","step":{"run_id":1,"job_id":2,"step_number":3},"conclusion":"success"}`,
		string(data))
}
