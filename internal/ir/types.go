package ir

import (
	"fmt"
	"strings"
	"time"
)

// RepoID identifies a watched repository. It is the cursor store key.
type RepoID struct {
	Owner string `json:"owner" yaml:"owner"`
	Name  string `json:"name" yaml:"name"`
}

// String returns the "owner/name" form.
func (r RepoID) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepoID parses "owner/name". Both parts must be non-blank and there
// must be exactly one separator.
func ParseRepoID(s string) (RepoID, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return RepoID{}, fmt.Errorf("invalid repository %q: expected owner/name", s)
	}
	return RepoID{Owner: parts[0], Name: parts[1]}, nil
}

// Status is the provider-reported lifecycle state of a run, job, or step.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusRequested  Status = "requested"
	StatusWaiting    Status = "waiting"
	StatusPending    Status = "pending"
)

// IsTerminal reports whether no further transitions are expected.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted
}

// Conclusion is how a completed job or step ended. The empty string means
// the provider has not reported one.
type Conclusion string

const (
	ConclusionSuccess        Conclusion = "success"
	ConclusionFailure        Conclusion = "failure"
	ConclusionCancelled      Conclusion = "cancelled"
	ConclusionSkipped        Conclusion = "skipped"
	ConclusionNeutral        Conclusion = "neutral"
	ConclusionTimedOut       Conclusion = "timed_out"
	ConclusionActionRequired Conclusion = "action_required"
	ConclusionStale          Conclusion = "stale"
)

// RunSnapshot is the provider state of a workflow run at query time.
type RunSnapshot struct {
	ID         int64      `json:"id" yaml:"id"`
	Name       string     `json:"name,omitempty" yaml:"name,omitempty"`
	HeadBranch string     `json:"head_branch" yaml:"head_branch"`
	HeadSHA    string     `json:"head_sha" yaml:"head_sha"`
	Status     Status     `json:"status" yaml:"status"`
	Conclusion Conclusion `json:"conclusion,omitempty" yaml:"conclusion,omitempty"`
	CreatedAt  time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at,omitzero" yaml:"updated_at,omitempty"`
}

// JobSnapshot is the provider state of one job of a run, with its steps.
// A zero StartedAt or CompletedAt means the provider has not reported it yet.
type JobSnapshot struct {
	ID          int64          `json:"id" yaml:"id"`
	RunID       int64          `json:"run_id" yaml:"run_id"`
	Name        string         `json:"name" yaml:"name"`
	Status      Status         `json:"status" yaml:"status"`
	Conclusion  Conclusion     `json:"conclusion,omitempty" yaml:"conclusion,omitempty"`
	StartedAt   time.Time      `json:"started_at,omitzero" yaml:"started_at,omitempty"`
	CompletedAt time.Time      `json:"completed_at,omitzero" yaml:"completed_at,omitempty"`
	Steps       []StepSnapshot `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// StepSnapshot is the provider state of one step of a job.
type StepSnapshot struct {
	Number      int        `json:"number" yaml:"number"`
	Name        string     `json:"name" yaml:"name"`
	Status      Status     `json:"status" yaml:"status"`
	Conclusion  Conclusion `json:"conclusion,omitempty" yaml:"conclusion,omitempty"`
	StartedAt   time.Time  `json:"started_at,omitzero" yaml:"started_at,omitempty"`
	CompletedAt time.Time  `json:"completed_at,omitzero" yaml:"completed_at,omitempty"`
}
