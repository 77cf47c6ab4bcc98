package github

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/runwatch/internal/engine"
	"github.com/roach88/runwatch/internal/ir"
)

// Source adapts a Client to engine.SnapshotSource.
//
// Status and conclusion strings are passed through verbatim, so a value
// GitHub adds later reaches the engine unchanged rather than failing the
// decode.
type Source struct {
	client *Client
}

var _ engine.SnapshotSource = (*Source)(nil)

// NewSource wraps client.
func NewSource(client *Client) *Source {
	return &Source{client: client}
}

// ListRuns returns every run of repo created within [from, to].
func (s *Source) ListRuns(ctx context.Context, repo ir.RepoID, from, to time.Time) ([]ir.RunSnapshot, error) {
	runs, err := s.client.ListWorkflowRuns(repo, from, to).Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing runs of %s: %w", repo, err)
	}

	out := make([]ir.RunSnapshot, 0, len(runs))
	for _, r := range runs {
		out = append(out, ir.RunSnapshot{
			ID:         r.ID,
			Name:       r.Name,
			HeadBranch: r.HeadBranch,
			HeadSHA:    r.HeadSHA,
			Status:     ir.Status(r.Status),
			Conclusion: ir.Conclusion(r.Conclusion),
			CreatedAt:  r.CreatedAt.UTC(),
			UpdatedAt:  r.UpdatedAt.UTC(),
		})
	}
	return out, nil
}

// ListJobs returns every job of runID with its steps.
func (s *Source) ListJobs(ctx context.Context, repo ir.RepoID, runID int64) ([]ir.JobSnapshot, error) {
	jobs, err := s.client.ListJobs(repo, runID).Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing jobs of %s run %d: %w", repo, runID, err)
	}

	out := make([]ir.JobSnapshot, 0, len(jobs))
	for _, j := range jobs {
		job := ir.JobSnapshot{
			ID:          j.ID,
			RunID:       j.RunID,
			Name:        j.Name,
			Status:      ir.Status(j.Status),
			Conclusion:  ir.Conclusion(j.Conclusion),
			StartedAt:   j.StartedAt.UTC(),
			CompletedAt: j.CompletedAt.UTC(),
		}
		if job.RunID == 0 {
			job.RunID = runID
		}
		for _, st := range j.Steps {
			job.Steps = append(job.Steps, ir.StepSnapshot{
				Number:      st.Number,
				Name:        st.Name,
				Status:      ir.Status(st.Status),
				Conclusion:  ir.Conclusion(st.Conclusion),
				StartedAt:   st.StartedAt.UTC(),
				CompletedAt: st.CompletedAt.UTC(),
			})
		}
		out = append(out, job)
	}
	return out, nil
}
