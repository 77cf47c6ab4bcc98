package github

import (
	"fmt"
	"net/url"
	"time"

	"github.com/roach88/runwatch/internal/ir"
)

// ListWorkflowRuns iterates the workflow runs of repo created within
// [from, to], newest first as GitHub orders them. The range ends at the
// current time, so the URLs never repeat and are not revalidated.
func (client *Client) ListWorkflowRuns(repo ir.RepoID, from, to time.Time) *PageIterator[WorkflowRun] {
	path := fmt.Sprintf("/repos/%s/%s/actions/runs", url.PathEscape(repo.Owner), url.PathEscape(repo.Name))
	query := url.Values{"created": {createdRange(from, to)}}
	return list(client, path, query, false, func(page *workflowRunsPage) []WorkflowRun {
		return page.WorkflowRuns
	})
}

// ListJobs iterates the jobs of one run, each with its steps.
func (client *Client) ListJobs(repo ir.RepoID, runID int64) *PageIterator[WorkflowJob] {
	path := fmt.Sprintf("/repos/%s/%s/actions/runs/%d/jobs", url.PathEscape(repo.Owner), url.PathEscape(repo.Name), runID)
	return list(client, path, nil, true, func(page *workflowJobsPage) []WorkflowJob {
		return page.Jobs
	})
}

// createdRange formats the inclusive creation-time filter GitHub's search
// syntax expects: 2024-01-02T03:04:05Z..2024-01-02T03:09:05Z.
func createdRange(from, to time.Time) string {
	return from.UTC().Format(time.RFC3339) + ".." + to.UTC().Format(time.RFC3339)
}
