// Package github is a small GitHub Actions REST client and the snapshot
// source the watcher polls through.
//
// Only the two read endpoints the watcher needs are covered: workflow runs
// of a repository filtered by creation time, and the jobs (with steps) of
// one run. Every request is authenticated with a bearer token, pinned to
// API version 2022-11-28, and conditionally revalidated with ETags.
//
// Rate limiting follows one rule: a 403 or 429 whose X-RateLimit-Remaining
// is zero is retried exactly once after waiting until X-RateLimit-Reset
// (at least one second). Any other client error, or a second rate-limit
// rejection, is returned to the caller. See WithRateLimitRetry.
package github
