package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/roach88/runwatch/internal/clock"
)

// ErrNoRateLimitInfo is returned when a client error carries no
// X-RateLimit-Remaining header. Without it a rate limit cannot be told
// apart from any other rejection, so the error is fatal.
var ErrNoRateLimitInfo = errors.New("github: X-RateLimit-Remaining header missing from response")

const (
	// minRateLimitWait is the floor applied when a reset time is known.
	minRateLimitWait = time.Second

	// noResetWait is used when the reset header is absent.
	noResetWait = 20 * time.Millisecond
)

// RateLimitInfo is the rate-limit state reported with a response.
type RateLimitInfo struct {
	// Status is the HTTP status of the response.
	Status int

	// Remaining is the number of requests left in the current window.
	Remaining int64

	// ResetAt is when the window resets. Zero if not reported.
	ResetAt time.Time
}

// ParseRateLimit reads X-RateLimit-Remaining (required) and
// X-RateLimit-Reset (optional, epoch seconds) from header.
func ParseRateLimit(header http.Header, status int) (RateLimitInfo, error) {
	remaining, err := strconv.ParseInt(header.Get("X-RateLimit-Remaining"), 10, 64)
	if err != nil {
		return RateLimitInfo{}, ErrNoRateLimitInfo
	}

	info := RateLimitInfo{Status: status, Remaining: remaining}
	if reset, err := strconv.ParseInt(header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		info.ResetAt = time.Unix(reset, 0).UTC()
	}
	return info, nil
}

// Exhausted reports whether the response was rejected because the quota
// ran out: status 403 or 429 with nothing remaining.
func (info RateLimitInfo) Exhausted() bool {
	rejected := info.Status == http.StatusForbidden || info.Status == http.StatusTooManyRequests
	return rejected && info.Remaining == 0
}

// WaitTime is how long to back off before retrying:
// max(ResetAt-now, 1s), or 20ms when no reset time was reported.
func (info RateLimitInfo) WaitTime(now time.Time) time.Duration {
	if info.ResetAt.IsZero() {
		return noResetWait
	}
	return max(info.ResetAt.Sub(now), minRateLimitWait)
}

// WithRateLimitRetry runs action and, if it fails with an exhausted rate
// limit, waits for the window to reset and runs it exactly once more.
//
//   - Success, non-API errors, and 5xx responses are returned unchanged.
//   - A 4xx without rate-limit headers is joined with ErrNoRateLimitInfo.
//   - A 4xx with quota remaining is returned unchanged.
//   - The retry's outcome is returned as is, even if rate limited again.
//
// The wait observes ctx; cancellation returns ctx.Err().
func WithRateLimitRetry[T any](ctx context.Context, clk clock.Clock, logger *slog.Logger, action func(context.Context) (T, error)) (T, error) {
	result, err := action(ctx)
	if err == nil {
		return result, nil
	}

	var apiError *APIError
	if !errors.As(err, &apiError) || apiError.StatusCode < 400 || apiError.StatusCode >= 500 {
		return result, err
	}

	info, parseErr := ParseRateLimit(apiError.Header, apiError.StatusCode)
	if parseErr != nil {
		var zero T
		return zero, errors.Join(err, parseErr)
	}
	if !info.Exhausted() {
		return result, err
	}

	wait := info.WaitTime(clk.Now())
	logger.Info("rate limited, backing off",
		"status", apiError.StatusCode,
		"wait", wait,
		"reset", info.ResetAt)

	if !clock.Sleep(ctx.Done(), clk, wait) {
		var zero T
		return zero, ctx.Err()
	}

	result, err = action(ctx)
	if err != nil && IsRateLimited(err) {
		return result, fmt.Errorf("github: still rate limited after one retry: %w", err)
	}
	return result, err
}
