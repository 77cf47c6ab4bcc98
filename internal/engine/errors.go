package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/runwatch/internal/ir"
)

// RuntimeError is a fatal error that ends a repository's watch loop.
//
// Runtime errors include:
//   - Protocol violation: the provider reported impossible state
//   - Persist failure: the cursor could not be saved, nothing was emitted
//   - Source failure: listing runs or jobs failed after retries
//   - Emit failure: the sink rejected an event
//   - Invalid cursor: a loaded cursor breaks its invariants
//
// RuntimeError includes structured fields for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Repo identifies the affected repository, if known.
	Repo ir.RepoID

	// RunID, JobID, and Step locate the offending entity for protocol
	// violations. Zero when not applicable.
	RunID int64
	JobID int64
	Step  int

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeProtocolViolation indicates a terminal step without a conclusion.
	ErrCodeProtocolViolation RuntimeErrorCode = "PROTOCOL_VIOLATION"

	// ErrCodePersistFailed indicates the cursor store rejected a save.
	ErrCodePersistFailed RuntimeErrorCode = "PERSIST_FAILED"

	// ErrCodeSourceFailed indicates the snapshot source returned an error.
	ErrCodeSourceFailed RuntimeErrorCode = "SOURCE_FAILED"

	// ErrCodeEmitFailed indicates the sink returned an error.
	ErrCodeEmitFailed RuntimeErrorCode = "EMIT_FAILED"

	// ErrCodeInvalidCursor indicates a loaded cursor is unusable.
	ErrCodeInvalidCursor RuntimeErrorCode = "INVALID_CURSOR"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)

	var loc []string
	if e.Repo != (ir.RepoID{}) {
		loc = append(loc, "repo="+e.Repo.String())
	}
	if e.RunID != 0 {
		loc = append(loc, fmt.Sprintf("run=%d", e.RunID))
	}
	if e.JobID != 0 {
		loc = append(loc, fmt.Sprintf("job=%d", e.JobID))
	}
	if e.Step != 0 {
		loc = append(loc, fmt.Sprintf("step=%d", e.Step))
	}
	if len(loc) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(loc, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsProtocolViolation reports whether err is a protocol violation.
// Uses errors.As to handle wrapped errors.
func IsProtocolViolation(err error) bool {
	return hasCode(err, ErrCodeProtocolViolation)
}

// IsPersistError reports whether err is a cursor persistence failure.
func IsPersistError(err error) bool {
	return hasCode(err, ErrCodePersistFailed)
}

// IsSourceError reports whether err came from the snapshot source.
func IsSourceError(err error) bool {
	return hasCode(err, ErrCodeSourceFailed)
}

// IsEmitError reports whether err came from the sink.
func IsEmitError(err error) bool {
	return hasCode(err, ErrCodeEmitFailed)
}

// NewProtocolViolation creates a RuntimeError for a terminal step reported
// without a conclusion.
func NewProtocolViolation(runID, jobID int64, step int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeProtocolViolation,
		Message: "terminal step reported without a conclusion",
		RunID:   runID,
		JobID:   jobID,
		Step:    step,
	}
}

func newRepoError(code RuntimeErrorCode, repo ir.RepoID, message string, err error) *RuntimeError {
	return &RuntimeError{Code: code, Message: message, Repo: repo, Err: err}
}
