package harness

import (
	"time"

	"github.com/roach88/runwatch/internal/engine"
	"github.com/roach88/runwatch/internal/ir"
)

// TraceEvent is one emitted event as recorded by the harness.
type TraceEvent struct {
	Seq        int64         `json:"seq"`
	Poll       int           `json:"poll"`
	Kind       ir.EventKind  `json:"kind"`
	OccurredAt time.Time     `json:"occurred_at"`
	RunID      int64         `json:"run_id"`
	JobID      int64         `json:"job_id,omitempty"`
	Step       int           `json:"step,omitempty"`
	Name       string        `json:"name,omitempty"`
	Conclusion ir.Conclusion `json:"conclusion,omitempty"`
	Branch     string        `json:"branch,omitempty"`
}

// Failure is the fatal error that ended a scenario early.
type Failure struct {
	Code    engine.RuntimeErrorCode `json:"code"`
	Message string                  `json:"message"`
	Poll    int                     `json:"poll"`
}

// FinalCursor is the persisted cursor after the last poll.
type FinalCursor struct {
	ir.CursorSummary
	OpenRunIDs []int64 `json:"open_run_ids"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every emitted event in delivery order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Cursor is the final persisted cursor.
	Cursor FinalCursor `json:"cursor"`

	// Failure is set when a poll ended in a runtime error.
	Failure *Failure `json:"failure,omitempty"`

	// Polls is how many polls reached the source.
	Polls int `json:"polls"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends an emitted event to the trace.
func (r *Result) AddEvent(poll int, e engine.Emitted) {
	te := TraceEvent{
		Seq:        int64(len(r.Trace) + 1),
		Poll:       poll,
		Kind:       e.Event.Kind(),
		OccurredAt: e.Event.OccurredAt(),
		RunID:      e.Event.Run(),
	}
	switch ev := e.Event.(type) {
	case ir.RunQueued:
		te.Branch = ev.Branch
	case ir.JobStarted:
		te.JobID = ev.Job.JobID
		te.Name = ev.JobName
	case ir.JobFinished:
		te.JobID = ev.Job.JobID
		te.Conclusion = ev.Conclusion
	case ir.StepStarted:
		te.JobID = ev.Step.JobID
		te.Step = ev.Step.Number
		te.Name = ev.StepName
	case ir.StepFinished:
		te.JobID = ev.Step.JobID
		te.Step = ev.Step.Number
		te.Conclusion = ev.Conclusion
	}
	r.Trace = append(r.Trace, te)
}
