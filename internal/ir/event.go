package ir

import "time"

// EventKind tags an Event variant. The kind participates in the
// fingerprint, so the string values are part of the persisted format.
type EventKind string

const (
	KindRunQueued    EventKind = "run_queued"
	KindJobStarted   EventKind = "job_started"
	KindJobFinished  EventKind = "job_finished"
	KindStepStarted  EventKind = "step_started"
	KindStepFinished EventKind = "step_finished"
)

// Event is a lifecycle transition observed at the provider.
//
// The set of implementations is closed: RunQueued, JobStarted, JobFinished,
// StepStarted, StepFinished. Events are immutable values.
type Event interface {
	// Kind returns the variant tag.
	Kind() EventKind

	// OccurredAt is when the transition happened at the provider,
	// not when it was observed.
	OccurredAt() time.Time

	// Run returns the workflow run the event belongs to.
	Run() int64

	// identity returns the fields that make the event unique within
	// its kind. Restricts implementations to this package.
	identity() map[string]any
}

// JobRef identifies a job within a run.
type JobRef struct {
	RunID int64 `json:"run_id"`
	JobID int64 `json:"job_id"`
}

// StepRef identifies a step within a job.
type StepRef struct {
	JobRef
	Number int `json:"step_number"`
}

// RunQueued is emitted the first time a run is seen.
type RunQueued struct {
	At        time.Time `json:"occurred_at"`
	RunID     int64     `json:"run_id"`
	Branch    string    `json:"branch"`
	CommitSHA string    `json:"commit_sha"`
}

func (e RunQueued) Kind() EventKind       { return KindRunQueued }
func (e RunQueued) OccurredAt() time.Time { return e.At }
func (e RunQueued) Run() int64            { return e.RunID }
func (e RunQueued) identity() map[string]any {
	return map[string]any{"run_id": e.RunID}
}

// JobStarted is emitted once a job reports a start time.
type JobStarted struct {
	At      time.Time `json:"occurred_at"`
	Job     JobRef    `json:"job"`
	JobName string    `json:"job_name"`
}

func (e JobStarted) Kind() EventKind       { return KindJobStarted }
func (e JobStarted) OccurredAt() time.Time { return e.At }
func (e JobStarted) Run() int64            { return e.Job.RunID }
func (e JobStarted) identity() map[string]any {
	return e.Job.identity()
}

// JobFinished is emitted once a job is terminal with a completion time.
type JobFinished struct {
	At         time.Time  `json:"occurred_at"`
	Job        JobRef     `json:"job"`
	Conclusion Conclusion `json:"conclusion"`
}

func (e JobFinished) Kind() EventKind       { return KindJobFinished }
func (e JobFinished) OccurredAt() time.Time { return e.At }
func (e JobFinished) Run() int64            { return e.Job.RunID }
func (e JobFinished) identity() map[string]any {
	return e.Job.identity()
}

// StepStarted is emitted once a step reports a start time.
type StepStarted struct {
	At       time.Time `json:"occurred_at"`
	Step     StepRef   `json:"step"`
	StepName string    `json:"step_name"`
}

func (e StepStarted) Kind() EventKind       { return KindStepStarted }
func (e StepStarted) OccurredAt() time.Time { return e.At }
func (e StepStarted) Run() int64            { return e.Step.RunID }
func (e StepStarted) identity() map[string]any {
	return e.Step.identity()
}

// StepFinished is emitted once a step is terminal with a completion time.
type StepFinished struct {
	At         time.Time  `json:"occurred_at"`
	Step       StepRef    `json:"step"`
	Conclusion Conclusion `json:"conclusion"`
}

func (e StepFinished) Kind() EventKind       { return KindStepFinished }
func (e StepFinished) OccurredAt() time.Time { return e.At }
func (e StepFinished) Run() int64            { return e.Step.RunID }
func (e StepFinished) identity() map[string]any {
	return e.Step.identity()
}

func (j JobRef) identity() map[string]any {
	return map[string]any{"run_id": j.RunID, "job_id": j.JobID}
}

func (s StepRef) identity() map[string]any {
	return map[string]any{"run_id": s.RunID, "job_id": s.JobID, "step_number": s.Number}
}
