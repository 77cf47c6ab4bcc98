package format

import (
	"encoding/json"
	"time"

	"github.com/roach88/runwatch/internal/engine"
	"github.com/roach88/runwatch/internal/ir"
)

// Record is the flat, serializable form of an emitted event. It is the
// JSON line written by the json format and the websocket payload.
type Record struct {
	Repo        string        `json:"repo"`
	Kind        ir.EventKind  `json:"kind"`
	OccurredAt  time.Time     `json:"occurred_at"`
	RunID       int64         `json:"run_id"`
	JobID       int64         `json:"job_id,omitempty"`
	StepNumber  int           `json:"step_number,omitempty"`
	Name        string        `json:"name,omitempty"`
	Conclusion  ir.Conclusion `json:"conclusion,omitempty"`
	Branch      string        `json:"branch,omitempty"`
	CommitSHA   string        `json:"commit_sha,omitempty"`
	RunName     string        `json:"run_name,omitempty"`
	Fingerprint string        `json:"fingerprint"`
}

// NewRecord flattens e.
func NewRecord(e engine.Emitted) Record {
	r := Record{
		Repo:        e.Repo.String(),
		Kind:        e.Event.Kind(),
		OccurredAt:  e.Event.OccurredAt().UTC(),
		RunID:       e.Event.Run(),
		Branch:      e.Branch,
		CommitSHA:   e.CommitSHA,
		RunName:     e.RunName,
		Fingerprint: ir.Fingerprint(e.Event),
	}
	switch ev := e.Event.(type) {
	case ir.JobStarted:
		r.JobID = ev.Job.JobID
		r.Name = ev.JobName
	case ir.JobFinished:
		r.JobID = ev.Job.JobID
		r.Conclusion = ev.Conclusion
	case ir.StepStarted:
		r.JobID = ev.Step.JobID
		r.StepNumber = ev.Step.Number
		r.Name = ev.StepName
	case ir.StepFinished:
		r.JobID = ev.Step.JobID
		r.StepNumber = ev.Step.Number
		r.Conclusion = ev.Conclusion
	}
	return r
}

// JSON renders e as one JSON object without a trailing newline.
func JSON(e engine.Emitted) ([]byte, error) {
	return json.Marshal(NewRecord(e))
}
