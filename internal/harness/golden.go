package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/runwatch/internal/ir"
)

// TraceSnapshot captures the observable outcome of a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Cursor       FinalCursor
	Failure      *Failure
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// ir.MarshalCanonical only handles primitives, slices and maps; instants
// are written as RFC 3339 strings in UTC.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"seq":         event.Seq,
			"poll":        event.Poll,
			"kind":        string(event.Kind),
			"occurred_at": formatTime(event.OccurredAt),
			"run_id":      event.RunID,
		}
		if event.JobID != 0 {
			eventMap["job_id"] = event.JobID
		}
		if event.Step != 0 {
			eventMap["step"] = event.Step
		}
		if event.Name != "" {
			eventMap["name"] = event.Name
		}
		if event.Conclusion != "" {
			eventMap["conclusion"] = string(event.Conclusion)
		}
		if event.Branch != "" {
			eventMap["branch"] = event.Branch
		}
		traceList[i] = eventMap
	}

	openRuns := make([]any, len(s.Cursor.OpenRunIDs))
	for i, id := range s.Cursor.OpenRunIDs {
		openRuns[i] = id
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"cursor": map[string]any{
			"bootstrap_instant": formatTime(s.Cursor.BootstrapInstant),
			"stable_watermark":  formatTime(s.Cursor.StableWatermark),
			"open_runs":         openRuns,
			"processed_events":  s.Cursor.ProcessedEvents,
		},
	}
	if s.Failure != nil {
		result["failure"] = map[string]any{
			"code": string(s.Failure.Code),
			"poll": s.Failure.Poll,
		}
	}
	return result
}

// Marshal returns the canonical JSON form compared against golden files.
func (s *TraceSnapshot) Marshal() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// NewTraceSnapshot builds the snapshot of a finished scenario.
func NewTraceSnapshot(name string, result *Result) *TraceSnapshot {
	return &TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		Cursor:       result.Cursor,
		Failure:      result.Failure,
	}
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := NewTraceSnapshot(scenarioName, result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
