package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/runwatch/internal/engine"
	"github.com/roach88/runwatch/internal/ir"
)

// Scenario defines a reconciliation test scenario.
// A scenario scripts what the provider reports on each poll and asserts on
// the events the watcher emits and the cursor it leaves behind.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Repo is the watched repository, "owner/name".
	Repo string `yaml:"repo"`

	// Start is the clock reading when the watcher bootstraps.
	Start time.Time `yaml:"start"`

	// Options overrides the reconciliation tunables. Zero fields keep
	// their defaults.
	Options ScenarioOptions `yaml:"options,omitempty"`

	// Polls is the provider script, one entry per cycle.
	Polls []Poll `yaml:"polls"`

	// Assertions validate the final trace and cursor.
	// Supported types: trace_contains, trace_order, trace_count,
	// final_state, error
	Assertions []Assertion `yaml:"assertions"`
}

// ScenarioOptions mirrors engine.Options for YAML.
type ScenarioOptions struct {
	SafetyDelay     time.Duration `yaml:"safety_delay,omitempty"`
	Overlap         time.Duration `yaml:"overlap,omitempty"`
	DedupeRetention time.Duration `yaml:"dedupe_retention,omitempty"`
	PollInterval    time.Duration `yaml:"poll_interval,omitempty"`
	OpenRunTTL      time.Duration `yaml:"open_run_ttl,omitempty"`
}

// engineOptions fills unset fields from engine.DefaultOptions.
func (o ScenarioOptions) engineOptions() engine.Options {
	opts := engine.DefaultOptions()
	if o.SafetyDelay > 0 {
		opts.SafetyDelay = o.SafetyDelay
	}
	if o.Overlap > 0 {
		opts.Overlap = o.Overlap
	}
	if o.DedupeRetention > 0 {
		opts.DedupeRetention = o.DedupeRetention
	}
	if o.PollInterval > 0 {
		opts.PollInterval = o.PollInterval
	}
	opts.OpenRunTTL = o.OpenRunTTL
	return opts
}

// Poll is what the provider reports during one cycle.
type Poll struct {
	// Advance is extra time that passes before this poll, on top of the
	// poll interval. Not allowed on the first poll.
	Advance time.Duration `yaml:"advance,omitempty"`

	// Restart stops the watcher before this poll and starts a new one that
	// reloads the cursor from the store.
	Restart bool `yaml:"restart,omitempty"`

	// Runs are listed as-is, filtered to the query window.
	Runs []ir.RunSnapshot `yaml:"runs,omitempty"`

	// Jobs is keyed by run id. Runs without an entry have no jobs.
	Jobs map[int64][]ir.JobSnapshot `yaml:"jobs,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event of Kind matching the given fields exists
	// - "trace_order": Kinds first appear in this order
	// - "trace_count": exactly Count events of Kind (all kinds if empty)
	// - "final_state": the persisted cursor matches State
	// - "error": the scenario ended with a runtime error of Code
	Type string `yaml:"type"`

	// Kind is the event kind (trace_contains, trace_count).
	Kind string `yaml:"kind,omitempty"`

	// RunID, JobID, Step and Conclusion narrow a trace_contains match.
	// Zero values match anything.
	RunID      int64  `yaml:"run_id,omitempty"`
	JobID      int64  `yaml:"job_id,omitempty"`
	Step       int    `yaml:"step,omitempty"`
	Conclusion string `yaml:"conclusion,omitempty"`

	// Poll restricts trace_contains and trace_count to one cycle.
	Poll *int `yaml:"poll,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Kinds is the expected order (trace_order).
	Kinds []string `yaml:"kinds,omitempty"`

	// State is the expected cursor (final_state). Unset fields are not
	// checked.
	State *StateExpect `yaml:"state,omitempty"`

	// Code is the expected runtime error code (error).
	Code string `yaml:"code,omitempty"`
}

// StateExpect describes the expected final cursor.
type StateExpect struct {
	OpenRuns        []int64    `yaml:"open_runs,omitempty"`
	OpenRunCount    *int       `yaml:"open_run_count,omitempty"`
	ProcessedEvents *int       `yaml:"processed_events,omitempty"`
	Watermark       *time.Time `yaml:"watermark,omitempty"`
	Bootstrap       *time.Time `yaml:"bootstrap,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertError         = "error"
)

var validKinds = map[string]bool{
	string(ir.KindRunQueued):    true,
	string(ir.KindJobStarted):   true,
	string(ir.KindJobFinished):  true,
	string(ir.KindStepStarted):  true,
	string(ir.KindStepFinished): true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := ir.ParseRepoID(s.Repo); err != nil {
		return fmt.Errorf("repo: %w", err)
	}
	if s.Start.IsZero() {
		return fmt.Errorf("start is required")
	}
	if len(s.Polls) == 0 {
		return fmt.Errorf("polls list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if err := s.Options.engineOptions().Validate(); err != nil {
		return fmt.Errorf("options: %w", err)
	}

	if s.Polls[0].Advance != 0 || s.Polls[0].Restart {
		return fmt.Errorf("polls[0]: advance and restart are not allowed on the first poll")
	}
	for i, p := range s.Polls {
		if p.Advance < 0 {
			return fmt.Errorf("polls[%d]: advance must be non-negative", i)
		}
		for j, run := range p.Runs {
			if run.ID <= 0 {
				return fmt.Errorf("polls[%d].runs[%d]: id must be positive", i, j)
			}
			if run.CreatedAt.IsZero() {
				return fmt.Errorf("polls[%d].runs[%d]: created_at is required", i, j)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if !validKinds[a.Kind] {
			return fmt.Errorf("assertions[%d]: valid kind is required for trace_contains, got %q", index, a.Kind)
		}
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", index)
		}
		for _, k := range a.Kinds {
			if !validKinds[k] {
				return fmt.Errorf("assertions[%d]: unknown kind %q in trace_order", index, k)
			}
		}
	case AssertTraceCount:
		if a.Kind != "" && !validKinds[a.Kind] {
			return fmt.Errorf("assertions[%d]: unknown kind %q for trace_count", index, a.Kind)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.State == nil {
			return fmt.Errorf("assertions[%d]: state is required for final_state", index)
		}
	case AssertError:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for error", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
