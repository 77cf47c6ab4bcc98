package harness

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] poll=%d %s %s\n", event.Seq, event.Poll, event.Kind, describeEvent(event))
		}
	}
	return buf.String()
}

func describeEvent(e TraceEvent) string {
	parts := []string{fmt.Sprintf("run=%d", e.RunID)}
	if e.JobID != 0 {
		parts = append(parts, fmt.Sprintf("job=%d", e.JobID))
	}
	if e.Step != 0 {
		parts = append(parts, fmt.Sprintf("step=%d", e.Step))
	}
	if e.Conclusion != "" {
		parts = append(parts, "conclusion="+string(e.Conclusion))
	}
	return strings.Join(parts, " ")
}

// matchEvent reports whether event satisfies the filters of a.
// Zero-valued filters match anything.
func matchEvent(event TraceEvent, a Assertion) bool {
	if a.Kind != "" && string(event.Kind) != a.Kind {
		return false
	}
	if a.Poll != nil && event.Poll != *a.Poll {
		return false
	}
	if a.RunID != 0 && event.RunID != a.RunID {
		return false
	}
	if a.JobID != 0 && event.JobID != a.JobID {
		return false
	}
	if a.Step != 0 && event.Step != a.Step {
		return false
	}
	if a.Conclusion != "" && string(event.Conclusion) != a.Conclusion {
		return false
	}
	return true
}

func describeFilter(a Assertion) string {
	parts := []string{a.Kind}
	if a.Kind == "" {
		parts[0] = "any event"
	}
	if a.RunID != 0 {
		parts = append(parts, fmt.Sprintf("run=%d", a.RunID))
	}
	if a.JobID != 0 {
		parts = append(parts, fmt.Sprintf("job=%d", a.JobID))
	}
	if a.Step != 0 {
		parts = append(parts, fmt.Sprintf("step=%d", a.Step))
	}
	if a.Conclusion != "" {
		parts = append(parts, "conclusion="+a.Conclusion)
	}
	if a.Poll != nil {
		parts = append(parts, fmt.Sprintf("poll=%d", *a.Poll))
	}
	return strings.Join(parts, " ")
}

// assertTraceContains checks if the trace contains an event matching the
// assertion's filters.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if matchEvent(event, assertion) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describeFilter(assertion),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if kinds first appear in the specified order.
// Kinds don't need to be consecutive (intervening events are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		kind := string(event.Kind)
		if positions[kind] == 0 {
			positions[kind] = i + 1 // 1-indexed for readability
		}
	}

	for _, kind := range assertion.Kinds {
		if positions[kind] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all kinds present: %v", assertion.Kinds),
				Actual:   fmt.Sprintf("missing kind: %s", kind),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Kinds); i++ {
		prev := assertion.Kinds[i-1]
		curr := assertion.Kinds[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("kinds in order: %v", assertion.Kinds),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count events match the filters.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if matchEvent(event, assertion) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, describeFilter(assertion)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks the persisted cursor. Only fields set in the
// expectation are compared.
func assertFinalState(cursor FinalCursor, want *StateExpect) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: AssertFinalState, Expected: expected, Actual: actual}
	}

	if len(want.OpenRuns) > 0 {
		expected := slices.Clone(want.OpenRuns)
		slices.Sort(expected)
		if !slices.Equal(expected, cursor.OpenRunIDs) {
			return fail(fmt.Sprintf("open runs %v", expected), fmt.Sprintf("open runs %v", cursor.OpenRunIDs))
		}
	}
	if want.OpenRunCount != nil && *want.OpenRunCount != cursor.OpenRuns {
		return fail(fmt.Sprintf("%d open runs", *want.OpenRunCount), fmt.Sprintf("%d open runs", cursor.OpenRuns))
	}
	if want.ProcessedEvents != nil && *want.ProcessedEvents != cursor.ProcessedEvents {
		return fail(fmt.Sprintf("%d processed events", *want.ProcessedEvents),
			fmt.Sprintf("%d processed events", cursor.ProcessedEvents))
	}
	if want.Watermark != nil && !want.Watermark.Equal(cursor.StableWatermark) {
		return fail("watermark "+formatTime(*want.Watermark), "watermark "+formatTime(cursor.StableWatermark))
	}
	if want.Bootstrap != nil && !want.Bootstrap.Equal(cursor.BootstrapInstant) {
		return fail("bootstrap "+formatTime(*want.Bootstrap), "bootstrap "+formatTime(cursor.BootstrapInstant))
	}
	return nil
}

// assertError checks that the scenario ended with the given runtime error.
func assertError(failure *Failure, code string) error {
	if failure == nil {
		return &AssertionError{Type: AssertError, Expected: "runtime error " + code, Actual: "no error"}
	}
	if string(failure.Code) != code {
		return &AssertionError{Type: AssertError, Expected: "runtime error " + code, Actual: failure.Message}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
//
// A runtime error that no "error" assertion anticipates is reported as a
// failure of its own.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string
	expectsError := false

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if assertion.State == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires state", i)
			} else {
				err = assertFinalState(result.Cursor, assertion.State)
			}
		case AssertError:
			expectsError = true
			err = assertError(result.Failure, assertion.Code)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	if result.Failure != nil && !expectsError {
		errors = append(errors, fmt.Sprintf("unexpected runtime error at poll %d: %s",
			result.Failure.Poll, result.Failure.Message))
	}
	return errors
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
