// Package harness runs scripted reconciliation scenarios against the real
// watcher.
//
// A scenario scripts what the provider reports on each poll. The harness
// drives an engine.Watcher through those polls with a fake clock and an
// in-memory SQLite cursor store, records every emitted event, and checks
// assertions against the trace and the final persisted cursor.
//
// # Scenario Format
//
//	name: run_lifecycle
//	description: "A run is queued, starts, and finishes"
//	repo: octo/hello
//	start: 2024-03-01T12:00:00Z
//	options:
//	  safety_delay: 5m
//	polls:
//	  - runs:
//	      - {id: 100, head_branch: main, head_sha: abc, status: queued, created_at: 2024-03-01T11:58:00Z}
//	    jobs:
//	      100:
//	        - {id: 1001, run_id: 100, name: build, status: in_progress, started_at: 2024-03-01T11:58:30Z}
//	  - advance: 1m
//	    restart: true
//	    runs: [...]
//	assertions:
//	  - type: trace_count
//	    kind: job_started
//	    count: 1
//	  - type: final_state
//	    state: {open_run_count: 0}
//
// The first poll runs at start. Each later poll runs one poll interval
// plus its advance after the previous one. A poll marked restart stops the
// watcher and starts a fresh one that reloads the cursor.
//
// # Assertion Types
//
//   - trace_contains: an event of a kind with matching ids exists
//   - trace_order: kinds first appear in the given order
//   - trace_count: exactly N events match
//   - final_state: the persisted cursor matches
//   - error: the scenario ended with a runtime error code
//
// # Golden Files
//
// RunWithGolden serializes the trace and final cursor as canonical JSON
// and compares it with testdata/golden/<name>.golden.
package harness
