// Package format renders emitted events for humans and machines.
//
// Text output is one colored line per event:
//
//	[2024-01-02T03:04:05Z] RUN_QUEUED  ID: 42                      | main @ abcdef0
//
// JSON output is one Record per line.
package format
