// Package store persists reconciliation cursors, one per repository.
//
// Four implementations share the same document layout (ir.EncodeCursor):
//   - Store: SQLite, the default for the CLI
//   - FileStore: one JSON file per repository
//   - Postgres: a shared table for multi-host deployments
//   - Memory: in-process, for tests and the scenario harness
//
// Load returns ErrNotFound when a repository has never been watched.
// Documents are decoded with ir.DecodeCursor, which ignores unknown fields,
// so a cursor written by a newer version still loads.
//
// # SQLite Configuration
//
//   - WAL mode: Concurrent reads (cursor show) during writes (watch)
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// A Save is a single upsert, so a cursor is either fully replaced or left
// untouched.
package store
