// Package engine implements the runwatch reconciliation engine.
//
// The engine turns repeated snapshots of a repository's workflow runs,
// jobs, and steps into a deduplicated, time-ordered stream of lifecycle
// events, resuming across restarts from a small persisted cursor.
//
// ARCHITECTURE:
//
// Reconcile is a pure function. Given the previous cursor, one snapshot,
// and the current instant, it returns the new events and the next cursor.
// It never mutates its input cursor; all bookkeeping happens on a clone.
//
// Watcher drives Reconcile for one repository:
//  1. Load the cursor, or bootstrap and persist a new one
//  2. List runs created in [max(bootstrap, watermark-overlap), now]
//  3. List jobs for every discovered or still-open run
//  4. Reconcile
//  5. Persist the next cursor
//  6. Emit the events in OccurredAt order
//  7. Sleep for the poll interval, then repeat until cancelled
//
// The cursor is persisted before events are emitted. A crash between the
// two loses that cycle's events rather than duplicating them downstream.
//
// WatchAll runs one Watcher loop per repository and funnels every event
// through a single FIFO queue so the sink is never called concurrently.
//
// Suspension points are the network calls and the inter-poll sleep; both
// observe context cancellation.
package engine
