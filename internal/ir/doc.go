// Package ir provides the canonical data model for runwatch.
//
// This package contains type definitions and pure functions only. All other
// internal packages import ir; ir imports nothing internal. This keeps the
// event taxonomy and the cursor layout the foundational layer with no
// circular dependencies.
//
// Key design constraints:
//   - Event is a closed set of five variants (unexported marker method)
//   - Fingerprints depend on the variant kind and identity fields only
//   - Cursor values are never mutated in place by the engine; use Clone
//   - All persisted timestamps are UTC RFC 3339 with nanoseconds
//   - JSON tags use snake_case
package ir
