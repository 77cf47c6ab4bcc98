// Package clock abstracts wall-clock time so the polling loop and the
// rate-limit wrapper can be driven deterministically in tests.
//
// Production code injects Real(). Tests inject testutil.FakeClock, whose
// After returns immediately and records the requested duration.
package clock
