package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/runwatch/internal/clock"
)

// Defaults for Options.
const (
	DefaultSafetyDelay     = 5 * time.Minute
	DefaultOverlap         = 2 * time.Minute
	DefaultDedupeRetention = 30 * time.Minute
	DefaultPollInterval    = 10 * time.Second
)

// Options are the reconciliation tunables. They are read-only once a
// Watcher is constructed and may be shared between repositories.
type Options struct {
	// SafetyDelay is subtracted from now before the watermark may advance.
	SafetyDelay time.Duration

	// Overlap is the trailing slice below the watermark that is re-queried
	// every cycle.
	Overlap time.Duration

	// DedupeRetention is how far below the watermark fingerprints are kept.
	DedupeRetention time.Duration

	// PollInterval is the sleep between cycles.
	PollInterval time.Duration

	// OpenRunTTL retires an open run once it is older than this, whatever
	// its jobs report. Zero disables it.
	OpenRunTTL time.Duration
}

// DefaultOptions returns the production tunables.
func DefaultOptions() Options {
	return Options{
		SafetyDelay:     DefaultSafetyDelay,
		Overlap:         DefaultOverlap,
		DedupeRetention: DefaultDedupeRetention,
		PollInterval:    DefaultPollInterval,
	}
}

// Validate reports tunables that break reconciliation. A fingerprint must
// outlive the overlap: a run re-listed in the overlap whose fingerprint was
// already pruned would be reported again.
func (o Options) Validate() error {
	if o.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", o.PollInterval)
	}
	if o.SafetyDelay < 0 || o.Overlap < 0 || o.OpenRunTTL < 0 {
		return errors.New("safety delay, overlap and open run TTL must not be negative")
	}
	if o.DedupeRetention <= o.Overlap {
		return fmt.Errorf("dedupe retention %s must be greater than overlap %s", o.DedupeRetention, o.Overlap)
	}
	return nil
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithSafetyDelay sets Options.SafetyDelay.
func WithSafetyDelay(d time.Duration) Option {
	return func(w *Watcher) { w.opts.SafetyDelay = d }
}

// WithOverlap sets Options.Overlap.
func WithOverlap(d time.Duration) Option {
	return func(w *Watcher) { w.opts.Overlap = d }
}

// WithDedupeRetention sets Options.DedupeRetention.
func WithDedupeRetention(d time.Duration) Option {
	return func(w *Watcher) { w.opts.DedupeRetention = d }
}

// WithPollInterval sets Options.PollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) { w.opts.PollInterval = d }
}

// WithOpenRunTTL enables retirement of runs that stay open longer than d.
//
// Default: disabled. A run that disappears from the provider before all of
// its jobs finish is otherwise polled until the process restarts.
func WithOpenRunTTL(d time.Duration) Option {
	return func(w *Watcher) { w.opts.OpenRunTTL = d }
}

// WithOptions replaces all tunables at once.
func WithOptions(opts Options) Option {
	return func(w *Watcher) { w.opts = opts }
}

// WithClock sets the clock used for "now" and for the inter-poll sleep.
func WithClock(c clock.Clock) Option {
	return func(w *Watcher) { w.clock = c }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithCycleIDs sets the generator for per-cycle log correlation ids.
// Default: UUIDv7Generator.
func WithCycleIDs(g CycleIDGenerator) Option {
	return func(w *Watcher) { w.cycleIDs = g }
}
