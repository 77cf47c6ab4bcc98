package ir

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RunMeta is what the cursor remembers about an open run.
type RunMeta struct {
	CreatedAt time.Time `json:"created_at"`
	Branch    string    `json:"branch"`
	CommitSHA string    `json:"commit_sha"`
	Name      string    `json:"name,omitempty"`
}

// Cursor is the persisted reconciliation state of one repository.
//
// BootstrapInstant is fixed when the repository is first watched.
// StableWatermark never decreases. OpenRuns holds runs that have emitted
// RunQueued but still have non-terminal jobs. ProcessedEventIDs maps an
// event fingerprint to the event's OccurredAt and is pruned every cycle.
type Cursor struct {
	BootstrapInstant  time.Time
	StableWatermark   time.Time
	OpenRuns          map[int64]RunMeta
	ProcessedEventIDs map[string]time.Time
}

// NewCursor returns the cursor of a repository that has never been polled.
// Both instants are set to bootstrap.
func NewCursor(bootstrap time.Time) Cursor {
	bootstrap = bootstrap.UTC()
	return Cursor{
		BootstrapInstant:  bootstrap,
		StableWatermark:   bootstrap,
		OpenRuns:          map[int64]RunMeta{},
		ProcessedEventIDs: map[string]time.Time{},
	}
}

// Clone returns a deep copy. Mutating the clone's maps never affects c.
func (c Cursor) Clone() Cursor {
	out := Cursor{
		BootstrapInstant:  c.BootstrapInstant,
		StableWatermark:   c.StableWatermark,
		OpenRuns:          make(map[int64]RunMeta, len(c.OpenRuns)),
		ProcessedEventIDs: make(map[string]time.Time, len(c.ProcessedEventIDs)),
	}
	for id, meta := range c.OpenRuns {
		out.OpenRuns[id] = meta
	}
	for fp, at := range c.ProcessedEventIDs {
		out.ProcessedEventIDs[fp] = at
	}
	return out
}

// PruneHorizon is the oldest OccurredAt a dedup entry may carry:
// max(BootstrapInstant, StableWatermark - retention).
func (c Cursor) PruneHorizon(retention time.Duration) time.Time {
	horizon := c.StableWatermark.Add(-retention)
	if horizon.Before(c.BootstrapInstant) {
		return c.BootstrapInstant
	}
	return horizon
}

// OldestOpenRun returns the earliest CreatedAt among open runs.
// ok is false when no run is open.
func (c Cursor) OldestOpenRun() (oldest time.Time, ok bool) {
	for _, meta := range c.OpenRuns {
		if !ok || meta.CreatedAt.Before(oldest) {
			oldest = meta.CreatedAt
			ok = true
		}
	}
	return oldest, ok
}

// Validate checks the cursor invariants that must hold at the end of
// every cycle.
func (c Cursor) Validate(now time.Time, retention time.Duration) error {
	if c.BootstrapInstant.IsZero() {
		return errors.New("cursor: bootstrap instant is not set")
	}
	if c.StableWatermark.Before(c.BootstrapInstant) {
		return fmt.Errorf("cursor: watermark %s precedes bootstrap %s",
			formatInstant(c.StableWatermark), formatInstant(c.BootstrapInstant))
	}
	if c.StableWatermark.After(now) {
		return fmt.Errorf("cursor: watermark %s is in the future (now %s)",
			formatInstant(c.StableWatermark), formatInstant(now))
	}
	horizon := c.PruneHorizon(retention)
	for fp, at := range c.ProcessedEventIDs {
		if at.Before(horizon) {
			return fmt.Errorf("cursor: dedup entry %s at %s is older than horizon %s",
				fp, formatInstant(at), formatInstant(horizon))
		}
	}
	return nil
}

// CursorSummary is a count-only view of a cursor for display.
type CursorSummary struct {
	BootstrapInstant time.Time `json:"bootstrap_instant"`
	StableWatermark  time.Time `json:"stable_watermark"`
	OpenRuns         int       `json:"open_runs"`
	ProcessedEvents  int       `json:"processed_events"`
	OldestOpenRun    time.Time `json:"oldest_open_run,omitzero"`
}

// Summary returns counts and instants without the dedup table.
func (c Cursor) Summary() CursorSummary {
	oldest, _ := c.OldestOpenRun()
	return CursorSummary{
		BootstrapInstant: c.BootstrapInstant,
		StableWatermark:  c.StableWatermark,
		OpenRuns:         len(c.OpenRuns),
		ProcessedEvents:  len(c.ProcessedEventIDs),
		OldestOpenRun:    oldest,
	}
}

// cursorDocument is the persisted layout. encoding/json writes the int64
// map keys as decimal strings and sorts all map keys, so encoding is
// deterministic.
type cursorDocument struct {
	Version           int                  `json:"version"`
	BootstrapInstant  *time.Time           `json:"bootstrap_instant"`
	StableWatermark   *time.Time           `json:"stable_watermark"`
	OpenRuns          map[int64]RunMeta    `json:"open_runs"`
	ProcessedEventIDs map[string]time.Time `json:"processed_event_ids"`
}

// EncodeCursor serializes a cursor. All timestamps are written in UTC.
func EncodeCursor(c Cursor) ([]byte, error) {
	bootstrap := c.BootstrapInstant.UTC()
	watermark := c.StableWatermark.UTC()
	doc := cursorDocument{
		Version:           CursorVersion,
		BootstrapInstant:  &bootstrap,
		StableWatermark:   &watermark,
		OpenRuns:          make(map[int64]RunMeta, len(c.OpenRuns)),
		ProcessedEventIDs: make(map[string]time.Time, len(c.ProcessedEventIDs)),
	}
	for id, meta := range c.OpenRuns {
		meta.CreatedAt = meta.CreatedAt.UTC()
		doc.OpenRuns[id] = meta
	}
	for fp, at := range c.ProcessedEventIDs {
		doc.ProcessedEventIDs[fp] = at.UTC()
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode cursor: %w", err)
	}
	return data, nil
}

// DecodeCursor parses a persisted cursor. Unknown fields are ignored so that
// documents written by newer versions still load.
func DecodeCursor(data []byte) (Cursor, error) {
	var doc cursorDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return Cursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	if doc.BootstrapInstant == nil {
		return Cursor{}, errors.New("decode cursor: missing bootstrap_instant")
	}
	if doc.StableWatermark == nil {
		return Cursor{}, errors.New("decode cursor: missing stable_watermark")
	}

	c := Cursor{
		BootstrapInstant:  doc.BootstrapInstant.UTC(),
		StableWatermark:   doc.StableWatermark.UTC(),
		OpenRuns:          make(map[int64]RunMeta, len(doc.OpenRuns)),
		ProcessedEventIDs: make(map[string]time.Time, len(doc.ProcessedEventIDs)),
	}
	for id, meta := range doc.OpenRuns {
		meta.CreatedAt = meta.CreatedAt.UTC()
		c.OpenRuns[id] = meta
	}
	for fp, at := range doc.ProcessedEventIDs {
		c.ProcessedEventIDs[fp] = at.UTC()
	}
	return c, nil
}

func formatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
