package engine

import (
	"sync"

	"github.com/google/uuid"
)

// CycleIDGenerator produces the id attached to every log line of one poll
// cycle. Implemented by UUIDv7Generator (production) and FixedGenerator
// (tests).
type CycleIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 cycle ids, so log lines
// of consecutive cycles sort by creation time.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 in its hyphenated form.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined ids in order.
//
// Example:
//
//	gen := NewFixedGenerator("c1", "c2")
//	gen.Generate() // "c1"
//	gen.Generate() // "c2"
//	gen.Generate() // panic: all ids exhausted
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id. It panics once all ids have
// been consumed, which surfaces a test that ran more cycles than expected.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
