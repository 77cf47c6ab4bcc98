package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func TestFakeClock_StandsStill(t *testing.T) {
	c := NewFakeClock(start)
	assert.Equal(t, start, c.Now())
	assert.Equal(t, start, c.Now())
}

func TestFakeClock_AfterAdvancesAndRecords(t *testing.T) {
	c := NewFakeClock(start)

	fired := <-c.After(3 * time.Second)
	assert.Equal(t, start.Add(3*time.Second), fired)
	assert.Equal(t, start.Add(3*time.Second), c.Now())

	<-c.After(0)
	assert.Equal(t, start.Add(3*time.Second), c.Now(), "zero wait does not move time")

	assert.Equal(t, []time.Duration{3 * time.Second, 0}, c.Waits())
}

func TestFakeClock_AdvanceAndSet(t *testing.T) {
	c := NewFakeClock(start)

	c.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
	assert.Empty(t, c.Waits())
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	c := NewFakeClock(start)
	const n = 50

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			<-c.After(time.Second)
		}()
	}
	wg.Wait()

	require.Len(t, c.Waits(), n)
	assert.Equal(t, start.Add(n*time.Second), c.Now())
}

func TestSequentialIDGenerator(t *testing.T) {
	g := NewSequentialIDGenerator("")
	assert.Equal(t, "cycle-1", g.Generate())
	assert.Equal(t, "cycle-2", g.Generate())

	g = NewSequentialIDGenerator("poll")
	assert.Equal(t, "poll-1", g.Generate())
}
