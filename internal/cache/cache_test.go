package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bidlevel/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func snap(eventID string) *model.LevelingSnapshot {
	return &model.LevelingSnapshot{ID: "snap-" + eventID, EventID: eventID}
}

func TestSnapshotCache_BasicGetPut(t *testing.T) {
	c := New(Options{Capacity: 10})

	_, ok := c.Get("evt-1")
	assert.False(t, ok)

	c.Put(snap("evt-1"))
	got, ok := c.Get("evt-1")
	require.True(t, ok)
	assert.Equal(t, "snap-evt-1", got.ID)

	_, ok = c.Get("evt-2")
	assert.False(t, ok)
}

func TestSnapshotCache_ZeroCapacityDisables(t *testing.T) {
	c := New(Options{Capacity: 0})
	c.Put(snap("evt-1"))
	_, ok := c.Get("evt-1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestSnapshotCache_ReplaceKeepsSize(t *testing.T) {
	c := New(Options{Capacity: 2})
	c.Put(snap("evt-1"))
	newer := &model.LevelingSnapshot{ID: "snap-newer", EventID: "evt-1"}
	c.Put(newer)

	assert.Equal(t, 1, c.Len())
	got, ok := c.Get("evt-1")
	require.True(t, ok)
	assert.Equal(t, "snap-newer", got.ID)
}

func TestSnapshotCache_EvictsLowestScore_Frequency(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{Capacity: 2, RecencyWeight: 1, FrequencyWeight: 1, HalfLife: time.Minute, Now: clock.Now})

	c.Put(snap("a"))
	c.Put(snap("b"))
	c.Get("a")
	c.Get("a")

	clock.Advance(time.Minute)
	c.Put(snap("c"))

	_, ok := c.Get("b")
	assert.False(t, ok, "b has the fewest accesses")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestSnapshotCache_EvictsLowestScore_Recency(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{Capacity: 2, RecencyWeight: 1, FrequencyWeight: 0, HalfLife: time.Minute, Now: clock.Now})

	c.Put(snap("old"))
	clock.Advance(time.Minute)
	c.Put(snap("recent"))
	clock.Advance(time.Minute)
	c.Put(snap("new"))

	_, ok := c.Get("old")
	assert.False(t, ok)
	_, ok = c.Get("recent")
	assert.True(t, ok)
}

func TestSnapshotCache_TieBreaksOnEventID(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{Capacity: 2, Now: clock.Now})

	c.Put(snap("b"))
	c.Put(snap("a"))
	c.Put(snap("z"))

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
}

func TestSnapshotCache_Invalidate(t *testing.T) {
	c := New(Options{Capacity: 4})
	c.Put(snap("evt-1"))
	c.Put(snap("evt-2"))

	c.Invalidate("evt-1")
	c.Invalidate("missing")

	_, ok := c.Get("evt-1")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestSnapshotCache_Stats(t *testing.T) {
	c := New(Options{Capacity: 4})
	c.Put(snap("evt-1"))
	c.Get("evt-1")
	c.Get("evt-1")
	c.Get("evt-2")

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 4, stats.Capacity)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
}

func TestSnapshotCache_ConcurrentAccess(t *testing.T) {
	c := New(Options{Capacity: 8})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("evt-%d", (g*7+i)%20)
				c.Put(snap(id))
				c.Get(id)
				if i%50 == 0 {
					c.Invalidate(id)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 8)
}
