// Package cache keeps recently requested leveling snapshots in memory,
// keyed by event id, with a hard capacity and score-based eviction.
package cache

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/bidlevel/internal/model"
)

// Options configures a SnapshotCache.
type Options struct {
	// Capacity is the maximum number of events held. Zero disables caching.
	Capacity int

	// Eviction removes the entry with the lowest
	// RecencyWeight*recency + FrequencyWeight*accessCount, where recency
	// halves every HalfLife since the last access.
	RecencyWeight   float64
	FrequencyWeight float64
	HalfLife        time.Duration

	// Now is injectable for tests.
	Now func() time.Time
}

// SnapshotCache is a concurrent-safe snapshot cache.
type SnapshotCache struct {
	mu      sync.Mutex
	opts    Options
	entries map[string]*entry
	hits    atomic.Int64
	misses  atomic.Int64
	evicted atomic.Int64
}

type entry struct {
	snap       *model.LevelingSnapshot
	lastAccess time.Time
	accesses   int
}

// Stats contains cache performance statistics.
type Stats struct {
	Entries   int     `json:"entries"`
	Capacity  int     `json:"capacity"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// New creates a SnapshotCache.
func New(opts Options) *SnapshotCache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HalfLife <= 0 {
		opts.HalfLife = 15 * time.Minute
	}
	if opts.RecencyWeight == 0 && opts.FrequencyWeight == 0 {
		opts.RecencyWeight = 0.7
		opts.FrequencyWeight = 0.3
	}
	if opts.Capacity < 0 {
		opts.Capacity = 0
	}
	return &SnapshotCache{
		opts:    opts,
		entries: make(map[string]*entry),
	}
}

// Get returns the cached snapshot for the event and records the access.
func (c *SnapshotCache) Get(eventID string) (*model.LevelingSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[eventID]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	e.lastAccess = c.opts.Now()
	e.accesses++
	c.hits.Add(1)
	return e.snap, true
}

// Put stores the snapshot under its event id, replacing any previous one.
// When the cache is full the lowest-scoring entry is evicted first.
func (c *SnapshotCache) Put(snap *model.LevelingSnapshot) {
	if snap == nil || c.opts.Capacity == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	if e, ok := c.entries[snap.EventID]; ok {
		e.snap = snap
		e.lastAccess = now
		e.accesses++
		return
	}

	for len(c.entries) >= c.opts.Capacity {
		c.evictLocked(now)
	}
	c.entries[snap.EventID] = &entry{snap: snap, lastAccess: now, accesses: 1}
}

// Invalidate drops the event's snapshot, if cached.
func (c *SnapshotCache) Invalidate(eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, eventID)
}

// Len returns the number of cached events.
func (c *SnapshotCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache performance statistics.
func (c *SnapshotCache) Stats() Stats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Entries:   entries,
		Capacity:  c.opts.Capacity,
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evicted.Load(),
		HitRate:   hitRate,
	}
}

func (c *SnapshotCache) score(e *entry, now time.Time) float64 {
	age := now.Sub(e.lastAccess)
	if age < 0 {
		age = 0
	}
	recency := math.Pow(0.5, float64(age)/float64(c.opts.HalfLife))
	return c.opts.RecencyWeight*recency + c.opts.FrequencyWeight*float64(e.accesses)
}

// evictLocked removes the lowest-scoring entry. Ties go to the least
// recently accessed, then to the smallest event id.
func (c *SnapshotCache) evictLocked(now time.Time) {
	var (
		victim    string
		victimE   *entry
		lowest    float64
		haveFirst bool
	)
	for id, e := range c.entries {
		s := c.score(e, now)
		if !haveFirst || s < lowest ||
			(s == lowest && (e.lastAccess.Before(victimE.lastAccess) ||
				(e.lastAccess.Equal(victimE.lastAccess) && id < victim))) {
			victim, victimE, lowest, haveFirst = id, e, s, true
		}
	}
	if haveFirst {
		delete(c.entries, victim)
		c.evicted.Add(1)
	}
}
