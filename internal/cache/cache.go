// Package cache implements the two layered caches of spec.md §4.D: a
// skill-entry cache keyed by skill id with TTL + file-mtime staleness
// detection, and a single-entry compiled tool-descriptor list cache
// invalidated whenever any skill entry is set or evicted.
package cache

import (
	"sync"
	"time"

	"github.com/skillflow/skillflow/internal/skill"
)

// DefaultTTL is the default cache lifetime for both layers (spec.md §4.D).
const DefaultTTL = 300 * time.Second

// Stats exposes hit/miss/invalidation counters for diagnostics.
type Stats struct {
	Hits         int64
	Misses       int64
	Invalidations int64
}

type skillEntry struct {
	sk       skill.Skill
	cachedAt time.Time
	mtime    time.Time
}

// SkillCache caches materialised Skill objects keyed by skill id. A lookup
// succeeds only if the entry's age is under TTL AND the current on-disk
// mtime of its version file still matches the mtime recorded when the
// entry was cached; otherwise the entry is evicted and the caller must
// perform a fresh load.
type SkillCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]skillEntry
	stats   Stats

	onChange func() // invoked after every Set/Invalidate to drop the tool-list cache
}

// NewSkillCache creates a SkillCache with the given TTL (DefaultTTL if <= 0).
func NewSkillCache(ttl time.Duration) *SkillCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SkillCache{ttl: ttl, entries: make(map[string]skillEntry)}
}

// OnChange registers a callback invoked whenever the cache's content
// changes (set or invalidate), so the tool-list cache can be told to drop
// its single entry.
func (c *SkillCache) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Get returns the cached skill for id if it is still fresh given
// currentMtime (the live mtime of its on-disk version file). On a miss or
// staleness, the entry is evicted and ok is false.
func (c *SkillCache) Get(id string, currentMtime time.Time) (skill.Skill, bool) {
	c.mu.Lock()

	e, ok := c.entries[id]
	if !ok {
		c.stats.Misses++
		c.mu.Unlock()
		return skill.Skill{}, false
	}
	fresh := time.Since(e.cachedAt) < c.ttl && e.mtime.Equal(currentMtime)
	if !fresh {
		delete(c.entries, id)
		c.stats.Misses++
		c.stats.Invalidations++
		fn := c.onChange
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
		return skill.Skill{}, false
	}
	c.stats.Hits++
	c.mu.Unlock()
	return e.sk, true
}

// Set stores sk in the cache under the given on-disk mtime, timestamped now.
func (c *SkillCache) Set(id string, sk skill.Skill, mtime time.Time) {
	c.mu.Lock()
	c.entries[id] = skillEntry{sk: sk, cachedAt: time.Now(), mtime: mtime}
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Invalidate evicts a single entry (e.g. after an update_skill/delete_skill).
func (c *SkillCache) Invalidate(id string) {
	c.mu.Lock()
	if _, ok := c.entries[id]; ok {
		delete(c.entries, id)
		c.stats.Invalidations++
	}
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Stats returns a snapshot of the cache's hit/miss/invalidation counters.
func (c *SkillCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
