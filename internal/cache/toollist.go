package cache

import (
	"sync"
	"time"
)

// ToolDescriptor is the externally-published shape of one tool entry in
// the compiled list (management tool, skill tool, or proxied upstream
// tool — the façade fills in whichever it is).
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// toolListEntry is the single cached value behind façade.list_tools.
type toolListEntry struct {
	tools       []ToolDescriptor
	skillIDs    map[string]bool
	cachedAt    time.Time
}

// ToolListCache holds the one compiled, externally-published tool list.
// It has no key (a single entry) and is invalidated whenever any
// SkillCache entry is set or evicted (wire this up via SkillCache.OnChange).
type ToolListCache struct {
	ttl time.Duration

	mu    sync.Mutex
	entry *toolListEntry
	stats Stats
}

// NewToolListCache creates a ToolListCache with the given TTL (DefaultTTL
// if <= 0).
func NewToolListCache(ttl time.Duration) *ToolListCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ToolListCache{ttl: ttl}
}

// Get returns the cached tool list if present and still within TTL.
func (c *ToolListCache) Get() ([]ToolDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry == nil || time.Since(c.entry.cachedAt) >= c.ttl {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	out := make([]ToolDescriptor, len(c.entry.tools))
	copy(out, c.entry.tools)
	return out, true
}

// Set stores the compiled tool list along with the set of skill ids that
// contributed to it.
func (c *ToolListCache) Set(tools []ToolDescriptor, skillIDs []string) {
	ids := make(map[string]bool, len(skillIDs))
	for _, id := range skillIDs {
		ids[id] = true
	}
	c.mu.Lock()
	c.entry = &toolListEntry{tools: tools, skillIDs: ids, cachedAt: time.Now()}
	c.mu.Unlock()
}

// Invalidate drops the single cached entry unconditionally. Call this from
// a SkillCache.OnChange callback so any skill create/update/delete/evict
// forces the next list_tools to recompile.
func (c *ToolListCache) Invalidate() {
	c.mu.Lock()
	if c.entry != nil {
		c.entry = nil
		c.stats.Invalidations++
	}
	c.mu.Unlock()
}

// Stats returns a snapshot of the cache's hit/miss/invalidation counters.
func (c *ToolListCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
