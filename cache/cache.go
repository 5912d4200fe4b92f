// Package cache contains the bounded in-process caches used by the dialects, most notably the
// statement cache: a least-recently-used map from generated statement text to its prepared form
// that loads each missing entry at most once, however many callers ask for it concurrently.
package cache

// Cache is a generic bounded cache. Implementations keep recency and evict the
// least recently used entries once capacity is reached.
type Cache[TK comparable, TV any] interface {
	// Get returns the value cached under key and marks it most recently used.
	Get(key TK) (TV, bool)
	// Set inserts or replaces the value under key, evicting as needed.
	Set(key TK, value TV)
	// Delete removes key, if present.
	Delete(key TK)
	// Clear removes all entries.
	Clear()
	// Count returns the number of entries.
	Count() int
	// Capacity returns the maximum number of entries retained.
	Capacity() int
}

type cacheEntry[TK, TV any] struct {
	data    TV
	dllNode *node[TK]
}

type cache[TK comparable, TV any] struct {
	lookup map[TK]*cacheEntry[TK, TV]
	mru    *mru[TK, TV]
}

// NewCache creates a cache with MRU-based eviction holding at most capacity entries.
// It is not safe for concurrent use; see NewSynchronizedCache.
func NewCache[TK comparable, TV any](capacity int) Cache[TK, TV] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &cache[TK, TV]{
		lookup: make(map[TK]*cacheEntry[TK, TV], capacity),
	}
	c.mru = newMru(c, capacity)
	return c
}

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 1000

func (c *cache[TK, TV]) Get(key TK) (TV, bool) {
	if v, ok := c.lookup[key]; ok {
		c.mru.touch(v.dllNode)
		return v.data, true
	}
	var zero TV
	return zero, false
}

func (c *cache[TK, TV]) Set(key TK, value TV) {
	if v, ok := c.lookup[key]; ok {
		v.data = value
		c.mru.touch(v.dllNode)
		return
	}
	c.lookup[key] = &cacheEntry[TK, TV]{
		data:    value,
		dllNode: c.mru.add(key),
	}
	c.mru.evict()
}

func (c *cache[TK, TV]) Delete(key TK) {
	if v, ok := c.lookup[key]; ok {
		c.mru.remove(v.dllNode)
		v.dllNode = nil
		delete(c.lookup, key)
	}
}

func (c *cache[TK, TV]) Clear() {
	c.lookup = make(map[TK]*cacheEntry[TK, TV], c.mru.capacity)
	c.mru = newMru(c, c.mru.capacity)
}

func (c *cache[TK, TV]) Count() int {
	return len(c.lookup)
}

func (c *cache[TK, TV]) Capacity() int {
	return c.mru.capacity
}
