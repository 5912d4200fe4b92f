package cache

import "sync"

// syncCache wraps a Cache with a mutex to provide thread-safe operations.
// The lock is only held for map and list updates, never while loading a value.
type syncCache[TK comparable, TV any] struct {
	Cache[TK, TV]
	locker sync.Mutex
}

// NewSynchronizedCache returns a thread-safe Cache instance backed by an MRU cache.
func NewSynchronizedCache[TK comparable, TV any](capacity int) Cache[TK, TV] {
	return &syncCache[TK, TV]{
		Cache: NewCache[TK, TV](capacity),
	}
}

func (sc *syncCache[TK, TV]) Get(key TK) (TV, bool) {
	sc.locker.Lock()
	defer sc.locker.Unlock()
	return sc.Cache.Get(key)
}

func (sc *syncCache[TK, TV]) Set(key TK, value TV) {
	sc.locker.Lock()
	sc.Cache.Set(key, value)
	sc.locker.Unlock()
}

func (sc *syncCache[TK, TV]) Delete(key TK) {
	sc.locker.Lock()
	sc.Cache.Delete(key)
	sc.locker.Unlock()
}

func (sc *syncCache[TK, TV]) Clear() {
	sc.locker.Lock()
	sc.Cache.Clear()
	sc.locker.Unlock()
}

func (sc *syncCache[TK, TV]) Count() int {
	sc.locker.Lock()
	defer sc.locker.Unlock()
	return sc.Cache.Count()
}
