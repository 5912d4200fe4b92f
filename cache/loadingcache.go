package cache

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Loader produces the value for a missing key.
type Loader[TV any] func(ctx context.Context, key string) (TV, error)

// LoadingCache is a thread-safe bounded cache that loads missing entries through a Loader.
// Concurrent Get calls for the same missing key share a single load; failed loads are not cached.
type LoadingCache[TV any] struct {
	entries Cache[string, TV]
	loader  Loader[TV]
	group   singleflight.Group
	loads   atomic.Int64
}

// NewLoadingCache returns a LoadingCache retaining at most capacity entries.
func NewLoadingCache[TV any](capacity int, loader Loader[TV]) *LoadingCache[TV] {
	return &LoadingCache[TV]{
		entries: NewSynchronizedCache[string, TV](capacity),
		loader:  loader,
	}
}

// Get returns the cached value for key, loading it once if missing.
func (c *LoadingCache[TV]) Get(ctx context.Context, key string) (TV, error) {
	if v, ok := c.entries.Get(key); ok {
		return v, nil
	}
	// The load is shared, so it must outlive the caller that happened to start it.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// A caller that lost the race to a finished load finds the value here.
		if v, ok := c.entries.Get(key); ok {
			return v, nil
		}
		c.loads.Add(1)
		v, err := c.loader(loadCtx, key)
		if err != nil {
			return v, err
		}
		c.entries.Set(key, v)
		return v, nil
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			var zero TV
			return zero, r.Err
		}
		v, _ := r.Val.(TV)
		return v, nil
	case <-ctx.Done():
		var zero TV
		return zero, ctx.Err()
	}
}

// Invalidate drops key, e.g. after the backend reported its prepared form stale.
func (c *LoadingCache[TV]) Invalidate(key string) {
	c.entries.Delete(key)
}

// Count returns the number of cached entries.
func (c *LoadingCache[TV]) Count() int {
	return c.entries.Count()
}

// Loads returns how many times the Loader was invoked.
func (c *LoadingCache[TV]) Loads() int64 {
	return c.loads.Load()
}
