package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type prepared struct {
	stmt string
}

func TestLoadingCache_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	c := NewLoadingCache[*prepared](10, func(ctx context.Context, key string) (*prepared, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return &prepared{stmt: key}, nil
	})

	const workers = 32
	results := make([]*prepared, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := c.Get(context.Background(), "SELECT * FROM t WHERE id=?")
			if err != nil {
				t.Errorf("Get failed: %v", err)
				return
			}
			results[i] = p
		}(i)
	}
	// Give the workers time to pile up on the in-flight load.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Fatalf("loader called %d times, want 1", calls)
	}
	if c.Loads() != 1 {
		t.Errorf("Loads() = %d, want 1", c.Loads())
	}
	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatalf("worker %d got a different prepared artifact", i)
		}
	}
}

func TestLoadingCache_ErrorsAreNotCached(t *testing.T) {
	fail := true
	c := NewLoadingCache[string](10, func(ctx context.Context, key string) (string, error) {
		if fail {
			return "", errors.New("backend down")
		}
		return "ok:" + key, nil
	})
	ctx := context.Background()
	if _, err := c.Get(ctx, "k"); err == nil {
		t.Fatalf("expected error on first load")
	}
	fail = false
	v, err := c.Get(ctx, "k")
	if err != nil || v != "ok:k" {
		t.Fatalf("Get = %q, %v, want ok:k", v, err)
	}
	if c.Loads() != 2 {
		t.Errorf("Loads() = %d, want 2", c.Loads())
	}
}

func TestLoadingCache_BoundedAndInvalidate(t *testing.T) {
	c := NewLoadingCache[string](2, func(ctx context.Context, key string) (string, error) {
		return key, nil
	})
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		if _, err := c.Get(ctx, k); err != nil {
			t.Fatal(err)
		}
	}
	if c.Count() != 2 {
		t.Errorf("Count() = %d, want 2", c.Count())
	}
	c.Invalidate("c")
	c.Get(ctx, "c")
	if c.Loads() != 4 {
		t.Errorf("Loads() = %d, want 4", c.Loads())
	}
}

func TestLoadingCache_ContextCancelled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	c := NewLoadingCache[string](2, func(ctx context.Context, key string) (string, error) {
		<-block
		return key, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Get(ctx, "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Get error = %v, want deadline exceeded", err)
	}
}

func TestLoadingCache_LeaderCancelDoesNotFailWaiters(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	c := NewLoadingCache[*prepared](10, func(ctx context.Context, key string) (*prepared, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &prepared{stmt: key}, nil
	})
	const stmt = "SELECT * FROM t WHERE id=?"

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Get(leaderCtx, stmt)
		leaderErr <- err
	}()
	<-started
	cancel()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("leader: expected context.Canceled, got %v", err)
	}

	waiter := make(chan error, 1)
	var got *prepared
	go func() {
		p, err := c.Get(context.Background(), stmt)
		got = p
		waiter <- err
	}()
	time.Sleep(10 * time.Millisecond)
	close(release)

	if err := <-waiter; err != nil {
		t.Fatalf("waiter with a live context failed: %v", err)
	}
	if got == nil || got.stmt != stmt {
		t.Fatalf("unexpected value %+v", got)
	}
	if c.Loads() != 1 {
		t.Fatalf("loads = %d, want 1", c.Loads())
	}
}
