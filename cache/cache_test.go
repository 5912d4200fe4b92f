package cache

import (
	"fmt"
	"testing"
)

func TestCache_SetGet(t *testing.T) {
	c := NewCache[string, int](3)
	c.Set("a", 1)
	c.Set("b", 2)

	v, ok := c.Get("a")
	if !ok || v != 1 {
		t.Fatalf("Get(a) = %v, %v, want 1, true", v, ok)
	}
	if _, ok := c.Get("z"); ok {
		t.Errorf("Get(z) found, want missing")
	}
	c.Set("a", 10)
	if v, _ := c.Get("a"); v != 10 {
		t.Errorf("Get(a) after update = %d, want 10", v)
	}
	if c.Count() != 2 {
		t.Errorf("Count() = %d, want 2", c.Count())
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache[string, int](3)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	// Touch "a" so that "b" becomes the least recently used.
	c.Get("a")
	c.Set("d", 4)

	if c.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", c.Count())
	}
	if _, ok := c.Get("b"); ok {
		t.Errorf("b should have been evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := NewSynchronizedCache[int, string](10)
	for i := 0; i < 5; i++ {
		c.Set(i, fmt.Sprint(i))
	}
	c.Delete(2)
	if _, ok := c.Get(2); ok {
		t.Errorf("2 should be deleted")
	}
	if c.Count() != 4 {
		t.Errorf("Count() = %d, want 4", c.Count())
	}
	c.Clear()
	if c.Count() != 0 {
		t.Errorf("Count() after Clear = %d, want 0", c.Count())
	}
	c.Set(7, "7")
	if v, ok := c.Get(7); !ok || v != "7" {
		t.Errorf("cache unusable after Clear")
	}
}

func TestCache_DefaultCapacity(t *testing.T) {
	c := NewCache[int, int](0)
	if c.Capacity() != DefaultCapacity {
		t.Errorf("Capacity() = %d, want %d", c.Capacity(), DefaultCapacity)
	}
}

func TestDoublyLinkedList_MoveToHead(t *testing.T) {
	dll := newDoublyLinkedList[int]()
	n1 := dll.addToHead(1)
	dll.addToHead(2)
	dll.addToHead(3)

	dll.moveToHead(n1)
	if dll.head.data != 1 || dll.tail.data != 2 {
		t.Fatalf("head=%d tail=%d, want head=1 tail=2", dll.head.data, dll.tail.data)
	}
	if dll.count() != 3 {
		t.Errorf("count() = %d, want 3", dll.count())
	}
	for _, want := range []int{2, 3, 1} {
		if d, ok := dll.deleteFromTail(); !ok || d != want {
			t.Errorf("deleteFromTail() = %d, %v, want %d, true", d, ok, want)
		}
	}
	if !dll.isEmpty() {
		t.Errorf("list should be empty")
	}
}
