package cache

// mru manages recency ordering and eviction for the generic cache type.
type mru[TK comparable, TV any] struct {
	capacity int
	dll      *doublyLinkedList[TK]
	cache    *cache[TK, TV]
}

func newMru[TK comparable, TV any](c *cache[TK, TV], capacity int) *mru[TK, TV] {
	return &mru[TK, TV]{
		cache:    c,
		capacity: capacity,
		dll:      newDoublyLinkedList[TK](),
	}
}

// add inserts the id at the head of the MRU list and returns its node handle.
func (m *mru[TK, TV]) add(id TK) *node[TK] {
	return m.dll.addToHead(id)
}

// touch marks the node as most recently used.
func (m *mru[TK, TV]) touch(n *node[TK]) {
	m.dll.moveToHead(n)
}

// remove unchains the node from the MRU list.
func (m *mru[TK, TV]) remove(n *node[TK]) {
	m.dll.delete(n)
}

// evict removes entries from the tail while the cache exceeds its capacity, updating the index.
func (m *mru[TK, TV]) evict() {
	for m.dll.count() > m.capacity {
		id, ok := m.dll.deleteFromTail()
		if !ok {
			return
		}
		if v, found := m.cache.lookup[id]; found {
			v.dllNode = nil
			delete(m.cache.lookup, id)
		}
	}
}
