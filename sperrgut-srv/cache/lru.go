package cache

import (
	"bytes"
	"container/list"
	"sync"
	"sync/atomic"
)

const (
	// DefaultCapacity is the number of entries kept when no capacity is given.
	DefaultCapacity = 10
	// MaxEntrySize is the exclusive upper bound on a cached response.
	MaxEntrySize = 500000
)

// entry is the value held by each list element.
type entry struct {
	key  string
	data []byte
}

// Stats holds counters describing cache usage.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Rejected  uint64
	Entries   int
	Capacity  int
}

// LRU is a fixed-capacity response cache with least-recently-used eviction.
// A single mutex guards the list and the index, so every Get and Put is
// atomic with respect to every other call.
type LRU struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element // key -> element in order
	order    *list.List               // front = most recently used

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	rejected  atomic.Uint64
}

// NewLRU creates a cache holding at most capacity entries. A capacity below
// one selects DefaultCapacity.
func NewLRU(capacity int) *LRU {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &LRU{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns the data stored under key and marks it most recently used.
// The returned slice must not be modified.
func (c *LRU) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, found := c.items[key]
	if !found {
		c.misses.Add(1)
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.hits.Add(1)
	return elem.Value.(*entry).data, true
}

// Put stores a copy of data under key. Data of MaxEntrySize bytes or more is
// ignored. Replacing an existing key promotes it without changing occupancy;
// inserting into a full cache evicts the least recently used entry first.
func (c *LRU) Put(key string, data []byte) {
	if len(data) >= MaxEntrySize {
		c.rejected.Add(1)
		return
	}
	stored := bytes.Clone(data)
	if stored == nil {
		stored = []byte{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, found := c.items[key]; found {
		elem.Value.(*entry).data = stored
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		c.evictOldest()
	}
	c.items[key] = c.order.PushFront(&entry{key: key, data: stored})
}

// evictOldest drops the tail of the recency order. Must be called with mu held.
func (c *LRU) evictOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry).key)
	c.evictions.Add(1)
}

// Resize returns a new cache of the given capacity holding the most recently
// used entries of c in the same order. c and its counters are left alone.
func (c *LRU) Resize(capacity int) *LRU {
	next := NewLRU(capacity)
	keys := c.Keys()
	if len(keys) > next.capacity {
		keys = keys[:next.capacity]
	}
	for i := len(keys) - 1; i >= 0; i-- {
		if data, ok := c.peek(keys[i]); ok {
			next.Put(keys[i], data)
		}
	}
	return next
}

// peek returns the data under key without touching recency or counters.
func (c *LRU) peek(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, found := c.items[key]
	if !found {
		return nil, false
	}
	return elem.Value.(*entry).data, true
}

// Len returns the number of resident entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the configured capacity.
func (c *LRU) Capacity() int {
	return c.capacity
}

// Keys returns resident keys from most to least recently used.
func (c *LRU) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*entry).key)
	}
	return keys
}

// Stats returns a snapshot of the usage counters.
func (c *LRU) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Rejected:  c.rejected.Load(),
		Entries:   c.Len(),
		Capacity:  c.capacity,
	}
}
