package imageopt

import (
	"container/list"
	"sync"
)

type cacheEntry struct {
	hash  string
	bytes []byte
}

// Cache is a hash -> compressed-bytes LRU with a fixed capacity (default
// 500 per SPEC_FULL.md §5), guarded by a mutex. It sits in front of
// Compress so an identical screenshot hash never pays the resize/encode
// cost twice within the cache's retention window.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	index    map[string]*list.Element
}

// NewCache constructs a Cache with the given capacity. capacity <= 0
// defaults to 500.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 500
	}
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Get returns the cached bytes for hash and marks it most-recently-used.
func (c *Cache) Get(hash string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[hash]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).bytes, true
}

// Put inserts or updates hash's cached bytes, evicting the least-recently-used
// entry if the cache is at capacity.
func (c *Cache) Put(hash string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[hash]; ok {
		el.Value.(*cacheEntry).bytes = data
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&cacheEntry{hash: hash, bytes: data})
	c.index[hash] = el

	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.index, oldest.Value.(*cacheEntry).hash)
		}
	}
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
