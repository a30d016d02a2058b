// Package cache implements a generic, thread-safe LRU cache with per-entry TTL.
//
// Entries expire after the configured TTL and are treated as misses; expired
// nodes are removed lazily on access. All operations are O(1).
package cache

import (
	"sync"
	"time"
)

// node is a doubly linked list node holding a key-value pair and its expiry.
type node[K comparable, V any] struct {
	key       K
	val       V
	expiresAt time.Time
	prev      *node[K, V]
	next      *node[K, V]
}

// Cache is a bounded LRU cache whose entries expire after a fixed TTL.
// K must be comparable (map key constraint), V can be any type.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[K]*node[K, V]
	head     *node[K, V] // most recently used (sentinel)
	tail     *node[K, V] // least recently used (sentinel)

	// now is swappable for tests.
	now func() time.Time
}

// New creates a cache with the given capacity and TTL.
// A TTL of zero means entries never expire. Panics if capacity < 1.
func New[K comparable, V any](capacity int, ttl time.Duration) *Cache[K, V] {
	if capacity < 1 {
		panic("cache: capacity must be >= 1")
	}

	head := &node[K, V]{}
	tail := &node[K, V]{}
	head.next = tail
	tail.prev = head

	return &Cache[K, V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[K]*node[K, V], capacity),
		head:     head,
		tail:     tail,
		now:      time.Now,
	}
}

// Get retrieves a value by key. Expired entries count as misses and are
// evicted in place.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}

	if c.expired(n) {
		c.remove(n)
		delete(c.items, key)
		var zero V
		return zero, false
	}

	c.moveToFront(n)
	return n.val, true
}

// Put inserts or updates a key-value pair, resetting its TTL. If the cache
// is at capacity, the least recently used entry is evicted.
func (c *Cache[K, V]) Put(key K, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.items[key]; ok {
		n.val = val
		n.expiresAt = c.expiry()
		c.moveToFront(n)
		return
	}

	if len(c.items) >= c.capacity {
		victim := c.tail.prev
		c.remove(victim)
		delete(c.items, victim.key)
	}

	n := &node[K, V]{key: key, val: val, expiresAt: c.expiry()}
	c.items[key] = n
	c.pushFront(n)
}

// Delete removes a key from the cache. Returns true if the key existed.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		return false
	}

	c.remove(n)
	delete(c.items, key)
	return true
}

// Len returns the current number of entries, including any not yet
// lazily evicted.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear removes all entries.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.head.next = c.tail
	c.tail.prev = c.head
	c.items = make(map[K]*node[K, V], c.capacity)
}

func (c *Cache[K, V]) expiry() time.Time {
	if c.ttl == 0 {
		return time.Time{}
	}
	return c.now().Add(c.ttl)
}

func (c *Cache[K, V]) expired(n *node[K, V]) bool {
	return !n.expiresAt.IsZero() && c.now().After(n.expiresAt)
}

// --- internal linked list operations (caller must hold lock) ---

func (c *Cache[K, V]) remove(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
}

func (c *Cache[K, V]) pushFront(n *node[K, V]) {
	n.next = c.head.next
	n.prev = c.head
	c.head.next.prev = n
	c.head.next = n
}

func (c *Cache[K, V]) moveToFront(n *node[K, V]) {
	c.remove(n)
	c.pushFront(n)
}
