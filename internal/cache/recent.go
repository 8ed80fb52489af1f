// Package cache holds small in-process caches. Recent is a bounded
// recency set with TTL: membership means "observed lately", eviction is
// least-recently-observed first.
package cache

import (
	"container/list"
	"sync"
	"time"
)

type Recent[K comparable] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[K]*list.Element
	order    *list.List
	nowFn    func() time.Time
}

type recentEntry[K comparable] struct {
	key       K
	expiresAt time.Time
}

func NewRecent[K comparable](capacity int, ttl time.Duration) *Recent[K] {
	return &Recent[K]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
		nowFn:    time.Now,
	}
}

// Observe marks the key as seen, refreshing its recency and expiry.
func (c *Recent[K]) Observe(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*recentEntry[K]).expiresAt = c.nowFn().Add(c.ttl)
		return
	}

	if c.order.Len() >= c.capacity {
		c.evictOldest()
	}

	elem := c.order.PushFront(&recentEntry[K]{key: key, expiresAt: c.nowFn().Add(c.ttl)})
	c.items[key] = elem
}

// Seen reports whether the key was observed within its TTL. A hit
// refreshes recency but not expiry.
func (c *Recent[K]) Seen(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	if c.nowFn().After(elem.Value.(*recentEntry[K]).expiresAt) {
		c.removeElement(elem)
		return false
	}
	c.order.MoveToFront(elem)
	return true
}

// Len counts entries, including expired ones not yet evicted.
func (c *Recent[K]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Recent[K]) evictOldest() {
	if elem := c.order.Back(); elem != nil {
		c.removeElement(elem)
	}
}

func (c *Recent[K]) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*recentEntry[K]).key)
}
