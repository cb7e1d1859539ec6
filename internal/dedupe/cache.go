// ABOUTME: TTL cache suppressing Bot Framework webhook redeliveries
// ABOUTME: Keys activities by channel and activity id, size-bounded with O(1) eviction

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/2389/teams-gateway/internal/activity"
)

// cacheEntry pairs a first-seen timestamp with its position in the
// insertion-order list.
type cacheEntry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache remembers recently delivered activity ids so webhook retries are
// processed once. The channel may redeliver an activity when the previous
// delivery timed out, so suppression is bounded by a TTL rather than
// permanent. Insertion order is kept in a linked list for O(1) eviction
// when the cache is full.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a redelivery cache. A background goroutine sweeps expired
// entries; call Close on shutdown to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Seen reports whether act was already delivered within the TTL, marking it
// as delivered if not. The check and mark are one critical section, so two
// concurrent deliveries of the same activity resolve to exactly one false.
// Activities without an id are never suppressed.
func (c *Cache) Seen(act *activity.Activity) bool {
	if act.ID == "" {
		return false
	}
	key := act.ChannelID + "/" + act.ID

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok && time.Since(entry.seenAt) < c.ttl {
		return true
	}
	c.markLocked(key)
	return false
}

// Forget drops act from the cache so a later redelivery passes through
// again. Used when processing failed after the activity was marked: the
// channel retries on a non-2xx response, and that retry is the user's only
// path to getting the message handled.
func (c *Cache) Forget(act *activity.Activity) {
	if act.ID == "" {
		return
	}
	key := act.ChannelID + "/" + act.ID

	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.seen[key]; ok {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// Len returns the number of tracked activity ids.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) markLocked(key string) {
	now := time.Now()

	if entry, ok := c.seen[key]; ok {
		entry.seenAt = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldestLocked()
	}

	c.seen[key] = &cacheEntry{
		seenAt:  now,
		element: c.order.PushBack(key),
	}
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.seen {
		if now.Sub(entry.seenAt) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}
