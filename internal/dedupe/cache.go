// ABOUTME: TTL and size bounded memory of realtime event IDs, scoped per session.
// ABOUTME: Used by realtime sessions to drop transport retransmissions before they reach the buffer.

package dedupe

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// keySep joins session and event IDs; neither may contain a NUL byte.
const keySep = "\x00"

type entry struct {
	key    string
	seenAt time.Time
}

// Cache records (session, event) pairs for a limited time. Entries older than
// the TTL are forgotten, and once maxSize is reached the oldest entry is
// evicted to make room.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element // key -> element holding *entry
	order   *list.List               // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// New creates a cache and starts a sweeper that drops expired entries once
// per sweepEvery. A non-positive sweepEvery disables the sweeper; expired
// entries are then only ignored, not reclaimed, until evicted.
func New(ttl time.Duration, maxSize int, sweepEvery time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if sweepEvery > 0 {
		go c.sweepLoop(sweepEvery)
	}
	return c
}

func joinKey(sessionID, eventID string) string {
	return sessionID + keySep + eventID
}

// Seen reports whether eventID was already recorded for sessionID within
// the TTL, and records it if not. Check and record happen atomically.
func (c *Cache) Seen(sessionID, eventID string) bool {
	key := joinKey(sessionID, eventID)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		e := el.Value.(*entry)
		if now.Sub(e.seenAt) < c.ttl {
			return true
		}
		// Expired: treat as new and move to the back.
		e.seenAt = now
		c.order.MoveToBack(el)
		return false
	}

	for len(c.index) >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.index[key] = c.order.PushBack(&entry{key: key, seenAt: now})
	return false
}

// Forget drops every entry recorded for sessionID.
func (c *Cache) Forget(sessionID string) {
	prefix := sessionID + keySep

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, el := range c.index {
		if strings.HasPrefix(key, prefix) {
			c.removeLocked(el)
		}
	}
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// removeLocked drops el from both structures. Must be called with mu held.
func (c *Cache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	e := c.order.Remove(el).(*entry)
	delete(c.index, e.key)
}

// sweep removes expired entries. Entries are kept in seenAt order, so the
// walk stops at the first live one.
func (c *Cache) sweep() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; {
		e := el.Value.(*entry)
		if now.Sub(e.seenAt) < c.ttl {
			return
		}
		next := el.Next()
		c.removeLocked(el)
		el = next
	}
}

func (c *Cache) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
