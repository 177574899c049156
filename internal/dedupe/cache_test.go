// ABOUTME: Tests for the per-session event ID cache.
// ABOUTME: Validates TTL expiry, size bound eviction, session scoping, sweeping, and concurrency.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestCache(ttl time.Duration, maxSize int) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(ttl, maxSize, 0)
	c.now = clock.Now
	return c, clock
}

func TestCache_SeenFirstTimeIsFalse(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)
	defer c.Close()

	assert.False(t, c.Seen("sess-1", "event_1"))
	assert.True(t, c.Seen("sess-1", "event_1"))
}

func TestCache_ScopedBySession(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)
	defer c.Close()

	assert.False(t, c.Seen("sess-1", "event_1"))
	assert.False(t, c.Seen("sess-2", "event_1"), "same event id in another session is not a duplicate")
}

func TestCache_ExpiredEntryIsNew(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)
	defer c.Close()

	c.Seen("s", "e")
	clock.Advance(30 * time.Second)
	assert.True(t, c.Seen("s", "e"))

	clock.Advance(2 * time.Minute)
	assert.False(t, c.Seen("s", "e"))
	assert.True(t, c.Seen("s", "e"), "re-recorded after expiry")
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c, _ := newTestCache(time.Hour, 3)
	defer c.Close()

	c.Seen("s", "first")
	c.Seen("s", "second")
	c.Seen("s", "third")
	c.Seen("s", "fourth")

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("s", "first"), "oldest entry should have been evicted")
	assert.True(t, c.Seen("s", "third"))
	assert.True(t, c.Seen("s", "fourth"))
}

func TestCache_Forget(t *testing.T) {
	c, _ := newTestCache(time.Hour, 10)
	defer c.Close()

	c.Seen("sess-1", "a")
	c.Seen("sess-1", "b")
	c.Seen("sess-10", "a")

	c.Forget("sess-1")

	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("sess-10", "a"), "prefix-sharing session must survive")
	assert.False(t, c.Seen("sess-1", "a"))
}

func TestCache_SweepRemovesExpired(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)
	defer c.Close()

	c.Seen("s", "old-1")
	c.Seen("s", "old-2")
	clock.Advance(45 * time.Second)
	c.Seen("s", "fresh")
	clock.Advance(30 * time.Second)

	c.sweep()

	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("s", "fresh"))
}

func TestCache_BackgroundSweeper(t *testing.T) {
	c := New(10*time.Millisecond, 100, 5*time.Millisecond)
	defer c.Close()

	c.Seen("s", "e")
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCache_SeenIsAtomic(t *testing.T) {
	c := New(time.Minute, 100, 0)
	defer c.Close()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for range 100 {
		wg.Go(func() {
			if !c.Seen("s", "contested") {
				winners.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestCache_ConcurrentSessions(t *testing.T) {
	c := New(time.Minute, 1000, 0)
	defer c.Close()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			sess := fmt.Sprintf("sess-%d", i)
			for j := range 20 {
				c.Seen(sess, fmt.Sprintf("evt-%d", j))
			}
			c.Forget(sess)
		})
	}
	wg.Wait()

	assert.Equal(t, 0, c.Len())
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := New(time.Minute, 10, time.Minute)
	c.Close()
	c.Close()
}
