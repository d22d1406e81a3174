package cache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paywall/pkg/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLRUCache_Basic(t *testing.T) {
	t.Parallel()

	t.Run("put and get", func(t *testing.T) {
		t.Parallel()
		c := cache.NewLRUCache[string, int](3)
		c.Put("a", 1)
		c.Put("b", 2)

		v, ok := c.Get("a")
		assert.True(t, ok)
		assert.Equal(t, 1, v)
		assert.Equal(t, 2, c.Len())
	})

	t.Run("missing key", func(t *testing.T) {
		t.Parallel()
		c := cache.NewLRUCache[string, int](3)
		v, ok := c.Get("missing")
		assert.False(t, ok)
		assert.Zero(t, v)
	})

	t.Run("update returns previous", func(t *testing.T) {
		t.Parallel()
		c := cache.NewLRUCache[string, int](3)
		c.Put("a", 1)
		old, existed := c.Put("a", 2)
		assert.True(t, existed)
		assert.Equal(t, 1, old)
		v, _ := c.Get("a")
		assert.Equal(t, 2, v)
	})

	t.Run("remove and clear", func(t *testing.T) {
		t.Parallel()
		c := cache.NewLRUCache[string, int](3)
		c.Put("a", 1)
		c.Put("b", 2)

		v, ok := c.Remove("a")
		assert.True(t, ok)
		assert.Equal(t, 1, v)
		_, ok = c.Remove("a")
		assert.False(t, ok)

		c.Clear()
		assert.Equal(t, 0, c.Len())
	})

	t.Run("non-positive capacity panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { cache.NewLRUCache[string, int](0) })
	})
}

func TestLRUCache_Eviction(t *testing.T) {
	t.Parallel()

	c := cache.NewLRUCache[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a")
	c.Put("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestLRUCache_TTL(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := cache.NewLRUCache[string, string](4, cache.WithTTL(time.Minute), cache.WithClock(clock.Now))

	c.Put("tok-1", "valid")
	clock.Advance(59 * time.Second)
	v, ok := c.Get("tok-1")
	require.True(t, ok)
	assert.Equal(t, "valid", v)

	clock.Advance(time.Second)
	_, ok = c.Get("tok-1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	c.Put("tok-2", "a")
	clock.Advance(2 * time.Minute)
	_, existed := c.Put("tok-2", "b")
	assert.False(t, existed, "expired value is not reported as previous")
	v, ok = c.Get("tok-2")
	require.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestLRUCache_Concurrent(t *testing.T) {
	t.Parallel()

	c := cache.NewLRUCache[int, int](50)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := range 100 {
				c.Put(n*100+j, j)
				c.Get(n*100 + j)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, c.Len())
}
