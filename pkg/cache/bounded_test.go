package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedCache(t *testing.T) {
	t.Run("Get after Set returns value", func(t *testing.T) {
		c, err := New[int](Config{Size: 8, TTL: time.Minute})
		require.NoError(t, err)
		defer c.Close()

		c.Set("a", 1)
		v, ok := c.Get("a")
		assert.True(t, ok)
		assert.Equal(t, 1, v)
	})

	t.Run("Missing key is a miss", func(t *testing.T) {
		c, err := New[int](Config{Size: 8, TTL: time.Minute})
		require.NoError(t, err)
		defer c.Close()

		_, ok := c.Get("nope")
		assert.False(t, ok)
		assert.Equal(t, uint64(1), c.Stats().Misses)
	})

	t.Run("LRU eviction on overflow", func(t *testing.T) {
		c, err := New[int](Config{Size: 2, TTL: time.Minute})
		require.NoError(t, err)
		defer c.Close()

		c.Set("a", 1)
		c.Set("b", 2)
		c.Set("c", 3)

		_, ok := c.Get("a")
		assert.False(t, ok)
		assert.Equal(t, uint64(1), c.Stats().Evictions)
		assert.Equal(t, 2, c.Stats().Size)
	})

	t.Run("Expired entry is dropped on Get", func(t *testing.T) {
		c, err := New[int](Config{Size: 8, TTL: 10 * time.Millisecond, SweepInterval: time.Hour})
		require.NoError(t, err)
		defer c.Close()

		c.Set("a", 1)
		time.Sleep(20 * time.Millisecond)

		_, ok := c.Get("a")
		assert.False(t, ok)
		assert.Equal(t, uint64(1), c.Stats().Expired)
	})

	t.Run("Background sweep reclaims aged entries", func(t *testing.T) {
		c, err := New[int](Config{Size: 8, TTL: 10 * time.Millisecond, SweepInterval: 5 * time.Millisecond})
		require.NoError(t, err)
		defer c.Close()

		c.Set("a", 1)
		assert.Eventually(t, func() bool {
			return c.Stats().Size == 0
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("Invalidate removes a key", func(t *testing.T) {
		c, err := New[int](Config{Size: 8, TTL: time.Minute})
		require.NoError(t, err)
		defer c.Close()

		c.Set("a", 1)
		c.Invalidate("a")

		_, ok := c.Get("a")
		assert.False(t, ok)
	})

	t.Run("Rejects non-positive size", func(t *testing.T) {
		_, err := New[int](Config{Size: 0})
		assert.Error(t, err)
	})
}
