package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestCacheExpiry(t *testing.T) {
	c := New(Options{DefaultExpiration: 20 * time.Millisecond})
	defer c.Close()

	c.Set("session:1", []string{"Hi"})
	v, ok := c.Get("session:1")
	assert.True(t, ok)
	assert.Equal(t, []string{"Hi"}, v)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("session:1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestCacheEvictsOldestWhenFull(t *testing.T) {
	c := New(Options{MaxItems: 2})
	defer c.Close()

	var evicted []string
	c.SetOnEvicted(func(key string, _ any) { evicted = append(evicted, key) })

	c.Set("a", 1)
	time.Sleep(time.Millisecond)
	c.Set("b", 2)
	c.Set("b", 3)
	assert.Empty(t, evicted)

	c.Set("c", 4)
	assert.Equal(t, []string{"a"}, evicted)
	assert.Equal(t, 2, c.Count())

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCacheCloseStopsCleanup(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := New(Options{DefaultExpiration: time.Millisecond, CleanupInterval: 5 * time.Millisecond})
	c.Set("k", "v")
	assert.Eventually(t, func() bool { return c.Count() == 0 }, time.Second, 5*time.Millisecond)
	c.Close()
	c.Close()
}
