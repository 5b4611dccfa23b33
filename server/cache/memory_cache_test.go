package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T, maxSize int) (*MemoryCache[string], *time.Time) {
	t.Helper()
	c := NewMemoryCache[string](maxSize, time.Minute, zap.NewNop())
	t.Cleanup(func() { _ = c.Close() })

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestMemoryCache_SetGet(t *testing.T) {
	c, _ := newTestCache(t, 10)

	c.Set("a", "alpha")
	got, err := c.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got)

	_, err = c.Get("missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c, now := newTestCache(t, 10)

	c.SetWithTTL("a", "alpha", time.Second)
	assert.True(t, c.Exists("a"))

	*now = now.Add(2 * time.Second)
	assert.False(t, c.Exists("a"))
	assert.Equal(t, 1, c.GetStats().Expired)

	_, err := c.Get("a")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, 0, c.GetStats().Items)
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, now := newTestCache(t, 2)

	c.Set("a", "alpha")
	*now = now.Add(time.Millisecond)
	c.Set("b", "beta")
	*now = now.Add(time.Millisecond)

	_, err := c.Get("a")
	require.NoError(t, err)
	*now = now.Add(time.Millisecond)

	c.Set("c", "gamma")

	assert.True(t, c.Exists("a"))
	assert.False(t, c.Exists("b"))
	assert.True(t, c.Exists("c"))
}

func TestMemoryCache_RemoveExpired(t *testing.T) {
	c, now := newTestCache(t, 10)
	c.SetWithTTL("short", "x", time.Second)
	c.SetWithTTL("long", "y", time.Hour)

	*now = now.Add(time.Minute)

	assert.Equal(t, 1, c.removeExpired())
	assert.True(t, c.Exists("long"))
}

func TestGenerateCacheKeyIsStable(t *testing.T) {
	assert.Equal(t, GenerateCacheKey("frame", "abc"), GenerateCacheKey("frame", "abc"))
	assert.NotEqual(t, GenerateCacheKey("frame", "abc"), GenerateCacheKey("frame", "abd"))
	assert.Equal(t, HashBytes([]byte("x")), HashBytes([]byte("x")))
}
