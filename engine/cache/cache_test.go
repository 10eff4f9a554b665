package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(Config{DefaultTTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestFingerprint(t *testing.T) {
	t.Run("Should canonicalize params regardless of map order", func(t *testing.T) {
		a := Fingerprint("get_todos", map[string]any{"limit": 10, "project_id": "P1"})
		b := Fingerprint("get_todos", map[string]any{"project_id": "P1", "limit": 10})
		assert.Equal(t, a, b)
	})
	t.Run("Should separate operations with identical params", func(t *testing.T) {
		assert.NotEqual(t,
			Fingerprint("get_today", map[string]any{"limit": 10}),
			Fingerprint("get_inbox", map[string]any{"limit": 10}))
	})
}

func TestCache_PutGet(t *testing.T) {
	t.Run("Should return a stored value", func(t *testing.T) {
		c := newTestCache(t)
		fp := Fingerprint("get_today", nil)
		c.Put("get_today", fp, "payload", []string{"list:today"})
		c.Wait()
		v, ok := c.Get(fp)
		require.True(t, ok)
		assert.Equal(t, "payload", v)
	})
	t.Run("Should miss on an unknown fingerprint", func(t *testing.T) {
		c := newTestCache(t)
		_, ok := c.Get("nope")
		assert.False(t, ok)
	})
	t.Run("Should count hits and misses", func(t *testing.T) {
		c := newTestCache(t)
		fp := Fingerprint("get_today", nil)
		c.Put("get_today", fp, 1, nil)
		c.Wait()
		c.Get(fp)
		c.Get("miss")
		hits, misses, _ := c.Stats()
		assert.Equal(t, int64(1), hits)
		assert.Equal(t, int64(1), misses)
	})
}

func TestCache_Invalidate(t *testing.T) {
	t.Run("Should drop every entry whose tags intersect", func(t *testing.T) {
		c := newTestCache(t)
		c.Put("get_today", "k1", 1, []string{"list:today", "tags:urgent"})
		c.Put("get_inbox", "k2", 2, []string{"list:inbox"})
		c.Wait()

		dropped := c.Invalidate([]string{"list:today"})
		assert.Equal(t, 1, dropped)

		_, ok := c.Get("k1")
		assert.False(t, ok)
		_, ok = c.Get("k2")
		assert.True(t, ok)
	})
	t.Run("Should expand a trailing wildcard against registered tags", func(t *testing.T) {
		c := newTestCache(t)
		c.Put("get_tagged_items", "k1", 1, []string{"tags:urgent"})
		c.Put("get_tagged_items", "k2", 2, []string{"tags:work"})
		c.Put("get_inbox", "k3", 3, []string{"list:inbox"})
		c.Wait()

		dropped := c.Invalidate([]string{"tags:*"})
		assert.Equal(t, 2, dropped)
		_, ok := c.Get("k3")
		assert.True(t, ok)
	})
	t.Run("Should count each doomed entry once across overlapping tags", func(t *testing.T) {
		c := newTestCache(t)
		c.Put("get_today", "k1", 1, []string{"list:today", "entity:A1"})
		c.Wait()
		assert.Equal(t, 1, c.Invalidate([]string{"list:today", "entity:A1"}))
	})
	t.Run("Should be a no-op for unregistered tags", func(t *testing.T) {
		c := newTestCache(t)
		assert.Equal(t, 0, c.Invalidate([]string{"list:today"}))
	})
}

func TestCache_Reindex(t *testing.T) {
	t.Run("Should replace the tag set when a key is rewritten", func(t *testing.T) {
		c := newTestCache(t)
		c.Put("get_today", "k1", 1, []string{"tags:old"})
		c.Put("get_today", "k1", 2, []string{"tags:new"})
		c.Wait()

		assert.Equal(t, 0, c.Invalidate([]string{"tags:old"}))
		assert.Equal(t, 1, c.Invalidate([]string{"tags:new"}))
	})
	t.Run("Should track the live index size", func(t *testing.T) {
		c := newTestCache(t)
		c.Put("a", "k1", 1, []string{"x"})
		c.Put("b", "k2", 2, []string{"y"})
		_, _, entries := c.Stats()
		assert.Equal(t, 2, entries)
		c.Invalidate([]string{"x", "y"})
		_, _, entries = c.Stats()
		assert.Equal(t, 0, entries)
	})
}
