// Package cache is the shared read cache: a TTL'd ristretto store keyed by
// operation fingerprint, with tag-based invalidation layered beside it.
// Writes affect overlapping views (a todo write touches today, inbox,
// upcoming, and tag views), so invalidation is by tag intersection rather
// than by key.
package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/thingsmcp/thingsmcp/engine/core"
)

// Cache is safe for concurrent readers and a single writer invalidator. The
// index lock is never held across a backend call.
type Cache struct {
	store      *ristretto.Cache[string, any]
	defaultTTL time.Duration
	perOpTTL   map[string]time.Duration

	mu        sync.Mutex
	byTag     map[string]map[string]struct{} // invalidation tag -> fingerprints
	tagsByKey map[string][]string

	hits   atomic.Int64
	misses atomic.Int64
}

type Config struct {
	DefaultTTL time.Duration
	MaxEntries int64
	PerOpTTL   map[string]time.Duration
}

func New(cfg Config) (*Cache, error) {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 30 * time.Second
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 4096
	}
	store, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, core.WrapError(core.CodeInternal, "create read cache", err)
	}
	return &Cache{
		store:      store,
		defaultTTL: cfg.DefaultTTL,
		perOpTTL:   cfg.PerOpTTL,
		byTag:      make(map[string]map[string]struct{}),
		tagsByKey:  make(map[string][]string),
	}, nil
}

// Fingerprint builds the canonical cache key for an operation call.
// encoding/json renders map keys sorted, which canonicalizes the params.
func Fingerprint(op string, params any) string {
	b, err := json.Marshal(params)
	if err != nil {
		// Unmarshalable params are never cached; a unique key guarantees a miss.
		return fmt.Sprintf("%s|uncacheable|%p", op, &b)
	}
	return op + "|" + string(b)
}

// Get returns the cached payload for a fingerprint.
func (c *Cache) Get(fingerprint string) (any, bool) {
	v, ok := c.store.Get(fingerprint)
	if ok {
		c.hits.Add(1)
		return v, true
	}
	c.misses.Add(1)
	return nil, false
}

// Put stores a payload under the operation's TTL and registers its
// invalidation tags.
func (c *Cache) Put(op, fingerprint string, value any, tags []string) {
	ttl := c.defaultTTL
	if perOp, ok := c.perOpTTL[op]; ok && perOp > 0 {
		ttl = perOp
	}
	c.mu.Lock()
	c.unindexLocked(fingerprint)
	for _, tag := range tags {
		set, ok := c.byTag[tag]
		if !ok {
			set = make(map[string]struct{})
			c.byTag[tag] = set
		}
		set[fingerprint] = struct{}{}
	}
	c.tagsByKey[fingerprint] = tags
	c.mu.Unlock()

	c.store.SetWithTTL(fingerprint, value, 1, ttl)
}

// Invalidate removes every entry whose tag set intersects the given tags and
// returns how many entries were dropped. The wildcard "tags:*" matches any
// registered tag with that prefix.
func (c *Cache) Invalidate(tags []string) int {
	c.mu.Lock()
	doomed := make(map[string]struct{})
	for _, tag := range tags {
		if prefix, ok := wildcardPrefix(tag); ok {
			for registered, keys := range c.byTag {
				if len(registered) >= len(prefix) && registered[:len(prefix)] == prefix {
					for fp := range keys {
						doomed[fp] = struct{}{}
					}
				}
			}
			continue
		}
		for fp := range c.byTag[tag] {
			doomed[fp] = struct{}{}
		}
	}
	for fp := range doomed {
		c.unindexLocked(fp)
	}
	c.mu.Unlock()

	for fp := range doomed {
		c.store.Del(fp)
	}
	return len(doomed)
}

func wildcardPrefix(tag string) (string, bool) {
	if len(tag) > 1 && tag[len(tag)-1] == '*' {
		return tag[:len(tag)-1], true
	}
	return "", false
}

func (c *Cache) unindexLocked(fingerprint string) {
	for _, tag := range c.tagsByKey[fingerprint] {
		delete(c.byTag[tag], fingerprint)
		if len(c.byTag[tag]) == 0 {
			delete(c.byTag, tag)
		}
	}
	delete(c.tagsByKey, fingerprint)
}

// Wait flushes pending ristretto buffers. Tests call it so a Put is visible
// to the next Get.
func (c *Cache) Wait() {
	c.store.Wait()
}

// Stats reports hit/miss counters and the live index size.
func (c *Cache) Stats() (hits, misses int64, entries int) {
	c.mu.Lock()
	entries = len(c.tagsByKey)
	c.mu.Unlock()
	return c.hits.Load(), c.misses.Load(), entries
}

func (c *Cache) Close() {
	c.store.Close()
}
