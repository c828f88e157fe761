package inference

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
)

type cacheEntry struct {
	value   json.RawMessage
	expires time.Time
}

// Cached memoises successful responses by (prompt, schema). Failures are
// never stored.
type Cached struct {
	next    Provider
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	mu      sync.Mutex
	entries map[xxh3.Uint128]cacheEntry
	hits    int64
	misses  int64
}

func NewCached(next Provider, ttl time.Duration, maxSize int) *Cached {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &Cached{
		next:    next,
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		entries: make(map[xxh3.Uint128]cacheEntry),
	}
}

func (c *Cached) Infer(ctx context.Context, prompt string, schema Schema) (json.RawMessage, error) {
	key, keyErr := cacheKey(prompt, schema)
	if keyErr == nil {
		if v, ok := c.get(key); ok {
			return v, nil
		}
	}

	v, err := c.next.Infer(ctx, prompt, schema)
	if err != nil {
		return nil, err
	}
	if keyErr == nil {
		c.put(key, v)
	}
	return v, nil
}

func (c *Cached) get(key xxh3.Uint128) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expires) {
		if ok {
			delete(c.entries, key)
		}
		c.misses++
		return nil, false
	}
	c.hits++
	return append(json.RawMessage(nil), e.value...), true
}

func (c *Cached) put(key xxh3.Uint128, v json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		now := c.now()
		for k, e := range c.entries {
			if now.After(e.expires) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.maxSize {
			c.entries = make(map[xxh3.Uint128]cacheEntry)
		}
	}
	c.entries[key] = cacheEntry{value: append(json.RawMessage(nil), v...), expires: c.now().Add(c.ttl)}
}

func (c *Cached) GetStats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]interface{}{
		"entries": len(c.entries),
		"hits":    c.hits,
		"misses":  c.misses,
	}
}

func cacheKey(prompt string, schema Schema) (xxh3.Uint128, error) {
	s, err := json.Marshal(schema)
	if err != nil {
		return xxh3.Uint128{}, err
	}
	return xxh3.HashString128(prompt + "\x00" + string(s)), nil
}
