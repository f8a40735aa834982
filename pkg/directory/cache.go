// Copyright © 2017 The Things Industries, distributed under the MIT license (see LICENSE file)

package directory

import (
	"context"
	"sync"
	"time"
)

// Cache caches successful lookups of a Client.
// Concurrent lookups of the same device share one request; failed lookups are not cached.
type Cache struct {
	Client
	expires time.Duration
	mu      sync.Mutex
	cache   map[string]*cachedResult
}

type cachedResult struct {
	err     error
	expires time.Time
	wg      sync.WaitGroup
}

// NewCache returns a new cache and starts a cleanup goroutine that stops with the context.
func NewCache(ctx context.Context, client Client, expires time.Duration) *Cache {
	c := &Cache{
		Client:  client,
		expires: expires,
		cache:   make(map[string]*cachedResult),
	}
	go func() {
		ticker := time.NewTicker(c.expires)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				c.mu.Lock()
				for key, cached := range c.cache {
					if cached.expires.Before(now) {
						delete(c.cache, key)
					}
				}
				c.mu.Unlock()
			}
		}
	}()
	return c
}

func (c *Cache) key(tenant, device string) string {
	return tenant + "/" + device
}

// GetDevice implements Client.
func (c *Cache) GetDevice(ctx context.Context, tenant, device string) error {
	key := c.key(tenant, device)
	c.mu.Lock()
	cached, ok := c.cache[key]
	if !ok || cached.expires.Before(time.Now()) {
		cached = &cachedResult{expires: time.Now().Add(c.expires)}
		cached.wg.Add(1)
		c.cache[key] = cached
		go func() {
			cached.err = c.Client.GetDevice(ctx, tenant, device)
			if cached.err != nil {
				c.mu.Lock()
				if c.cache[key] == cached {
					delete(c.cache, key)
				}
				c.mu.Unlock()
			}
			cached.wg.Done()
		}()
	} else {
		cacheHits.Inc()
	}
	c.mu.Unlock()
	cached.wg.Wait()
	return cached.err
}

// Invalidate implements Invalidator.
func (c *Cache) Invalidate(tenant, device string) {
	c.mu.Lock()
	delete(c.cache, c.key(tenant, device))
	c.mu.Unlock()
}
