// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter decides whether a connection may publish another message.
type Limiter interface {
	Allow(ctx context.Context, id string) bool
}

// Forgetter is implemented by limiters that keep state per connection.
type Forgetter interface {
	Forget(id string)
}

// PerConnection limits the publish rate of each connection.
type PerConnection struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewPerConnection returns a limiter that allows limit messages per second per connection, with the given burst.
func NewPerConnection(limit rate.Limit, burst int) *PerConnection {
	if burst < 1 {
		burst = 1
	}
	return &PerConnection{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow implements Limiter.
func (p *PerConnection) Allow(_ context.Context, id string) bool {
	p.mu.Lock()
	limiter, ok := p.limiters[id]
	if !ok {
		limiter = rate.NewLimiter(p.limit, p.burst)
		p.limiters[id] = limiter
	}
	p.mu.Unlock()
	return limiter.Allow()
}

// Forget implements Forgetter.
func (p *PerConnection) Forget(id string) {
	p.mu.Lock()
	delete(p.limiters, id)
	p.mu.Unlock()
}
