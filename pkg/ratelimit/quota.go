// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package ratelimit

import (
	"context"

	"github.com/TheThingsIndustries/gatekeeper/pkg/log"
	"github.com/redis/go-redis/v9"
)

// Decrementer is the part of the Redis client used by Quota.
type Decrementer interface {
	Decr(ctx context.Context, key string) *redis.IntCmd
}

// Quota limits the total number of messages a connection may publish.
// Operators fill a key per connection identifier with the number of allowed messages; every message decrements it.
// Missing or exhausted keys deny. Errors talking to Redis deny as well.
type Quota struct {
	client Decrementer
	prefix string
}

// NewQuota returns a Quota on the keys "{prefix}{connection id}".
func NewQuota(client Decrementer, prefix string) *Quota {
	return &Quota{client: client, prefix: prefix}
}

// Allow implements Limiter.
func (q *Quota) Allow(ctx context.Context, id string) bool {
	remaining, err := q.client.Decr(ctx, q.prefix+id).Result()
	if err != nil {
		log.FromContext(ctx).WithError(err).WithField("connection_id", id).Warn("Could not check message quota")
		return false
	}
	return remaining >= 0
}
