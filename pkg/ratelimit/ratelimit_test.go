// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smartystreets/assertions"
	"github.com/smartystreets/assertions/should"
	"golang.org/x/time/rate"
)

func TestContext(t *testing.T) {
	a := assertions.New(t)

	ctx := context.Background()
	a.So(NewContext(ctx, 0, 1), should.Equal, ctx)
	a.So(Wait(ctx), should.BeNil)

	limited := NewContext(ctx, rate.Every(50*time.Millisecond), 1)
	start := time.Now()
	a.So(Wait(limited), should.BeNil)
	a.So(Wait(limited), should.BeNil)
	a.So(time.Since(start) >= 40*time.Millisecond, should.BeTrue)

	canceled, cancel := context.WithCancel(limited)
	cancel()
	a.So(Wait(canceled), should.NotBeNil)
}

func TestPerConnection(t *testing.T) {
	a := assertions.New(t)
	ctx := context.Background()

	var limiter Limiter = NewPerConnection(rate.Every(time.Hour), 2)
	a.So(limiter.Allow(ctx, "admin:u86fda"), should.BeTrue)
	a.So(limiter.Allow(ctx, "admin:u86fda"), should.BeTrue)
	a.So(limiter.Allow(ctx, "admin:u86fda"), should.BeFalse)
	a.So(limiter.Allow(ctx, "admin:abc123"), should.BeTrue)

	limiter.(Forgetter).Forget("admin:u86fda")
	a.So(limiter.Allow(ctx, "admin:u86fda"), should.BeTrue)
}

type fakeRedis struct {
	counts map[string]int64
	err    error
}

func (f *fakeRedis) Decr(ctx context.Context, key string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "decr", key)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.counts[key]--
	cmd.SetVal(f.counts[key])
	return cmd
}

func TestQuota(t *testing.T) {
	a := assertions.New(t)
	ctx := context.Background()

	backend := &fakeRedis{counts: map[string]int64{"quota:admin:u86fda": 2}}
	quota := NewQuota(backend, "quota:")

	a.So(quota.Allow(ctx, "admin:u86fda"), should.BeTrue)
	a.So(quota.Allow(ctx, "admin:u86fda"), should.BeTrue)
	a.So(quota.Allow(ctx, "admin:u86fda"), should.BeFalse)
	a.So(quota.Allow(ctx, "admin:abc123"), should.BeFalse)

	backend.err = errors.New("connection refused")
	a.So(quota.Allow(ctx, "admin:u86fda"), should.BeFalse)

	var _ Decrementer = redis.NewClient(&redis.Options{})
}
