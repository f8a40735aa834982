// Copyright © 2021 The Things Industries, distributed under the MIT license (see LICENSE file)

// Package ratelimit limits the rate of outgoing requests and of device publishes.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

type ctxKeyType struct{}

var ctxKey ctxKeyType

// NewContext returns a context carrying a rate limiter that allows limit events per second.
// A zero or negative limit returns the parent unchanged.
func NewContext(parent context.Context, limit rate.Limit, burst int) context.Context {
	if limit <= 0 {
		return parent
	}
	if burst < 1 {
		burst = 1
	}
	return context.WithValue(parent, ctxKey, rate.NewLimiter(limit, burst))
}

// Wait blocks until the rate limiter in the context permits an event to happen.
// It returns an error if the Context is canceled, or the expected wait time
// exceeds the Context's Deadline. Contexts without limiter never wait.
func Wait(ctx context.Context) (err error) {
	if limiter, ok := ctx.Value(ctxKey).(*rate.Limiter); ok {
		return limiter.Wait(ctx)
	}
	return nil
}
