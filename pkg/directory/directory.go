// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

// Package directory looks up whether devices exist.
package directory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a device does not exist.
var ErrNotFound = errors.New("device not found")

// Client looks up devices.
type Client interface {
	// GetDevice returns nil if the device exists, ErrNotFound if it does not, or another error if the lookup failed.
	GetDevice(ctx context.Context, tenant, device string) error
}

// Invalidator is implemented by clients that cache lookups.
type Invalidator interface {
	Invalidate(tenant, device string)
}

func observe(backend string, start time.Time, err error) {
	result := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	lookups.WithLabelValues(backend, result).Inc()
	lookupLatency.WithLabelValues(backend).Observe(time.Since(start).Seconds())
}
