// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

// Package lifetime limits how long TLS connections may stay open.
//
// Each armed connection gets an idle timer and a max-lifetime timer, both one-shot and measured from the moment
// the connection is armed. The idle timer is not reset by traffic, so it behaves as a second fixed deadline.
package lifetime

import (
	"errors"
	"sync"
	"time"

	"github.com/TheThingsIndustries/gatekeeper/pkg/connection"
)

// Expiry reasons passed to the expire function.
var (
	ErrIdleTimeout = errors.New("idle timeout")
	ErrMaxLifetime = errors.New("maximum connection lifetime reached")
)

// ExpireFunc is called when a timer fires for a connection that is still armed.
type ExpireFunc func(id string, handle connection.Handle, reason error)

type armed struct {
	handle connection.Handle
	timers []*time.Timer
}

// Enforcer keeps the timers of armed connections.
type Enforcer struct {
	idle        time.Duration
	maxLifetime time.Duration
	expire      ExpireFunc

	mu    sync.Mutex
	armed map[string]*armed
}

// NewEnforcer returns an Enforcer. A zero or negative duration disables that timer.
func NewEnforcer(idle, maxLifetime time.Duration, expire ExpireFunc) *Enforcer {
	return &Enforcer{
		idle:        idle,
		maxLifetime: maxLifetime,
		expire:      expire,
		armed:       make(map[string]*armed),
	}
}

// Enabled returns true if at least one of the timers is enabled.
func (e *Enforcer) Enabled() bool {
	return e != nil && (e.idle > 0 || e.maxLifetime > 0)
}

// Arm the timers for a connection. Timers previously armed under the same identifier are cancelled.
func (e *Enforcer) Arm(id string, handle connection.Handle) {
	if !e.Enabled() {
		return
	}
	a := &armed{handle: handle}
	e.mu.Lock()
	defer e.mu.Unlock()
	if previous, ok := e.armed[id]; ok {
		previous.stop()
	} else {
		armedGauge.Inc()
	}
	if e.idle > 0 {
		a.timers = append(a.timers, time.AfterFunc(e.idle, func() { e.fire(id, a, ErrIdleTimeout) }))
	}
	if e.maxLifetime > 0 {
		a.timers = append(a.timers, time.AfterFunc(e.maxLifetime, func() { e.fire(id, a, ErrMaxLifetime) }))
	}
	e.armed[id] = a
}

// Cancel the timers of a connection if they were armed for the given handle.
// A nil handle matches any armed connection. It returns false if nothing was armed.
func (e *Enforcer) Cancel(id string, handle connection.Handle) bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.armed[id]
	if !ok || (handle != nil && a.handle != handle) {
		return false
	}
	a.stop()
	delete(e.armed, id)
	armedGauge.Dec()
	return true
}

// Armed returns the number of armed connections.
func (e *Enforcer) Armed() int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.armed)
}

func (e *Enforcer) fire(id string, a *armed, reason error) {
	e.mu.Lock()
	if e.armed[id] != a {
		e.mu.Unlock()
		return // cancelled or re-armed
	}
	a.stop()
	delete(e.armed, id)
	armedGauge.Dec()
	e.mu.Unlock()

	expirations.WithLabelValues(reasonLabel(reason)).Inc()
	if e.expire != nil {
		e.expire(id, a.handle, reason)
	}
}

func (a *armed) stop() {
	for _, t := range a.timers {
		t.Stop()
	}
}

func reasonLabel(reason error) string {
	switch reason {
	case ErrIdleTimeout:
		return "idle"
	case ErrMaxLifetime:
		return "max_lifetime"
	}
	return "unknown"
}
