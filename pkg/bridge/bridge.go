// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

// Package bridge moves device data from the gateway to the event bus and device events from the event bus to the
// gateway.
package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/TheThingsIndustries/gatekeeper/pkg/identity"
	"github.com/TheThingsIndustries/gatekeeper/pkg/log"
)

var errUnhealthy = errors.New("server not healthy")

// DefaultQueueSize is the number of messages that can wait for the sinks.
const DefaultQueueSize = 1024

// Option for the Bridge.
type Option func(*Bridge)

// WithQueueSize sets the size of the queue used by Enqueue.
func WithQueueSize(size int) Option {
	return func(b *Bridge) {
		b.queue = make(chan queued, size)
	}
}

// WithWriteTimeout sets the timeout for writing one message to one sink.
func WithWriteTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.timeout = d
	}
}

type queued struct {
	id      identity.Identity
	payload []byte
}

// Bridge writes device data to its sinks.
type Bridge struct {
	ctx     context.Context
	sinks   []Sink
	queue   chan queued
	timeout time.Duration
}

// New returns a new Bridge that writes to the given sinks.
func New(ctx context.Context, sinks []Sink, opts ...Option) *Bridge {
	b := &Bridge{
		ctx:     ctx,
		sinks:   sinks,
		queue:   make(chan queued, DefaultQueueSize),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Sinks returns the names of the configured sinks.
func (b *Bridge) Sinks() []string {
	names := make([]string, len(b.sinks))
	for i, sink := range b.sinks {
		names[i] = sink.Name()
	}
	return names
}

// HandleMessage parses the payload published by id and writes it to all sinks.
func (b *Bridge) HandleMessage(ctx context.Context, id identity.Identity, payload []byte) error {
	logger := log.FromContext(ctx).WithFields(log.F{"tenant": id.Tenant, "device": id.Device})
	msg, err := ParseMessage(id, payload)
	if err != nil {
		messages.WithLabelValues("invalid").Inc()
		logger.WithError(err).Warn("Drop device data")
		return err
	}
	var errs []error
	for _, sink := range b.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, b.timeout)
		err := sink.Write(sinkCtx, msg)
		cancel()
		if err != nil {
			sinkErrors.WithLabelValues(sink.Name()).Inc()
			logger.WithError(err).WithField("sink", sink.Name()).Warn("Could not write device data")
			errs = append(errs, err)
		}
	}
	messages.WithLabelValues("forwarded").Inc()
	return errors.Join(errs...)
}

// Enqueue queues the payload published by id for Run. It never blocks: when the queue is full the message is
// dropped and false is returned.
func (b *Bridge) Enqueue(id identity.Identity, payload []byte) bool {
	select {
	case b.queue <- queued{id: id, payload: payload}:
		return true
	default:
		messages.WithLabelValues("dropped").Inc()
		log.FromContext(b.ctx).WithField("device", id.String()).Warn("Device data queue full, drop message")
		return false
	}
}

// Run writes queued messages to the sinks until ctx is done.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-b.queue:
			b.HandleMessage(ctx, q.id, q.payload)
		}
	}
}
