// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TheThingsIndustries/gatekeeper/pkg/log"
	"github.com/segmentio/kafka-go"
)

// Device event types.
const (
	EventRemove    = "remove"
	EventConfigure = "configure"
)

// ErrInvalidEvent is returned for events that can not be handled.
var ErrInvalidEvent = errors.New("invalid device event")

// Event is a device event from the device manager.
type Event struct {
	Event string `json:"event"`
	Meta  struct {
		Service string `json:"service"`
	} `json:"meta"`
	Data struct {
		ID    string          `json:"id"`
		Attrs json.RawMessage `json:"attrs,omitempty"`
	} `json:"data"`
}

// Type returns the event type without the "device." prefix.
func (e *Event) Type() string {
	return strings.TrimPrefix(e.Event, "device.")
}

// Remover closes the connection of a removed device.
type Remover interface {
	RemoveDevice(ctx context.Context, tenant, device string) bool
}

// Configurer sends configuration to a connected device.
type Configurer interface {
	Configure(ctx context.Context, tenant, device string, attrs []byte) error
}

// MessageReader is the part of *kafka.Reader used by the Consumer.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaReader returns a consumer group reader for the given topic.
func NewKafkaReader(brokers []string, groupID, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
	})
}

// Consumer handles device events.
type Consumer struct {
	reader     MessageReader
	remover    Remover
	configurer Configurer
}

// NewConsumer returns a consumer that reads events from reader.
func NewConsumer(reader MessageReader, remover Remover, configurer Configurer) *Consumer {
	return &Consumer{
		reader:     reader,
		remover:    remover,
		configurer: configurer,
	}
}

// Handle handles one encoded device event.
func (c *Consumer) Handle(ctx context.Context, value []byte) error {
	var evt Event
	if err := json.Unmarshal(value, &evt); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	tenant, device := evt.Meta.Service, evt.Data.ID
	if tenant == "" || device == "" {
		return fmt.Errorf("%w: missing tenant or device", ErrInvalidEvent)
	}
	logger := log.FromContext(ctx).WithFields(log.F{"tenant": tenant, "device": device, "event": evt.Type()})
	switch evt.Type() {
	case EventRemove:
		events.WithLabelValues(EventRemove).Inc()
		if c.remover == nil {
			return nil
		}
		if c.remover.RemoveDevice(ctx, tenant, device) {
			logger.Info("Closed connection of removed device")
		} else {
			logger.Debug("Removed device is not connected")
		}
		return nil
	case EventConfigure:
		events.WithLabelValues(EventConfigure).Inc()
		if c.configurer == nil {
			return nil
		}
		attrs := []byte(evt.Data.Attrs)
		if len(attrs) == 0 {
			attrs = []byte("null")
		}
		if err := c.configurer.Configure(ctx, tenant, device, attrs); err != nil {
			return err
		}
		logger.Debug("Sent configuration to device")
		return nil
	default:
		events.WithLabelValues("ignored").Inc()
		return nil
	}
}

// Run consumes events until ctx is done. Every fetched message is committed, also when handling it failed.
func (c *Consumer) Run(ctx context.Context) error {
	logger := log.FromContext(ctx)
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.Handle(ctx, msg.Value); err != nil {
			events.WithLabelValues("failed").Inc()
			logger.WithError(err).Warn("Could not handle device event")
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.WithError(err).Warn("Could not commit device event")
		}
	}
}
