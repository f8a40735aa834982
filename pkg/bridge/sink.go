// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/TheThingsIndustries/gatekeeper/pkg/log"
	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/segmentio/kafka-go"
)

// Sink receives device data messages.
type Sink interface {
	Name() string
	Write(ctx context.Context, msg *Message) error
}

// MessageWriter is the part of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink writes device data to a Kafka topic.
type KafkaSink struct {
	writer MessageWriter
}

// NewKafkaWriter returns a writer for the given topic. Messages with the same key go to the same partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		Async:        false,
	}
}

// NewKafkaSink returns a sink that writes to w.
func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

// Name implements Sink.
func (s *KafkaSink) Name() string { return "kafka" }

// Write implements Sink.
func (s *KafkaSink) Write(ctx context.Context, msg *Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Identity().ConnectionID()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "id", Value: []byte(uuid.New().String())},
		},
	})
}

// PointWriter is the part of the InfluxDB write API used by InfluxSink.
type PointWriter interface {
	WritePoint(point *write.Point)
}

// Measurement is the InfluxDB measurement that device data is written to.
const Measurement = "device_data"

// InfluxSink writes the numeric attributes of device data to InfluxDB.
type InfluxSink struct {
	client influxdb2.Client
	writer PointWriter
}

// NewInfluxSink connects to InfluxDB and returns a sink with a non-blocking write API.
// Asynchronous write errors are logged to the logger in ctx.
func NewInfluxSink(ctx context.Context, url, token, org, bucket string) *InfluxSink {
	client := influxdb2.NewClientWithOptions(url, token, influxdb2.DefaultOptions().SetBatchSize(100).SetFlushInterval(1000))
	writeAPI := client.WriteAPI(org, bucket)
	logger := log.FromContext(ctx).WithField("sink", "influx")
	go func() {
		for err := range writeAPI.Errors() {
			logger.WithError(err).Warn("Could not write device data")
		}
	}()
	return &InfluxSink{client: client, writer: writeAPI}
}

// NewInfluxSinkWithWriter returns a sink that writes points to w.
func NewInfluxSinkWithWriter(w PointWriter) *InfluxSink {
	return &InfluxSink{writer: w}
}

// Name implements Sink.
func (s *InfluxSink) Name() string { return "influx" }

// Write implements Sink.
func (s *InfluxSink) Write(_ context.Context, msg *Message) error {
	fields := make(map[string]interface{})
	for k, v := range msg.Attrs {
		if k == "timestamp" {
			continue
		}
		if v, ok := v.(float64); ok {
			fields[k] = v
		}
	}
	if len(fields) == 0 {
		return nil
	}
	ts := msg.Time()
	if ts.IsZero() {
		ts = time.Now()
	}
	s.writer.WritePoint(write.NewPoint(Measurement, map[string]string{
		"tenant": msg.Metadata.Tenant,
		"device": msg.Metadata.DeviceID,
	}, fields, ts))
	return nil
}

// Ping checks that InfluxDB is reachable and healthy.
func (s *InfluxSink) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errUnhealthy
	}
	return nil
}

// Close flushes pending points and closes the client.
func (s *InfluxSink) Close() {
	if s.client == nil {
		return
	}
	if f, ok := s.writer.(interface{ Flush() }); ok {
		f.Flush()
	}
	s.client.Close()
}
