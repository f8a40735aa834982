// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/TheThingsIndustries/gatekeeper/pkg/identity"
)

// ErrNotObject is returned when a device payload is not a JSON object.
var ErrNotObject = errors.New("payload is not a JSON object")

// Metadata of a device data message.
type Metadata struct {
	DeviceID  string   `json:"deviceid"`
	Tenant    string   `json:"tenant"`
	Timestamp *float64 `json:"timestamp,omitempty"`
}

// Message is a device data message as it is written to the sinks.
type Message struct {
	Metadata Metadata               `json:"metadata"`
	Attrs    map[string]interface{} `json:"attrs"`
}

// Identity returns the identity of the device that sent the message.
func (m *Message) Identity() identity.Identity {
	return identity.Identity{Tenant: m.Metadata.Tenant, Device: m.Metadata.DeviceID}
}

// Time returns the message timestamp, or the zero time if the message has none.
func (m *Message) Time() time.Time {
	if m.Metadata.Timestamp == nil {
		return time.Time{}
	}
	return time.UnixMilli(int64(*m.Metadata.Timestamp))
}

// ParseMessage builds a device data message from a payload published by id.
func ParseMessage(id identity.Identity, payload []byte) (*Message, error) {
	var attrs map[string]interface{}
	if err := json.Unmarshal(payload, &attrs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if attrs == nil {
		return nil, ErrNotObject
	}
	msg := &Message{
		Metadata: Metadata{DeviceID: id.Device, Tenant: id.Tenant},
		Attrs:    attrs,
	}
	if ts, ok := timestamp(attrs["timestamp"]); ok {
		msg.Metadata.Timestamp = &ts
	}
	return msg, nil
}

// timestamp copies numbers (usually Unix milliseconds) and parses RFC 3339 strings to Unix milliseconds.
func timestamp(v interface{}) (float64, bool) {
	switch v := v.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return 0, false
		}
		return float64(t.UnixMilli()), true
	}
	return 0, false
}
