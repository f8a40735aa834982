// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

// Package identity derives tenant and device identifiers from MQTT client identifiers and topics.
//
// Devices connect with client identifier "{tenant}:{device}", publish telemetry to
// "/{tenant}/{device}/attrs" and receive actuation on "/{tenant}/{device}/config".
package identity

import (
	"regexp"
	"strings"
)

// Topic constants
const (
	Separator    = "/"
	AttrsSuffix  = "attrs"
	ConfigSuffix = "config"
)

var (
	connectionIDPattern = regexp.MustCompile(`^([A-Za-z0-9_]+):([A-Za-z0-9_]+)$`)
	topicPattern        = regexp.MustCompile(`^/([^/]+)/([^/]+)`)
)

// Identity of a device
type Identity struct {
	Tenant string
	Device string
}

// ConnectionID returns the client identifier a device with this identity is expected to use.
func (i Identity) ConnectionID() string { return i.Tenant + ":" + i.Device }

// AttrsTopic returns the topic the device publishes telemetry to.
func (i Identity) AttrsTopic() string { return i.topic(AttrsSuffix) }

// ConfigTopic returns the topic the device receives actuation on.
func (i Identity) ConfigTopic() string { return i.topic(ConfigSuffix) }

func (i Identity) topic(suffix string) string {
	return Separator + strings.Join([]string{i.Tenant, i.Device, suffix}, Separator)
}

// String implements fmt.Stringer
func (i Identity) String() string { return i.ConnectionID() }

// FromConnectionID parses an identity of the form "tenant:device".
func FromConnectionID(connectionID string) (Identity, bool) {
	match := connectionIDPattern.FindStringSubmatch(connectionID)
	if match == nil {
		return Identity{}, false
	}
	return Identity{Tenant: match[1], Device: match[2]}, true
}

// FromTopic parses an identity from a topic that starts with "/tenant/device".
func FromTopic(topic string) (Identity, bool) {
	match := topicPattern.FindStringSubmatch(topic)
	if match == nil {
		return Identity{}, false
	}
	return Identity{Tenant: match[1], Device: match[2]}, true
}

// Parse derives the identity from the connection identifier, falling back to the topic.
// Either argument may be empty.
func Parse(connectionID, topic string) (Identity, bool) {
	if id, ok := FromConnectionID(connectionID); ok {
		return id, true
	}
	return FromTopic(topic)
}
