// Copyright © 2018 The Things Industries, distributed under the MIT license (see LICENSE file)

// Package auth defines the authentication and authorization interface for MQTT devices.
package auth

import (
	"context"
	"crypto/x509"
	"errors"

	"github.com/TheThingsIndustries/gatekeeper/pkg/connection"
)

// Operation on a topic
type Operation int

// Operations
const (
	Publish Operation = iota
	Subscribe
)

func (o Operation) String() string {
	switch o {
	case Publish:
		return "publish"
	case Subscribe:
		return "subscribe"
	}
	return "unknown"
}

// ErrNoInfo is returned when there is no auth info for a connection.
var ErrNoInfo = errors.New("no auth info present")

// Interface for MQTT authentication
type Interface interface {
	// Connect admits the connection or returns the reason it is refused.
	Connect(ctx context.Context, info *Info) error

	// Authorize the operation on the topic or return the reason it is denied.
	Authorize(ctx context.Context, info *Info, topic string, op Operation) error

	// Disconnect releases everything held for the connection. It may be called more than once.
	Disconnect(ctx context.Context, info *Info)
}

// Info for an MQTT connection
type Info struct {
	Interface
	ConnectionID     string
	RemoteAddr       string
	Listener         string
	Secure           bool
	PeerCertificates []*x509.Certificate
	Username         string
	Handle           connection.Handle
}

// CanPublish returns true iff given the info, the client can publish on a topic
func (i *Info) CanPublish(ctx context.Context, topic string) bool {
	return i.authorize(ctx, topic, Publish) == nil
}

// CanSubscribe returns true iff given the info, the client can subscribe to a topic
func (i *Info) CanSubscribe(ctx context.Context, topic string) bool {
	return i.authorize(ctx, topic, Subscribe) == nil
}

func (i *Info) authorize(ctx context.Context, topic string, op Operation) error {
	if i == nil {
		return ErrNoInfo // won't allow that if there's no auth info
	}
	if iface := i.Interface; iface != nil {
		return iface.Authorize(ctx, i, topic, op)
	}
	return nil
}
