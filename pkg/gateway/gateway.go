// Copyright © 2018 The Things Industries, distributed under the MIT license (see LICENSE file)

// Package gateway runs the MQTT broker engine and hooks device admission, topic authorization and device data into it.
package gateway

import (
	"context"
	"crypto/tls"

	"github.com/TheThingsIndustries/gatekeeper/pkg/apex"
	"github.com/TheThingsIndustries/gatekeeper/pkg/auth"
	"github.com/TheThingsIndustries/gatekeeper/pkg/identity"
	"github.com/TheThingsIndustries/gatekeeper/pkg/log"
	"github.com/TheThingsIndustries/gatekeeper/pkg/ratelimit"
	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"
)

// DefaultMaxPacketSize is the default maximum size of an MQTT packet.
const DefaultMaxPacketSize = 256000000

// DeviceData receives the payloads of authorized device publishes.
type DeviceData interface {
	Enqueue(id identity.Identity, payload []byte) bool
}

// Option for the gateway
type Option func(g *Gateway)

// WithAuth returns an option that sets the authentication
func WithAuth(iface auth.Interface) Option {
	return func(g *Gateway) {
		g.ctx = auth.NewContextWithInterface(g.ctx, iface)
	}
}

// WithLimiter returns an option that adds a publish limiter. Publishes are denied when any limiter denies them.
func WithLimiter(limiter ratelimit.Limiter) Option {
	return func(g *Gateway) {
		if limiter != nil {
			g.limiters = append(g.limiters, limiter)
		}
	}
}

// WithDeviceData returns an option that forwards device data to d
func WithDeviceData(d DeviceData) Option {
	return func(g *Gateway) { g.deviceData = d }
}

// WithMaxPacketSize returns an option that sets the maximum MQTT packet size
func WithMaxPacketSize(size uint32) Option {
	return func(g *Gateway) { g.maxPacketSize = size }
}

// Gateway is an MQTT broker for devices.
type Gateway struct {
	ctx           context.Context
	server        *mqtt.Server
	limiters      []ratelimit.Limiter
	deviceData    DeviceData
	maxPacketSize uint32
	stats         *Stats
}

// New returns a new gateway.
func New(ctx context.Context, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		ctx:           ctx,
		maxPacketSize: DefaultMaxPacketSize,
		stats:         NewStats(),
	}
	for _, opt := range opts {
		opt(g)
	}

	capabilities := mqtt.NewDefaultServerCapabilities()
	if g.maxPacketSize > 0 {
		capabilities.MaximumPacketSize = g.maxPacketSize
	}
	g.server = mqtt.New(&mqtt.Options{
		Capabilities: capabilities,
		InlineClient: true,
		Logger:       apex.Slog(log.FromContext(ctx).WithField("namespace", "broker")),
	})
	if err := g.server.AddHook(&hook{gateway: g}, nil); err != nil {
		return nil, err
	}
	return g, nil
}

// Stats returns the broker statistics.
func (g *Gateway) Stats() *Stats { return g.stats }

// AddListener adds a listener to the broker. Listeners added before Serve start with Serve.
func (g *Gateway) AddListener(l listeners.Listener) error {
	return g.server.AddListener(l)
}

// Serve starts the listeners and the broker event loops. It does not block.
func (g *Gateway) Serve() error {
	return g.server.Serve()
}

// Close closes all listeners and client connections.
func (g *Gateway) Close() error {
	return g.server.Close()
}

// Configure publishes the configuration attributes to the device's config topic.
func (g *Gateway) Configure(ctx context.Context, tenant, device string, attrs []byte) error {
	id := identity.Identity{Tenant: tenant, Device: device}
	if err := g.server.Publish(id.ConfigTopic(), attrs, false, 0); err != nil {
		return err
	}
	actuations.Inc()
	return nil
}

// info describes the connection of cl to the auth interface.
func (g *Gateway) info(cl *mqtt.Client) *auth.Info {
	info := &auth.Info{
		Interface:    auth.InterfaceFromContext(g.ctx),
		ConnectionID: cl.ID,
		RemoteAddr:   cl.Net.Remote,
		Listener:     cl.Net.Listener,
		Username:     string(cl.Properties.Username),
		Handle:       cl,
	}
	if conn, ok := cl.Net.Conn.(*tls.Conn); ok {
		info.Secure = true
		info.PeerCertificates = conn.ConnectionState().PeerCertificates
	}
	return info
}
