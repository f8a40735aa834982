// Copyright © 2017 The Things Industries, distributed under the MIT license (see LICENSE file)

// Package net sets up the listeners that MQTT clients connect to.
package net

import (
	"crypto/tls"
	"net"
	"sync"

	"golang.org/x/net/netutil"
)

// ListenOption configures a listener.
type ListenOption func(*listenConfig)

type listenConfig struct {
	transport      string
	tlsConfig      *tls.Config
	maxConnections int
	maxPerIP       int
}

// WithTLS terminates TLS on the listener.
func WithTLS(config *tls.Config) ListenOption {
	return func(c *listenConfig) { c.tlsConfig = config }
}

// WithMaxConnections limits the number of concurrent connections. Accept blocks while the limit is reached.
func WithMaxConnections(max int) ListenOption {
	return func(c *listenConfig) { c.maxConnections = max }
}

// WithMaxConnectionsPerIP limits the number of concurrent connections per remote IP.
// Connections over the limit are closed immediately.
func WithMaxConnectionsPerIP(max int) ListenOption {
	return func(c *listenConfig) { c.maxPerIP = max }
}

// Listen on the local network address. The transport name labels the metrics of the listener.
func Listen(network, address, transport string, opts ...ListenOption) (net.Listener, error) {
	inner, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	return NewListener(inner, transport, opts...), nil
}

// NewListener wraps an inner Listener.
func NewListener(inner net.Listener, transport string, opts ...ListenOption) net.Listener {
	config := listenConfig{transport: transport}
	for _, opt := range opts {
		opt(&config)
	}
	var lis net.Listener = &listener{
		Listener:  inner,
		transport: transport,
		perIP:     newLimits(config.maxPerIP),
	}
	if config.maxConnections > 0 {
		lis = netutil.LimitListener(lis, config.maxConnections)
	}
	if config.tlsConfig != nil {
		lis = tls.NewListener(lis, config.tlsConfig)
	}
	return lis
}

type listener struct {
	net.Listener
	transport string
	perIP     *limits
}

func (l *listener) Accept() (net.Conn, error) {
	for {
		inner, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		ip, _, _ := net.SplitHostPort(inner.RemoteAddr().String())
		if err := l.perIP.connect(ip); err != nil {
			rejectedConnections.WithLabelValues(l.transport).Inc()
			inner.Close()
			continue
		}
		acceptedConnections.WithLabelValues(l.transport).Inc()
		openConnections.WithLabelValues(l.transport).Inc()
		return &conn{Conn: inner, release: func() {
			l.perIP.disconnect(ip)
			openConnections.WithLabelValues(l.transport).Dec()
		}}, nil
	}
}

type conn struct {
	net.Conn
	once    sync.Once
	release func()
}

func (c *conn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.release)
	return err
}
