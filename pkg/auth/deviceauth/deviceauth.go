// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

// Package deviceauth admits device connections and authorizes their publications and subscriptions.
//
// Devices connect as "{tenant}:{device}". Over TLS the client certificate common name must equal the device and
// the certificate must not be revoked. The device must exist in the directory. Admitted devices may only publish
// to "/{tenant}/{device}/attrs" and subscribe to "/{tenant}/{device}/config".
package deviceauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TheThingsIndustries/gatekeeper/pkg/auth"
	"github.com/TheThingsIndustries/gatekeeper/pkg/certificate"
	"github.com/TheThingsIndustries/gatekeeper/pkg/connection"
	"github.com/TheThingsIndustries/gatekeeper/pkg/directory"
	"github.com/TheThingsIndustries/gatekeeper/pkg/identity"
	"github.com/TheThingsIndustries/gatekeeper/pkg/lifetime"
	"github.com/TheThingsIndustries/gatekeeper/pkg/log"
)

// Errors returned when connections or operations are refused.
var (
	ErrUnidentified      = errors.New("client identifier does not identify a device")
	ErrCertificate       = errors.New("invalid client certificate")
	ErrUnknownDevice     = errors.New("device could not be confirmed")
	ErrUnknownConnection = errors.New("connection was not admitted")
	ErrIdentity          = errors.New("no device identity in client identifier or topic")
	ErrOwnership         = errors.New("connection belongs to another device")
	ErrTopic             = errors.New("topic not allowed")
	ErrDeviceRemoved     = errors.New("device removed")
)

// Option for the DeviceAuth
type Option func(*DeviceAuth)

// WithValidator sets the certificate validator for TLS connections.
func WithValidator(validator *certificate.Validator) Option {
	return func(a *DeviceAuth) { a.validator = validator }
}

// WithLifetime limits the lifetime of TLS connections. Zero durations disable the timers.
func WithLifetime(idle, maxLifetime time.Duration) Option {
	return func(a *DeviceAuth) { a.enforcer = lifetime.NewEnforcer(idle, maxLifetime, a.expire) }
}

// WithUnidentifiedClients sets whether plaintext clients without device identity are admitted.
func WithUnidentifiedClients(allow bool) Option {
	return func(a *DeviceAuth) { a.allowUnidentified = allow }
}

var _ auth.Interface = (*DeviceAuth)(nil)

// DeviceAuth implements auth.Interface for devices.
type DeviceAuth struct {
	directory         directory.Client
	connections       *connection.Cache
	validator         *certificate.Validator
	enforcer          *lifetime.Enforcer
	allowUnidentified bool
}

// New returns a new DeviceAuth that confirms devices in the directory and keeps admitted connections in the cache.
func New(dir directory.Client, connections *connection.Cache, opts ...Option) *DeviceAuth {
	a := &DeviceAuth{
		directory:         dir,
		connections:       connections,
		validator:         certificate.NewValidator(nil),
		allowUnidentified: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Connections returns the connection cache.
func (a *DeviceAuth) Connections() *connection.Cache { return a.connections }

// Enforcer returns the lifetime enforcer, which may be nil.
func (a *DeviceAuth) Enforcer() *lifetime.Enforcer { return a.enforcer }

func fields(info *auth.Info) log.F {
	return log.F{
		"connection_id": info.ConnectionID,
		"remote_addr":   info.RemoteAddr,
		"listener":      info.Listener,
	}
}

// Connect implements auth.Interface.
func (a *DeviceAuth) Connect(ctx context.Context, info *auth.Info) (err error) {
	logger := log.FromContext(ctx).WithFields(fields(info))
	defer func() { observeAdmission(err) }()

	id, ok := identity.FromConnectionID(info.ConnectionID)
	if !ok {
		if info.Secure || !a.allowUnidentified {
			logger.Warn("Refused client without device identity")
			return ErrUnidentified
		}
		logger.Warn("Admitted plaintext client without device identity, this will be deprecated")
		a.connections.Set(connection.Entry{ID: info.ConnectionID, Handle: info.Handle})
		return nil
	}
	logger = logger.WithFields(log.F{"tenant": id.Tenant, "device": id.Device})

	if info.Secure {
		if err := a.validator.Validate(info.PeerCertificates, id.Device); err != nil {
			logger.WithError(err).Warn("Refused client certificate")
			return fmt.Errorf("%w: %v", ErrCertificate, err)
		}
	}

	if err := a.directory.GetDevice(ctx, id.Tenant, id.Device); err != nil {
		logger.WithError(err).Warn("Could not confirm device")
		return fmt.Errorf("%w: %v", ErrUnknownDevice, err)
	}

	a.connections.Set(connection.Entry{
		ID:     info.ConnectionID,
		Tenant: id.Tenant,
		Device: id.Device,
		Handle: info.Handle,
	})
	if info.Secure {
		a.enforcer.Arm(info.ConnectionID, info.Handle)
	}
	logger.Debug("Admitted device")
	return nil
}

// Authorize implements auth.Interface.
func (a *DeviceAuth) Authorize(ctx context.Context, info *auth.Info, topic string, op auth.Operation) (err error) {
	logger := log.FromContext(ctx).WithFields(fields(info).Merge(log.F{
		"topic":     topic,
		"operation": op.String(),
	}))
	defer func() { observeAuthorization(op, err) }()

	entry, ok := a.connections.Get(info.ConnectionID)
	if !ok || (info.Handle != nil && entry.Handle != info.Handle) {
		logger.Error("Authorization requested for connection that was not admitted")
		return ErrUnknownConnection
	}

	id, ok := identity.Parse(info.ConnectionID, topic)
	if !ok {
		logger.Debug("Denied operation without device identity")
		return ErrIdentity
	}

	if !entry.Resolved() {
		// The decision below does not wait for this lookup; it only affects later operations.
		go a.resolve(context.WithoutCancel(ctx), entry, id)
	}

	if (entry.Tenant != "" && entry.Tenant != id.Tenant) || (entry.Device != "" && entry.Device != id.Device) {
		logger.WithFields(log.F{
			"tenant": entry.Tenant,
			"device": entry.Device,
		}).Warn("Denied operation on behalf of another device")
		return ErrOwnership
	}

	var expected string
	switch op {
	case auth.Publish:
		expected = id.AttrsTopic()
	case auth.Subscribe:
		expected = id.ConfigTopic()
	}
	if topic != expected {
		logger.WithField("expected", expected).Debug("Denied operation on topic")
		return ErrTopic
	}
	return nil
}

func (a *DeviceAuth) resolve(ctx context.Context, entry connection.Entry, id identity.Identity) {
	logger := log.FromContext(ctx).WithFields(log.F{
		"connection_id": entry.ID,
		"tenant":        id.Tenant,
		"device":        id.Device,
	})
	if err := a.directory.GetDevice(ctx, id.Tenant, id.Device); err != nil {
		logger.WithError(err).Warn("Could not resolve device of connection")
		return
	}
	if a.connections.Resolve(entry.ID, entry.Handle, id.Tenant, id.Device) {
		logger.Info("Resolved device of connection")
	}
}

// Disconnect implements auth.Interface.
func (a *DeviceAuth) Disconnect(ctx context.Context, info *auth.Info) {
	if a.release(info.ConnectionID, info.Handle) {
		log.FromContext(ctx).WithFields(fields(info)).Debug("Released connection")
	}
}

// release cancels the timers and removes the cache entry of the connection.
// It is safe to call more than once; only the first call for a handle has an effect.
func (a *DeviceAuth) release(id string, handle connection.Handle) bool {
	cancelled := a.enforcer.Cancel(id, handle)
	_, removed := a.connections.Release(id, handle)
	return cancelled || removed
}

func (a *DeviceAuth) expire(id string, handle connection.Handle, reason error) {
	if handle != nil {
		handle.Stop(reason)
	}
	a.release(id, handle)
	closures.WithLabelValues("lifetime").Inc()
}

// RemoveDevice closes the connection of a removed device and forgets any cached lookup.
// It returns false if the device was not connected.
func (a *DeviceAuth) RemoveDevice(ctx context.Context, tenant, device string) bool {
	if invalidator, ok := a.directory.(directory.Invalidator); ok {
		invalidator.Invalidate(tenant, device)
	}
	entry, ok := a.connections.Lookup(tenant, device)
	if !ok {
		return false
	}
	log.FromContext(ctx).WithFields(log.F{
		"connection_id": entry.ID,
		"tenant":        tenant,
		"device":        device,
	}).Info("Disconnecting removed device")
	if entry.Handle != nil {
		entry.Handle.Stop(ErrDeviceRemoved)
	}
	a.release(entry.ID, entry.Handle)
	closures.WithLabelValues("removed").Inc()
	return true
}
