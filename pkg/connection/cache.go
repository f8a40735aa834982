// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

// Package connection keeps track of the device identity of live connections.
package connection

import (
	"sync"
	"time"

	"github.com/TheThingsIndustries/gatekeeper/pkg/identity"
)

// Handle is the transport connection owned by the broker.
type Handle interface {
	Stop(err error)
}

// Entry in the connection cache.
// Tenant and Device are empty for connections admitted without an identity.
type Entry struct {
	ID        string
	Tenant    string
	Device    string
	Handle    Handle
	Connected time.Time
}

// Resolved returns true if the entry has a concrete tenant and device.
func (e Entry) Resolved() bool { return e.Tenant != "" && e.Device != "" }

// Identity of the entry; only meaningful if Resolved.
func (e Entry) Identity() identity.Identity {
	return identity.Identity{Tenant: e.Tenant, Device: e.Device}
}

// Cache of connections, keyed by connection identifier.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewCache returns a new, empty cache.
func NewCache() *Cache {
	c := &Cache{entries: make(map[string]*Entry)}
	caches.Store(c, struct{}{})
	return c
}

// Set the entry, replacing any entry with the same identifier.
func (c *Cache) Set(entry Entry) {
	if entry.Connected.IsZero() {
		entry.Connected = time.Now()
	}
	c.mu.Lock()
	c.entries[entry.ID] = &entry
	c.mu.Unlock()
}

// Get the entry of a connection.
func (c *Cache) Get(id string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Delete the entry of a connection, regardless of its handle.
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Release deletes the entry of a connection if it still belongs to the given handle.
// A nil handle matches any entry. It returns false if nothing was deleted.
func (c *Cache) Release(id string, handle Handle) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[id]
	if !ok || (handle != nil && entry.Handle != handle) {
		return Entry{}, false
	}
	delete(c.entries, id)
	return *entry, true
}

// Resolve sets the tenant and device of an unresolved entry.
// The entry is only updated if it is still present, still belongs to the handle and has no identity yet;
// a concurrent Release or an existing identity wins.
func (c *Cache) Resolve(id string, handle Handle, tenant, device string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[id]
	if !ok || entry.Handle != handle || entry.Tenant != "" || entry.Device != "" {
		return false
	}
	entry.Tenant, entry.Device = tenant, device
	return true
}

// Values returns a snapshot of all entries.
func (c *Cache) Values() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	values := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		values = append(values, *entry)
	}
	return values
}

// Lookup finds the connection of a device. Devices are expected to connect as "tenant:device";
// other connections are found by scanning the cache.
func (c *Cache) Lookup(tenant, device string) (Entry, bool) {
	key := identity.Identity{Tenant: tenant, Device: device}.ConnectionID()
	if entry, ok := c.Get(key); ok && entry.Tenant == tenant && entry.Device == device {
		return entry, true
	}
	for _, entry := range c.Values() {
		if entry.Tenant == tenant && entry.Device == device {
			return entry, true
		}
	}
	return Entry{}, false
}

// Count returns the number of entries.
func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
