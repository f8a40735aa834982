// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package connection

import (
	"fmt"
	"sync"
	"testing"

	"github.com/smartystreets/assertions"
	"github.com/smartystreets/assertions/should"
)

type handle struct{ name string }

func (h *handle) Stop(error) {}

func TestCache(t *testing.T) {
	a := assertions.New(t)
	c := NewCache()

	_, ok := c.Get("admin:u86fda")
	a.So(ok, should.BeFalse)

	h := &handle{"one"}
	c.Set(Entry{ID: "admin:u86fda", Tenant: "admin", Device: "u86fda", Handle: h})

	entry, ok := c.Get("admin:u86fda")
	a.So(ok, should.BeTrue)
	a.So(entry.Tenant, should.Equal, "admin")
	a.So(entry.Device, should.Equal, "u86fda")
	a.So(entry.Handle, should.Equal, h)
	a.So(entry.Resolved(), should.BeTrue)
	a.So(entry.Connected.IsZero(), should.BeFalse)
	a.So(c.Count(), should.Equal, 1)

	// Entries are copies.
	entry.Device = "other"
	entry, _ = c.Get("admin:u86fda")
	a.So(entry.Device, should.Equal, "u86fda")

	c.Delete("admin:u86fda")
	c.Delete("admin:u86fda")
	a.So(c.Count(), should.Equal, 0)
}

func TestRelease(t *testing.T) {
	a := assertions.New(t)
	c := NewCache()

	old, current := &handle{"old"}, &handle{"current"}
	c.Set(Entry{ID: "admin:u86fda", Tenant: "admin", Device: "u86fda", Handle: current})

	_, ok := c.Release("admin:u86fda", old)
	a.So(ok, should.BeFalse)
	a.So(c.Count(), should.Equal, 1)

	entry, ok := c.Release("admin:u86fda", current)
	a.So(ok, should.BeTrue)
	a.So(entry.Handle, should.Equal, current)

	_, ok = c.Release("admin:u86fda", current)
	a.So(ok, should.BeFalse)

	c.Set(Entry{ID: "legacy", Handle: current})
	_, ok = c.Release("legacy", nil)
	a.So(ok, should.BeTrue)
}

func TestResolve(t *testing.T) {
	a := assertions.New(t)
	c := NewCache()
	h := &handle{"legacy"}

	c.Set(Entry{ID: "legacy", Handle: h})
	entry, _ := c.Get("legacy")
	a.So(entry.Resolved(), should.BeFalse)

	a.So(c.Resolve("legacy", &handle{"other"}, "admin", "u86fda"), should.BeFalse)
	a.So(c.Resolve("legacy", h, "admin", "u86fda"), should.BeTrue)
	entry, _ = c.Get("legacy")
	a.So(entry.Identity().ConnectionID(), should.Equal, "admin:u86fda")

	// Once resolved, the identity is immutable.
	a.So(c.Resolve("legacy", h, "admin", "other"), should.BeFalse)
	entry, _ = c.Get("legacy")
	a.So(entry.Device, should.Equal, "u86fda")

	// A released entry is not brought back.
	c.Release("legacy", h)
	a.So(c.Resolve("legacy", h, "admin", "u86fda"), should.BeFalse)
	_, ok := c.Get("legacy")
	a.So(ok, should.BeFalse)
}

func TestLookup(t *testing.T) {
	a := assertions.New(t)
	c := NewCache()

	c.Set(Entry{ID: "admin:u86fda", Tenant: "admin", Device: "u86fda", Handle: &handle{}})
	c.Set(Entry{ID: "legacy", Tenant: "admin", Device: "abc123", Handle: &handle{}})
	c.Set(Entry{ID: "admin:unresolved", Handle: &handle{}})

	entry, ok := c.Lookup("admin", "u86fda")
	a.So(ok, should.BeTrue)
	a.So(entry.ID, should.Equal, "admin:u86fda")

	entry, ok = c.Lookup("admin", "abc123")
	a.So(ok, should.BeTrue)
	a.So(entry.ID, should.Equal, "legacy")

	_, ok = c.Lookup("admin", "unresolved")
	a.So(ok, should.BeFalse)

	_, ok = c.Lookup("other", "u86fda")
	a.So(ok, should.BeFalse)

	a.So(c.Values(), should.HaveLength, 3)
}

func TestConcurrentAccess(t *testing.T) {
	a := assertions.New(t)
	c := NewCache()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("conn%d", i)
			h := &handle{id}
			c.Set(Entry{ID: id, Handle: h})
			done := make(chan struct{})
			go func() {
				c.Resolve(id, h, "tenant", id)
				close(done)
			}()
			c.Release(id, h)
			<-done
			c.Values()
		}(i)
	}
	wg.Wait()
	a.So(c.Count(), should.Equal, 0)
}
