// Copyright © 2018 The Things Industries, distributed under the MIT license (see LICENSE file)

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/TheThingsIndustries/gatekeeper/pkg/auth"
	"github.com/TheThingsIndustries/gatekeeper/pkg/identity"
	"github.com/TheThingsIndustries/gatekeeper/pkg/ratelimit"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/mochi-mqtt/server/v2/system"
	"github.com/smartystreets/assertions"
	"github.com/smartystreets/assertions/should"
	"golang.org/x/time/rate"
)

type fakeAuth struct {
	mu          sync.Mutex
	refuse      map[string]bool
	disconnects []string
}

func (f *fakeAuth) Connect(_ context.Context, info *auth.Info) error {
	if f.refuse[info.ConnectionID] {
		return errors.New("refused")
	}
	return nil
}

func (f *fakeAuth) Authorize(_ context.Context, info *auth.Info, topic string, op auth.Operation) error {
	id, ok := identity.FromConnectionID(info.ConnectionID)
	if !ok {
		return errors.New("no identity")
	}
	if (op == auth.Publish && topic == id.AttrsTopic()) || (op == auth.Subscribe && topic == id.ConfigTopic()) {
		return nil
	}
	return errors.New("wrong topic")
}

func (f *fakeAuth) Disconnect(_ context.Context, info *auth.Info) {
	f.mu.Lock()
	f.disconnects = append(f.disconnects, info.ConnectionID)
	f.mu.Unlock()
}

type fakeDeviceData struct {
	ids      chan identity.Identity
	payloads chan []byte
}

func newFakeDeviceData() *fakeDeviceData {
	return &fakeDeviceData{
		ids:      make(chan identity.Identity, 10),
		payloads: make(chan []byte, 10),
	}
}

func (f *fakeDeviceData) Enqueue(id identity.Identity, payload []byte) bool {
	f.ids <- id
	f.payloads <- payload
	return true
}

func TestHook(t *testing.T) {
	a := assertions.New(t)
	ctx := context.Background()

	fa := &fakeAuth{refuse: map[string]bool{"admin:ghost": true}}
	dd := newFakeDeviceData()
	g, err := New(ctx,
		WithAuth(fa),
		WithLimiter(ratelimit.NewPerConnection(rate.Every(time.Hour), 1)),
		WithDeviceData(dd),
	)
	if !a.So(err, should.BeNil) {
		t.FailNow()
	}
	h := &hook{gateway: g}

	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	cl := g.server.NewClient(local, "tcp", "admin:u86fda", false)
	a.So(h.OnConnectAuthenticate(cl, packets.Packet{}), should.BeTrue)
	a.So(h.OnConnectAuthenticate(g.server.NewClient(local, "tcp", "admin:ghost", false), packets.Packet{}), should.BeFalse)

	info := g.info(cl)
	a.So(info.ConnectionID, should.Equal, "admin:u86fda")
	a.So(info.Listener, should.Equal, "tcp")
	a.So(info.Secure, should.BeFalse)
	a.So(info.Handle == cl, should.BeTrue)

	a.So(h.OnACLCheck(cl, "/admin/u86fda/config", false), should.BeTrue)
	a.So(h.OnACLCheck(cl, "/admin/u86fda/attrs", false), should.BeFalse)
	a.So(h.OnACLCheck(cl, "/admin/other/attrs", true), should.BeFalse)
	a.So(h.OnACLCheck(cl, "/admin/u86fda/attrs", true), should.BeTrue)
	a.So(h.OnACLCheck(cl, "/admin/u86fda/attrs", true), should.BeFalse) // throttled

	inline := g.server.NewClient(nil, "local", "inline", true)
	a.So(h.OnACLCheck(inline, "/admin/u86fda/config", true), should.BeTrue)

	payload := []byte(`{"temperature": 21.5}`)
	h.OnPublished(cl, packets.Packet{TopicName: "/admin/u86fda/attrs", Payload: payload})
	payload[2] = 'X'
	select {
	case id := <-dd.ids:
		a.So(id, should.Resemble, identity.Identity{Tenant: "admin", Device: "u86fda"})
		a.So(string(<-dd.payloads), should.Equal, `{"temperature": 21.5}`)
	default:
		t.Fatal("Expected device data")
	}

	h.OnPublished(inline, packets.Packet{TopicName: "/admin/u86fda/attrs", Payload: payload})
	h.OnPublished(cl, packets.Packet{TopicName: "/admin/u86fda/other", Payload: payload})
	a.So(dd.ids, should.HaveLength, 0)

	h.OnDisconnect(cl, io.EOF, true)
	a.So(fa.disconnects, should.Resemble, []string{"admin:u86fda"})
	a.So(h.OnACLCheck(cl, "/admin/u86fda/attrs", true), should.BeTrue) // limiter forgotten

	h.OnSysInfoTick(&system.Info{ClientsConnected: 2, MessagesReceived: 10})
	a.So(g.Stats().Snapshot().ConnectedClients, should.Equal, int64(2))
}

func TestInfoTLS(t *testing.T) {
	a := assertions.New(t)

	g, err := New(context.Background())
	if !a.So(err, should.BeNil) {
		t.FailNow()
	}
	local, remote := net.Pipe()
	defer remote.Close()
	conn := tls.Server(local, &tls.Config{})
	defer conn.Close()

	info := g.info(g.server.NewClient(conn, "tls", "admin:u86fda", false))
	a.So(info.Secure, should.BeTrue)
	a.So(info.PeerCertificates, should.BeEmpty)
	a.So(info.Interface, should.BeNil)
}

func TestStats(t *testing.T) {
	a := assertions.New(t)

	s := NewStats()
	a.So(s.Snapshot(), should.Resemble, Snapshot{})

	now := time.Now()
	s.Update(now, 10, 0)
	snap := s.Snapshot()
	a.So(snap.ConnectedClients, should.Equal, int64(10))
	a.So(snap.ConnectionsLoad1min, should.Equal, 10.0)
	a.So(snap.MessagesLoad1min, should.Equal, 0.0)

	// 60 messages in one minute.
	s.Update(now.Add(time.Minute), 10, 60)
	snap = s.Snapshot()
	a.So(snap.ConnectionsLoad15min, should.Equal, 10.0)
	a.So(snap.MessagesLoad1min, should.Equal, 37.93) // 60 * (1 - 1/e)
	a.So(snap.MessagesLoad5min < snap.MessagesLoad1min, should.BeTrue)
	a.So(snap.MessagesLoad15min < snap.MessagesLoad5min, should.BeTrue)

	// Time going backwards is ignored.
	s.Update(now, 0, 0)
	a.So(s.Snapshot(), should.Resemble, snap)
}
