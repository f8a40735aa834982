// Copyright © 2018 The Things Industries, distributed under the MIT license (see LICENSE file)

package gateway

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/TheThingsIndustries/gatekeeper/pkg/auth/deviceauth"
	"github.com/TheThingsIndustries/gatekeeper/pkg/connection"
	"github.com/TheThingsIndustries/gatekeeper/pkg/directory"
	"github.com/TheThingsIndustries/gatekeeper/pkg/identity"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/smartystreets/assertions"
	"github.com/smartystreets/assertions/should"
)

type fakeDirectory map[string]bool

func (f fakeDirectory) GetDevice(_ context.Context, tenant, device string) error {
	if f[tenant+":"+device] {
		return nil
	}
	return directory.ErrNotFound
}

const timeout = 5 * time.Second

func connect(addr, clientID string) (paho.Client, error) {
	opts := paho.NewClientOptions().
		AddBroker("tcp://" + addr).
		SetClientID(clientID).
		SetAutoReconnect(false).
		SetConnectTimeout(timeout)
	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, context.DeadlineExceeded
	}
	return client, token.Error()
}

func TestGateway(t *testing.T) {
	a := assertions.New(t)
	ctx := context.Background()

	devices := deviceauth.New(fakeDirectory{"admin:u86fda": true}, connection.NewCache())
	deviceData := newFakeDeviceData()
	g, err := New(ctx, WithAuth(devices), WithDeviceData(deviceData))
	if !a.So(err, should.BeNil) {
		t.FailNow()
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if !a.So(err, should.BeNil) {
		t.FailNow()
	}
	a.So(g.AddListener(listeners.NewNet("tcp", lis)), should.BeNil)
	a.So(g.Serve(), should.BeNil)
	defer g.Close()
	addr := lis.Addr().String()

	_, err = connect(addr, "admin:ghost")
	a.So(err, should.NotBeNil)
	a.So(devices.Connections().Count(), should.Equal, 0)

	client, err := connect(addr, "admin:u86fda")
	if !a.So(err, should.BeNil) {
		t.FailNow()
	}
	a.So(devices.Connections().Count(), should.Equal, 1)

	configs := make(chan []byte, 1)
	token := client.Subscribe("/admin/u86fda/config", 0, func(_ paho.Client, msg paho.Message) {
		configs <- msg.Payload()
	})
	a.So(token.WaitTimeout(timeout), should.BeTrue)
	a.So(token.Error(), should.BeNil)

	a.So(g.Configure(ctx, "admin", "u86fda", []byte(`{"led":true}`)), should.BeNil)
	select {
	case payload := <-configs:
		a.So(string(payload), should.Equal, `{"led":true}`)
	case <-time.After(timeout):
		t.Error("Did not receive configuration")
	}

	token = client.Publish("/admin/other/attrs", 0, false, `{"temperature": 30}`)
	a.So(token.WaitTimeout(timeout), should.BeTrue)
	token = client.Publish("/admin/u86fda/attrs", 0, false, `{"temperature": 21.5}`)
	a.So(token.WaitTimeout(timeout), should.BeTrue)
	select {
	case id := <-deviceData.ids:
		a.So(id, should.Resemble, identity.Identity{Tenant: "admin", Device: "u86fda"})
		a.So(string(<-deviceData.payloads), should.Equal, `{"temperature": 21.5}`)
	case <-time.After(timeout):
		t.Error("Did not receive device data")
	}

	client.Disconnect(100)
	deadline := time.Now().Add(timeout)
	for devices.Connections().Count() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	a.So(devices.Connections().Count(), should.Equal, 0)
	a.So(deviceData.ids, should.HaveLength, 0)
}

func TestRemoveDevice(t *testing.T) {
	a := assertions.New(t)
	ctx := context.Background()

	devices := deviceauth.New(fakeDirectory{"admin:u86fda": true}, connection.NewCache())
	g, err := New(ctx, WithAuth(devices))
	if !a.So(err, should.BeNil) {
		t.FailNow()
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if !a.So(err, should.BeNil) {
		t.FailNow()
	}
	a.So(g.AddListener(listeners.NewNet("tcp", lis)), should.BeNil)
	a.So(g.Serve(), should.BeNil)
	defer g.Close()

	lost := make(chan error, 1)
	opts := paho.NewClientOptions().
		AddBroker("tcp://" + lis.Addr().String()).
		SetClientID("admin:u86fda").
		SetAutoReconnect(false).
		SetConnectionLostHandler(func(_ paho.Client, err error) { lost <- err })
	client := paho.NewClient(opts)
	token := client.Connect()
	a.So(token.WaitTimeout(timeout), should.BeTrue)
	if !a.So(token.Error(), should.BeNil) {
		t.FailNow()
	}

	a.So(devices.RemoveDevice(ctx, "admin", "u86fda"), should.BeTrue)
	select {
	case <-lost:
	case <-time.After(timeout):
		t.Error("Connection of removed device was not closed")
	}
	a.So(devices.Connections().Count(), should.Equal, 0)
	a.So(devices.RemoveDevice(ctx, "admin", "u86fda"), should.BeFalse)
}
