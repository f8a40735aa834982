// Copyright © 2017 The Things Industries, distributed under the MIT license (see LICENSE file)

package net

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/smartystreets/assertions"
	"github.com/smartystreets/assertions/should"
)

func TestLimits(t *testing.T) {
	a := assertions.New(t)

	a.So(newLimits(0), should.BeNil)

	var unlimited *limits
	a.So(unlimited.connect("127.0.0.1"), should.BeNil)
	a.So(func() { unlimited.disconnect("127.0.0.1") }, should.NotPanic)

	l := newLimits(2)
	a.So(l.connect("127.0.0.1"), should.BeNil)
	a.So(l.connect("127.0.0.1"), should.BeNil)
	a.So(l.connect("127.0.0.1"), should.Equal, errLimitReached)
	a.So(l.connect("10.0.0.1"), should.BeNil)
	l.disconnect("127.0.0.1")
	a.So(l.connect("127.0.0.1"), should.BeNil)
}

func TestListener(t *testing.T) {
	a := assertions.New(t)

	lis, err := Listen("tcp", "127.0.0.1:0", "test", WithMaxConnectionsPerIP(1), WithMaxConnections(10))
	a.So(err, should.BeNil)
	defer lis.Close()

	accepted := make(chan net.Conn, 2)
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()

	first, err := net.Dial("tcp", lis.Addr().String())
	a.So(err, should.BeNil)
	defer first.Close()

	var sConn net.Conn
	select {
	case sConn = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("not accepted")
	}

	// The second connection from the same IP is closed by the listener.
	second, err := net.Dial("tcp", lis.Addr().String())
	a.So(err, should.BeNil)
	defer second.Close()
	second.SetReadDeadline(time.Now().Add(time.Second))
	_, err = second.Read(make([]byte, 1))
	a.So(err, should.Equal, io.EOF)

	// Closing the first connection frees the slot.
	a.So(sConn.Close(), should.BeNil)
	a.So(sConn.Close(), should.NotBeNil)

	third, err := net.Dial("tcp", lis.Addr().String())
	a.So(err, should.BeNil)
	defer third.Close()
	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("not accepted after slot was freed")
	}
}
