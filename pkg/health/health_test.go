// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smartystreets/assertions"
	"github.com/smartystreets/assertions/should"
)

func TestChecker(t *testing.T) {
	a := assertions.New(t)

	c := NewChecker(time.Second)
	c.Register("memory", Memory(0))
	c.Register("ok", func(context.Context) error { return nil })
	a.So(c.Names(), should.Resemble, []string{"memory", "ok"})

	rec := httptest.NewRecorder()
	c.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	a.So(rec.Code, should.Equal, http.StatusOK)
	var report Report
	a.So(json.Unmarshal(rec.Body.Bytes(), &report), should.BeNil)
	a.So(report.Status, should.Equal, Pass)
	a.So(report.Checks, should.HaveLength, 2)

	c.Register("kafka", func(context.Context) error { return errors.New("no brokers reachable") })
	rec = httptest.NewRecorder()
	c.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	a.So(rec.Code, should.Equal, http.StatusServiceUnavailable)
	report = Report{}
	a.So(json.Unmarshal(rec.Body.Bytes(), &report), should.BeNil)
	a.So(report.Status, should.Equal, Fail)
	a.So(report.Checks["kafka"], should.Resemble, Result{Status: Fail, Output: "no brokers reachable"})
	a.So(report.Checks["ok"], should.Resemble, Result{Status: Pass})
}

func TestCheckTimeout(t *testing.T) {
	a := assertions.New(t)

	c := NewChecker(20 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	report := c.Run(context.Background())
	a.So(report.Status, should.Equal, Fail)
}

func TestMemory(t *testing.T) {
	a := assertions.New(t)
	a.So(Memory(0)(context.Background()), should.BeNil)
	a.So(Memory(1)(context.Background()), should.NotBeNil)
}

func TestKafka(t *testing.T) {
	a := assertions.New(t)
	ctx := context.Background()

	a.So(Kafka(nil)(ctx), should.NotBeNil)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if !a.So(err, should.BeNil) {
		t.FailNow()
	}
	addr := lis.Addr().String()
	lis.Close()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	a.So(Kafka([]string{addr})(ctx), should.NotBeNil)
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx, "ping")
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal("PONG")
	}
	return cmd
}

type fakeDB struct{ err error }

func (f fakeDB) PingContext(context.Context) error { return f.err }

func TestPingers(t *testing.T) {
	a := assertions.New(t)
	ctx := context.Background()

	a.So(Redis(fakePinger{})(ctx), should.BeNil)
	a.So(Redis(fakePinger{err: redis.Nil})(ctx), should.Equal, redis.Nil)
	a.So(SQL(fakeDB{})(ctx), should.BeNil)
	a.So(SQL(fakeDB{err: errors.New("closed")})(ctx), should.NotBeNil)
}
