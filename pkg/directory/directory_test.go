// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package directory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smartystreets/assertions"
	"github.com/smartystreets/assertions/should"
)

func deviceManager(t *testing.T, secret []byte, devices ...string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if claims["service"] == "broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		for _, device := range devices {
			if r.URL.Path == "/device/"+device && claims["service"] == "admin" {
				w.Write([]byte(`{"id":"` + device + `"}`))
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	}))
}

func TestHTTPClient(t *testing.T) {
	a := assertions.New(t)
	ctx := context.Background()
	secret := []byte("secret")

	srv := deviceManager(t, secret, "u86fda")
	defer srv.Close()

	client := NewHTTPClient(srv.URL+"/", WithSecret(secret), WithHTTPClient(srv.Client()))
	a.So(client.GetDevice(ctx, "admin", "u86fda"), should.BeNil)
	a.So(client.GetDevice(ctx, "admin", "unknown"), should.Equal, ErrNotFound)
	a.So(client.GetDevice(ctx, "other", "u86fda"), should.Equal, ErrNotFound)

	err := client.GetDevice(ctx, "broken", "u86fda")
	a.So(err, should.NotBeNil)
	a.So(errors.Is(err, ErrNotFound), should.BeFalse)

	unsigned := NewHTTPClient(srv.URL)
	err = unsigned.GetDevice(ctx, "admin", "u86fda")
	a.So(err, should.NotBeNil)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	a.So(client.GetDevice(canceled, "admin", "u86fda"), should.NotBeNil)
}

func TestSQLClient(t *testing.T) {
	a := assertions.New(t)
	ctx := context.Background()

	client, err := OpenSQL("sqlite3", ":memory:")
	a.So(err, should.BeNil)
	defer client.Close()
	client.db.SetMaxOpenConns(1)

	a.So(client.Migrate(ctx), should.BeNil)
	a.So(client.Migrate(ctx), should.BeNil)
	_, err = client.db.ExecContext(ctx, `INSERT INTO devices (tenant, device_id) VALUES ($1, $2)`, "admin", "u86fda")
	a.So(err, should.BeNil)

	a.So(client.Ping(ctx), should.BeNil)
	a.So(client.GetDevice(ctx, "admin", "u86fda"), should.BeNil)
	a.So(client.GetDevice(ctx, "admin", "unknown"), should.Equal, ErrNotFound)
	a.So(client.GetDevice(ctx, "other", "u86fda"), should.Equal, ErrNotFound)
}

type countingClient struct {
	calls int32
	delay time.Duration
	err   error
}

func (c *countingClient) GetDevice(ctx context.Context, tenant, device string) error {
	atomic.AddInt32(&c.calls, 1)
	time.Sleep(c.delay)
	return c.err
}

func TestCache(t *testing.T) {
	a := assertions.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := &countingClient{delay: 20 * time.Millisecond}
	cache := NewCache(ctx, backend, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.So(cache.GetDevice(ctx, "admin", "u86fda"), should.BeNil)
		}()
	}
	wg.Wait()
	a.So(atomic.LoadInt32(&backend.calls), should.Equal, int32(1))

	a.So(cache.GetDevice(ctx, "admin", "u86fda"), should.BeNil)
	a.So(atomic.LoadInt32(&backend.calls), should.Equal, int32(1))

	cache.Invalidate("admin", "u86fda")
	a.So(cache.GetDevice(ctx, "admin", "u86fda"), should.BeNil)
	a.So(atomic.LoadInt32(&backend.calls), should.Equal, int32(2))

	var invalidator Invalidator = cache
	a.So(invalidator, should.NotBeNil)
}

func TestCacheErrors(t *testing.T) {
	a := assertions.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := &countingClient{err: ErrNotFound}
	cache := NewCache(ctx, backend, time.Minute)

	a.So(cache.GetDevice(ctx, "admin", "u86fda"), should.Equal, ErrNotFound)
	a.So(cache.GetDevice(ctx, "admin", "u86fda"), should.Equal, ErrNotFound)
	a.So(atomic.LoadInt32(&backend.calls), should.Equal, int32(2))
}

func TestCacheExpiry(t *testing.T) {
	a := assertions.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := &countingClient{}
	cache := NewCache(ctx, backend, 10*time.Millisecond)

	a.So(cache.GetDevice(ctx, "admin", "u86fda"), should.BeNil)
	time.Sleep(30 * time.Millisecond)
	a.So(cache.GetDevice(ctx, "admin", "u86fda"), should.BeNil)
	a.So(atomic.LoadInt32(&backend.calls), should.Equal, int32(2))
}
