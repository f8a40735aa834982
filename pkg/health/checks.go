// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package health

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// Memory fails when the heap in use exceeds limit bytes. A zero limit only reports.
func Memory(limit uint64) CheckFunc {
	return func(context.Context) error {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		if limit > 0 && stats.HeapInuse > limit {
			return fmt.Errorf("heap in use is %d MB, above %d MB", stats.HeapInuse>>20, limit>>20)
		}
		return nil
	}
}

// Kafka passes when at least one of the brokers accepts a connection.
func Kafka(brokers []string) CheckFunc {
	return func(ctx context.Context) error {
		if len(brokers) == 0 {
			return errors.New("no brokers configured")
		}
		var err error
		for _, broker := range brokers {
			var conn *kafka.Conn
			conn, err = kafka.DialContext(ctx, "tcp", broker)
			if err == nil {
				return conn.Close()
			}
		}
		return err
	}
}

// Pinger is implemented by Redis clients.
type Pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// Redis pings the Redis server.
func Redis(client Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// ContextPinger is implemented by *sql.DB.
type ContextPinger interface {
	PingContext(ctx context.Context) error
}

// SQL pings the database.
func SQL(db ContextPinger) CheckFunc {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}
