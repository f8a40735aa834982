// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package directory

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

const (
	schema = `CREATE TABLE IF NOT EXISTS devices (
	tenant    TEXT NOT NULL,
	device_id TEXT NOT NULL,
	PRIMARY KEY (tenant, device_id)
)`
	selectDevice = `SELECT 1 FROM devices WHERE tenant = $1 AND device_id = $2`
)

// SQLClient looks up devices in a devices table.
type SQLClient struct {
	db *sql.DB
}

// OpenSQL opens the database with the given driver ("sqlite3" or "postgres").
func OpenSQL(driver, dsn string) (*SQLClient, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	return NewSQLClient(db), nil
}

// NewSQLClient returns a client on an open database.
func NewSQLClient(db *sql.DB) *SQLClient {
	return &SQLClient{db: db}
}

// Migrate creates the devices table if it does not exist.
func (c *SQLClient) Migrate(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, schema)
	return err
}

// GetDevice implements Client.
func (c *SQLClient) GetDevice(ctx context.Context, tenant, device string) (err error) {
	start := time.Now()
	defer func() { observe("sql", start, err) }()

	var exists int
	err = c.db.QueryRowContext(ctx, selectDevice, tenant, device).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Ping the database.
func (c *SQLClient) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close the database.
func (c *SQLClient) Close() error {
	return c.db.Close()
}
