// Package shard streams attachment field data out of one shard of the attachment database.
package shard

import (
	"context"
	"database/sql"
	"time"

	"github.com/bobg/sqlutil"
	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/bobg/shardsync"
)

// Query produces one row per distinct (storage hash, field ID, value) triple
// among the shard's attachments.
// Attachments whose items have no field data yield a single row with null field ID and value.
// Attachments with no storage hash are excluded.
//
// There is no ORDER BY:
// rows arrive in whatever order the server produces them.
const Query = `
SELECT DISTINCT itmat.storageHash, itmd.fieldID, itmd.value
FROM itemAttachments AS itmat
LEFT JOIN itemData AS itmd USING (itemID)
WHERE itmat.storageHash IS NOT NULL
`

// Source is a connection to one shard.
type Source struct {
	db *sql.DB
}

// New produces a Source reading from db.
func New(db *sql.DB) *Source {
	return &Source{db: db}
}

// Open connects to the MySQL shard at coords.
// The connection is checked before Open returns.
func Open(ctx context.Context, coords shardsync.Coords, timeout time.Duration) (*Source, error) {
	conf := mysql.NewConfig()
	conf.User = coords.User
	conf.Passwd = coords.Password
	conf.Net = "tcp"
	conf.Addr = coords.Addr()
	conf.DBName = coords.DB
	conf.Timeout = timeout

	db, err := sql.Open("mysql", conf.FormatDSN())
	if err != nil {
		return nil, errors.Wrapf(err, "opening shard %s", coords)
	}

	// One connection carries the whole streaming query.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "connecting to shard %s", coords)
	}
	return New(db), nil
}

// Stream runs Query and calls f on each row as it arrives from the server.
// The next row is not read until f returns,
// so a slow f slows the server down rather than filling memory.
// If f returns an error,
// Stream stops and returns that error.
func (s *Source) Stream(ctx context.Context, f func(shardsync.Row) error) error {
	return sqlutil.ForQueryRows(ctx, s.db, Query, func(hash sql.NullString, fieldID sql.NullInt64, value sql.NullString) error {
		return f(shardsync.Row{Hash: hash, FieldID: fieldID, Value: value})
	})
}

// Close closes the connection to the shard.
func (s *Source) Close() error {
	return s.db.Close()
}
