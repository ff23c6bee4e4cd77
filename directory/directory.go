// Package directory resolves shard IDs to the coordinates of the servers holding them.
package directory

import (
	"context"
	"database/sql"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/bobg/shardsync"
)

// Query joins the shards table to the shardHosts table.
// It produces the host address, port, and database name for one shard ID.
const Query = `
SELECT sh.address, sh.port, s.db
FROM shards AS s
LEFT JOIN shardHosts AS sh USING (shardHostID)
WHERE s.shardID = ?
`

// Querier is satisfied by *sql.DB, *sql.Conn, and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Lookup runs Query against q.
// It returns an error wrapping shardsync.ErrNotFound if no shard has the given ID.
// The returned Coords have no credentials.
func Lookup(ctx context.Context, q Querier, shardID string) (shardsync.Coords, error) {
	rows, err := q.QueryContext(ctx, Query, shardID)
	if err != nil {
		return shardsync.Coords{}, errors.Wrapf(err, "querying directory for shard %s", shardID)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return shardsync.Coords{}, errors.Wrapf(err, "querying directory for shard %s", shardID)
		}
		return shardsync.Coords{}, errors.Wrapf(shardsync.ErrNotFound, "shard %s", shardID)
	}

	var (
		addr sql.NullString
		port sql.NullInt64
		db   string
	)
	if err := rows.Scan(&addr, &port, &db); err != nil {
		return shardsync.Coords{}, errors.Wrapf(err, "scanning directory row for shard %s", shardID)
	}
	if !addr.Valid || !port.Valid {
		return shardsync.Coords{}, errors.Errorf("shard %s has no host", shardID)
	}

	return shardsync.Coords{Host: addr.String, Port: int(port.Int64), DB: db}, nil
}

// MySQL is a shard directory in a MySQL database.
type MySQL struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string

	// Timeout bounds connecting to the directory. Zero means no limit.
	Timeout time.Duration
}

// Lookup connects to the directory database,
// looks up shardID,
// and disconnects before returning.
// The shard's credentials are the directory's own.
func (m *MySQL) Lookup(ctx context.Context, shardID string) (shardsync.Coords, error) {
	db, err := sql.Open("mysql", m.DSN())
	if err != nil {
		return shardsync.Coords{}, errors.Wrapf(err, "opening directory %s", m.Host)
	}
	return m.lookupAndClose(ctx, db, shardID)
}

// lookupAndClose closes db before returning, whether or not the lookup succeeds.
func (m *MySQL) lookupAndClose(ctx context.Context, db *sql.DB, shardID string) (shardsync.Coords, error) {
	defer db.Close()

	coords, err := Lookup(ctx, db, shardID)
	if err != nil {
		return shardsync.Coords{}, err
	}
	coords.User = m.User
	coords.Password = m.Password
	return coords, nil
}

// DSN is the connection string for the directory database.
func (m *MySQL) DSN() string {
	conf := mysql.NewConfig()
	conf.User = m.User
	conf.Passwd = m.Password
	conf.DBName = m.Database
	conf.Timeout = m.Timeout
	if m.Host != "" {
		conf.Net = "tcp"
		conf.Addr = m.Host
		if m.Port != 0 {
			conf.Addr = net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
		}
	}
	return conf.FormatDSN()
}
