// Package pg implements a keyed store in a Postgresql database.
package pg

import (
	"context"
	"database/sql"
	stderrs "errors"
	"sync"

	"github.com/bobg/sqlutil"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/bobg/shardsync"
	"github.com/bobg/shardsync/store"
)

var (
	_ shardsync.Store  = &Store{}
	_ shardsync.Lister = &Store{}
)

// Store is a Postgresql-based keyed store.
type Store struct {
	db *sql.DB
}

// Schema is the SQL that New executes.
// It creates the `fields` table if it does not exist.
// (If it does exist, it must have the columns and unique index described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS fields (
  hash TEXT NOT NULL,
  field TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS hash_field_index ON fields (hash, field);
`

// New produces a new Store using `db` for storage.
// It expects to create table `fields`,
// or for that table already to exist with the correct schema.
// (See variable Schema.)
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(ctx, Schema)
	return &Store{db: db}, err
}

// Begin implements shardsync.Store.
func (s *Store) Begin(ctx context.Context) (shardsync.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, shardsync.NewError(shardsync.ErrStoreFatal, errors.Wrap(err, "beginning transaction"))
	}
	return &Tx{tx: tx}, nil
}

// Tx is a transaction on a Store.
//
// In Postgresql a failed statement aborts its whole transaction,
// so each upsert runs inside its own savepoint
// and a failure rolls back only that savepoint.
type Tx struct {
	mu sync.Mutex // serializes writes; there is only one savepoint at a time
	tx *sql.Tx
}

// Upsert implements shardsync.Tx.
func (t *Tx) Upsert(ctx context.Context, hash string, rec shardsync.FieldRecord) error {
	const q = `INSERT INTO fields (hash, field) VALUES ($1, $2) ON CONFLICT (hash, field) DO NOTHING`

	field, err := shardsync.Encode(rec)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err = t.tx.ExecContext(ctx, `SAVEPOINT upsert`); err != nil {
		return classify(errors.Wrap(err, "creating savepoint"))
	}
	if _, err = t.tx.ExecContext(ctx, q, hash, string(field)); err != nil {
		if _, err2 := t.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT upsert`); err2 != nil {
			return shardsync.NewError(shardsync.ErrStoreFatal, errors.Wrap(err2, "rolling back to savepoint"))
		}
		return classify(errors.Wrapf(err, "upserting %s", hash))
	}
	_, err = t.tx.ExecContext(ctx, `RELEASE SAVEPOINT upsert`)
	return classify(errors.Wrap(err, "releasing savepoint"))
}

// Commit implements shardsync.Tx.
func (t *Tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return classify(errors.Wrap(t.tx.Commit(), "committing"))
}

// Rollback implements shardsync.Tx.
func (t *Tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return errors.Wrap(t.tx.Rollback(), "rolling back")
}

// ListEntries implements shardsync.Lister.
func (s *Store) ListEntries(ctx context.Context, start string, f func(shardsync.Entry) error) error {
	const q = `SELECT hash, field FROM fields WHERE hash > $1 ORDER BY hash, field`
	return sqlutil.ForQueryRows(ctx, s.db, q, start, func(hash, field string) error {
		return f(shardsync.Entry{Hash: hash, Field: field})
	})
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if stderrs.Is(err, sql.ErrTxDone) || stderrs.Is(err, sql.ErrConnDone) {
		return shardsync.NewError(shardsync.ErrStoreFatal, err)
	}
	var perr *pq.Error
	if stderrs.As(err, &perr) {
		switch perr.Code.Class() {
		case "08", // connection exception
			"25", // invalid transaction state
			"53", // insufficient resources
			"57", // operator intervention
			"58", // system error
			"XX": // internal error
			return shardsync.NewError(shardsync.ErrStoreFatal, err)
		}
	}
	return err
}

func init() {
	store.Register("pg", func(ctx context.Context, conf map[string]interface{}) (shardsync.Store, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			return nil, errors.New(`missing "conn" parameter`)
		}
		db, err := sql.Open("postgres", conn)
		if err != nil {
			return nil, errors.Wrap(err, "opening db")
		}
		return New(ctx, db)
	})
}
