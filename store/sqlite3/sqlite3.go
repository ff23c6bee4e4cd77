// Package sqlite3 implements a keyed store in a single Sqlite file.
package sqlite3

import (
	"context"
	"database/sql"
	stderrs "errors"
	"net/url"
	"sync"

	"github.com/bobg/sqlutil"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/bobg/shardsync"
	"github.com/bobg/shardsync/store"
)

var (
	_ shardsync.Store  = &Store{}
	_ shardsync.Lister = &Store{}
)

// DefaultPath is where the command keeps its store unless configured otherwise.
const DefaultPath = "./db.sqlite"

// Store is a Sqlite-based keyed store.
type Store struct {
	db *sql.DB
}

// Schema is the SQL that New executes.
// It creates the `fields` table if it does not exist.
//
// The unique index is on the (hash, field) pair:
// one hash may carry many field records.
// Because hash is its leading column,
// the index also serves lookups by hash alone.
const Schema = `
CREATE TABLE IF NOT EXISTS fields (
  hash TEXT NOT NULL,
  field TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS hash_field_index ON fields (hash, field);
`

// Open opens the Sqlite file at path,
// creating it and its schema if necessary.
// Transactions on the resulting Store take Sqlite's write lock when they begin,
// so a second writer fails fast
// (after a short busy wait)
// instead of interleaving with a running sync.
func Open(ctx context.Context, path string) (*Store, error) {
	v := url.Values{}
	v.Set("_txlock", "immediate")
	v.Set("_busy_timeout", "5000")

	db, err := sql.Open("sqlite3", "file:"+path+"?"+v.Encode())
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	s, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "initializing %s", path)
	}
	return s, nil
}

// New produces a new Store using `db` for storage.
// It expects to create table `fields`,
// or for that table already to exist with the correct schema.
// (See variable Schema.)
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(ctx, Schema)
	return &Store{db: db}, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
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
type Tx struct {
	mu sync.Mutex // serializes writes
	tx *sql.Tx
}

// Upsert implements shardsync.Tx.
func (t *Tx) Upsert(ctx context.Context, hash string, rec shardsync.FieldRecord) error {
	const q = `INSERT OR REPLACE INTO fields (hash, field) VALUES (?, ?)`

	field, err := shardsync.Encode(rec)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	_, err = t.tx.ExecContext(ctx, q, hash, string(field))
	return classify(errors.Wrapf(err, "upserting %s", hash))
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
	const q = `SELECT hash, field FROM fields WHERE hash > ? ORDER BY hash, field`
	return sqlutil.ForQueryRows(ctx, s.db, q, start, func(hash, field string) error {
		return f(shardsync.Entry{Hash: hash, Field: field})
	})
}

// Count tells how many entries are stored.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fields`).Scan(&n)
	return n, errors.Wrap(err, "counting entries")
}

// Hashes calls f for each distinct hash in the store, in order.
func (s *Store) Hashes(ctx context.Context, f func(string, int) error) error {
	const q = `SELECT hash, COUNT(*) FROM fields GROUP BY hash ORDER BY hash`
	return sqlutil.ForQueryRows(ctx, s.db, q, f)
}

// Fields calls f for each field record stored under hash.
func (s *Store) Fields(ctx context.Context, hash string, f func(string) error) error {
	const q = `SELECT field FROM fields WHERE hash = ? ORDER BY field`
	return sqlutil.ForQueryRows(ctx, s.db, q, hash, f)
}

// Errors that leave the database unusable are marked fatal.
// Others (a bad value, a constraint) affect only the one upsert.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if stderrs.Is(err, sql.ErrTxDone) || stderrs.Is(err, sql.ErrConnDone) {
		return shardsync.NewError(shardsync.ErrStoreFatal, err)
	}
	var serr sqlite3.Error
	if stderrs.As(err, &serr) {
		switch serr.Code {
		case sqlite3.ErrIoErr, sqlite3.ErrCorrupt, sqlite3.ErrFull, sqlite3.ErrNotADB, sqlite3.ErrCantOpen, sqlite3.ErrReadonly:
			return shardsync.NewError(shardsync.ErrStoreFatal, err)
		}
	}
	return err
}

func init() {
	store.Register("sqlite3", func(ctx context.Context, conf map[string]interface{}) (shardsync.Store, error) {
		path, ok := conf["path"].(string)
		if !ok || path == "" {
			path = DefaultPath
		}
		return Open(ctx, path)
	})
}
