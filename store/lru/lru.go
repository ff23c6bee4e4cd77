// Package lru implements a keyed store that remembers recently upserted entries
// and skips writing them to a nested store again.
package lru

import (
	"context"
	"encoding/json"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/bobg/shardsync"
	"github.com/bobg/shardsync/store"
)

var _ shardsync.Store = &Store{}

// Store wraps a nested keyed store.
// Within a transaction,
// an upsert of an entry that was already upserted successfully is acknowledged
// without reaching the nested store.
// That is safe because upserts are idempotent.
//
// The cache is discarded when a transaction rolls back,
// since the entries it remembers were never committed.
type Store struct {
	s shardsync.Store
	c *lru.Cache // shardsync.Entry -> struct{}
}

// New produces a new Store backed by `s` and remembering up to `size` entries.
func New(s shardsync.Store, size int) (*Store, error) {
	c, err := lru.New(size)
	return &Store{s: s, c: c}, err
}

// Begin implements shardsync.Store.
func (s *Store) Begin(ctx context.Context) (shardsync.Tx, error) {
	tx, err := s.s.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{s: s, tx: tx}, nil
}

// ListEntries implements shardsync.Lister if the nested store does.
func (s *Store) ListEntries(ctx context.Context, start string, f func(shardsync.Entry) error) error {
	l, ok := s.s.(shardsync.Lister)
	if !ok {
		return errors.Errorf("nested store is a %T and not a shardsync.Lister", s.s)
	}
	return l.ListEntries(ctx, start, f)
}

// Tx is a transaction on a Store.
type Tx struct {
	s  *Store
	tx shardsync.Tx
}

// Upsert implements shardsync.Tx.
func (t *Tx) Upsert(ctx context.Context, hash string, rec shardsync.FieldRecord) error {
	e, err := shardsync.NewEntry(hash, rec)
	if err != nil {
		return err
	}
	if t.s.c.Contains(e) {
		return nil
	}
	if err := t.tx.Upsert(ctx, hash, rec); err != nil {
		return err
	}
	t.s.c.Add(e, struct{}{})
	return nil
}

// Commit implements shardsync.Tx.
// A failed commit purges the cache,
// since none of its entries were stored.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		t.s.c.Purge()
		return err
	}
	return nil
}

// Rollback implements shardsync.Tx.
func (t *Tx) Rollback() error {
	t.s.c.Purge()
	return t.tx.Rollback()
}

func init() {
	store.Register("lru", func(ctx context.Context, conf map[string]interface{}) (shardsync.Store, error) {
		size, err := intParam(conf, "size")
		if err != nil {
			return nil, err
		}
		nestedStore, err := store.Nested(ctx, conf)
		if err != nil {
			return nil, errors.Wrap(err, "creating nested store")
		}
		return New(nestedStore, size)
	})
}

// Config files are decoded with UseNumber,
// but a programmatically built config may hold a plain int or float64.
func intParam(conf map[string]interface{}, name string) (int, error) {
	switch v := conf[name].(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		return int(n), errors.Wrapf(err, "parsing %s %v", name, v)
	default:
		return 0, errors.Errorf(`missing "%s" parameter`, name)
	}
}
