// Package logging implements a keyed store that delegates everything to a nested store,
// logging operations as they happen.
package logging

import (
	"context"
	"log"

	"github.com/pkg/errors"

	"github.com/bobg/shardsync"
	"github.com/bobg/shardsync/store"
)

var _ shardsync.Store = &Store{}

// Store logs transactions on a nested store.
// Successful upserts are logged only if Verbose is set.
type Store struct {
	s       shardsync.Store
	Logf    func(string, ...interface{})
	Verbose bool
}

func New(s shardsync.Store) *Store {
	return &Store{s: s, Logf: log.Printf}
}

func (s *Store) Begin(ctx context.Context) (shardsync.Tx, error) {
	tx, err := s.s.Begin(ctx)
	if err != nil {
		s.Logf("ERROR in Begin: %s", err)
		return nil, err
	}
	s.Logf("Begin")
	return &Tx{s: s, tx: tx}, nil
}

func (s *Store) ListEntries(ctx context.Context, start string, f func(shardsync.Entry) error) error {
	l, ok := s.s.(shardsync.Lister)
	if !ok {
		return errors.Errorf("nested store is a %T and not a shardsync.Lister", s.s)
	}
	s.Logf("ListEntries, start=%q", start)
	return l.ListEntries(ctx, start, f)
}

type Tx struct {
	s  *Store
	tx shardsync.Tx
}

func (t *Tx) Upsert(ctx context.Context, hash string, rec shardsync.FieldRecord) error {
	err := t.tx.Upsert(ctx, hash, rec)
	if err != nil {
		t.s.Logf("ERROR in Upsert %s: %s", hash, err)
	} else if t.s.Verbose {
		t.s.Logf("Upsert %s", hash)
	}
	return err
}

func (t *Tx) Commit() error {
	err := t.tx.Commit()
	if err != nil {
		t.s.Logf("ERROR in Commit: %s", err)
	} else {
		t.s.Logf("Commit")
	}
	return err
}

func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil {
		t.s.Logf("ERROR in Rollback: %s", err)
	} else {
		t.s.Logf("Rollback")
	}
	return err
}

func init() {
	store.Register("logging", func(ctx context.Context, conf map[string]interface{}) (shardsync.Store, error) {
		nestedStore, err := store.Nested(ctx, conf)
		if err != nil {
			return nil, errors.Wrap(err, "creating nested store")
		}
		s := New(nestedStore)
		s.Verbose, _ = conf["verbose"].(bool)
		return s, nil
	})
}
