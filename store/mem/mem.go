// Package mem implements an in-memory keyed store.
package mem

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/bobg/shardsync"
	"github.com/bobg/shardsync/store"
)

var (
	_ shardsync.Store  = &Store{}
	_ shardsync.Lister = &Store{}
)

// Store is a memory-based implementation of a keyed store.
// Upserts are staged in their transaction
// and merged into the store on Commit.
type Store struct {
	mu      sync.Mutex
	entries map[shardsync.Entry]struct{}
	writer  bool // a Tx is open
}

// New produces a new Store.
func New() *Store {
	return &Store{entries: make(map[shardsync.Entry]struct{})}
}

// ErrBusy is returned by Begin when another transaction is already open.
var ErrBusy = errors.New("store has an open transaction")

// Begin implements shardsync.Store.
// Only one transaction may be open at a time.
func (s *Store) Begin(_ context.Context) (shardsync.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer {
		return nil, shardsync.NewError(shardsync.ErrStoreFatal, ErrBusy)
	}
	s.writer = true
	return &Tx{s: s, staged: make(map[shardsync.Entry]struct{})}, nil
}

// Tx is a transaction on a Store.
type Tx struct {
	s *Store

	mu     sync.Mutex // protects staged and done
	staged map[shardsync.Entry]struct{}
	done   bool
}

// Upsert implements shardsync.Tx.
func (t *Tx) Upsert(_ context.Context, hash string, rec shardsync.FieldRecord) error {
	e, err := shardsync.NewEntry(hash, rec)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return shardsync.NewError(shardsync.ErrStoreFatal, errors.New("transaction already finished"))
	}
	t.staged[e] = struct{}{}
	return nil
}

// Commit implements shardsync.Tx.
func (t *Tx) Commit() error {
	staged, err := t.finish()
	if err != nil {
		return err
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for e := range staged {
		t.s.entries[e] = struct{}{}
	}
	t.s.writer = false
	return nil
}

// Rollback implements shardsync.Tx.
func (t *Tx) Rollback() error {
	if _, err := t.finish(); err != nil {
		return err
	}

	t.s.mu.Lock()
	t.s.writer = false
	t.s.mu.Unlock()
	return nil
}

func (t *Tx) finish() (map[shardsync.Entry]struct{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return nil, shardsync.NewError(shardsync.ErrStoreFatal, errors.New("transaction already finished"))
	}
	t.done = true
	staged := t.staged
	t.staged = nil
	return staged, nil
}

// ListEntries implements shardsync.Lister.
func (s *Store) ListEntries(_ context.Context, start string, f func(shardsync.Entry) error) error {
	s.mu.Lock()
	entries := make([]shardsync.Entry, 0, len(s.entries))
	for e := range s.entries {
		if e.Hash > start {
			entries = append(entries, e)
		}
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Hash != entries[j].Hash {
			return entries[i].Hash < entries[j].Hash
		}
		return entries[i].Field < entries[j].Field
	})

	for _, e := range entries {
		if err := f(e); err != nil {
			return err
		}
	}
	return nil
}

// Len tells how many entries have been committed.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func init() {
	store.Register("mem", func(context.Context, map[string]interface{}) (shardsync.Store, error) {
		return New(), nil
	})
}
