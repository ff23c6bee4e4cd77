package lru

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"

	"github.com/bobg/shardsync"
	"github.com/bobg/shardsync/store/mem"
	"github.com/bobg/shardsync/testutil"
)

func TestUpserts(t *testing.T) {
	s, err := New(mem.New(), 1000)
	if err != nil {
		t.Fatal(err)
	}
	testutil.Upserts(context.Background(), t, s)
	testutil.Rollback(context.Background(), t, s)
}

func TestIdempotent(t *testing.T) {
	testutil.Idempotent(context.Background(), t, func() testutil.Keyed {
		s, err := New(mem.New(), 16)
		if err != nil {
			t.Fatal(err)
		}
		return s
	})
}

func TestSkipsRepeats(t *testing.T) {
	var (
		ctx    = context.Background()
		nested = &countingStore{Store: mem.New()}
	)
	s, err := New(nested, 10)
	if err != nil {
		t.Fatal(err)
	}

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := tx.Upsert(ctx, "h1", testutil.Record(1, "a")); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.Upsert(ctx, "h1", testutil.Record(2, "b")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}
	if got := nested.n.Load(); got != 2 {
		t.Errorf("got %d nested upserts, want 2", got)
	}

	// After a rollback the same entry must be written again.
	tx, err = s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Upsert(ctx, "h1", testutil.Record(1, "a")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if got := nested.n.Load(); got != 3 {
		t.Errorf("got %d nested upserts, want 3", got)
	}
	if got := len(testutil.Entries(ctx, t, s)); got != 1 {
		t.Errorf("got %d entries, want 1", got)
	}
}

func TestFailedCommit(t *testing.T) {
	var (
		ctx    = context.Background()
		nested = &countingStore{Store: mem.New(), failCommit: true}
	)
	s, err := New(nested, 10)
	if err != nil {
		t.Fatal(err)
	}

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Upsert(ctx, "h1", testutil.Record(1, "a")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); !errors.Is(err, errCommit) {
		t.Fatalf("got error %v, want %v", err, errCommit)
	}

	nested.failCommit = false

	tx, err = s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Upsert(ctx, "h1", testutil.Record(1, "a")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if got := nested.n.Load(); got != 2 {
		t.Errorf("got %d nested upserts, want 2", got)
	}
	if got := len(testutil.Entries(ctx, t, s)); got != 1 {
		t.Errorf("got %d entries, want 1", got)
	}
}

type countingStore struct {
	*mem.Store
	n          atomic.Int64
	failCommit bool
}

func (c *countingStore) Begin(ctx context.Context) (shardsync.Tx, error) {
	tx, err := c.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return countingTx{Tx: tx, n: &c.n, failCommit: c.failCommit}, nil
}

type countingTx struct {
	shardsync.Tx
	n          *atomic.Int64
	failCommit bool
}

var errCommit = errors.New("commit failed")

func (c countingTx) Commit() error {
	if c.failCommit {
		if err := c.Tx.Rollback(); err != nil {
			return err
		}
		return errCommit
	}
	return c.Tx.Commit()
}

func (c countingTx) Upsert(ctx context.Context, hash string, rec shardsync.FieldRecord) error {
	c.n.Add(1)
	return c.Tx.Upsert(ctx, hash, rec)
}
