// Package testutil contains checks that any keyed store implementation should pass.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"testing/quick"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/shardsync"
)

// Keyed is a store whose committed contents can be listed.
type Keyed interface {
	shardsync.Store
	shardsync.Lister
}

// Record is shorthand for a FieldRecord with a non-null field ID.
func Record(fieldID int64, value interface{}) shardsync.FieldRecord {
	return shardsync.FieldRecord{FieldID: &fieldID, Value: value}
}

// MustEntry encodes rec and pairs it with hash.
func MustEntry(t *testing.T, hash string, rec shardsync.FieldRecord) shardsync.Entry {
	t.Helper()
	e, err := shardsync.NewEntry(hash, rec)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

// Entries lists everything committed to s.
func Entries(ctx context.Context, t *testing.T, s shardsync.Lister) []shardsync.Entry {
	t.Helper()
	var got []shardsync.Entry
	err := s.ListEntries(ctx, "", func(e shardsync.Entry) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return got
}

// SortEntries puts entries in (hash, field) order.
func SortEntries(entries []shardsync.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Hash != entries[j].Hash {
			return entries[i].Hash < entries[j].Hash
		}
		return entries[i].Field < entries[j].Field
	})
}

// Upserts writes some records to an empty store,
// including a duplicate and two records sharing a hash,
// and checks what comes back after commit.
func Upserts(ctx context.Context, t *testing.T, s Keyed) {
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}

	recs := []struct {
		hash string
		rec  shardsync.FieldRecord
	}{
		{"h1", Record(1, "a")},
		{"h1", Record(2, "b")},
		{"h2", Record(1, "a")},
		{"h1", Record(1, "a")},
		{"h3", shardsync.FieldRecord{}},
	}
	for _, r := range recs {
		if err := tx.Upsert(ctx, r.hash, r.rec); err != nil {
			t.Fatal(err)
		}
	}

	if got := Entries(ctx, t, s); len(got) != 0 {
		t.Errorf("got %d entries visible before commit, want 0", len(got))
	}

	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	want := []shardsync.Entry{
		{Hash: "h1", Field: `{"fieldID":1,"value":"a"}`},
		{Hash: "h1", Field: `{"fieldID":2,"value":"b"}`},
		{Hash: "h2", Field: `{"fieldID":1,"value":"a"}`},
		{Hash: "h3", Field: `{"fieldID":null,"value":null}`},
	}
	if diff := cmp.Diff(want, Entries(ctx, t, s)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

// Rollback checks that nothing upserted in a rolled-back transaction is visible.
func Rollback(ctx context.Context, t *testing.T, s Keyed) {
	before := Entries(ctx, t, s)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if err := tx.Upsert(ctx, fmt.Sprintf("rollback%d", i), Record(int64(i), "x")); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(before, Entries(ctx, t, s)); diff != "" {
		t.Errorf("mismatch after rollback (-want +got):\n%s", diff)
	}
}

// Concurrent upserts from many goroutines into one transaction.
func Concurrent(ctx context.Context, t *testing.T, s Keyed) {
	const (
		workers = 8
		each    = 50
	)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}

	var (
		wg   sync.WaitGroup
		errs = make(chan error, workers*each)
	)
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				// Even and odd workers write the same records as each other.
				hash := fmt.Sprintf("c%03d", i)
				if err := tx.Upsert(ctx, hash, Record(int64(w%2), "v")); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if got := len(Entries(ctx, t, s)); got != 2*each {
		t.Errorf("got %d entries, want %d", got, 2*each)
	}
}

// Idempotent upserts random records twice, in separate transactions,
// and checks that the second pass changes nothing.
func Idempotent(ctx context.Context, t *testing.T, storeFactory func() Keyed) {
	if err := quick.Check(idempotentHelper(ctx, t, storeFactory), &quick.Config{MaxCount: 20}); err != nil {
		t.Error(err)
	}
}

func idempotentHelper(ctx context.Context, t *testing.T, storeFactory func() Keyed) func([]uint8, []int8) bool {
	return func(hashes []uint8, fieldIDs []int8) bool {
		s := storeFactory()

		pass := func() []shardsync.Entry {
			tx, err := s.Begin(ctx)
			if err != nil {
				t.Fatal(err)
			}
			for i, h := range hashes {
				var fieldID int8
				if len(fieldIDs) > 0 {
					fieldID = fieldIDs[i%len(fieldIDs)]
				}
				if err := tx.Upsert(ctx, fmt.Sprintf("%02x", h), Record(int64(fieldID), "v")); err != nil {
					t.Fatal(err)
				}
			}
			if err := tx.Commit(); err != nil {
				t.Fatal(err)
			}
			return Entries(ctx, t, s)
		}

		first := pass()
		second := pass()
		if diff := cmp.Diff(first, second); diff != "" {
			t.Logf("mismatch (-first +second):\n%s", diff)
			return false
		}
		return true
	}
}
