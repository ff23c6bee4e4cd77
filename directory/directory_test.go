package directory

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/bobg/shardsync"
)

// Sqlite understands the directory query as written,
// so it stands in for the MySQL directory here.
const fixture = `
CREATE TABLE shardHosts (
  shardHostID INTEGER PRIMARY KEY,
  address TEXT NOT NULL,
  port INTEGER NOT NULL
);

CREATE TABLE shards (
  shardID INTEGER PRIMARY KEY,
  shardHostID INTEGER NOT NULL,
  db TEXT NOT NULL
);

INSERT INTO shardHosts (shardHostID, address, port) VALUES (1, 'db1.example.org', 3306), (2, 'db2.example.org', 3307);
INSERT INTO shards (shardID, shardHostID, db) VALUES (1, 1, 'zotero1'), (2, 1, 'zotero2'), (3, 2, 'zotero3'), (4, 9, 'orphan');
`

func TestLookup(t *testing.T) {
	ctx := context.Background()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "directory.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, fixture); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		shardID  string
		want     shardsync.Coords
		notFound bool
		wantErr  bool
	}{
		{shardID: "1", want: shardsync.Coords{Host: "db1.example.org", Port: 3306, DB: "zotero1"}},
		{shardID: "2", want: shardsync.Coords{Host: "db1.example.org", Port: 3306, DB: "zotero2"}},
		{shardID: "3", want: shardsync.Coords{Host: "db2.example.org", Port: 3307, DB: "zotero3"}},
		{shardID: "4", wantErr: true},
		{shardID: "5", wantErr: true, notFound: true},
	}

	for _, c := range cases {
		t.Run(c.shardID, func(t *testing.T) {
			got, err := Lookup(ctx, db, c.shardID)
			if c.wantErr {
				if err == nil {
					t.Fatalf("got %v, want error", got)
				}
				if errors.Is(err, shardsync.ErrNotFound) != c.notFound {
					t.Errorf("got error %v, want not-found=%v", err, c.notFound)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != c.want {
				t.Errorf("got %+v, want %+v", got, c.want)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	m := &MySQL{
		Host:     "master.example.org",
		Port:     3306,
		User:     "sync",
		Password: "secret",
		Database: "zotero_master",
	}
	const want = "sync:secret@tcp(master.example.org:3306)/zotero_master"
	if got := m.DSN(); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestLookupCloses(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "directory.sqlite")

	setup, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := setup.ExecContext(ctx, fixture); err != nil {
		t.Fatal(err)
	}
	if err := setup.Close(); err != nil {
		t.Fatal(err)
	}

	m := &MySQL{User: "sync", Password: "secret"}

	for _, shardID := range []string{"1", "5"} {
		t.Run(shardID, func(t *testing.T) {
			db, err := sql.Open("sqlite3", path)
			if err != nil {
				t.Fatal(err)
			}

			got, err := m.lookupAndClose(ctx, db, shardID)
			if shardID == "1" {
				if err != nil {
					t.Fatal(err)
				}
				want := shardsync.Coords{Host: "db1.example.org", Port: 3306, DB: "zotero1", User: "sync", Password: "secret"}
				if got != want {
					t.Errorf("got %+v, want %+v", got, want)
				}
			} else if !errors.Is(err, shardsync.ErrNotFound) {
				t.Errorf("got error %v, want not found", err)
			}

			if n := db.Stats().OpenConnections; n != 0 {
				t.Errorf("got %d open connections after lookup, want 0", n)
			}
			if err := db.PingContext(ctx); err == nil {
				t.Error("directory connection still usable after lookup")
			}
		})
	}
}
