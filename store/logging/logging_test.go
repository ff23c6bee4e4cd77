package logging

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/shardsync/store"
	_ "github.com/bobg/shardsync/store/mem"
	"github.com/bobg/shardsync/testutil"
)

func TestLogging(t *testing.T) {
	ctx := context.Background()

	s, err := store.FromConfig(ctx, map[string]interface{}{
		"type":    "logging",
		"verbose": true,
		"nested":  map[string]interface{}{"type": "mem"},
	})
	if err != nil {
		t.Fatal(err)
	}

	var lines []string
	ls := s.(*Store)
	ls.Logf = func(format string, args ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	testutil.Upserts(ctx, t, ls)

	want := []string{
		"Begin",
		"Upsert h1",
		"Upsert h1",
		"Upsert h2",
		"Upsert h1",
		"Upsert h3",
		`ListEntries, start=""`,
		"Commit",
		`ListEntries, start=""`,
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	lines = nil
	testutil.Rollback(ctx, t, ls)
	if len(lines) == 0 || lines[len(lines)-2] != "Rollback" {
		t.Errorf("expected a Rollback line, got:\n%s", strings.Join(lines, "\n"))
	}
}
