// Command shardstore inspects the local keyed store written by shardsync.
//
// Usage:
//
//	shardstore [-config FILE] ls [-hash HASH]
//	shardstore [-config FILE] count
//	shardstore [-config FILE] hashes
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/bobg/subcmd"
	"github.com/pkg/errors"

	"github.com/bobg/shardsync"
	"github.com/bobg/shardsync/config"
	"github.com/bobg/shardsync/store"
	_ "github.com/bobg/shardsync/store/logging"
	_ "github.com/bobg/shardsync/store/lru"
	_ "github.com/bobg/shardsync/store/pg"
	_ "github.com/bobg/shardsync/store/sqlite3"
)

type maincmd struct {
	s   shardsync.Lister
	out io.Writer
}

func main() {
	confPath := flag.String("config", config.Path(), "path to config file")
	flag.Parse()

	conf, err := config.Load(*confPath)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()

	s, err := store.FromConfig(ctx, conf.Store)
	if err != nil {
		log.Fatalf("Creating store: %s", err)
	}
	if c, ok := s.(io.Closer); ok {
		defer c.Close()
	}
	l, ok := s.(shardsync.Lister)
	if !ok {
		log.Fatalf("%T is not a listable store", s)
	}

	err = subcmd.Run(ctx, maincmd{s: l, out: os.Stdout}, flag.Args())
	if err != nil {
		log.Fatal(err)
	}
}

func (c maincmd) Subcmds() subcmd.Map {
	return subcmd.Commands(
		"count", c.count, nil,
		"hashes", c.hashes, nil,
		"ls", c.ls, subcmd.Params(
			"hash", subcmd.String, "", "list only the fields of this hash",
		),
	)
}

type (
	// Implemented by store/sqlite3.
	hasher interface {
		Hashes(context.Context, func(string, int) error) error
	}
	fielder interface {
		Fields(context.Context, string, func(string) error) error
	}
)

var errStop = errors.New("stop")

func (c maincmd) ls(ctx context.Context, hash string, _ []string) error {
	if f, ok := c.s.(fielder); ok && hash != "" {
		err := f.Fields(ctx, hash, func(field string) error {
			_, err := fmt.Fprintf(c.out, "%s\t%s\n", hash, field)
			return err
		})
		return errors.Wrapf(err, "listing fields of %s", hash)
	}

	err := c.s.ListEntries(ctx, "", func(e shardsync.Entry) error {
		if hash != "" {
			if e.Hash < hash {
				return nil
			}
			if e.Hash > hash {
				return errStop
			}
		}
		_, err := fmt.Fprintf(c.out, "%s\t%s\n", e.Hash, e.Field)
		return err
	})
	if errors.Is(err, errStop) {
		return nil
	}
	return errors.Wrap(err, "listing entries")
}

func (c maincmd) count(ctx context.Context, _ []string) error {
	var entries, hashes int
	if h, ok := c.s.(hasher); ok {
		err := h.Hashes(ctx, func(_ string, n int) error {
			entries += n
			hashes++
			return nil
		})
		if err != nil {
			return errors.Wrap(err, "listing hashes")
		}
	} else {
		last := ""
		err := c.s.ListEntries(ctx, "", func(e shardsync.Entry) error {
			entries++
			if hashes == 0 || e.Hash != last {
				hashes++
				last = e.Hash
			}
			return nil
		})
		if err != nil {
			return errors.Wrap(err, "listing entries")
		}
	}
	_, err := fmt.Fprintf(c.out, "%d entries, %d hashes\n", entries, hashes)
	return err
}

func (c maincmd) hashes(ctx context.Context, _ []string) error {
	emit := func(hash string, n int) error {
		_, err := fmt.Fprintf(c.out, "%s\t%d\n", hash, n)
		return err
	}

	if h, ok := c.s.(hasher); ok {
		return errors.Wrap(h.Hashes(ctx, emit), "listing hashes")
	}

	var (
		last string
		n    int
	)
	err := c.s.ListEntries(ctx, "", func(e shardsync.Entry) error {
		if n > 0 && e.Hash != last {
			if err := emit(last, n); err != nil {
				return err
			}
			n = 0
		}
		last = e.Hash
		n++
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "listing entries")
	}
	if n == 0 {
		return nil
	}
	return emit(last, n)
}
