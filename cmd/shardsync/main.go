// Command shardsync copies the attachment field data of one shard into a local keyed store.
//
// Usage:
//
//	shardsync SHARDID
//
// Settings come from the JSON file named by $SHARDSYNC_CONFIG
// (default config.json).
// Progress is logged once per interval,
// and the command exits after the first report following completion.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bobg/shardsync"
	"github.com/bobg/shardsync/config"
	"github.com/bobg/shardsync/pipeline"
	"github.com/bobg/shardsync/progress"
	"github.com/bobg/shardsync/shard"
	"github.com/bobg/shardsync/store"
	_ "github.com/bobg/shardsync/store/logging"
	_ "github.com/bobg/shardsync/store/lru"
	_ "github.com/bobg/shardsync/store/mem"
	_ "github.com/bobg/shardsync/store/pg"
	_ "github.com/bobg/shardsync/store/sqlite3"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s SHARDID\n", os.Args[0])
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	shardID := flag.Arg(0)

	conf, err := config.Load(config.Path())
	if err != nil {
		log.Fatal(err)
	}

	start := time.Now()
	ctx := context.Background()

	s, err := store.FromConfig(ctx, conf.Store)
	if err != nil {
		log.Fatalf("Creating store: %s", err)
	}
	if c, ok := s.(io.Closer); ok {
		defer c.Close()
	}

	p := &pipeline.Pipeline{
		Directory: conf.Directory(),
		Connect: func(ctx context.Context, coords shardsync.Coords) (pipeline.Source, error) {
			src, err := shard.Open(ctx, coords, conf.ConnectTimeout.Duration)
			if err != nil {
				return nil, err
			}
			return src, nil
		},
		Store:  s,
		Window: conf.Window,
	}
	r := &progress.Reporter{
		Interval: conf.Interval.Duration,
		Source:   p.Stats(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := p.Run(gctx, shardID)
		return err
	})
	g.Go(func() error {
		return r.Run(gctx, p.Stats().Done())
	})

	// A failed run cancels the reporter,
	// so the process exits without the final report.
	if err := g.Wait(); err != nil {
		log.Fatalf("ERROR syncing shard %s: %s", shardID, err)
	}

	log.Printf("total time: %s", time.Since(start))
}
