// Package pipeline copies one shard's field records into a local keyed store.
package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/bobg/shardsync"
)

// DefaultWindow is the number of upserts allowed in flight when Pipeline.Window is zero.
const DefaultWindow = 1000

type (
	// Directory resolves a shard ID to connection coordinates.
	Directory interface {
		Lookup(ctx context.Context, shardID string) (shardsync.Coords, error)
	}

	// Source is an open connection to a shard.
	Source interface {
		// Stream calls f on each row of the shard,
		// not reading the next row until f returns.
		Stream(ctx context.Context, f func(shardsync.Row) error) error
		Close() error
	}

	// Connector opens a Source.
	Connector func(context.Context, shardsync.Coords) (Source, error)
)

// Pipeline streams a shard into a store.
// A Pipeline performs a single run:
// call Run once.
type Pipeline struct {
	Directory Directory
	Connect   Connector
	Store     shardsync.Store

	// Window is the most upserts that may be issued but not yet acknowledged.
	// When the window is full,
	// no more rows are read from the shard until an upsert completes.
	Window int

	// Logf, if set, is used instead of log.Printf.
	Logf func(string, ...interface{})

	stats     Stats
	sometimes *rate.Sometimes // limits logging of upsert errors

	mu    sync.Mutex // protects fatal
	fatal error      // the first store error that aborts the run
}

// Stats gives read-only access to the pipeline's progress counters.
// It is safe to use while Run is running.
func (p *Pipeline) Stats() *Stats {
	return &p.stats
}

// Run looks up shardID in the directory,
// begins a transaction on the store,
// and upserts every row of the shard in that transaction.
// The transaction is committed only after the whole shard has been read
// and every upsert acknowledged.
//
// A failed upsert is logged and counted but does not stop the run.
// Any other failure rolls back the transaction
// and returns an error whose kind
// (see shardsync.Error)
// tells where it happened.
//
// The result is the number of upserts issued,
// including failed ones.
func (p *Pipeline) Run(ctx context.Context, shardID string) (n int64, err error) {
	defer func() { p.stats.finish(err) }()

	p.sometimes = &rate.Sometimes{First: 10, Interval: 10 * time.Second}

	coords, err := p.Directory.Lookup(ctx, shardID)
	if err != nil {
		return 0, shardsync.NewError(shardsync.ErrDirectoryLookup, errors.Wrapf(err, "looking up shard %s", shardID))
	}
	p.logf("shard %s is at %s", shardID, coords)

	tx, err := p.Store.Begin(ctx)
	if err != nil {
		return 0, shardsync.NewError(shardsync.ErrStoreFatal, err)
	}

	src, err := p.Connect(ctx, coords)
	if err != nil {
		p.rollback(tx)
		return 0, shardsync.NewError(shardsync.ErrRemote, err)
	}

	var (
		window = p.window()
		sem    = semaphore.NewWeighted(window)
	)

	streamErr := src.Stream(ctx, func(row shardsync.Row) error {
		if !row.Hash.Valid {
			p.stats.skipped.Add(1)
			return nil
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		if err := p.fatalErr(); err != nil {
			sem.Release(1)
			return err
		}
		p.stats.issued.Add(1)
		go func() {
			defer sem.Release(1)
			p.ack(tx.Upsert(ctx, row.Hash.String, row.Record()))
		}()
		return nil
	})
	if err := src.Close(); err != nil {
		p.logf("ERROR closing connection to shard %s: %s", shardID, err)
	}

	// Wait for every issued upsert to be acknowledged.
	// This can't use ctx, which may already be canceled:
	// the transaction must be quiet before it is committed or rolled back.
	if err := sem.Acquire(context.Background(), window); err != nil {
		p.rollback(tx)
		return p.stats.issued.Load(), errors.Wrap(err, "draining upserts")
	}

	n = p.stats.issued.Load()

	if streamErr != nil {
		p.rollback(tx)
		if errors.Is(streamErr, shardsync.ErrStoreFatal) {
			return n, streamErr
		}
		return n, shardsync.NewError(shardsync.ErrRemote, errors.Wrapf(streamErr, "streaming shard %s", shardID))
	}
	if err := p.fatalErr(); err != nil {
		p.rollback(tx)
		return n, err
	}

	if err := tx.Commit(); err != nil {
		return n, shardsync.NewError(shardsync.ErrStoreFatal, err)
	}

	p.logf("shard %s: issued %d upserts, %d failed", shardID, n, p.stats.failed.Load())
	return n, nil
}

func (p *Pipeline) ack(err error) {
	switch {
	case err == nil:
		p.stats.acked.Add(1)

	case errors.Is(err, shardsync.ErrStoreFatal):
		p.stats.failed.Add(1)
		p.mu.Lock()
		if p.fatal == nil {
			p.fatal = err
		}
		p.mu.Unlock()

	default:
		p.stats.failed.Add(1)
		p.sometimes.Do(func() {
			p.logf("ERROR %s", shardsync.NewError(shardsync.ErrUpsert, err))
		})
	}
}

func (p *Pipeline) fatalErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fatal
}

func (p *Pipeline) rollback(tx shardsync.Tx) {
	if err := tx.Rollback(); err != nil {
		p.logf("ERROR rolling back: %s", err)
	}
}

func (p *Pipeline) window() int64 {
	if p.Window > 0 {
		return int64(p.Window)
	}
	return DefaultWindow
}

func (p *Pipeline) logf(format string, args ...interface{}) {
	if p.Logf != nil {
		p.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}
