// Package progress reports a running sync's counters at a fixed interval.
package progress

import (
	"context"
	"log"
	"time"

	"github.com/bobg/shardsync/pipeline"
)

// DefaultInterval is the reporting period when Reporter.Interval is zero.
const DefaultInterval = time.Second

// Snapshotter is the read-only view of a run that a Reporter needs.
// *pipeline.Stats implements it.
type Snapshotter interface {
	Snapshot() pipeline.Snapshot
}

// Reporter logs a Snapshotter's counters once per Interval.
type Reporter struct {
	Interval time.Duration
	Source   Snapshotter

	// Logf, if set, is used instead of log.Printf.
	Logf func(string, ...interface{})
}

// Run reports on every tick until done is closed,
// then reports once more on the following tick and returns nil.
// That last report carries the final counts.
// If ctx is canceled first,
// Run returns ctx.Err() without a final report.
func (r *Reporter) Run(ctx context.Context, done <-chan struct{}) error {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var finished bool
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-done:
			finished = true
			done = nil // a nil channel blocks, taking this case out of the select

		case <-ticker.C:
			r.logf("%s", r.Source.Snapshot())
			if finished {
				return nil
			}
		}
	}
}

func (r *Reporter) logf(format string, args ...interface{}) {
	if r.Logf != nil {
		r.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}
