package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/shardsync/pipeline"
)

type counter struct {
	n atomic.Int64
}

func (c *counter) Snapshot() pipeline.Snapshot {
	return pipeline.Snapshot{Issued: c.n.Load()}
}

type lines struct {
	mu sync.Mutex
	l  []string
}

func (l *lines) logf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.l = append(l.l, fmt.Sprintf(format, args...))
}

func (l *lines) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.l...)
}

func TestReporter(t *testing.T) {
	var (
		c    counter
		out  lines
		done = make(chan struct{})
		r    = &Reporter{Interval: 5 * time.Millisecond, Source: &c, Logf: out.logf}
		errs = make(chan error, 1)
	)

	go func() { errs <- r.Run(context.Background(), done) }()

	c.n.Store(3)
	for len(out.get()) < 2 {
		time.Sleep(time.Millisecond)
	}
	c.n.Store(7)
	close(done)

	select {
	case err := <-errs:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reporter did not stop after done")
	}

	got := out.get()
	const want = "inserted: 7 (in flight 0, failed 0)"
	if last := got[len(got)-1]; last != want {
		t.Errorf("got final report %q, want %q", last, want)
	}
}

func TestReporterCanceled(t *testing.T) {
	var (
		c           counter
		ctx, cancel = context.WithCancel(context.Background())
		r           = &Reporter{Interval: time.Hour, Source: &c, Logf: t.Logf}
		errs        = make(chan error, 1)
	)

	go func() { errs <- r.Run(ctx, make(chan struct{})) }()
	cancel()

	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestReporterWithPipelineStats(t *testing.T) {
	// A zero pipeline's Stats are usable before and after a run.
	var p pipeline.Pipeline
	r := &Reporter{Interval: time.Millisecond, Source: p.Stats(), Logf: t.Logf}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := r.Run(ctx, p.Stats().Done()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}
}
