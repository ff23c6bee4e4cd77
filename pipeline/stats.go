package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Stats counts a run's upserts.
type Stats struct {
	issued  atomic.Int64
	acked   atomic.Int64
	failed  atomic.Int64
	skipped atomic.Int64

	once     sync.Once // creates done
	finished sync.Once // closes done
	done     chan struct{}

	mu  sync.Mutex // protects err
	err error
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Issued   int64 // upserts started
	Acked    int64 // upserts that succeeded
	Failed   int64 // upserts that failed
	Skipped  int64 // rows with no hash
	InFlight int64 // upserts started but not finished
}

func (s Snapshot) String() string {
	return fmt.Sprintf("inserted: %d (in flight %d, failed %d)", s.Issued, s.InFlight, s.Failed)
}

// Snapshot reads the counters.
func (s *Stats) Snapshot() Snapshot {
	// Read completions before issues
	// so that InFlight is never negative.
	var (
		acked   = s.acked.Load()
		failed  = s.failed.Load()
		skipped = s.skipped.Load()
		issued  = s.issued.Load()
	)
	return Snapshot{
		Issued:   issued,
		Acked:    acked,
		Failed:   failed,
		Skipped:  skipped,
		InFlight: issued - acked - failed,
	}
}

// Done is closed when the run finishes, successfully or not.
func (s *Stats) Done() <-chan struct{} {
	return s.doneChan()
}

// Err is the run's result.
// It is meaningful only after Done is closed.
func (s *Stats) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stats) doneChan() chan struct{} {
	s.once.Do(func() { s.done = make(chan struct{}) })
	return s.done
}

func (s *Stats) finish(err error) {
	s.finished.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.doneChan())
	})
}
