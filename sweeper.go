package tractus

import (
	"context"
	"io"
	"log"
	"sync"
	"time"
)

// Sweeper periodically invokes a reclaim function on a background goroutine.
// The Tracker uses one to expire abandoned registry entries; it is exported
// so hosts embedding their own registries can reuse the cadence machinery.
type Sweeper struct {
	interval time.Duration
	sweep    func(context.Context) int
	logger   *log.Logger

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

// NewSweeper creates a sweeper running sweep every interval once started.
// It panics if sweep is nil or interval is not positive.
func NewSweeper(interval time.Duration, sweep func(context.Context) int, logger *log.Logger) *Sweeper {
	if sweep == nil {
		panic("tractus.NewSweeper: sweep function cannot be nil")
	}
	if interval <= 0 {
		panic("tractus.NewSweeper: interval must be positive")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Sweeper{
		interval: interval,
		sweep:    sweep,
		logger:   logger,
	}
}

// Start launches the sweep loop. Starting a running sweeper is a no-op.
func (s *Sweeper) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return nil
	}
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.done)
	return nil
}

func (s *Sweeper) loop(done chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.sweep(context.Background())
		}
	}
}

// Stop halts the loop and waits for the in-flight sweep, honoring ctx
// cancellation while waiting. Stopping a stopped sweeper is a no-op; the
// sweeper may be started again afterwards.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.done == nil {
		s.mu.Unlock()
		return nil
	}
	close(s.done)
	s.done = nil
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the sweep loop is active.
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

var (
	_ Starter = (*Sweeper)(nil)
	_ Stopper = (*Sweeper)(nil)
)
