package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/infinity086/labtasker/internal/store"
)

const (
	reaperLockKey = "labtasker:reaper:lock"
	reaperLockTTL = 5 * time.Second
)

// Scheduler runs the reaper on a ticker, the way the teacher's
// queue.Scheduler drives its periodic due-task scan: a SETNX-style lock
// guards against duplicate work when multiple server replicas run the
// same loop.
type Scheduler struct {
	engine   *Engine
	locker   store.Locker
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu         sync.Mutex
	lastResult ReaperResult
	lastErr    error
}

// NewScheduler constructs a reaper scheduler. interval should satisfy
// spec.md §4.6: at most half the minimum task heartbeat_timeout in use.
func NewScheduler(engine *Engine, locker store.Locker, interval time.Duration) *Scheduler {
	return &Scheduler{
		engine:   engine,
		locker:   locker,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop signals the loop to exit and waits for it.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	acquired, err := s.locker.TryLock(ctx, reaperLockKey, reaperLockTTL)
	if err != nil || !acquired {
		return
	}
	defer s.locker.Unlock(ctx, reaperLockKey)

	result, err := s.engine.Sweep(ctx)

	s.mu.Lock()
	s.lastResult, s.lastErr = result, err
	s.mu.Unlock()
}

// LastResult returns the outcome of the most recent completed sweep, for
// health/metrics reporting.
func (s *Scheduler) LastResult() (ReaperResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult, s.lastErr
}
