// Package scheduler runs periodic background tasks (collector flushes,
// log tailing, retention) with clean shutdown and injectable time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Task is a named job run every Interval.
type Task struct {
	Name     string
	Interval time.Duration
	// Immediate runs the task once at Start before the first tick.
	Immediate bool
	Run       func(ctx context.Context) error
}

// Scheduler runs each registered task on its own goroutine.
type Scheduler struct {
	clock  Clock
	logger *slog.Logger

	mu      sync.Mutex
	tasks   []Task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a Scheduler. A nil clock means the real clock.
func New(clock Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{clock: clock, logger: logger}
}

// Add registers a task. Tasks added after Start are launched immediately.
func (s *Scheduler) Add(task Task) error {
	if task.Interval <= 0 {
		return fmt.Errorf("task %q: interval must be positive", task.Name)
	}
	if task.Run == nil {
		return fmt.Errorf("task %q: no run function", task.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	if s.running {
		s.wg.Add(1)
		go s.loop(s.ctx, task)
	}
	return nil
}

// Start launches every task. It returns immediately; tasks run until ctx
// is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.loop(s.ctx, task)
	}
}

// Stop cancels every task and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(task.Interval)
	defer ticker.Stop()

	if task.Immediate {
		s.runOnce(ctx, task)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, task)
		}
	}
}

// runOnce runs the task, logging errors and panics instead of stopping
// the loop.
func (s *Scheduler) runOnce(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", "task", task.Name, "panic", r)
		}
	}()
	start := s.clock.Now()
	if err := task.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("scheduled task failed", "task", task.Name, "error", err)
		return
	}
	s.logger.Debug("scheduled task finished", "task", task.Name, "elapsed", s.clock.Now().Sub(start))
}
