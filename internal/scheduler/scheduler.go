// Package scheduler runs periodic tasks one at a time from a single time-ordered queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmined/filemover/internal/queue"
)

var (
	ErrNoTasks         = errors.New("no tasks registered")
	ErrInvalidInterval = errors.New("interval must be positive")
)

// TaskFunc is one run of a periodic task. It must handle its own errors.
type TaskFunc func(ctx context.Context)

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc
}

// Scheduler is cooperative: a task only starts after the previous one returned,
// and its next run is scheduled an interval after it completes.
type Scheduler struct {
	queue *queue.TimeQueue[*task]
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Scheduler)

// WithClock replaces the wall clock and the sleep used to wait for the next task.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) {
		s.now = now
		s.sleep = sleep
	}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		queue: queue.NewTimeQueue[*task](),
		now:   time.Now,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Every registers fn to run first after firstDelay and then every interval after each completion.
// Tasks due at the same instant run in registration order.
func (s *Scheduler) Every(name string, interval, firstDelay time.Duration, fn TaskFunc) error {
	if interval <= 0 {
		return fmt.Errorf("task %s: %w", name, ErrInvalidInterval)
	}
	if firstDelay < 0 {
		firstDelay = 0
	}
	s.queue.Push(&task{name: name, interval: interval, fn: fn}, s.now().Add(firstDelay))
	return nil
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int {
	return s.queue.Len()
}

// Step waits for the earliest task, runs it and re-enqueues it.
func (s *Scheduler) Step(ctx context.Context) error {
	_, due, ok := s.queue.Peek()
	if !ok {
		return ErrNoTasks
	}
	if wait := due.Sub(s.now()); wait > 0 {
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t, _, _ := s.queue.Pop()
	s.runTask(ctx, t)
	s.queue.Push(t, s.now().Add(t.interval))
	return nil
}

func (s *Scheduler) runTask(ctx context.Context, t *task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduled task panicked", "task", t.name, "panic", r)
		}
	}()
	t.fn(ctx)
}

// Run executes tasks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := s.Step(ctx); err != nil {
			return err
		}
	}
}
