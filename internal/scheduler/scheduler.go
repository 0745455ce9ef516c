// Package scheduler fires registered tasks at daily or weekly wall-clock
// times in exchange time. Tick is callable directly so tests drive it with
// a fake clock instead of sleeping.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"rebound-trader/internal/markethours"
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock is the production clock.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// TaskFunc runs when a task comes due. now is the tick time in KST.
type TaskFunc func(ctx context.Context, now time.Time)

type task struct {
	name    string
	due     func(now, lastRun time.Time) bool
	run     TaskFunc
	lastRun time.Time
}

// Scheduler evaluates its tasks on every Tick and runs the due ones
// synchronously, one at a time, in registration order.
type Scheduler struct {
	clock    Clock
	interval time.Duration

	mu    sync.Mutex
	tasks []*task
}

// New creates a Scheduler that polls at the given interval when run with
// Run. Tick can be called regardless.
func New(clock Clock, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{clock: clock, interval: interval}
}

// DailyAt registers a task firing once per day at hour:min KST.
func (s *Scheduler) DailyAt(name string, hour, min int, fn TaskFunc) {
	s.add(&task{
		name: name,
		run:  fn,
		due: func(now, lastRun time.Time) bool {
			target := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, markethours.KST)
			return !now.Before(target) && lastRun.Before(target)
		},
	})
}

// WeeklyAt registers a task firing once per week on the given weekday at
// hour:min KST.
func (s *Scheduler) WeeklyAt(name string, day time.Weekday, hour, min int, fn TaskFunc) {
	s.add(&task{
		name: name,
		run:  fn,
		due: func(now, lastRun time.Time) bool {
			if now.Weekday() != day {
				return false
			}
			target := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, markethours.KST)
			return !now.Before(target) && lastRun.Before(target)
		},
	})
}

func (s *Scheduler) add(t *task) {
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()
}

// Tick evaluates every task against now and runs the due ones. Fired tasks
// record their run time so they do not fire again for the same slot.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	now = now.In(markethours.KST)

	s.mu.Lock()
	var due []*task
	for _, t := range s.tasks {
		if t.due(now, t.lastRun) {
			t.lastRun = now
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		log.Printf("[scheduler] running %s", t.name)
		t.run(ctx, now)
	}
}

// Run ticks at the configured interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.interval):
			s.Tick(ctx, s.clock.Now())
		}
	}
}
