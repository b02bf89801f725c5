// Package scheduler runs task sets at fixed times of day from a plan.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// PlanEntry is one scheduled slot. Tasks has set semantics.
type PlanEntry struct {
	Time  int
	Tasks []string
}

// Handler runs the work behind one task name of a plan entry.
type Handler interface {
	Handle(ctx context.Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context) error

func (f HandlerFunc) Handle(ctx context.Context) error { return f(ctx) }

// Clock returns the current cyclical time value plan entries are compared
// against.
type Clock func() int

// HHMMClock reads local time as hour*100+minute.
func HHMMClock() Clock {
	return func() int {
		now := time.Now()
		return now.Hour()*100 + now.Minute()
	}
}

// SecondsClock reads local time as seconds since midnight.
func SecondsClock() Clock {
	return func() int {
		now := time.Now()
		return now.Hour()*3600 + now.Minute()*60 + now.Second()
	}
}

// ClockByName resolves the scheduler.clock setting.
func ClockByName(name string) (Clock, error) {
	switch name {
	case "", "hhmm":
		return HHMMClock(), nil
	case "seconds":
		return SecondsClock(), nil
	}
	return nil, fmt.Errorf("unknown clock %q", name)
}

// Scheduler watches the clock. When a tick observes the waited-for time
// exactly, it advances to the entry after it (wrapping) and runs that
// entry's task set. A tick that misses the time skips it until the value
// comes round again.
type Scheduler struct {
	plan     []PlanEntry
	handlers map[string]Handler
	clock    Clock
	interval time.Duration
	logger   *zap.Logger

	next int
	// held is the clock value of the last firing; the same value does not
	// fire again until the clock has moved off it.
	held    int
	holding bool
}

// New sorts a copy of plan by time and points at the first entry later
// than the current clock value.
func New(plan []PlanEntry, handlers map[string]Handler, clock Clock, interval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if len(plan) == 0 {
		return nil, errors.New("plan cannot be empty")
	}
	if clock == nil {
		return nil, errors.New("clock cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if interval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}

	sorted := make([]PlanEntry, len(plan))
	copy(sorted, plan)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	s := &Scheduler{
		plan:     sorted,
		handlers: handlers,
		clock:    clock,
		interval: interval,
		logger:   logger.Named("scheduler"),
	}
	s.advance(clock())
	s.logger.Info("Scheduler initialized", zap.Int("entries", len(sorted)), zap.Int("next_time", s.NextTime()))
	return s, nil
}

// NextTime is the time of the entry waited for.
func (s *Scheduler) NextTime() int { return s.plan[s.next].Time }

// advance moves to the first entry later than now, wrapping to the first.
func (s *Scheduler) advance(now int) {
	s.next = 0
	for i, e := range s.plan {
		if e.Time > now {
			s.next = i
			return
		}
	}
}

// Tick runs one loop iteration and reports whether an entry fired.
func (s *Scheduler) Tick(ctx context.Context) bool {
	now := s.clock()
	if s.holding {
		if now == s.held {
			return false
		}
		s.holding = false
	}
	if now != s.NextTime() {
		return false
	}
	// The pointer moves to the following entry first, and that entry's
	// task set is what runs.
	s.advance(now)
	s.held, s.holding = now, true
	run := s.plan[s.next]
	s.logger.Info("Plan time reached",
		zap.Int("time", now),
		zap.Int("next_time", run.Time),
		zap.Strings("tasks", run.Tasks))
	s.dispatch(ctx, run)
	return true
}

func (s *Scheduler) dispatch(ctx context.Context, e PlanEntry) {
	seen := make(map[string]bool, len(e.Tasks))
	for _, name := range e.Tasks {
		if seen[name] {
			continue
		}
		seen[name] = true

		h, ok := s.handlers[name]
		if !ok {
			s.logger.Warn("No handler for scheduled task", zap.String("task", name))
			continue
		}
		start := time.Now()
		if err := h.Handle(ctx); err != nil {
			s.logger.Error("Scheduled task failed", zap.String("task", name), zap.Error(err))
			continue
		}
		s.logger.Info("Scheduled task finished", zap.String("task", name), zap.Duration("took", time.Since(start)))
	}
}

// Run ticks every poll interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
