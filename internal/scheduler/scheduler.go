// Package scheduler runs deferred continuations cooperatively, one tick at a
// time, so that repeated polls never recurse and other work interleaves.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// Handle identifies a deferred continuation.
type Handle struct {
	fn       func()
	mu       sync.Mutex
	canceled bool
	ran      bool
}

// Cancel prevents the continuation from running if it has not started yet.
// It reports whether the continuation was still pending.
func (h *Handle) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.canceled || h.ran {
		return false
	}
	h.canceled = true
	return true
}

func (h *Handle) take() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.canceled || h.ran {
		return false
	}
	h.ran = true
	return true
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickRate caps Run to at most one tick per interval.
func WithTickRate(interval time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = interval
	}
}

// Scheduler is a FIFO queue of continuations. It is safe for concurrent use.
type Scheduler struct {
	mu       sync.Mutex
	queue    []*Handle
	wake     chan struct{}
	interval time.Duration
	ticks    uint64
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{wake: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Defer queues fn for a later tick.
func (s *Scheduler) Defer(fn func()) *Handle {
	h := &Handle{fn: fn}
	s.mu.Lock()
	s.queue = append(s.queue, h)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return h
}

// Len returns the number of queued continuations, canceled ones included.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Ticks returns how many ticks have run.
func (s *Scheduler) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// Tick runs the continuations that were queued when it was called, in FIFO
// order. Continuations deferred while the tick runs wait for the next tick.
// It returns the number of continuations run.
func (s *Scheduler) Tick() int {
	s.mu.Lock()
	batch := s.queue
	s.queue = nil
	s.ticks++
	s.mu.Unlock()

	n := 0
	for _, h := range batch {
		if !h.take() {
			continue
		}
		h.fn()
		n++
	}
	return n
}

// RunFor runs ticks until the queue is empty or budget is spent. At least one
// tick runs if anything is queued. It returns the number of ticks run.
func (s *Scheduler) RunFor(budget time.Duration) int {
	deadline := time.Now().Add(budget)
	ticks := 0
	for s.Len() > 0 {
		s.Tick()
		ticks++
		if !time.Now().Before(deadline) {
			break
		}
	}
	return ticks
}

// Run drives the scheduler until ctx is done, parking while the queue is
// empty.
func (s *Scheduler) Run(ctx context.Context) error {
	var limiter *time.Ticker
	if s.interval > 0 {
		limiter = time.NewTicker(s.interval)
		defer limiter.Stop()
	}

	for {
		if s.Len() == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
				continue
			}
		}
		if limiter != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-limiter.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		s.Tick()
	}
}
