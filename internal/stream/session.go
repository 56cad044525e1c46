// Package stream drives a render task: it polls the task once per scheduler
// tick, applies pixel patches to the frame buffer and reports updates and
// completion to a callback.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/junsooki/photon/internal/camera"
	"github.com/junsooki/photon/internal/decoder"
	"github.com/junsooki/photon/internal/engine"
	"github.com/junsooki/photon/internal/event"
	"github.com/junsooki/photon/internal/framebuffer"
	"github.com/junsooki/photon/internal/logging"
	"github.com/junsooki/photon/internal/scheduler"
)

var (
	// ErrEngineFailure marks a session ended by the engine rather than by a
	// normal finish.
	ErrEngineFailure = errors.New("stream: engine failure")

	// ErrInvalid is returned by Start for missing collaborators.
	ErrInvalid = errors.New("stream: invalid session argument")
)

// State is the lifecycle state of a Session.
type State int32

const (
	Created State = iota
	Polling
	Patching
	Updating
	Finished
	Cancelled
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Polling:
		return "polling"
	case Patching:
		return "patching"
	case Updating:
		return "updating"
	case Finished:
		return "finished"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Terminal reports whether s is Finished or Cancelled.
func (s State) Terminal() bool {
	return s == Finished || s == Cancelled
}

// Callback receives Update and Finish events, always from a scheduler tick.
type Callback func(event.Event)

// Stats counts what a session has processed.
type Stats struct {
	Polls   uint64
	Empty   uint64
	Patches uint64
	Updates uint64
}

// Option configures a Session.
type Option func(*Session)

// WithLogger overrides the package logger for one session.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithDecoder replaces the canonical JSON decoder.
func WithDecoder(d decoder.Decoder) Option {
	return func(s *Session) {
		if d != nil {
			s.dec = d
		}
	}
}

// Session streams one render task into a frame buffer.
type Session struct {
	sched   *scheduler.Scheduler
	task    engine.Task
	fb      *framebuffer.FrameBuffer
	cam     camera.Snapshot
	onEvent Callback
	dec     decoder.Decoder
	log     *slog.Logger

	mu      sync.Mutex
	state   State
	closed  bool
	pending *scheduler.Handle
	err     error
	stats   Stats

	// cbMu is held from the closed check through the callback's return.
	// deliverer holds the id of the goroutine running the callback, or 0.
	cbMu      sync.Mutex
	deliverer atomic.Uint64

	done     chan struct{}
	doneOnce sync.Once
	stopOnce sync.Once
}

// Start snapshots cam, starts a task on eng sized to fb and queues the first
// poll on sched. It returns without waiting for any rendering.
func Start(ctx context.Context, sched *scheduler.Scheduler, eng engine.Engine,
	fb *framebuffer.FrameBuffer, cam *camera.State, onEvent Callback, opts ...Option) (*Session, error) {
	switch {
	case sched == nil:
		return nil, fmt.Errorf("%w: nil scheduler", ErrInvalid)
	case eng == nil:
		return nil, fmt.Errorf("%w: nil engine", ErrInvalid)
	case fb == nil:
		return nil, fmt.Errorf("%w: nil frame buffer", ErrInvalid)
	case cam == nil:
		return nil, fmt.Errorf("%w: nil camera", ErrInvalid)
	}
	if onEvent == nil {
		onEvent = func(event.Event) {}
	}

	s := &Session{
		sched:   sched,
		fb:      fb,
		cam:     cam.Snapshot(),
		onEvent: onEvent,
		dec:     decoder.NewJSONDecoder(),
		log:     logging.Logger(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	task, err := eng.Start(ctx, fb.Width, fb.Height, s.cam)
	if err != nil {
		return nil, fmt.Errorf("%w: start: %w", ErrEngineFailure, err)
	}
	s.task = task

	s.mu.Lock()
	s.pending = sched.Defer(s.poll)
	s.mu.Unlock()

	s.log.Debug("render session started", "width", fb.Width, "height", fb.Height)
	return s, nil
}

// Camera returns the camera snapshot the task was started with.
func (s *Session) Camera() camera.Snapshot {
	return s.cam
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsFinished reports whether the session reached Finished or Cancelled.
func (s *Session) IsFinished() bool {
	return s.State().Terminal()
}

// Err returns the failure that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close cancels the session: the queued poll is dropped, the task is shut
// down and no callback starts after Close returns. Called from another
// goroutine, Close waits for a callback that is already running. A callback
// may call Close. Closing a finished or cancelled session is a no-op apart
// from suppressing a Finish callback that has not started yet.
func (s *Session) Close() {
	if id := s.deliverer.Load(); id == 0 || id != goid() {
		s.cbMu.Lock()
		defer s.cbMu.Unlock()
	}

	s.mu.Lock()
	s.closed = true
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = Cancelled
	if s.pending != nil {
		s.pending.Cancel()
		s.pending = nil
	}
	s.mu.Unlock()

	s.stopTask()
	s.markDone()
	s.log.Debug("render session cancelled")
}

// poll runs as one scheduler tick.
func (s *Session) poll() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	s.state = Polling
	s.stats.Polls++
	s.mu.Unlock()

	raw, err := s.task.Poll()
	if err != nil {
		s.finish(fmt.Errorf("%w: %w", ErrEngineFailure, err))
		return
	}

	e, ok := decoder.Classify(s.dec, raw)
	if !ok {
		s.mu.Lock()
		s.stats.Empty++
		s.mu.Unlock()
		s.schedule()
		return
	}

	switch e := e.(type) {
	case event.SetPixelPatch:
		s.patch(e)
	case event.Update:
		if !s.enter(Updating) {
			return
		}
		s.deliver(e)
		s.schedule()
	case event.Finish:
		var err error
		if e.Err != nil {
			err = fmt.Errorf("%w: %w", ErrEngineFailure, e.Err)
		}
		s.finish(err)
	}
}

func (s *Session) patch(p event.SetPixelPatch) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = Patching
	err := s.fb.Apply(p)
	if err == nil {
		s.stats.Patches++
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("rejecting patch", "err", err)
		s.finish(err)
		return
	}
	s.schedule()
}

// enter moves a live session to st and counts the transition.
func (s *Session) enter(st State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = st
	if st == Updating {
		s.stats.Updates++
	}
	return true
}

func (s *Session) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.pending = s.sched.Defer(s.poll)
}

func (s *Session) finish(err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = Finished
	s.err = err
	stats := s.stats
	s.mu.Unlock()

	s.stopTask()
	if err != nil {
		s.log.Warn("render session failed", "err", err)
	} else {
		s.log.Debug("render session finished",
			"polls", stats.Polls, "patches", stats.Patches, "updates", stats.Updates)
	}
	s.deliver(event.Finish{Err: err})
	s.markDone()
}

// deliver runs the callback unless Close has been called. The check and the
// call share cbMu, so a Close from another goroutine either lands first or
// waits for the callback to return.
func (s *Session) deliver(e event.Event) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	s.deliverer.Store(goid())
	defer s.deliverer.Store(0)
	s.onEvent(e)
}

func (s *Session) stopTask() {
	s.stopOnce.Do(s.task.Shutdown)
}

func (s *Session) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}
