package stream

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/junsooki/photon/internal/camera"
	"github.com/junsooki/photon/internal/decoder"
	"github.com/junsooki/photon/internal/engine"
	"github.com/junsooki/photon/internal/event"
	"github.com/junsooki/photon/internal/framebuffer"
	"github.com/junsooki/photon/internal/scheduler"
)

type step struct {
	raw []byte
	err error
}

// scriptTask replays a fixed list of poll results, then reports no event.
type scriptTask struct {
	mu        sync.Mutex
	steps     []step
	polls     int
	shutdowns int
}

func (t *scriptTask) Poll() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.polls++
	if len(t.steps) == 0 {
		return nil, nil
	}
	s := t.steps[0]
	t.steps = t.steps[1:]
	return s.raw, s.err
}

func (t *scriptTask) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shutdowns++
}

func (t *scriptTask) counts() (polls, shutdowns int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.polls, t.shutdowns
}

type scriptEngine struct {
	task   *scriptTask
	err    error
	width  int
	height int
	cam    camera.Snapshot
}

func (e *scriptEngine) Start(_ context.Context, width, height int, cam camera.Snapshot) (engine.Task, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.width, e.height, e.cam = width, height, cam
	return e.task, nil
}

func raw(t *testing.T, e event.Event) step {
	t.Helper()
	b, err := event.Encode(e)
	if err != nil {
		t.Fatal(err)
	}
	return step{raw: b}
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) record(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

func newSession(t *testing.T, steps []step, cb Callback) (*Session, *scheduler.Scheduler, *scriptTask, *framebuffer.FrameBuffer) {
	t.Helper()
	task := &scriptTask{steps: steps}
	sched := scheduler.New()
	fb, err := framebuffer.New(4, 4)
	if err != nil {
		t.Fatal(err)
	}
	s, err := Start(context.Background(), sched, &scriptEngine{task: task}, fb, camera.New(), cb)
	if err != nil {
		t.Fatalf("Start() = %v", err)
	}
	return s, sched, task, fb
}

func TestStartIsNonBlocking(t *testing.T) {
	eng := &scriptEngine{task: &scriptTask{}}
	sched := scheduler.New()
	fb, _ := framebuffer.New(6, 3)
	cam := camera.New()
	cam.Drag(5, 0)

	s, err := Start(context.Background(), sched, eng, fb, cam, nil)
	if err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if s.State() != Created {
		t.Errorf("State() = %v, want created", s.State())
	}
	if polls, _ := eng.task.counts(); polls != 0 {
		t.Errorf("Start polled %d times, want 0", polls)
	}
	if eng.width != 6 || eng.height != 3 {
		t.Errorf("engine started at %dx%d, want 6x3", eng.width, eng.height)
	}
	if eng.cam != cam.Snapshot() || s.Camera() != cam.Snapshot() {
		t.Errorf("engine camera = %+v, want %+v", eng.cam, cam.Snapshot())
	}
	if sched.Len() != 1 {
		t.Errorf("queued %d polls, want 1", sched.Len())
	}
}

func TestStartValidation(t *testing.T) {
	sched := scheduler.New()
	fb, _ := framebuffer.New(1, 1)
	eng := &scriptEngine{task: &scriptTask{}}
	cam := camera.New()

	if _, err := Start(context.Background(), nil, eng, fb, cam, nil); !errors.Is(err, ErrInvalid) {
		t.Errorf("nil scheduler: %v", err)
	}
	if _, err := Start(context.Background(), sched, nil, fb, cam, nil); !errors.Is(err, ErrInvalid) {
		t.Errorf("nil engine: %v", err)
	}
	if _, err := Start(context.Background(), sched, eng, nil, cam, nil); !errors.Is(err, ErrInvalid) {
		t.Errorf("nil frame buffer: %v", err)
	}
	if _, err := Start(context.Background(), sched, eng, fb, nil, nil); !errors.Is(err, ErrInvalid) {
		t.Errorf("nil camera: %v", err)
	}

	boom := errors.New("boom")
	_, err := Start(context.Background(), sched, &scriptEngine{err: boom}, fb, cam, nil)
	if !errors.Is(err, ErrEngineFailure) || !errors.Is(err, boom) {
		t.Errorf("failed engine start = %v, want ErrEngineFailure wrapping boom", err)
	}
}

func TestUpdateUpdateFinish(t *testing.T) {
	var rec recorder
	s, sched, task, _ := newSession(t, []step{
		raw(t, event.Update{}),
		raw(t, event.Update{}),
		raw(t, event.Finish{}),
	}, rec.record)

	sched.Tick()
	if s.IsFinished() || len(rec.list()) != 1 {
		t.Fatalf("after first update: finished=%v events=%d", s.IsFinished(), len(rec.list()))
	}
	sched.Tick()
	if s.IsFinished() || len(rec.list()) != 2 {
		t.Fatalf("after second update: finished=%v events=%d", s.IsFinished(), len(rec.list()))
	}
	sched.Tick()
	if !s.IsFinished() || s.State() != Finished {
		t.Fatalf("after finish: state=%v", s.State())
	}

	got := rec.list()
	if len(got) != 3 || got[0] != (event.Update{}) || got[1] != (event.Update{}) || got[2] != (event.Finish{}) {
		t.Errorf("callback got %v, want [update update finish]", got)
	}
	if _, shutdowns := task.counts(); shutdowns != 1 {
		t.Errorf("Shutdown called %d times, want 1", shutdowns)
	}
	if sched.Len() != 0 {
		t.Errorf("finished session left %d polls queued", sched.Len())
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done() not closed after finish")
	}
	if s.Err() != nil {
		t.Errorf("Err() = %v, want nil", s.Err())
	}
}

func TestEmptyPollSchedulesOneFollowUp(t *testing.T) {
	s, sched, task, _ := newSession(t, []step{{}, {raw: []byte("  ")}}, nil)
	for i := 1; i <= 3; i++ {
		sched.Tick()
		if sched.Len() != 1 {
			t.Fatalf("tick %d: %d polls queued, want 1", i, sched.Len())
		}
		if polls, _ := task.counts(); polls != i {
			t.Fatalf("tick %d: %d polls, want %d", i, polls, i)
		}
	}
	if s.State() != Polling {
		t.Errorf("State() = %v, want polling", s.State())
	}
	if st := s.Stats(); st.Polls != 3 || st.Empty != 3 {
		t.Errorf("Stats() = %+v, want 3 polls all empty", st)
	}
	s.Close()
}

func TestPatchesApplyInOrder(t *testing.T) {
	red := event.SetPixelPatch{X: 0, Y: 0, Width: 2, Height: 2, R: 255, A: 255}
	blue := event.SetPixelPatch{X: 1, Y: 1, Width: 1, Height: 1, B: 255, A: 255}
	var rec recorder
	s, sched, _, fb := newSession(t, []step{raw(t, red), raw(t, blue), raw(t, event.Finish{})}, rec.record)

	sched.Tick()
	if s.State() != Patching {
		t.Errorf("State() = %v, want patching", s.State())
	}
	for sched.Len() > 0 {
		sched.Tick()
	}

	if got := fb.At(0, 0); got != red.Color() {
		t.Errorf("(0,0) = %v, want %v", got, red.Color())
	}
	if got := fb.At(1, 1); got != blue.Color() {
		t.Errorf("(1,1) = %v, want %v", got, blue.Color())
	}
	if got := fb.At(2, 2); got.A != 0 {
		t.Errorf("(2,2) = %v, want untouched", got)
	}
	if got := rec.list(); len(got) != 1 || got[0] != (event.Finish{}) {
		t.Errorf("callback got %v, want only finish", got)
	}
	if st := s.Stats(); st.Patches != 2 {
		t.Errorf("Stats().Patches = %d, want 2", st.Patches)
	}
}

func TestOutOfBoundsPatchEndsSession(t *testing.T) {
	var rec recorder
	s, sched, task, fb := newSession(t, []step{
		raw(t, event.SetPixelPatch{X: 3, Y: 3, Width: 4, Height: 4, R: 9, A: 9}),
		raw(t, event.Update{}),
	}, rec.record)
	before := fb.Clone()

	sched.Tick()
	if s.State() != Finished {
		t.Fatalf("State() = %v, want finished", s.State())
	}
	if !errors.Is(s.Err(), framebuffer.ErrOutOfBounds) {
		t.Errorf("Err() = %v, want ErrOutOfBounds", s.Err())
	}
	got := rec.list()
	if len(got) != 1 {
		t.Fatalf("callback got %v, want a single finish", got)
	}
	if f, ok := got[0].(event.Finish); !ok || !errors.Is(f.Err, framebuffer.ErrOutOfBounds) {
		t.Errorf("callback got %#v, want Finish carrying ErrOutOfBounds", got[0])
	}
	for i := range fb.Pix {
		if fb.Pix[i] != before.Pix[i] {
			t.Fatal("rejected patch modified the buffer")
		}
	}
	if _, shutdowns := task.counts(); shutdowns != 1 {
		t.Errorf("Shutdown called %d times, want 1", shutdowns)
	}
	if sched.Len() != 0 {
		t.Errorf("%d polls queued after failure", sched.Len())
	}
}

func TestEngineFailure(t *testing.T) {
	lost := errors.New("device lost")
	for name, steps := range map[string][]step{
		"poll error":   {{err: lost}},
		"finish error": {{raw: []byte(`{"type":"finish","error":"device lost"}`)}},
	} {
		t.Run(name, func(t *testing.T) {
			var rec recorder
			s, sched, _, _ := newSession(t, steps, rec.record)
			sched.Tick()

			if s.State() != Finished {
				t.Fatalf("State() = %v, want finished", s.State())
			}
			if !errors.Is(s.Err(), ErrEngineFailure) {
				t.Errorf("Err() = %v, want ErrEngineFailure", s.Err())
			}
			got := rec.list()
			if len(got) != 1 {
				t.Fatalf("callback got %v", got)
			}
			f, ok := got[0].(event.Finish)
			if !ok || !errors.Is(f.Err, ErrEngineFailure) {
				t.Errorf("callback got %#v, want Finish with ErrEngineFailure", got[0])
			}
		})
	}
}

func TestMalformedEventIsSkipped(t *testing.T) {
	var rec recorder
	s, sched, _, fb := newSession(t, []step{
		{raw: []byte(`{"type":"set_pixel","x":0,"y":0,"w":4,"h":4,"r":1,"g":1,"b":1,"a":1}`)},
		raw(t, event.Finish{}),
	}, rec.record)

	sched.Tick()
	if s.IsFinished() {
		t.Fatal("malformed event ended the session")
	}
	if got := fb.At(0, 0); got.A != 0 {
		t.Errorf("(0,0) = %v, want untouched", got)
	}
	sched.Tick()
	if !s.IsFinished() || s.Err() != nil {
		t.Errorf("state=%v err=%v, want clean finish", s.State(), s.Err())
	}
}

func TestCloseSemantics(t *testing.T) {
	var rec recorder
	s, sched, task, _ := newSession(t, []step{
		raw(t, event.Update{}),
		raw(t, event.Update{}),
		raw(t, event.Finish{}),
	}, rec.record)

	sched.Tick()
	s.Close()
	if s.State() != Cancelled || !s.IsFinished() {
		t.Fatalf("State() = %v, want cancelled", s.State())
	}
	for i := 0; i < 5; i++ {
		sched.Tick()
	}
	if got := rec.list(); len(got) != 1 {
		t.Errorf("callback got %v after Close, want only the first update", got)
	}
	polls, shutdowns := task.counts()
	if polls != 1 {
		t.Errorf("task polled %d times, want 1", polls)
	}
	if shutdowns != 1 {
		t.Errorf("Shutdown called %d times, want 1", shutdowns)
	}

	s.Close()
	s.Close()
	if _, shutdowns := task.counts(); shutdowns != 1 {
		t.Errorf("repeated Close shut the task down %d times", shutdowns)
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done() not closed after Close")
	}
}

func TestCloseBeforeFirstPoll(t *testing.T) {
	s, sched, task, _ := newSession(t, []step{raw(t, event.Finish{})}, func(event.Event) {
		t.Error("callback invoked on a session closed before its first poll")
	})
	s.Close()
	sched.Tick()
	if polls, _ := task.counts(); polls != 0 {
		t.Errorf("task polled %d times, want 0", polls)
	}
}

func TestCloseAfterFinishIsNoop(t *testing.T) {
	s, sched, task, _ := newSession(t, []step{raw(t, event.Finish{})}, nil)
	sched.Tick()
	s.Close()
	if s.State() != Finished {
		t.Errorf("State() = %v, want finished", s.State())
	}
	if _, shutdowns := task.counts(); shutdowns != 1 {
		t.Errorf("Shutdown called %d times, want 1", shutdowns)
	}
}

func TestCloseFromCallback(t *testing.T) {
	var s *Session
	calls := 0
	s, sched, _, _ := newSession(t, []step{
		raw(t, event.Update{}),
		raw(t, event.Update{}),
	}, func(event.Event) {
		calls++
		s.Close()
	})
	for i := 0; i < 4; i++ {
		sched.Tick()
	}
	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
	if s.State() != Cancelled {
		t.Errorf("State() = %v, want cancelled", s.State())
	}
	if sched.Len() != 0 {
		t.Errorf("%d polls queued after Close", sched.Len())
	}
}

// signalDecoder reports each decoded event on decoded without blocking.
type signalDecoder struct {
	decoder.Decoder
	decoded chan struct{}
}

func (d signalDecoder) Decode(raw []byte) (event.Event, error) {
	e, err := d.Decoder.Decode(raw)
	if e != nil {
		select {
		case d.decoded <- struct{}{}:
		default:
		}
	}
	return e, err
}

func TestCloseFromAnotherGoroutine(t *testing.T) {
	cases := map[string]event.Event{
		"update": event.Update{},
		"finish": event.Finish{},
	}
	for name, ev := range cases {
		t.Run(name, func(t *testing.T) {
			var late atomic.Int32
			for i := 0; i < 2000; i++ {
				task := &scriptTask{steps: []step{raw(t, ev)}}
				sched := scheduler.New()
				fb, _ := framebuffer.New(2, 2)
				decoded := make(chan struct{}, 1)
				var closed atomic.Bool

				s, err := Start(context.Background(), sched, &scriptEngine{task: task}, fb, camera.New(),
					func(event.Event) {
						if closed.Load() {
							late.Add(1)
						}
					},
					WithDecoder(signalDecoder{Decoder: decoder.NewJSONDecoder(), decoded: decoded}))
				if err != nil {
					t.Fatalf("Start() = %v", err)
				}

				returned := make(chan struct{})
				go func() {
					<-decoded
					s.Close()
					closed.Store(true)
					close(returned)
				}()
				sched.Tick()
				<-returned

				if _, shutdowns := task.counts(); shutdowns != 1 {
					t.Fatalf("Shutdown called %d times, want 1", shutdowns)
				}
			}
			if n := late.Load(); n != 0 {
				t.Errorf("callback started after Close returned in %d runs", n)
			}
		})
	}
}

func TestCloseWaitsForRunningCallback(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	s, sched, _, _ := newSession(t, []step{raw(t, event.Update{})}, func(event.Event) {
		close(entered)
		<-release
	})

	go sched.Tick()
	<-entered

	returned := make(chan struct{})
	go func() {
		s.Close()
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("Close returned while a callback was still running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the callback finished")
	}
	if s.State() != Cancelled {
		t.Errorf("State() = %v, want cancelled", s.State())
	}
}

func TestCloseFromFinishCallback(t *testing.T) {
	var s *Session
	calls := 0
	s, sched, _, _ := newSession(t, []step{raw(t, event.Finish{})}, func(event.Event) {
		calls++
		s.Close()
	})
	sched.Tick()
	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
	if s.State() != Finished {
		t.Errorf("State() = %v, want finished", s.State())
	}
}

func TestSessionsInterleave(t *testing.T) {
	sched := scheduler.New()
	var order []string
	mk := func(name string) *Session {
		task := &scriptTask{steps: []step{
			raw(t, event.Update{}),
			raw(t, event.Update{}),
			raw(t, event.Finish{}),
		}}
		fb, _ := framebuffer.New(1, 1)
		s, err := Start(context.Background(), sched, &scriptEngine{task: task}, fb, camera.New(),
			func(e event.Event) { order = append(order, name+":"+string(e.Type())) })
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	a, b := mk("a"), mk("b")
	for sched.Len() > 0 {
		sched.Tick()
	}
	want := []string{"a:update", "b:update", "a:update", "b:update", "a:finish", "b:finish"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if !a.IsFinished() || !b.IsFinished() {
		t.Error("sessions did not finish")
	}
}

func TestLastWriteWinsReplay(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var steps []step
	model := make([][4]uint8, 16)
	for i := 0; i < 200; i++ {
		x, y := rng.Intn(4), rng.Intn(4)
		w, h := 1+rng.Intn(4-x), 1+rng.Intn(4-y)
		p := event.SetPixelPatch{X: x, Y: y, Width: w, Height: h,
			R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: uint8(rng.Intn(256))}
		steps = append(steps, raw(t, p))
		for yy := y; yy < y+h; yy++ {
			for xx := x; xx < x+w; xx++ {
				model[yy*4+xx] = [4]uint8{p.R, p.G, p.B, p.A}
			}
		}
	}
	steps = append(steps, raw(t, event.Finish{}))

	s, sched, _, fb := newSession(t, steps, nil)
	for sched.Len() > 0 {
		sched.Tick()
	}
	if s.Err() != nil {
		t.Fatalf("Err() = %v", s.Err())
	}
	for i, want := range model {
		c := fb.At(i%4, i/4)
		if [4]uint8{c.R, c.G, c.B, c.A} != want {
			t.Fatalf("pixel (%d,%d) = %v, want %v", i%4, i/4, c, want)
		}
	}
}

func TestStateString(t *testing.T) {
	if Cancelled.String() != "cancelled" || State(42).String() != "State(42)" {
		t.Errorf("unexpected names %q %q", Cancelled.String(), State(42).String())
	}
}
