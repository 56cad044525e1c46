package remote

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/junsooki/photon/internal/camera"
	"github.com/junsooki/photon/internal/engine"
	"github.com/junsooki/photon/internal/logging"
	"github.com/junsooki/photon/internal/peer"
	"github.com/junsooki/photon/internal/signaling"
	"github.com/junsooki/photon/internal/transport"
)

// Engine starts tasks on a remote render endpoint, one connection per task.
type Engine struct {
	url  string
	opts options
}

// NewEngine returns an engine for the endpoint at url (ws:// or wss://).
func NewEngine(url string, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{url: url, opts: o}
}

func (e *Engine) Start(ctx context.Context, width, height int, cam camera.Snapshot) (engine.Task, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", engine.ErrSize, width, height)
	}

	t := &task{stopped: make(chan struct{})}
	t.client = signaling.NewClient(e.url, "viewer-"+randomID(), signaling.Handler{
		OnEvent:  t.push,
		OnError:  t.reject,
		OnClosed: t.closed,
		OnAnswer: func(payload json.RawMessage) {
			if v := t.viewerPeer(); v != nil {
				if err := v.HandleAnswer(payload); err != nil {
					t.fail(fmt.Errorf("remote: answer: %w", err))
				}
			}
		},
		OnICECandidate: func(payload json.RawMessage) {
			if v := t.viewerPeer(); v != nil {
				if err := v.HandleICECandidate(payload); err != nil {
					logging.Logger().Warn("add ICE candidate", "err", err)
				}
			}
		},
	})
	if err := t.client.Connect(ctx); err != nil {
		return nil, err
	}

	req := signaling.StartRequest{
		Width:     width,
		Height:    height,
		Camera:    cam,
		Transport: signaling.TransportWebSocket,
	}
	if e.opts.dataChannel {
		if err := t.openDataChannel(ctx, e.opts); err != nil {
			t.Shutdown()
			return nil, err
		}
		req.Transport = signaling.TransportWebRTC
	}

	if err := t.client.SendStart(req); err != nil {
		t.Shutdown()
		return nil, fmt.Errorf("remote: start: %w", err)
	}
	logging.Logger().Debug("remote render started",
		"url", e.url, "width", width, "height", height, "transport", req.Transport)
	return t, nil
}

// task buffers events received from the engine until Poll takes them.
type task struct {
	client *signaling.Client

	mu       sync.Mutex
	viewer   *peer.Viewer
	queue    [][]byte
	err      error
	shutdown bool
	stopped  chan struct{}
	once     sync.Once
}

func (t *task) openDataChannel(ctx context.Context, o options) error {
	v, err := peer.NewViewer(t.client, o.iceServers)
	if err != nil {
		return fmt.Errorf("remote: create peer: %w", err)
	}
	t.subscribe(v.Transport())
	t.mu.Lock()
	t.viewer = v
	t.mu.Unlock()
	go t.watchPeer(v.Transport().Closed(), v.Down())

	if err := v.Connect(); err != nil {
		return fmt.Errorf("remote: offer: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.readyTimeout)
	defer cancel()
	select {
	case <-v.Transport().Ready():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("remote: data channel: %w", ctx.Err())
	}
}

func (t *task) subscribe(rx transport.EventReceiver) {
	rx.OnEvent(func(data []byte) {
		t.push(append([]byte(nil), data...))
	})
}

// watchPeer fails the task if the events channel or its peer connection goes
// away before Shutdown.
func (t *task) watchPeer(channelClosed, peerDown <-chan struct{}) {
	select {
	case <-channelClosed:
		t.fail(fmt.Errorf("%w: events data channel closed", ErrDisconnected))
	case <-peerDown:
		t.fail(fmt.Errorf("%w: peer connection lost", ErrDisconnected))
	case <-t.stopped:
	}
}

func (t *task) viewerPeer() *peer.Viewer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.viewer
}

func (t *task) push(payload json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.shutdown {
		return
	}
	t.queue = append(t.queue, payload)
}

func (t *task) reject(msg string) {
	t.fail(fmt.Errorf("%w: %s", ErrRejected, msg))
}

func (t *task) closed(err error) {
	if err == nil {
		err = ErrDisconnected
	} else {
		err = fmt.Errorf("%w: %w", ErrDisconnected, err)
	}
	t.fail(err)
}

// fail records the first failure. It surfaces only after queued events.
func (t *task) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.shutdown || t.err != nil {
		return
	}
	t.err = err
}

func (t *task) Poll() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) > 0 {
		raw := t.queue[0]
		t.queue[0] = nil
		t.queue = t.queue[1:]
		return raw, nil
	}
	return nil, t.err
}

func (t *task) Shutdown() {
	t.once.Do(func() {
		t.mu.Lock()
		t.shutdown = true
		t.queue = nil
		v := t.viewer
		t.mu.Unlock()
		close(t.stopped)

		_ = t.client.SendShutdown()
		if v != nil {
			v.Close()
		}
		t.client.Close()
	})
}

func randomID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}
