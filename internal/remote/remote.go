// Package remote runs render tasks in another process. The viewer side is an
// engine.Engine whose tasks are fed by a WebSocket connection, optionally
// with events moved onto a WebRTC data channel; the engine side serves any
// engine.Engine over the same protocol.
package remote

import (
	"errors"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/junsooki/photon/internal/peer"
)

var (
	// ErrDisconnected is reported by a task whose connection dropped before
	// the render finished.
	ErrDisconnected = errors.New("remote: engine disconnected")

	// ErrRejected is reported when the engine refuses a request.
	ErrRejected = errors.New("remote: engine rejected request")
)

const defaultReadyTimeout = 10 * time.Second

type options struct {
	dataChannel  bool
	iceServers   []webrtc.ICEServer
	readyTimeout time.Duration
	pollInterval time.Duration
}

func defaultOptions() options {
	return options{
		iceServers:   peer.DefaultICEServers,
		readyTimeout: defaultReadyTimeout,
		pollInterval: time.Millisecond,
	}
}

// Option configures an Engine or a Server.
type Option func(*options)

// WithDataChannel asks for events on a WebRTC data channel instead of the
// WebSocket.
func WithDataChannel(enabled bool) Option {
	return func(o *options) {
		o.dataChannel = enabled
	}
}

// WithICEServers replaces the default STUN servers. An empty list restricts
// WebRTC to host candidates.
func WithICEServers(servers []webrtc.ICEServer) Option {
	return func(o *options) {
		o.iceServers = servers
	}
}

// WithReadyTimeout bounds how long a data channel may take to open.
func WithReadyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.readyTimeout = d
		}
	}
}

// WithPollInterval sets how often the server polls an idle task.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}
