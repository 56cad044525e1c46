package transport

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/junsooki/photon/internal/logging"
)

// EventsLabel is the label of the data channel carrying render events.
const EventsLabel = "events"

// ErrNoChannel is returned when sending before the events channel exists.
var ErrNoChannel = errors.New("transport: events data channel not set")

// DataChannelTransport implements event transport over an ordered, reliable
// WebRTC DataChannel.
type DataChannelTransport struct {
	mu       sync.Mutex
	eventsDC *webrtc.DataChannel
	onEvent  func(data []byte)

	ready     chan struct{}
	readyOnce sync.Once

	closed    chan struct{}
	closeOnce sync.Once
}

// NewDataChannelTransport wraps dc, which may be nil until SetEventsChannel
// is called with a negotiated channel.
func NewDataChannelTransport(dc *webrtc.DataChannel) *DataChannelTransport {
	t := &DataChannelTransport{ready: make(chan struct{}), closed: make(chan struct{})}
	if dc != nil {
		t.SetEventsChannel(dc)
	}
	return t
}

// EventsChannelInit is the channel configuration: events must arrive in
// order and none may be dropped.
func EventsChannelInit() *webrtc.DataChannelInit {
	ordered := true
	return &webrtc.DataChannelInit{Ordered: &ordered}
}

func (t *DataChannelTransport) SendEvent(data []byte) error {
	t.mu.Lock()
	dc := t.eventsDC
	t.mu.Unlock()
	if dc == nil {
		return ErrNoChannel
	}
	return dc.Send(data)
}

func (t *DataChannelTransport) OnEvent(cb func(data []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEvent = cb
}

// Ready is closed once the events channel is open.
func (t *DataChannelTransport) Ready() <-chan struct{} {
	return t.ready
}

// Closed is closed once the events channel has closed, from either end.
func (t *DataChannelTransport) Closed() <-chan struct{} {
	return t.closed
}

// SetEventsChannel sets or replaces the events DataChannel (used when
// receiving negotiated channels).
func (t *DataChannelTransport) SetEventsChannel(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.eventsDC = dc
	t.mu.Unlock()

	dc.OnOpen(func() {
		logging.Logger().Debug("events data channel open", "label", dc.Label())
		t.markReady()
	})
	dc.OnClose(func() {
		logging.Logger().Debug("events data channel closed", "label", dc.Label())
		t.markClosed()
	})
	switch dc.ReadyState() {
	case webrtc.DataChannelStateOpen:
		t.markReady()
	case webrtc.DataChannelStateClosed:
		t.markClosed()
	}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.mu.Lock()
		cb := t.onEvent
		t.mu.Unlock()
		if cb != nil {
			cb(msg.Data)
		}
	})
}

func (t *DataChannelTransport) markReady() {
	t.readyOnce.Do(func() { close(t.ready) })
}

func (t *DataChannelTransport) markClosed() {
	t.closeOnce.Do(func() { close(t.closed) })
}

// Close closes the events channel, if any.
func (t *DataChannelTransport) Close() error {
	t.mu.Lock()
	dc := t.eventsDC
	t.mu.Unlock()
	if dc == nil {
		return nil
	}
	return dc.Close()
}
