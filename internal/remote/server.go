package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/junsooki/photon/internal/decoder"
	"github.com/junsooki/photon/internal/engine"
	"github.com/junsooki/photon/internal/event"
	"github.com/junsooki/photon/internal/logging"
	"github.com/junsooki/photon/internal/peer"
	"github.com/junsooki/photon/internal/signaling"
	"github.com/junsooki/photon/internal/transport"
)

// Server serves an engine over WebSocket. Each connection runs at most one
// task at a time; a new start shuts the previous task down.
type Server struct {
	eng  engine.Engine
	opts options

	mu     sync.Mutex
	conns  map[*connection]struct{}
	closed bool
}

func NewServer(eng engine.Engine, opts ...Option) *Server {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{eng: eng, opts: o, conns: make(map[*connection]struct{})}
}

// Close drops every open connection, shutting their tasks down, and refuses
// new ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.conn.Close()
	}
}

func (s *Server) track(c *connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := signaling.Upgrade(w, r)
	if err != nil {
		logging.Logger().Warn("rejecting connection", "remote", r.RemoteAddr, "err", err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{srv: s, conn: conn, ctx: ctx, cancel: cancel}
	defer c.close()
	if !s.track(c) {
		return
	}
	defer s.untrack(c)
	c.serve()
}

type connection struct {
	srv    *Server
	conn   *signaling.Conn
	ctx    context.Context
	cancel context.CancelFunc
	id     string

	mu   sync.Mutex
	host *peer.Host
	task engine.Task
	wg   sync.WaitGroup
}

func (c *connection) serve() {
	for {
		msg, err := c.conn.Receive()
		if err != nil {
			if !signaling.IsClosure(err) {
				logging.Logger().Debug("connection ended", "id", c.id, "err", err)
			}
			return
		}
		c.handle(msg)
	}
}

func (c *connection) handle(msg signaling.Message) {
	log := logging.Logger()
	switch msg.Type {
	case signaling.TypeRegister:
		c.id = msg.ID
		log.Debug("viewer registered", "id", msg.ID, "type", msg.ClientType)
		_ = c.conn.Send(signaling.Message{Type: signaling.TypeRegistered, ID: msg.ID, ClientType: signaling.ClientTypeEngine})
	case signaling.TypeStart:
		var req signaling.StartRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError(fmt.Errorf("bad start request: %w", err))
			return
		}
		if err := c.start(req); err != nil {
			c.sendError(err)
		}
	case signaling.TypeShutdown:
		c.stopTask()
	case signaling.TypeOffer:
		if err := c.handleOffer(msg.Payload); err != nil {
			c.sendError(fmt.Errorf("offer: %w", err))
		}
	case signaling.TypeICECandidate:
		c.mu.Lock()
		h := c.host
		c.mu.Unlock()
		if h != nil {
			if err := h.HandleICECandidate(msg.Payload); err != nil {
				log.Warn("add ICE candidate", "err", err)
			}
		}
	case signaling.TypePing:
		_ = c.conn.Send(signaling.Message{Type: signaling.TypePong, Timestamp: msg.Timestamp})
	default:
		c.sendError(fmt.Errorf("unknown message type %q", msg.Type))
	}
}

func (c *connection) handleOffer(payload json.RawMessage) error {
	h, err := peer.NewHost(c.conn, c.srv.opts.iceServers)
	if err != nil {
		return err
	}
	c.mu.Lock()
	old := c.host
	c.host = h
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return h.HandleOffer(payload)
}

func (c *connection) start(req signaling.StartRequest) error {
	var send transport.EventSender
	switch req.Transport {
	case "", signaling.TransportWebSocket:
		send = wsEvents{c.conn}
	case signaling.TransportWebRTC:
		dc, err := c.dataChannel()
		if err != nil {
			return err
		}
		send = dc
	default:
		return fmt.Errorf("unknown transport %q", req.Transport)
	}

	c.stopTask()
	task, err := c.srv.eng.Start(c.ctx, req.Width, req.Height, req.Camera)
	if err != nil {
		return fmt.Errorf("start render: %w", err)
	}
	c.mu.Lock()
	c.task = task
	c.mu.Unlock()

	logging.Logger().Debug("serving render", "id", c.id,
		"width", req.Width, "height", req.Height, "transport", req.Transport)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pump(task, send)
	}()
	return nil
}

func (c *connection) dataChannel() (*transport.DataChannelTransport, error) {
	c.mu.Lock()
	h := c.host
	c.mu.Unlock()
	if h == nil {
		return nil, errors.New("webrtc transport requested without an offer")
	}
	timer := time.NewTimer(c.srv.opts.readyTimeout)
	defer timer.Stop()
	select {
	case <-h.Transport().Ready():
		return h.Transport(), nil
	case <-timer.C:
		return nil, errors.New("data channel did not open")
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}

// pump forwards task events until finish, failure or shutdown. An engine
// failure is forwarded as a finish carrying the error. When send fails the
// task is shut down and the viewer is told over the WebSocket, which outlives
// a broken data channel.
func (c *connection) pump(task engine.Task, send transport.EventSender) {
	ticker := time.NewTicker(c.srv.opts.pollInterval)
	defer ticker.Stop()
	for {
		if !c.current(task) {
			return
		}
		raw, err := task.Poll()
		if err != nil {
			fin, _ := event.Encode(event.Finish{Err: err})
			_ = send.SendEvent(fin)
			return
		}
		if raw == nil {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}
		if err := send.SendEvent(raw); err != nil {
			logging.Logger().Warn("sending event failed", "id", c.id, "err", err)
			task.Shutdown()
			fin, _ := event.Encode(event.Finish{Err: fmt.Errorf("event delivery: %w", err)})
			_ = c.sendEvent(fin)
			return
		}
		if e, ok := decoder.Decode(raw); ok && e.Type() == event.TypeFinish {
			return
		}
	}
}

// current reports whether task is still the connection's live task.
func (c *connection) current(task engine.Task) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.task == task
}

func (c *connection) stopTask() {
	c.mu.Lock()
	task := c.task
	c.task = nil
	c.mu.Unlock()
	if task != nil {
		task.Shutdown()
	}
}

func (c *connection) sendEvent(raw []byte) error {
	return wsEvents{c.conn}.SendEvent(raw)
}

// wsEvents sends render events as signaling event messages.
type wsEvents struct {
	conn *signaling.Conn
}

func (w wsEvents) SendEvent(raw []byte) error {
	return w.conn.Send(signaling.Message{Type: signaling.TypeEvent, Payload: raw})
}

func (c *connection) sendError(err error) {
	logging.Logger().Warn("request failed", "id", c.id, "err", err)
	_ = c.conn.Send(signaling.Message{Type: signaling.TypeError, Msg: err.Error()})
}

func (c *connection) close() {
	c.stopTask()
	c.cancel()
	c.wg.Wait()
	c.mu.Lock()
	h := c.host
	c.mu.Unlock()
	if h != nil {
		h.Close()
	}
	c.conn.Close()
}
