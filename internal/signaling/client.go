package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/junsooki/photon/internal/logging"
)

// Handler callbacks for incoming messages. They run on the client's read
// goroutine.
type Handler struct {
	OnRegistered   func()
	OnEvent        func(payload json.RawMessage)
	OnAnswer       func(payload json.RawMessage)
	OnICECandidate func(payload json.RawMessage)
	OnError        func(msg string)

	// OnClosed is called once when the connection ends. err is nil after a
	// local Close or a normal closure by the engine.
	OnClosed func(err error)
}

// Client is the viewer end of a render connection.
type Client struct {
	url      string
	clientID string
	handler  Handler

	conn   *Conn
	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// NewClient creates a client for the render endpoint at url.
func NewClient(url, clientID string, handler Handler) *Client {
	return &Client{
		url:      url,
		clientID: clientID,
		handler:  handler,
		done:     make(chan struct{}),
	}
}

// Connect dials the engine and starts reading messages.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := Dial(ctx, c.url)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	err = c.Send(Message{
		Type:       TypeRegister,
		ID:         c.clientID,
		ClientType: ClientTypeViewer,
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("signaling register: %w", err)
	}

	go c.readLoop()
	go c.pingLoop()
	return nil
}

// Close shuts down the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	if c.conn != nil {
		c.conn.Close()
	}
}

// SendStart asks the engine to start rendering.
func (c *Client) SendStart(req StartRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.Send(Message{Type: TypeStart, Payload: payload})
}

// SendShutdown asks the engine to stop the current render.
func (c *Client) SendShutdown() error {
	return c.Send(Message{Type: TypeShutdown})
}

func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return conn.Send(msg)
}

func (c *Client) readLoop() {
	var readErr error
	defer func() {
		c.Close()
		if c.handler.OnClosed != nil {
			c.handler.OnClosed(readErr)
		}
	}()
	for {
		msg, err := c.conn.Receive()
		if err != nil {
			select {
			case <-c.done:
			default:
				if !IsClosure(err) {
					logging.Logger().Warn("signaling read failed", "err", err)
					readErr = err
				}
			}
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg Message) {
	switch msg.Type {
	case TypeRegistered:
		if c.handler.OnRegistered != nil {
			c.handler.OnRegistered()
		}
	case TypeEvent:
		if c.handler.OnEvent != nil {
			c.handler.OnEvent(msg.Payload)
		}
	case TypeAnswer:
		if c.handler.OnAnswer != nil {
			c.handler.OnAnswer(msg.Payload)
		}
	case TypeICECandidate:
		if c.handler.OnICECandidate != nil {
			c.handler.OnICECandidate(msg.Payload)
		}
	case TypeError:
		if c.handler.OnError != nil {
			c.handler.OnError(msg.Msg)
		}
	case TypePong:
		// heartbeat response, nothing to do
	default:
		logging.Logger().Debug("ignoring signaling message", "type", msg.Type)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			_ = c.Send(Message{Type: TypePing, Timestamp: time.Now().UnixMilli()})
		}
	}
}
