package signaling

import (
	"encoding/json"

	"github.com/junsooki/photon/internal/camera"
)

// Message types for the render protocol.
const (
	TypeRegister     = "register"
	TypeRegistered   = "registered"
	TypeStart        = "start"
	TypeEvent        = "event"
	TypeShutdown     = "shutdown"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeError        = "error"
)

// ClientType distinguishes the two ends of a connection.
const (
	ClientTypeViewer = "viewer"
	ClientTypeEngine = "engine"
)

// Transports a viewer can ask events to be delivered on.
const (
	TransportWebSocket = "ws"
	TransportWebRTC    = "webrtc"
)

// Message is the envelope for all protocol messages.
type Message struct {
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"`
	ClientType string          `json:"clientType,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Msg        string          `json:"message,omitempty"`
	Timestamp  int64           `json:"timestamp,omitempty"`
}

// StartRequest is the payload of a start message.
type StartRequest struct {
	Width     int             `json:"width"`
	Height    int             `json:"height"`
	Camera    camera.Snapshot `json:"camera"`
	Transport string          `json:"transport,omitempty"`
}
