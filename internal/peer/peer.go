// Package peer negotiates the WebRTC connection that carries render events
// when a viewer asks for the data channel transport.
package peer

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/junsooki/photon/internal/logging"
	"github.com/junsooki/photon/internal/signaling"
)

// DefaultICEServers is the default ICE server configuration.
var DefaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}},
}

// Signaler delivers negotiation messages to the other side.
type Signaler interface {
	Send(msg signaling.Message) error
}

// NewPeerConnection creates a configured PeerConnection. onDown, if not nil,
// runs once when the connection fails or closes.
func NewPeerConnection(iceServers []webrtc.ICEServer, onDown func()) (*webrtc.PeerConnection, error) {
	cfg := webrtc.Configuration{
		ICEServers: iceServers,
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	var once sync.Once
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logging.Logger().Debug("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if onDown != nil {
				once.Do(onDown)
			}
		}
	})
	return pc, nil
}

// candidates trickles local candidates to the other side and holds remote
// candidates until a remote description is set.
type candidates struct {
	pc  *webrtc.PeerConnection
	sig Signaler

	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
}

func newCandidates(pc *webrtc.PeerConnection, sig Signaler) *candidates {
	c := &candidates{pc: pc, sig: sig}
	pc.OnICECandidate(func(ic *webrtc.ICECandidate) {
		if ic == nil {
			return
		}
		data, err := json.Marshal(ic.ToJSON())
		if err != nil {
			logging.Logger().Warn("marshal ICE candidate", "err", err)
			return
		}
		_ = sig.Send(signaling.Message{Type: signaling.TypeICECandidate, Payload: data})
	})
	return c
}

func (c *candidates) add(payload json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &candidate); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pc.RemoteDescription() == nil {
		c.pending = append(c.pending, candidate)
		return nil
	}
	return c.pc.AddICECandidate(candidate)
}

// flush adds the candidates that arrived before the remote description.
func (c *candidates) flush() error {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, candidate := range pending {
		if err := c.pc.AddICECandidate(candidate); err != nil {
			return err
		}
	}
	return nil
}
