package peer

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/junsooki/photon/internal/signaling"
	"github.com/junsooki/photon/internal/transport"
)

// Viewer manages the viewer side of the WebRTC connection. It creates the
// events channel and makes the offer.
type Viewer struct {
	pc         *webrtc.PeerConnection
	sig        Signaler
	transport  *transport.DataChannelTransport
	candidates *candidates

	down     chan struct{}
	downOnce sync.Once
}

// NewViewer creates a Viewer peer manager.
func NewViewer(sig Signaler, iceServers []webrtc.ICEServer) (*Viewer, error) {
	v := &Viewer{sig: sig, down: make(chan struct{})}
	pc, err := NewPeerConnection(iceServers, v.markDown)
	if err != nil {
		return nil, err
	}

	dc, err := pc.CreateDataChannel(transport.EventsLabel, transport.EventsChannelInit())
	if err != nil {
		pc.Close()
		return nil, err
	}

	v.pc = pc
	v.transport = transport.NewDataChannelTransport(dc)
	v.candidates = newCandidates(pc, sig)
	return v, nil
}

// Down is closed once the peer connection has failed or closed.
func (v *Viewer) Down() <-chan struct{} {
	return v.down
}

func (v *Viewer) markDown() {
	v.downOnce.Do(func() { close(v.down) })
}

// Transport returns the DataChannelTransport.
func (v *Viewer) Transport() *transport.DataChannelTransport {
	return v.transport
}

// Connect initiates the WebRTC connection by creating and sending an offer.
func (v *Viewer) Connect() error {
	offer, err := v.pc.CreateOffer(nil)
	if err != nil {
		return err
	}

	if err := v.pc.SetLocalDescription(offer); err != nil {
		return err
	}

	offerJSON, err := json.Marshal(offer)
	if err != nil {
		return err
	}

	return v.sig.Send(signaling.Message{Type: signaling.TypeOffer, Payload: offerJSON})
}

// HandleAnswer processes an incoming SDP answer.
func (v *Viewer) HandleAnswer(payload json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &answer); err != nil {
		return err
	}
	if err := v.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	return v.candidates.flush()
}

// HandleICECandidate adds a remote ICE candidate.
func (v *Viewer) HandleICECandidate(payload json.RawMessage) error {
	return v.candidates.add(payload)
}

// Close shuts down the peer connection.
func (v *Viewer) Close() {
	if v.pc != nil {
		v.pc.Close()
	}
}
