package peer

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/junsooki/photon/internal/logging"
	"github.com/junsooki/photon/internal/signaling"
	"github.com/junsooki/photon/internal/transport"
)

// Host manages the engine side of the WebRTC connection. It answers the
// viewer's offer and picks up the events channel the viewer created.
type Host struct {
	pc         *webrtc.PeerConnection
	sig        Signaler
	transport  *transport.DataChannelTransport
	candidates *candidates
}

// NewHost creates a Host peer manager.
func NewHost(sig Signaler, iceServers []webrtc.ICEServer) (*Host, error) {
	pc, err := NewPeerConnection(iceServers, nil)
	if err != nil {
		return nil, err
	}

	h := &Host{
		pc:         pc,
		sig:        sig,
		transport:  transport.NewDataChannelTransport(nil),
		candidates: newCandidates(pc, sig),
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		logging.Logger().Debug("data channel received", "label", dc.Label())
		if dc.Label() == transport.EventsLabel {
			h.transport.SetEventsChannel(dc)
		}
	})

	return h, nil
}

// Transport returns the DataChannelTransport for sending events.
func (h *Host) Transport() *transport.DataChannelTransport {
	return h.transport
}

// HandleOffer processes an incoming offer from a viewer.
func (h *Host) HandleOffer(payload json.RawMessage) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &offer); err != nil {
		return err
	}

	if err := h.pc.SetRemoteDescription(offer); err != nil {
		return err
	}
	if err := h.candidates.flush(); err != nil {
		return err
	}

	answer, err := h.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}

	if err := h.pc.SetLocalDescription(answer); err != nil {
		return err
	}

	answerJSON, err := json.Marshal(answer)
	if err != nil {
		return err
	}

	return h.sig.Send(signaling.Message{Type: signaling.TypeAnswer, Payload: answerJSON})
}

// HandleICECandidate adds a remote ICE candidate.
func (h *Host) HandleICECandidate(payload json.RawMessage) error {
	return h.candidates.add(payload)
}

// Close shuts down the peer connection.
func (h *Host) Close() {
	if h.pc != nil {
		h.pc.Close()
	}
}
