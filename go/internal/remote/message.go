package remote

import (
	"encoding/json"
	"fmt"
)

// Message is the envelope carried over the paired connection.
type Message struct {
	Type  string          `json:"type"`
	State json.RawMessage `json:"state,omitempty"`
}

// Application event types
const (
	TypePing        = "ping"
	TypeRemotePhone = "remotephone"
	TypeKeyboard    = "keyboard"
	TypeGamepad     = "gamepad"
)

// Transport control types. These are consumed by the transport layer and are
// never handed to the event router.
const (
	TypePeerConnect    = "peer.connect"
	TypePeerDisconnect = "peer.disconnect"
	TypeRTCSignal      = "rtc.signal"
)

// IsControl reports whether the message type is reserved for the transport.
func IsControl(msgType string) bool {
	switch msgType {
	case TypePeerConnect, TypePeerDisconnect, TypeRTCSignal:
		return true
	}
	return false
}

// PeerConnectPayload is sent by the rendezvous service once both peers joined.
type PeerConnectPayload struct {
	Initiator bool `json:"initiator"`
}

// SignalPayload carries a session description for the WebRTC upgrade.
type SignalPayload struct {
	SDPType string `json:"sdp_type"`
	SDP     string `json:"sdp"`
}

// NewMessage builds an envelope with the payload marshalled as its state.
func NewMessage(msgType string, payload interface{}) (Message, error) {
	if payload == nil {
		return Message{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, State: data}, nil
}

// StateMessage wraps a phone state in a remotephone envelope.
func StateMessage(s State) Message {
	// State only holds plain values; Marshal cannot fail.
	data, _ := json.Marshal(s)
	return Message{Type: TypeRemotePhone, State: data}
}

// ParseState decodes a remotephone payload. Fields absent from the payload
// keep their defaults.
func ParseState(raw json.RawMessage) (State, error) {
	s := DefaultState()
	if len(raw) == 0 {
		return s, fmt.Errorf("empty state payload")
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return DefaultState(), fmt.Errorf("unmarshal remote state: %w", err)
	}
	return s, nil
}
