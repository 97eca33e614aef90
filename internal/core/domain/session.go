package domain

import (
	"time"
)

type StreamID string
type SessionID string

// ICEServer is a STUN/TURN descriptor as issued by the signaling relay.
// It is passed verbatim into peer connection construction.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// SDP is the remote session description issued by the relay. The offer
// is consumed exactly once to create the local answer.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate mirrors the browser ICECandidateInit shape used on the
// relay wire. A nil *ICECandidate on the wire signals end-of-gathering.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// StreamSession identifies one negotiated video stream. A session is
// created on each initiate/restart and discarded wholesale on
// reconnection; it is never mutated in place.
type StreamSession struct {
	StreamID   StreamID
	SessionID  SessionID
	Offer      SDP
	ICEServers []ICEServer
	CreatedAt  time.Time
}

type PlaybackState string

const (
	PlaybackIdle      PlaybackState = "idle"
	PlaybackStreaming PlaybackState = "streaming"
)

// SessionSnapshot is the read-only view of the current session exposed
// to UI consumers. Connected is the conjunction of the two readiness
// flags; neither flag alone means media is flowing.
type SessionSnapshot struct {
	StreamID         StreamID      `json:"stream_id,omitempty"`
	SessionID        SessionID     `json:"session_id,omitempty"`
	TransportReady   bool          `json:"transport_ready"`
	DataChannelReady bool          `json:"data_channel_ready"`
	Connected        bool          `json:"connected"`
	Playback         PlaybackState `json:"playback"`
	Attempt          int           `json:"attempt"`
	Terminal         bool          `json:"terminal"`
	LastError        string        `json:"last_error,omitempty"`
}
