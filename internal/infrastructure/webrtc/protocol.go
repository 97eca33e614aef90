package webrtc

import "strings"

// ProtocolEvent is one application-level event carried over the data
// channel. The wire format is "<event>:<payload>", colon-delimited,
// payload optional. The protocol is controlled by the remote vendor and
// may grow events, so parsing never fails; anything unrecognized maps
// to ProtocolUnknown.
type ProtocolEvent int

const (
	ProtocolUnknown ProtocolEvent = iota
	// ProtocolStreamReady: remote side is primed to accept video frames.
	ProtocolStreamReady
	// ProtocolStreamStarted: avatar began speaking/rendering.
	ProtocolStreamStarted
	// ProtocolStreamDone: avatar finished the current utterance.
	ProtocolStreamDone
	// ProtocolStreamError: remote-side rendering error.
	ProtocolStreamError
)

func (e ProtocolEvent) String() string {
	switch e {
	case ProtocolStreamReady:
		return "stream/ready"
	case ProtocolStreamStarted:
		return "stream/started"
	case ProtocolStreamDone:
		return "stream/done"
	case ProtocolStreamError:
		return "stream/error"
	default:
		return "unknown"
	}
}

// ParseProtocolMessage splits a raw data channel message into its event
// and payload. Only the first colon delimits; payloads may themselves
// contain colons.
func ParseProtocolMessage(raw string) (ProtocolEvent, string) {
	name := raw
	payload := ""
	if i := strings.IndexByte(raw, ':'); i >= 0 {
		name = raw[:i]
		payload = raw[i+1:]
	}

	switch name {
	case "stream/ready":
		return ProtocolStreamReady, payload
	case "stream/started":
		return ProtocolStreamStarted, payload
	case "stream/done":
		return ProtocolStreamDone, payload
	case "stream/error":
		return ProtocolStreamError, payload
	default:
		return ProtocolUnknown, payload
	}
}
