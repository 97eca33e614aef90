package domain

import (
	"time"

	"github.com/pion/webrtc/v3"
)

// EventKind enumerates the closed set of internal messages the peer
// layer translates transport callbacks into. The session service
// consumes them in a single reducer, so the lifecycle state machine is
// testable without a real peer connection.
type EventKind int

const (
	EventICECandidate EventKind = iota
	EventTransportStateChanged
	EventConnectionStateChanged
	EventTrackAdded
	EventTrackEnded
	EventDataChannelOpen
	EventDataChannelMessage
	EventStatsSample
	EventReadyFallback
	EventRetryFire
)

func (k EventKind) String() string {
	switch k {
	case EventICECandidate:
		return "ice_candidate"
	case EventTransportStateChanged:
		return "transport_state_changed"
	case EventConnectionStateChanged:
		return "connection_state_changed"
	case EventTrackAdded:
		return "track_added"
	case EventTrackEnded:
		return "track_ended"
	case EventDataChannelOpen:
		return "data_channel_open"
	case EventDataChannelMessage:
		return "data_channel_message"
	case EventStatsSample:
		return "stats_sample"
	case EventReadyFallback:
		return "ready_fallback"
	case EventRetryFire:
		return "retry_fire"
	default:
		return "unknown"
	}
}

// SessionEvent is stamped with the generation of the session that
// produced it. The reducer drops events whose generation is stale,
// which is the guard against callbacks from a superseded session
// mutating fresh state.
type SessionEvent struct {
	Kind       EventKind
	Generation uint64

	// EventICECandidate; nil means local gathering completed.
	Candidate *ICECandidate

	// EventTransportStateChanged
	ICEState webrtc.ICEConnectionState

	// EventConnectionStateChanged
	ConnState webrtc.PeerConnectionState

	// EventTrackAdded / EventTrackEnded
	TrackKind string

	// EventDataChannelMessage
	Message string

	// EventStatsSample
	Playing bool
	Taken   time.Time
}
