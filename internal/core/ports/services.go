package ports

import (
	"context"

	"facecast/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// SignalingClient is the typed client for the external REST signaling
// relay. It never retries on its own; retry policy belongs to the
// session service.
type SignalingClient interface {
	CreateSession(ctx context.Context, avatarSourceURL, codecPreference string) (*domain.StreamSession, error)
	SendAnswer(ctx context.Context, streamID domain.StreamID, sessionID domain.SessionID, answer webrtc.SessionDescription) error
	// SendICECandidate forwards a locally gathered candidate; a nil
	// candidate signals end-of-gathering and must be sent exactly once
	// per session.
	SendICECandidate(ctx context.Context, streamID domain.StreamID, sessionID domain.SessionID, candidate *domain.ICECandidate) error
	CloseSession(ctx context.Context, streamID domain.StreamID, sessionID domain.SessionID) error
}

// PeerHandle is one live peer connection bound to one StreamSession.
type PeerHandle interface {
	// Answer runs setRemoteDescription(offer) -> createAnswer ->
	// setLocalDescription and returns the local answer. Any failure is
	// fatal for the session.
	Answer(ctx context.Context) (webrtc.SessionDescription, error)
	// Close tears the connection down: stops track readers, detaches
	// callbacks before closing, closes the data channel and cancels the
	// stats poller. Safe to call more than once.
	Close() error
}

// PeerFactory creates peer connections for a session. Events produced
// by the connection are stamped with generation and handed to emit.
type PeerFactory interface {
	New(session *domain.StreamSession, generation uint64, emit func(domain.SessionEvent)) (PeerHandle, error)
}

// CloseNotifier delivers the best-effort "client left" beacon. It must
// never block shutdown.
type CloseNotifier interface {
	Notify(ctx context.Context, streamID domain.StreamID, sessionID domain.SessionID)
}

// StateNotifier receives every change of the session snapshot.
type StateNotifier interface {
	Publish(snapshot domain.SessionSnapshot)
}

// SessionService is the public lifecycle facade.
type SessionService interface {
	Initiate(ctx context.Context) error
	Restart(ctx context.Context) error
	Teardown()
	Snapshot() domain.SessionSnapshot
	IsConnected() bool
	IsStreaming() bool
	NotifyClose(ctx context.Context)
}

// CloseLimiter decides whether a close-notification from addr is within
// its sliding window. Implementations must fail open: an infrastructure
// error reports not-limited.
type CloseLimiter interface {
	Allow(ctx context.Context, addr string) (bool, error)
}
