package webrtc

import (
	"sync"
	"testing"
	"time"

	"facecast/internal/core/domain"
	"facecast/pkg/logger"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	frames int
}

func (r *recordingSink) WriteFrame([]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames++
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// A consumer attached through the factory must survive a session's
// teardown: reconnection creates a successor peer against the same
// sink.
func TestPeerClose_KeepsSinkAttachedForSuccessor(t *testing.T) {
	f := NewFactory(time.Second, time.Second, nil, nil, logger.NewNop().Sugar())
	rec := &recordingSink{}
	f.Sink().Swap(rec)

	session := &domain.StreamSession{StreamID: "strm_1", SessionID: "sess_1"}
	handle, err := f.New(session, 1, func(domain.SessionEvent) {})
	require.NoError(t, err)

	peer := handle.(*Peer)
	peer.forward(&rtp.Packet{Payload: []byte{1, 2, 3}})
	require.Equal(t, 1, rec.count())

	require.NoError(t, peer.Close())

	// A straggling reader write after close is dropped.
	peer.forward(&rtp.Packet{Payload: []byte{4}})
	assert.Equal(t, 1, rec.count())

	// The consumer is still wired for the next session's peer.
	successor, err := f.New(session, 2, func(domain.SessionEvent) {})
	require.NoError(t, err)
	defer successor.Close()

	successor.(*Peer).forward(&rtp.Packet{Payload: []byte{5, 6}})
	assert.Equal(t, 2, rec.count())
}

func TestPeerClose_Idempotent(t *testing.T) {
	f := NewFactory(time.Second, time.Second, nil, nil, logger.NewNop().Sugar())

	session := &domain.StreamSession{StreamID: "strm_1", SessionID: "sess_1"}
	handle, err := f.New(session, 1, func(domain.SessionEvent) {})
	require.NoError(t, err)

	require.NoError(t, handle.Close())
	require.NoError(t, handle.Close())
}
