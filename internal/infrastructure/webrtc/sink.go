package webrtc

import "sync"

// FrameSink receives the raw RTP payload bytes of the inbound video
// track. Embedders attach a player or recorder; the default sink simply
// discards frames after they have been counted for health sampling.
type FrameSink interface {
	WriteFrame(payload []byte) error
}

// DiscardSink drops frames. Used when no consumer is attached.
type DiscardSink struct{}

func (DiscardSink) WriteFrame([]byte) error { return nil }

// SwappableSink lets the consumer be replaced while a track is live.
// It is shared across every session a factory creates; a closing peer
// stops writing into it rather than resetting it, so embedders attach
// once and Detach only when they release the consumer for good.
type SwappableSink struct {
	mu   sync.RWMutex
	sink FrameSink
}

func NewSwappableSink(sink FrameSink) *SwappableSink {
	if sink == nil {
		sink = DiscardSink{}
	}
	return &SwappableSink{sink: sink}
}

func (s *SwappableSink) WriteFrame(payload []byte) error {
	s.mu.RLock()
	sink := s.sink
	s.mu.RUnlock()
	return sink.WriteFrame(payload)
}

// Swap installs a new consumer. The attachment persists across
// sessions: a reconnect does not reset it, only Detach does.
func (s *SwappableSink) Swap(sink FrameSink) {
	if sink == nil {
		sink = DiscardSink{}
	}
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// Detach resets to the discarding sink.
func (s *SwappableSink) Detach() {
	s.Swap(DiscardSink{})
}
