package webrtc

import (
	"sync"
	"sync/atomic"
	"time"

	"facecast/internal/core/domain"

	"go.uber.org/zap"
)

// HealthMonitor infers whether video is actually flowing, as opposed to
// the transport merely being connected. RTP readers feed a byte counter
// and a fixed-interval sampler compares successive readings: a positive
// delta means the track is live. A sample event is emitted only when the
// boolean flips, so the consumer is not churned every tick.
//
// The monitor holds a reference to nothing but its own counter; it must
// still be stopped with the owning peer connection or its ticker leaks.
type HealthMonitor struct {
	interval time.Duration

	bytesReceived atomic.Uint64
	lastBytes     uint64
	lastPlaying   bool

	mu      sync.Mutex
	stop    chan struct{}
	stopped bool

	logger *zap.SugaredLogger
}

func NewHealthMonitor(interval time.Duration, logger *zap.SugaredLogger) *HealthMonitor {
	return &HealthMonitor{
		interval: interval,
		stop:     make(chan struct{}),
		logger:   logger,
	}
}

// AddBytes is called from RTP reader goroutines.
func (m *HealthMonitor) AddBytes(n int) {
	m.bytesReceived.Add(uint64(n))
}

// BytesReceived returns the running inbound byte total.
func (m *HealthMonitor) BytesReceived() uint64 {
	return m.bytesReceived.Load()
}

// Start begins sampling and emits a SessionEvent on every playing/idle
// flip. It returns immediately; sampling runs until Stop.
func (m *HealthMonitor) Start(generation uint64, emit func(domain.SessionEvent)) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				if playing, changed := m.sample(); changed {
					emit(domain.SessionEvent{
						Kind:       domain.EventStatsSample,
						Generation: generation,
						Playing:    playing,
						Taken:      time.Now(),
					})
				}
			}
		}
	}()
}

// sample compares the counter against the previous reading and reports
// whether the playing boolean changed.
func (m *HealthMonitor) sample() (playing, changed bool) {
	cur := m.bytesReceived.Load()
	playing = cur > m.lastBytes
	changed = playing != m.lastPlaying
	m.lastBytes = cur
	m.lastPlaying = playing
	return playing, changed
}

// Stop cancels the sampler. Safe to call more than once.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	close(m.stop)
	m.logger.Debugw("health monitor stopped", "bytes_received", m.bytesReceived.Load())
}
