package webrtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"facecast/internal/core/domain"
	"facecast/internal/core/ports"
	"facecast/internal/infrastructure/monitoring"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// dataChannelLabel must match the label the relay bridges on the remote
// side; changing it silently breaks the event protocol.
const dataChannelLabel = "avatar-events"

// Factory builds one peer connection per StreamSession.
type Factory struct {
	statsInterval time.Duration
	keyframeEvery time.Duration
	sink          *SwappableSink
	metrics       *monitoring.PrometheusCollector
	logger        *zap.SugaredLogger
}

func NewFactory(statsInterval, keyframeEvery time.Duration, sink FrameSink, metrics *monitoring.PrometheusCollector, logger *zap.SugaredLogger) *Factory {
	return &Factory{
		statsInterval: statsInterval,
		keyframeEvery: keyframeEvery,
		sink:          NewSwappableSink(sink),
		metrics:       metrics,
		logger:        logger,
	}
}

// Sink returns the swappable frame sink shared by all sessions the
// factory creates. Exactly one session is live at a time, so the sink
// never sees interleaved tracks.
func (f *Factory) Sink() *SwappableSink {
	return f.sink
}

// New wires a peer connection for the session and translates every
// transport callback into a SessionEvent stamped with generation. The
// caller owns the returned handle and must Close it before creating a
// successor.
func (f *Factory) New(session *domain.StreamSession, generation uint64, emit func(domain.SessionEvent)) (ports.PeerHandle, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
	)

	var servers []webrtc.ICEServer
	for _, s := range session.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{
		pc:            pc,
		offer:         session.Offer,
		health:        NewHealthMonitor(f.statsInterval, f.logger),
		sink:          f.sink,
		metrics:       f.metrics,
		keyframeEvery: f.keyframeEvery,
		generation:    generation,
		emit:          emit,
		closed:        make(chan struct{}),
		logger: f.logger.With(
			"stream_id", session.StreamID,
			"generation", generation,
		),
	}

	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	p.dc = dc
	p.bindDataChannel(dc)

	p.bindTransport()

	return p, nil
}

// Peer owns one RTCPeerConnection plus one data channel. Ownership is
// exclusive: the session service closes the previous Peer before the
// factory creates the next one, so a stale connection can never keep
// consuming bandwidth or fire callbacks into new state.
type Peer struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	offer         domain.SDP
	health        *HealthMonitor
	sink          *SwappableSink
	metrics       *monitoring.PrometheusCollector
	keyframeEvery time.Duration

	generation uint64
	emit       func(domain.SessionEvent)

	healthOnce sync.Once
	closeOnce  sync.Once
	closed     chan struct{}
	muted      atomic.Bool

	logger *zap.SugaredLogger
}

func (p *Peer) bindTransport() {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		ev := domain.SessionEvent{Kind: domain.EventICECandidate, Generation: p.generation}
		if c != nil {
			init := c.ToJSON()
			ev.Candidate = &domain.ICECandidate{
				Candidate:     init.Candidate,
				SDPMid:        init.SDPMid,
				SDPMLineIndex: init.SDPMLineIndex,
			}
		}
		p.emit(ev)
	})

	p.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		p.logger.Debugw("ice connection state", "state", state.String())
		p.emit(domain.SessionEvent{
			Kind:       domain.EventTransportStateChanged,
			Generation: p.generation,
			ICEState:   state,
		})
	})

	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Debugw("peer connection state", "state", state.String())
		p.emit(domain.SessionEvent{
			Kind:       domain.EventConnectionStateChanged,
			Generation: p.generation,
			ConnState:  state,
		})
	})

	p.pc.OnICEGatheringStateChange(func(state webrtc.ICEGathererState) {
		p.logger.Debugw("ice gathering state", "state", state.String())
	})

	p.pc.OnSignalingStateChange(func(state webrtc.SignalingState) {
		p.logger.Debugw("signaling state", "state", state.String())
	})

	// The remote side may announce its own channel instead of adopting
	// ours; both carry the same protocol.
	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.logger.Debugw("remote data channel announced", "label", dc.Label())
		p.bindDataChannel(dc)
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := track.Kind().String()
		p.logger.Infow("track added", "kind", kind, "codec", track.Codec().MimeType)
		p.emit(domain.SessionEvent{
			Kind:       domain.EventTrackAdded,
			Generation: p.generation,
			TrackKind:  kind,
		})

		if track.Kind() == webrtc.RTPCodecTypeVideo {
			p.healthOnce.Do(func() {
				p.health.Start(p.generation, p.emit)
			})
			go p.requestKeyframes(track)
			go p.readVideoTrack(track)
		} else {
			go p.drainTrack(track)
		}
	})
}

func (p *Peer) bindDataChannel(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		p.logger.Infow("data channel open", "label", dc.Label())
		p.emit(domain.SessionEvent{
			Kind:       domain.EventDataChannelOpen,
			Generation: p.generation,
		})
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		p.emit(domain.SessionEvent{
			Kind:       domain.EventDataChannelMessage,
			Generation: p.generation,
			Message:    string(msg.Data),
		})
	})

	dc.OnClose(func() {
		p.logger.Debugw("data channel closed", "label", dc.Label())
	})
}

// Answer consumes the session offer exactly once: remote description
// first, then answer creation, then local description. Any rejection is
// fatal for the session and routed to reconnection by the caller.
func (p *Peer) Answer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}

	offer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  p.offer.SDP,
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: set remote description: %v", domain.ErrNegotiationFailed, err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: create answer: %v", domain.ErrNegotiationFailed, err)
	}

	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: set local description: %v", domain.ErrNegotiationFailed, err)
	}

	return answer, nil
}

// Health exposes the monitor for byte accounting by embedders.
func (p *Peer) Health() *HealthMonitor {
	return p.health
}

func (p *Peer) readVideoTrack(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			p.logger.Debugw("video track ended", "error", err)
			p.emit(domain.SessionEvent{
				Kind:       domain.EventTrackEnded,
				Generation: p.generation,
				TrackKind:  "video",
			})
			return
		}
		p.forward(pkt)
	}
}

func (p *Peer) forward(pkt *rtp.Packet) {
	if p.muted.Load() {
		return
	}
	p.health.AddBytes(len(pkt.Payload))
	if p.metrics != nil {
		p.metrics.AddBytesReceived(uint64(len(pkt.Payload)))
	}
	if err := p.sink.WriteFrame(pkt.Payload); err != nil {
		p.logger.Warnw("frame sink write failed", "error", err)
	}
}

func (p *Peer) drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			p.emit(domain.SessionEvent{
				Kind:       domain.EventTrackEnded,
				Generation: p.generation,
				TrackKind:  track.Kind().String(),
			})
			return
		}
	}
}

// requestKeyframes asks the sender for a fresh keyframe at an interval
// so a viewer joining mid-stream does not wait on the encoder's own GOP
// boundary.
func (p *Peer) requestKeyframes(track *webrtc.TrackRemote) {
	ticker := time.NewTicker(p.keyframeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-p.closed:
			return
		case <-ticker.C:
			err := p.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
			})
			if err != nil {
				p.logger.Debugw("pli write failed", "error", err)
				return
			}
		}
	}
}

// Close tears the connection down in a fixed order; every step runs
// even if an earlier one fails. Safe to call more than once.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		// 1. Stop delivering frames. The sink itself stays attached:
		// it is shared through the factory and must survive into the
		// next session's peer.
		p.muted.Store(true)

		// 2. Detach callbacks before closing so a late transport event
		// cannot fire into freshly reset state.
		p.pc.OnICECandidate(func(*webrtc.ICECandidate) {})
		p.pc.OnICEConnectionStateChange(func(webrtc.ICEConnectionState) {})
		p.pc.OnConnectionStateChange(func(webrtc.PeerConnectionState) {})
		p.pc.OnICEGatheringStateChange(func(webrtc.ICEGathererState) {})
		p.pc.OnSignalingStateChange(func(webrtc.SignalingState) {})
		p.pc.OnDataChannel(func(*webrtc.DataChannel) {})
		p.pc.OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {})

		close(p.closed)

		// 3. Data channel.
		if p.dc != nil {
			if err := p.dc.Close(); err != nil {
				p.logger.Debugw("data channel close failed", "error", err)
			}
		}

		// 4. Stats sampler.
		p.health.Stop()

		// Closing the connection also errors out the track readers.
		if err := p.pc.Close(); err != nil {
			p.logger.Warnw("peer connection close failed", "error", err)
		}
	})
	return nil
}
