package services

import (
	"context"
	"sync"
	"time"

	"facecast/internal/core/domain"
	"facecast/internal/core/ports"
	"facecast/internal/infrastructure/monitoring"
	webrtcinfra "facecast/internal/infrastructure/webrtc"
	"facecast/pkg/backoff"
	"facecast/pkg/tracing"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// SessionConfig carries the lifecycle tuning. Timings are configurable
// so tests can run the real code paths without real waits.
type SessionConfig struct {
	AvatarSourceURL string
	CodecPreference string

	MaxAttempts   int
	Backoff       backoff.Policy
	ReadyFallback time.Duration
	RelayTimeout  time.Duration
}

type cmdKind int

const (
	cmdInitiate cmdKind = iota
	cmdRestart
	cmdTeardown
)

type command struct {
	kind  cmdKind
	ctx   context.Context
	reply chan error
}

type activeSession struct {
	session   *domain.StreamSession
	peer      ports.PeerHandle
	openedAt  time.Time
	connected bool
}

// SessionService is the lifecycle facade and reconnection controller.
// It is the single source of truth for the current StreamSession: all
// transport callbacks are funneled as SessionEvents into one reducer
// goroutine, and every event is checked against the current session
// generation before it may touch state. Public methods are serialized
// through the same loop, so two in-flight reconnection attempts can
// never race.
type SessionService struct {
	cfg      SessionConfig
	relay    ports.SignalingClient
	peers    ports.PeerFactory
	notifier ports.StateNotifier
	beacon   ports.CloseNotifier
	metrics  *monitoring.PrometheusCollector
	logger   *zap.SugaredLogger

	events chan domain.SessionEvent
	cmds   chan command

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	snap domain.SessionSnapshot

	// Reducer-owned state. Touched only from the run loop.
	generation   uint64
	current      *activeSession
	attempts     int
	terminal     bool
	gatherDone   bool
	lastProtocol time.Time
	retryTimer   *time.Timer
	readyTimer   *time.Timer
}

func NewSessionService(
	cfg SessionConfig,
	relay ports.SignalingClient,
	peers ports.PeerFactory,
	notifier ports.StateNotifier,
	beacon ports.CloseNotifier,
	metrics *monitoring.PrometheusCollector,
	logger *zap.SugaredLogger,
) *SessionService {
	return &SessionService{
		cfg:      cfg,
		relay:    relay,
		peers:    peers,
		notifier: notifier,
		beacon:   beacon,
		metrics:  metrics,
		logger:   logger,
		events:   make(chan domain.SessionEvent, 128),
		cmds:     make(chan command),
		snap:     domain.SessionSnapshot{Playback: domain.PlaybackIdle},
	}
}

// Start launches the reducer. Must be called before any other method.
func (s *SessionService) Start(ctx context.Context) {
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
}

// Close tears down the active session and stops the reducer.
func (s *SessionService) Close() {
	s.Teardown()
	s.cancel()
	s.wg.Wait()
}

// Initiate creates a fresh session against the relay and starts
// negotiation. A relay failure is returned to the caller and not
// retried here; ICE-level failures after a session exists are handled
// by the reconnection path instead.
func (s *SessionService) Initiate(ctx context.Context) error {
	return s.dispatch(ctx, cmdInitiate)
}

// Restart is the explicit, user-initiated stop-and-restart. It bypasses
// backoff, does not consume the reconnection budget, closes the old
// session at the relay and immediately initiates a new one.
func (s *SessionService) Restart(ctx context.Context) error {
	return s.dispatch(ctx, cmdRestart)
}

// Teardown releases the current session. Idempotent; both the unmount
// path and the reconnection controller may invoke it.
func (s *SessionService) Teardown() {
	_ = s.dispatch(context.Background(), cmdTeardown)
}

func (s *SessionService) Snapshot() domain.SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *SessionService) IsConnected() bool {
	return s.Snapshot().Connected
}

func (s *SessionService) IsStreaming() bool {
	return s.Snapshot().Playback == domain.PlaybackStreaming
}

// NotifyClose fires the best-effort close beacon for the current
// session. Safe to call from any goroutine, including shutdown paths
// racing the reducer.
func (s *SessionService) NotifyClose(ctx context.Context) {
	if s.beacon == nil {
		return
	}
	snap := s.Snapshot()
	if snap.StreamID == "" {
		return
	}
	s.beacon.Notify(ctx, snap.StreamID, snap.SessionID)
}

func (s *SessionService) dispatch(ctx context.Context, kind cmdKind) error {
	cmd := command{kind: kind, ctx: ctx, reply: make(chan error, 1)}
	select {
	case s.cmds <- cmd:
	case <-s.runCtx.Done():
		return domain.ErrServiceClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-s.runCtx.Done():
		return domain.ErrServiceClosed
	}
}

func (s *SessionService) emitEvent(ev domain.SessionEvent) {
	select {
	case s.events <- ev:
	case <-s.runCtx.Done():
	}
}

func (s *SessionService) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.runCtx.Done():
			return
		case cmd := <-s.cmds:
			s.handleCommand(cmd)
		case ev := <-s.events:
			s.handleEvent(ev)
		}
	}
}

func (s *SessionService) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdInitiate:
		s.terminal = false
		if s.current != nil {
			s.teardown()
		}
		cmd.reply <- s.initiate(cmd.ctx)

	case cmdRestart:
		s.terminal = false
		var streamID domain.StreamID
		var sessionID domain.SessionID
		if s.current != nil {
			streamID = s.current.session.StreamID
			sessionID = s.current.session.SessionID
		}
		s.teardown()
		if streamID != "" {
			ctx, cancel := context.WithTimeout(cmd.ctx, s.cfg.RelayTimeout)
			_ = s.relay.CloseSession(ctx, streamID, sessionID)
			cancel()
		}
		cmd.reply <- s.initiate(cmd.ctx)

	case cmdTeardown:
		s.teardown()
		cmd.reply <- nil
	}
}

// initiate allocates a new StreamSession and drives negotiation. The
// old session, if any, must already be gone.
func (s *SessionService) initiate(ctx context.Context) error {
	ctx, span := tracing.TraceSessionOp(ctx, "initiate", s.attempts)
	defer span.End()

	session, err := s.relay.CreateSession(ctx, s.cfg.AvatarSourceURL, s.cfg.CodecPreference)
	if err != nil {
		s.logger.Errorw("session creation failed", "error", err)
		tracing.RecordError(ctx, err)
		s.updateSnapshot(func(sn *domain.SessionSnapshot) {
			sn.LastError = err.Error()
		})
		return err
	}

	gen := s.generation
	peer, err := s.peers.New(session, gen, s.emitEvent)
	if err != nil {
		s.logger.Errorw("peer construction failed", "stream_id", session.StreamID, "error", err)
		s.scheduleReconnect()
		return nil
	}

	s.current = &activeSession{session: session, peer: peer, openedAt: time.Now()}
	s.gatherDone = false
	s.metrics.SessionStarted()
	s.updateSnapshot(func(sn *domain.SessionSnapshot) {
		sn.StreamID = session.StreamID
		sn.SessionID = session.SessionID
		sn.LastError = ""
		sn.Terminal = false
	})
	s.logger.Infow("session initiated",
		"stream_id", session.StreamID,
		"generation", gen,
	)

	answer, err := peer.Answer(ctx)
	if err != nil {
		// A rejected negotiation is fatal for this session, not a
		// silent no-op: tear down and route through reconnection.
		s.logger.Errorw("negotiation failed", "stream_id", session.StreamID, "error", err)
		s.teardown()
		s.scheduleReconnect()
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.RelayTimeout)
	defer cancel()
	if err := s.relay.SendAnswer(sendCtx, session.StreamID, session.SessionID, answer); err != nil {
		// Best-effort: a lost answer stalls the session, which the
		// failure path will eventually collect.
		s.logger.Warnw("answer delivery failed", "stream_id", session.StreamID, "error", err)
	}

	return nil
}

func (s *SessionService) handleEvent(ev domain.SessionEvent) {
	if ev.Generation != s.generation {
		s.logger.Debugw("dropping stale event",
			"kind", ev.Kind.String(),
			"event_generation", ev.Generation,
			"current_generation", s.generation,
		)
		return
	}

	switch ev.Kind {
	case domain.EventICECandidate:
		s.handleICECandidate(ev.Candidate)
	case domain.EventTransportStateChanged:
		s.handleTransportState(ev)
	case domain.EventConnectionStateChanged:
		s.handleConnectionState(ev)
	case domain.EventTrackAdded:
		s.logger.Infow("remote track attached", "kind", ev.TrackKind)
	case domain.EventTrackEnded:
		s.logger.Debugw("remote track ended", "kind", ev.TrackKind)
	case domain.EventDataChannelOpen:
		s.logger.Infow("data channel ready for protocol events")
	case domain.EventDataChannelMessage:
		s.handleProtocolMessage(ev.Message)
	case domain.EventStatsSample:
		s.handleStatsSample(ev)
	case domain.EventReadyFallback:
		s.handleReadyFallback()
	case domain.EventRetryFire:
		s.handleRetryFire()
	}
}

func (s *SessionService) handleICECandidate(candidate *domain.ICECandidate) {
	if s.current == nil {
		return
	}
	session := s.current.session
	ctx, cancel := context.WithTimeout(s.runCtx, s.cfg.RelayTimeout)
	defer cancel()

	if candidate == nil {
		if s.gatherDone {
			return
		}
		s.gatherDone = true
		if err := s.relay.SendICECandidate(ctx, session.StreamID, session.SessionID, nil); err != nil {
			s.logger.Warnw("end-of-gathering notification failed", "error", err)
		}
		return
	}

	if err := s.relay.SendICECandidate(ctx, session.StreamID, session.SessionID, candidate); err != nil {
		s.logger.Warnw("ice candidate delivery failed", "error", err)
	}
}

func (s *SessionService) handleTransportState(ev domain.SessionEvent) {
	switch ev.ICEState {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		// A transport that made it back up earns a fresh retry budget.
		s.attempts = 0
		if s.current != nil {
			s.current.connected = true
		}
		s.updateSnapshot(func(sn *domain.SessionSnapshot) {
			sn.TransportReady = true
			sn.Attempt = 0
		})
		s.armReadyFallback()
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateDisconnected:
		s.logger.Warnw("transport lost", "ice_state", ev.ICEState.String())
		s.handleTransportFailure()
	default:
		s.logger.Debugw("transport state", "ice_state", ev.ICEState.String())
	}
}

func (s *SessionService) handleConnectionState(ev domain.SessionEvent) {
	if ev.ConnState == webrtc.PeerConnectionStateConnected {
		s.armReadyFallback()
	}
}

// armReadyFallback starts the one-shot timer that forces readiness if
// the protocol layer stays silent. Trades a small risk of premature
// "ready" against a stuck spinner; a heuristic, not a protocol
// guarantee.
func (s *SessionService) armReadyFallback() {
	if s.readyTimer != nil || s.Snapshot().DataChannelReady {
		return
	}
	gen := s.generation
	s.readyTimer = time.AfterFunc(s.cfg.ReadyFallback, func() {
		s.emitEvent(domain.SessionEvent{Kind: domain.EventReadyFallback, Generation: gen})
	})
}

func (s *SessionService) handleProtocolMessage(raw string) {
	event, payload := webrtcinfra.ParseProtocolMessage(raw)
	switch event {
	case webrtcinfra.ProtocolStreamReady:
		if s.readyTimer != nil {
			s.readyTimer.Stop()
			s.readyTimer = nil
		}
		s.updateSnapshot(func(sn *domain.SessionSnapshot) {
			sn.DataChannelReady = true
		})
	case webrtcinfra.ProtocolStreamStarted:
		s.lastProtocol = time.Now()
		s.updateSnapshot(func(sn *domain.SessionSnapshot) {
			sn.Playback = domain.PlaybackStreaming
		})
	case webrtcinfra.ProtocolStreamDone:
		s.lastProtocol = time.Now()
		s.updateSnapshot(func(sn *domain.SessionSnapshot) {
			sn.Playback = domain.PlaybackIdle
		})
	case webrtcinfra.ProtocolStreamError:
		// Remote rendering failed; the transport may still be healthy,
		// so this surfaces without touching connection state.
		s.logger.Errorw("remote rendering error", "detail", payload)
		s.updateSnapshot(func(sn *domain.SessionSnapshot) {
			sn.LastError = payload
		})
	default:
		s.logger.Warnw("unrecognized protocol event", "message", raw)
	}
}

func (s *SessionService) handleStatsSample(ev domain.SessionEvent) {
	// Protocol events are authoritative at the moment they arrive; a
	// sample taken before the latest one is a loser and is discarded.
	if !s.lastProtocol.IsZero() && !ev.Taken.After(s.lastProtocol) {
		return
	}
	state := domain.PlaybackIdle
	if ev.Playing {
		state = domain.PlaybackStreaming
	}
	s.updateSnapshot(func(sn *domain.SessionSnapshot) {
		sn.Playback = state
	})
}

func (s *SessionService) handleReadyFallback() {
	s.readyTimer = nil
	if s.Snapshot().DataChannelReady {
		return
	}
	s.logger.Warnw("forcing stream readiness after fallback window")
	s.updateSnapshot(func(sn *domain.SessionSnapshot) {
		sn.DataChannelReady = true
	})
}

// handleTransportFailure is the reconnection controller: bounded,
// backed-off retries, terminal once the budget is spent.
func (s *SessionService) handleTransportFailure() {
	if s.current == nil {
		return
	}
	s.teardown()
	s.scheduleReconnect()
}

func (s *SessionService) scheduleReconnect() {
	if s.terminal {
		return
	}
	if s.attempts >= s.cfg.MaxAttempts {
		s.terminal = true
		s.metrics.TerminalFailure()
		s.logger.Errorw("reconnection attempts exhausted",
			"attempts", s.attempts,
			"max_attempts", s.cfg.MaxAttempts,
		)
		s.updateSnapshot(func(sn *domain.SessionSnapshot) {
			sn.Terminal = true
			sn.LastError = domain.ErrReconnectExhausted.Error()
		})
		return
	}

	s.attempts++
	s.metrics.ReconnectAttempt()
	delay := s.cfg.Backoff.Delay(s.attempts)
	s.updateSnapshot(func(sn *domain.SessionSnapshot) {
		sn.Attempt = s.attempts
	})
	s.logger.Infow("scheduling reconnect",
		"attempt", s.attempts,
		"delay", delay,
	)

	gen := s.generation
	s.retryTimer = time.AfterFunc(delay, func() {
		s.emitEvent(domain.SessionEvent{Kind: domain.EventRetryFire, Generation: gen})
	})
}

func (s *SessionService) handleRetryFire() {
	s.retryTimer = nil
	if s.terminal || s.current != nil {
		return
	}
	if err := s.initiate(s.runCtx); err != nil {
		// The relay refused a fresh session; that consumes the attempt
		// and the next one backs off further.
		s.scheduleReconnect()
	}
}

// teardown runs the full cleanup ladder unconditionally and in order;
// a failing step is logged and the rest still runs. Incrementing the
// generation first guarantees that any callback still in flight from
// the dying session is dropped by the reducer.
func (s *SessionService) teardown() {
	s.generation++

	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	if s.readyTimer != nil {
		s.readyTimer.Stop()
		s.readyTimer = nil
	}

	if s.current != nil {
		if s.current.connected {
			s.metrics.ObserveConnectionDuration(time.Since(s.current.openedAt))
		}
		if err := s.current.peer.Close(); err != nil {
			s.logger.Warnw("peer close failed", "error", err)
		}
		s.current = nil
	}

	s.gatherDone = false
	s.lastProtocol = time.Time{}

	s.updateSnapshot(func(sn *domain.SessionSnapshot) {
		sn.StreamID = ""
		sn.SessionID = ""
		sn.TransportReady = false
		sn.DataChannelReady = false
		sn.Playback = domain.PlaybackIdle
	})
}

func (s *SessionService) updateSnapshot(mutate func(*domain.SessionSnapshot)) {
	s.mu.Lock()
	mutate(&s.snap)
	s.snap.Connected = s.snap.TransportReady && s.snap.DataChannelReady
	snap := s.snap
	s.mu.Unlock()

	s.metrics.SetConnected(snap.Connected)
	s.metrics.SetStreaming(snap.Playback == domain.PlaybackStreaming)
	if s.notifier != nil {
		s.notifier.Publish(snap)
	}
}
