package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	sessionsStartedTotal   prometheus.Counter
	reconnectAttemptsTotal prometheus.Counter
	terminalFailuresTotal  prometheus.Counter
	bytesReceivedTotal     prometheus.Counter
	connectedGauge         prometheus.Gauge
	streamingGauge         prometheus.Gauge

	connectionDuration prometheus.Histogram

	beaconRequestsTotal *prometheus.CounterVec
}

// NewPrometheusCollector registers the collector's metrics with reg.
// Tests pass a private registry so parallel packages never collide on
// the default one.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		sessionsStartedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "facecast_sessions_started_total",
			Help: "Total number of stream sessions created against the relay",
		}),

		reconnectAttemptsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "facecast_reconnect_attempts_total",
			Help: "Total number of automatic reconnection attempts",
		}),

		terminalFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "facecast_terminal_failures_total",
			Help: "Number of times the reconnection budget was exhausted",
		}),

		bytesReceivedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "facecast_video_bytes_received_total",
			Help: "Total inbound video RTP payload bytes",
		}),

		connectedGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "facecast_session_connected",
			Help: "1 when transport and data channel are both ready",
		}),

		streamingGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "facecast_session_streaming",
			Help: "1 while the avatar is rendering",
		}),

		connectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "facecast_connection_duration_seconds",
			Help:    "Lifetime of each peer connection",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),

		beaconRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facecast_beacon_requests_total",
			Help: "Close-beacon requests by outcome",
		}, []string{"outcome"}),
	}
}

func (c *PrometheusCollector) SessionStarted() {
	c.sessionsStartedTotal.Inc()
}

func (c *PrometheusCollector) ReconnectAttempt() {
	c.reconnectAttemptsTotal.Inc()
}

func (c *PrometheusCollector) TerminalFailure() {
	c.terminalFailuresTotal.Inc()
}

func (c *PrometheusCollector) AddBytesReceived(n uint64) {
	c.bytesReceivedTotal.Add(float64(n))
}

func (c *PrometheusCollector) SetConnected(connected bool) {
	if connected {
		c.connectedGauge.Set(1)
	} else {
		c.connectedGauge.Set(0)
	}
}

func (c *PrometheusCollector) SetStreaming(streaming bool) {
	if streaming {
		c.streamingGauge.Set(1)
	} else {
		c.streamingGauge.Set(0)
	}
}

func (c *PrometheusCollector) ObserveConnectionDuration(d time.Duration) {
	c.connectionDuration.Observe(d.Seconds())
}

// BeaconRequest records one close-beacon outcome: accepted, limited or
// forbidden.
func (c *PrometheusCollector) BeaconRequest(outcome string) {
	c.beaconRequestsTotal.WithLabelValues(outcome).Inc()
}
