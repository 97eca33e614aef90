package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"facecast/internal/core/services"
	"facecast/internal/infrastructure/monitoring"
	"facecast/internal/infrastructure/relay"
	signalfeed "facecast/internal/infrastructure/signal"
	webrtcinfra "facecast/internal/infrastructure/webrtc"
	"facecast/pkg/backoff"
	"facecast/pkg/config"
	"facecast/pkg/logger"
	"facecast/pkg/tracing"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/facecast/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "facecast-viewer",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	metrics := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	relayClient := relay.NewClient(
		cfg.Relay.BaseURL,
		cfg.Relay.APIKey,
		cfg.Relay.RequestTimeout,
		log,
	)

	peerFactory := webrtcinfra.NewFactory(
		cfg.Session.StatsInterval,
		cfg.Session.KeyframeRequest,
		webrtcinfra.DiscardSink{},
		metrics,
		log,
	)

	stateFeed := signalfeed.NewStateFeed(cfg.StateFeed.WriteTimeout, log)
	beaconNotifier := relay.NewBeaconNotifier(cfg.Beacon.URL, cfg.Beacon.NotifyTimeout, log)

	sessionService := services.NewSessionService(
		services.SessionConfig{
			AvatarSourceURL: cfg.Avatar.SourceURL,
			CodecPreference: cfg.Avatar.CodecPreference,
			MaxAttempts:     cfg.Session.MaxAttempts,
			Backoff:         backoff.Policy{Step: cfg.Session.BackoffStep, Max: cfg.Session.BackoffMax},
			ReadyFallback:   cfg.Session.ReadyFallback,
			RelayTimeout:    cfg.Relay.RequestTimeout,
		},
		relayClient,
		peerFactory,
		stateFeed,
		beaconNotifier,
		metrics,
		log,
	)
	sessionService.Start(context.Background())

	// State feed plus observability endpoints on one listener.
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/state", stateFeed.HandleWebSocket)
	mux.HandleFunc("/health", stateFeed.HealthCheck)
	if cfg.Monitoring.PrometheusEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.StateFeed.Address,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.StateFeed.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting Facecast viewer state feed on %s", cfg.StateFeed.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	if err := sessionService.Initiate(context.Background()); err != nil {
		log.Errorw("initial session failed, waiting for operator restart", "error", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("State feed server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down Facecast viewer...")

	// Fire the close notification while the session identifiers are
	// still known, then release the transport.
	notifyCtx, notifyCancel := context.WithTimeout(context.Background(), cfg.Beacon.NotifyTimeout)
	sessionService.NotifyClose(notifyCtx)
	notifyCancel()

	sessionService.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Beacon.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}

	log.Info("Facecast viewer stopped")
}
