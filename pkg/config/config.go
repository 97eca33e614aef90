package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Relay struct {
		BaseURL        string        `yaml:"base_url"`
		APIKey         string        `yaml:"api_key"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"relay"`

	Avatar struct {
		SourceURL       string `yaml:"source_url"`
		CodecPreference string `yaml:"codec_preference"`
	} `yaml:"avatar"`

	Session struct {
		StatsInterval   time.Duration `yaml:"stats_interval"`
		ReadyFallback   time.Duration `yaml:"ready_fallback"`
		MaxAttempts     int           `yaml:"max_attempts"`
		BackoffStep     time.Duration `yaml:"backoff_step"`
		BackoffMax      time.Duration `yaml:"backoff_max"`
		KeyframeRequest time.Duration `yaml:"keyframe_request"`
	} `yaml:"session"`

	StateFeed struct {
		Address      string        `yaml:"address"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"state_feed"`

	Beacon struct {
		Address         string        `yaml:"address"`
		URL             string        `yaml:"url"` // viewer-side target for close notifications
		NotifyTimeout   time.Duration `yaml:"notify_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`

		Window struct {
			Limit    int           `yaml:"limit"`
			Duration time.Duration `yaml:"duration"`
		} `yaml:"window"`
	} `yaml:"beacon"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Relay.BaseURL == "" {
		return fmt.Errorf("relay.base_url must not be empty")
	}
	if c.Relay.RequestTimeout <= 0 {
		return fmt.Errorf("relay.request_timeout must be > 0")
	}

	if c.Session.StatsInterval <= 0 {
		return fmt.Errorf("session.stats_interval must be > 0")
	}
	if c.Session.ReadyFallback <= 0 {
		return fmt.Errorf("session.ready_fallback must be > 0")
	}
	if c.Session.MaxAttempts <= 0 {
		return fmt.Errorf("session.max_attempts must be > 0")
	}
	if c.Session.BackoffStep <= 0 {
		return fmt.Errorf("session.backoff_step must be > 0")
	}
	if c.Session.BackoffMax < c.Session.BackoffStep {
		return fmt.Errorf("session.backoff_max must be >= session.backoff_step")
	}

	if c.Beacon.Address == "" {
		return fmt.Errorf("beacon.address must not be empty")
	}
	if c.Beacon.Window.Limit <= 0 {
		return fmt.Errorf("beacon.window.limit must be > 0")
	}
	if c.Beacon.Window.Duration <= 0 {
		return fmt.Errorf("beacon.window.duration must be > 0")
	}
	if c.Beacon.ShutdownTimeout <= 0 {
		return fmt.Errorf("beacon.shutdown_timeout must be > 0")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Relay.BaseURL = "https://api.d-id.example/talks"
	cfg.Relay.RequestTimeout = 10 * time.Second

	cfg.Avatar.CodecPreference = "vp8"

	cfg.Session.StatsInterval = 500 * time.Millisecond
	cfg.Session.ReadyFallback = 5 * time.Second
	cfg.Session.MaxAttempts = 5
	cfg.Session.BackoffStep = time.Second
	cfg.Session.BackoffMax = 10 * time.Second
	cfg.Session.KeyframeRequest = 3 * time.Second

	cfg.StateFeed.Address = ":8082"
	cfg.StateFeed.WriteTimeout = 10 * time.Second

	cfg.Beacon.Address = ":8081"
	cfg.Beacon.URL = "http://localhost:8081/api/v1/beacon"
	cfg.Beacon.NotifyTimeout = 2 * time.Second
	cfg.Beacon.ShutdownTimeout = 15 * time.Second
	cfg.Beacon.AllowedOrigins = []string{"*"}
	cfg.Beacon.Window.Limit = 10
	cfg.Beacon.Window.Duration = 60 * time.Second

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 50
	cfg.RateLimiting.Burst = 100

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("FACECAST_RELAY_URL"); url != "" {
		c.Relay.BaseURL = url
	}
	if key := os.Getenv("FACECAST_RELAY_API_KEY"); key != "" {
		c.Relay.APIKey = key
	}
	if src := os.Getenv("FACECAST_AVATAR_SOURCE_URL"); src != "" {
		c.Avatar.SourceURL = src
	}
	if addr := os.Getenv("FACECAST_BEACON_ADDRESS"); addr != "" {
		c.Beacon.Address = addr
	}
	if level := os.Getenv("FACECAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}
