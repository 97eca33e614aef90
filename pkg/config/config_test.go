package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got: %v", err)
	}
	if cfg.Session.MaxAttempts != 5 {
		t.Errorf("expected default max_attempts 5, got %d", cfg.Session.MaxAttempts)
	}
	if cfg.Session.BackoffStep != time.Second {
		t.Errorf("expected default backoff_step 1s, got %v", cfg.Session.BackoffStep)
	}
	if cfg.Beacon.Window.Limit != 10 || cfg.Beacon.Window.Duration != 60*time.Second {
		t.Errorf("expected default beacon window 10/60s, got %d/%v",
			cfg.Beacon.Window.Limit, cfg.Beacon.Window.Duration)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty relay base url", func(c *Config) { c.Relay.BaseURL = "" }},
		{"zero relay timeout", func(c *Config) { c.Relay.RequestTimeout = 0 }},
		{"zero stats interval", func(c *Config) { c.Session.StatsInterval = 0 }},
		{"zero ready fallback", func(c *Config) { c.Session.ReadyFallback = 0 }},
		{"zero max attempts", func(c *Config) { c.Session.MaxAttempts = 0 }},
		{"backoff max below step", func(c *Config) { c.Session.BackoffMax = 10 * time.Millisecond }},
		{"zero window limit", func(c *Config) { c.Beacon.Window.Limit = 0 }},
		{"zero window duration", func(c *Config) { c.Beacon.Window.Duration = 0 }},
		{"rate limiting enabled with zero rps", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.RequestsPerSecond = 0
		}},
		{"redis enabled without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("expected defaults for missing file, got error: %v", err)
	}
	if cfg.Session.ReadyFallback != 5*time.Second {
		t.Errorf("expected default ready_fallback 5s, got %v", cfg.Session.ReadyFallback)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
relay:
  base_url: "https://relay.internal/streams"
session:
  max_attempts: 3
beacon:
  window:
    limit: 20
    duration: 30s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.Relay.BaseURL != "https://relay.internal/streams" {
		t.Errorf("relay url not overridden: %s", cfg.Relay.BaseURL)
	}
	if cfg.Session.MaxAttempts != 3 {
		t.Errorf("max_attempts not overridden: %d", cfg.Session.MaxAttempts)
	}
	if cfg.Beacon.Window.Limit != 20 || cfg.Beacon.Window.Duration != 30*time.Second {
		t.Errorf("beacon window not overridden: %d/%v",
			cfg.Beacon.Window.Limit, cfg.Beacon.Window.Duration)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FACECAST_RELAY_URL", "https://env.example/streams")
	t.Setenv("FACECAST_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.Relay.BaseURL != "https://env.example/streams" {
		t.Errorf("env override for relay url not applied: %s", cfg.Relay.BaseURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("env override for log level not applied: %s", cfg.Logging.Level)
	}
}
