package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.HostLimit.MaxRequestsPerMinute != 30 {
		t.Errorf("expected default max_requests_per_minute 30, got %d", cfg.HostLimit.MaxRequestsPerMinute)
	}
	if cfg.HostLimit.MinRequestDelay.Duration != time.Second {
		t.Errorf("expected default min_request_delay 1s, got %s", cfg.HostLimit.MinRequestDelay)
	}
	if cfg.Upstream.MaxRetries != 3 {
		t.Errorf("expected default max_retries 3, got %d", cfg.Upstream.MaxRetries)
	}
	if cfg.Upstream.BaseRetryDelay.Duration != 2*time.Second {
		t.Errorf("expected default base_retry_delay 2s, got %s", cfg.Upstream.BaseRetryDelay)
	}
	if cfg.Cache.DefaultTTL.Duration != 30*time.Second {
		t.Errorf("expected default cache ttl 30s, got %s", cfg.Cache.DefaultTTL)
	}
	if cfg.Cache.CoingeckoTTL.Duration != 60*time.Second {
		t.Errorf("expected coingecko ttl 60s, got %s", cfg.Cache.CoingeckoTTL)
	}
	if cfg.Cache.APITTL.Duration != 45*time.Second {
		t.Errorf("expected api ttl 45s, got %s", cfg.Cache.APITTL)
	}
	if cfg.Cache.MaxEntries != 100 {
		t.Errorf("expected max cache entries 100, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Payments.CaptureFailurePolicy != CaptureFailClosed {
		t.Errorf("expected fail_closed default, got %s", cfg.Payments.CaptureFailurePolicy)
	}
	if cfg.Cache.AllowPaid {
		t.Error("paid responses must not be cached by default")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	data := `
server:
  address: ":9090"
gateway:
  origin: "https://gw.example.com"
host_limit:
  max_requests_per_minute: 10
  min_request_delay: 250ms
upstream:
  max_retries: 2
  base_retry_delay: 100ms
payments:
  capture_failure_policy: fail_open
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Errorf("address = %s", cfg.Server.Address)
	}
	if cfg.Gateway.Origin != "https://gw.example.com" {
		t.Errorf("origin = %s", cfg.Gateway.Origin)
	}
	if cfg.HostLimit.MaxRequestsPerMinute != 10 {
		t.Errorf("max per minute = %d", cfg.HostLimit.MaxRequestsPerMinute)
	}
	if cfg.HostLimit.MinRequestDelay.Duration != 250*time.Millisecond {
		t.Errorf("min delay = %s", cfg.HostLimit.MinRequestDelay)
	}
	if cfg.Payments.CaptureFailurePolicy != CaptureFailOpen {
		t.Errorf("policy = %s", cfg.Payments.CaptureFailurePolicy)
	}
	// Untouched values still defaulted.
	if cfg.Cache.MaxEntries != 100 {
		t.Errorf("max entries = %d", cfg.Cache.MaxEntries)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MCPAY_MAX_REQUESTS_PER_MINUTE", "5")
	t.Setenv("MCPAY_MIN_REQUEST_DELAY", "1500")
	t.Setenv("MCPAY_UPSTREAM_TIMEOUT_MS", "5000")
	t.Setenv("MCPAY_BLOCKED_HEADER_PREFIXES", "x-vercel-, cf-, x-internal-")
	t.Setenv("MCPAY_CACHE_ALLOW_PAID", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HostLimit.MaxRequestsPerMinute != 5 {
		t.Errorf("max per minute = %d", cfg.HostLimit.MaxRequestsPerMinute)
	}
	if cfg.HostLimit.MinRequestDelay.Duration != 1500*time.Millisecond {
		t.Errorf("min delay = %s (bare numbers are milliseconds)", cfg.HostLimit.MinRequestDelay)
	}
	if cfg.Upstream.Timeout.Duration != 5*time.Second {
		t.Errorf("upstream timeout = %s", cfg.Upstream.Timeout)
	}
	if len(cfg.Gateway.BlockedHeaderPrefixes) != 3 || cfg.Gateway.BlockedHeaderPrefixes[2] != "x-internal-" {
		t.Errorf("blocked prefixes = %v", cfg.Gateway.BlockedHeaderPrefixes)
	}
	if !cfg.Cache.AllowPaid {
		t.Error("expected cache.allow_paid override")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad origin", func(c *Config) { c.Gateway.Origin = "://nope" }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "etcd" }},
		{"postgres without url", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"mongodb without db", func(c *Config) {
			c.Storage.Backend = "mongodb"
			c.Storage.MongoDBURL = "mongodb://localhost"
		}},
		{"unknown capture policy", func(c *Config) { c.Payments.CaptureFailurePolicy = "explode" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDurationYAMLSeconds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	// Bare numbers in YAML are interpreted as seconds.
	if err := os.WriteFile(path, []byte("cache:\n  default_ttl: 90\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.DefaultTTL.Duration != 90*time.Second {
		t.Errorf("default_ttl = %s", cfg.Cache.DefaultTTL)
	}
}
