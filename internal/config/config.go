package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from an optional YAML file, applies defaults,
// overlays MCPAY_* environment variables, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with all documented defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero values with documented defaults. Called both
// before YAML decoding (so a missing file still works) and after the env
// overlay (so partial configs are completed).
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout.Duration == 0 {
		c.Server.ReadTimeout.Duration = 15 * time.Second
	}
	if c.Server.WriteTimeout.Duration == 0 {
		c.Server.WriteTimeout.Duration = 60 * time.Second
	}
	if c.Server.IdleTimeout.Duration == 0 {
		c.Server.IdleTimeout.Duration = 90 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Gateway.Origin == "" {
		c.Gateway.Origin = "http://localhost:8080"
	}
	if c.Gateway.MaxRequestBodyBytes == 0 {
		c.Gateway.MaxRequestBodyBytes = 1 << 20 // 1 MiB
	}
	if len(c.Gateway.BlockedHeaderPrefixes) == 0 {
		c.Gateway.BlockedHeaderPrefixes = []string{"x-vercel-", "cf-", "x-forwarded-"}
	}

	if c.Upstream.Timeout.Duration == 0 {
		c.Upstream.Timeout.Duration = 30 * time.Second
	}
	if c.Upstream.MaxRetries == 0 {
		c.Upstream.MaxRetries = 3
	}
	if c.Upstream.BaseRetryDelay.Duration == 0 {
		c.Upstream.BaseRetryDelay.Duration = 2 * time.Second
	}

	if c.HostLimit.MaxRequestsPerMinute == 0 {
		c.HostLimit.MaxRequestsPerMinute = 30
	}
	if c.HostLimit.MinRequestDelay.Duration == 0 {
		c.HostLimit.MinRequestDelay.Duration = time.Second
	}

	if c.Cache.DefaultTTL.Duration == 0 {
		c.Cache.DefaultTTL.Duration = 30 * time.Second
	}
	if c.Cache.CoingeckoTTL.Duration == 0 {
		c.Cache.CoingeckoTTL.Duration = 60 * time.Second
	}
	if c.Cache.APITTL.Duration == 0 {
		c.Cache.APITTL.Duration = 45 * time.Second
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 100
	}
	if c.Cache.MaxBodyBytes == 0 {
		c.Cache.MaxBodyBytes = 1 << 20 // 1 MiB
	}

	if c.Payments.FacilitatorTimeout.Duration == 0 {
		c.Payments.FacilitatorTimeout.Duration = 30 * time.Second
	}
	if c.Payments.AutoSignTimeout.Duration == 0 {
		c.Payments.AutoSignTimeout.Duration = 15 * time.Second
	}
	if c.Payments.CaptureFailurePolicy == "" {
		c.Payments.CaptureFailurePolicy = CaptureFailClosed
	}
	if c.Payments.SettleRetryAttempts == 0 {
		c.Payments.SettleRetryAttempts = 3
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.PostgresPool.MaxOpenConns == 0 {
		c.Storage.PostgresPool.MaxOpenConns = 25
	}
	if c.Storage.PostgresPool.MaxIdleConns == 0 {
		c.Storage.PostgresPool.MaxIdleConns = 5
	}
	if c.Storage.PostgresPool.ConnMaxLifetime.Duration == 0 {
		c.Storage.PostgresPool.ConnMaxLifetime.Duration = 5 * time.Minute
	}

	if c.RateLimit.GlobalLimit == 0 {
		c.RateLimit.GlobalLimit = 1000
	}
	if c.RateLimit.GlobalWindow.Duration == 0 {
		c.RateLimit.GlobalWindow.Duration = time.Minute
	}
	if c.RateLimit.PerWalletLimit == 0 {
		c.RateLimit.PerWalletLimit = 60
	}
	if c.RateLimit.PerWalletWindow.Duration == 0 {
		c.RateLimit.PerWalletWindow.Duration = time.Minute
	}
	if c.RateLimit.PerIPLimit == 0 {
		c.RateLimit.PerIPLimit = 120
	}
	if c.RateLimit.PerIPWindow.Duration == 0 {
		c.RateLimit.PerIPWindow.Duration = time.Minute
	}

	applyBreakerDefaults(&c.CircuitBreaker.Facilitator)
	applyBreakerDefaults(&c.CircuitBreaker.AutoSigner)
	applyBreakerDefaults(&c.CircuitBreaker.Upstream)
}

func applyBreakerDefaults(b *BreakerConfig) {
	if b.MaxRequests == 0 {
		b.MaxRequests = 1
	}
	if b.Interval.Duration == 0 {
		b.Interval.Duration = time.Minute
	}
	if b.Timeout.Duration == 0 {
		b.Timeout.Duration = 30 * time.Second
	}
	if b.ConsecutiveFailures == 0 {
		b.ConsecutiveFailures = 5
	}
	if b.FailureRatio == 0 {
		b.FailureRatio = 0.5
	}
	if b.MinRequests == 0 {
		b.MinRequests = 10
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.Gateway.Origin); err != nil {
		return fmt.Errorf("config: gateway.origin %q is not a valid URL: %w", c.Gateway.Origin, err)
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("config: storage.backend is postgres but postgres_url is empty")
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			return fmt.Errorf("config: storage.backend is mongodb but mongodb_url is empty")
		}
		if c.Storage.MongoDBDatabase == "" {
			return fmt.Errorf("config: storage.backend is mongodb but mongodb_database is empty")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Payments.CaptureFailurePolicy {
	case CaptureFailClosed, CaptureFailOpen, CaptureQueueRetry:
	default:
		return fmt.Errorf("config: unknown capture_failure_policy %q", c.Payments.CaptureFailurePolicy)
	}
	if c.HostLimit.MaxRequestsPerMinute < 1 {
		return fmt.Errorf("config: host_limit.max_requests_per_minute must be >= 1")
	}
	if c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("config: upstream.max_retries must be >= 0")
	}
	return nil
}
