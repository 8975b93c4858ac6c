package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Gateway        GatewayConfig        `yaml:"gateway"`
	Upstream       UpstreamConfig       `yaml:"upstream"`
	HostLimit      HostLimitConfig      `yaml:"host_limit"`
	Cache          CacheConfig          `yaml:"cache"`
	Payments       PaymentsConfig       `yaml:"payments"`
	Session        SessionConfig        `yaml:"session"`
	Storage        StorageConfig        `yaml:"storage"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics (empty disables protection)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// GatewayConfig holds proxy-facing settings for the /mcp/:id/* surface.
type GatewayConfig struct {
	// Origin is the gateway's public URL; injected upstream as Referer/Origin.
	Origin string `yaml:"origin"`

	// MaxRequestBodyBytes caps the inbound body buffered at Inspect.
	MaxRequestBodyBytes int64 `yaml:"max_request_body_bytes"`

	// BlockedHeaderPrefixes lists lower-case header name prefixes that are
	// never forwarded upstream (infra fingerprints like x-vercel-, cf-).
	BlockedHeaderPrefixes []string `yaml:"blocked_header_prefixes"`
}

// UpstreamConfig holds outbound request settings.
type UpstreamConfig struct {
	Timeout        Duration `yaml:"timeout"`          // total budget for fetch + retries
	MaxRetries     int      `yaml:"max_retries"`      // 429-only retry count
	BaseRetryDelay Duration `yaml:"base_retry_delay"` // exponent base for backoff
}

// HostLimitConfig throttles outbound calls per upstream hostname.
type HostLimitConfig struct {
	MaxRequestsPerMinute int      `yaml:"max_requests_per_minute"`
	MinRequestDelay      Duration `yaml:"min_request_delay"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	DefaultTTL   Duration `yaml:"default_ttl"`
	CoingeckoTTL Duration `yaml:"coingecko_ttl"`
	APITTL       Duration `yaml:"api_ttl"`
	MaxEntries   int      `yaml:"max_entries"`
	MaxBodyBytes int64    `yaml:"max_body_bytes"` // bodies larger than this are never cached
	AllowPaid    bool     `yaml:"allow_paid"`     // cache responses of paid tool calls (default false)
}

// CaptureFailurePolicy decides what happens when settlement fails after a
// successful upstream call.
type CaptureFailurePolicy string

const (
	CaptureFailClosed CaptureFailurePolicy = "fail_closed" // 500 to client
	CaptureFailOpen   CaptureFailurePolicy = "fail_open"   // mirror upstream anyway
	CaptureQueueRetry CaptureFailurePolicy = "queue_retry" // mirror upstream, retry settle in-process
)

// PaymentsConfig holds facilitator and auto-signer settings.
type PaymentsConfig struct {
	FacilitatorURL       string               `yaml:"facilitator_url"`
	FacilitatorTimeout   Duration             `yaml:"facilitator_timeout"`
	AutoSignURL          string               `yaml:"auto_sign_url"`
	AutoSignTimeout      Duration             `yaml:"auto_sign_timeout"`
	CaptureFailurePolicy CaptureFailurePolicy `yaml:"capture_failure_policy"`
	SettleRetryAttempts  int                  `yaml:"settle_retry_attempts"` // used by queue_retry policy
}

// SessionConfig holds the JWT session resolver settings.
type SessionConfig struct {
	JWTSecret string `yaml:"jwt_secret"` // empty disables session resolution
}

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	Backend         string             `yaml:"backend"`          // "memory", "postgres", or "mongodb"
	PostgresURL     string             `yaml:"postgres_url"`     // PostgreSQL connection string
	MongoDBURL      string             `yaml:"mongodb_url"`      // MongoDB connection string
	MongoDBDatabase string             `yaml:"mongodb_database"` // MongoDB database name
	PostgresPool    PostgresPoolConfig `yaml:"postgres_pool"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// RateLimitConfig holds inbound rate limiting configuration. This is
// separate from the per-upstream-host throttle: it protects the gateway
// itself from spam, not the proxied servers.
type RateLimitConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	PerWalletEnabled bool     `yaml:"per_wallet_enabled"`
	PerWalletLimit   int      `yaml:"per_wallet_limit"`
	PerWalletWindow  Duration `yaml:"per_wallet_window"`

	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Facilitator BreakerConfig `yaml:"facilitator"`
	AutoSigner  BreakerConfig `yaml:"auto_signer"`
	Upstream    BreakerConfig `yaml:"upstream"`
}

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}
