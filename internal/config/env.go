package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use the MCPAY_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server
	setIfEnv(&c.Server.Address, "MCPAY_SERVER_ADDRESS")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "MCPAY_ADMIN_METRICS_API_KEY")
	setListIfEnv(&c.Server.CORSAllowedOrigins, "MCPAY_CORS_ALLOWED_ORIGINS")

	// Logging
	setIfEnv(&c.Logging.Level, "MCPAY_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "MCPAY_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "MCPAY_ENVIRONMENT")

	// Gateway
	setIfEnv(&c.Gateway.Origin, "MCPAY_GATEWAY_ORIGIN")
	setInt64IfEnv(&c.Gateway.MaxRequestBodyBytes, "MCPAY_MAX_REQUEST_BODY_BYTES")
	setListIfEnv(&c.Gateway.BlockedHeaderPrefixes, "MCPAY_BLOCKED_HEADER_PREFIXES")

	// Upstream
	setDurationIfEnv(&c.Upstream.Timeout, "MCPAY_UPSTREAM_TIMEOUT_MS")
	setIntIfEnv(&c.Upstream.MaxRetries, "MCPAY_MAX_RETRIES")
	setDurationIfEnv(&c.Upstream.BaseRetryDelay, "MCPAY_BASE_RETRY_DELAY")

	// Host throttle
	setIntIfEnv(&c.HostLimit.MaxRequestsPerMinute, "MCPAY_MAX_REQUESTS_PER_MINUTE")
	setDurationIfEnv(&c.HostLimit.MinRequestDelay, "MCPAY_MIN_REQUEST_DELAY")

	// Cache
	setDurationIfEnv(&c.Cache.DefaultTTL, "MCPAY_DEFAULT_CACHE_TTL")
	setDurationIfEnv(&c.Cache.CoingeckoTTL, "MCPAY_COINGECKO_CACHE_TTL")
	setDurationIfEnv(&c.Cache.APITTL, "MCPAY_API_CACHE_TTL")
	setIntIfEnv(&c.Cache.MaxEntries, "MCPAY_MAX_CACHE_SIZE")
	setBoolIfEnv(&c.Cache.AllowPaid, "MCPAY_CACHE_ALLOW_PAID")

	// Payments
	setIfEnv(&c.Payments.FacilitatorURL, "MCPAY_FACILITATOR_URL")
	setDurationIfEnv(&c.Payments.FacilitatorTimeout, "MCPAY_FACILITATOR_TIMEOUT")
	setIfEnv(&c.Payments.AutoSignURL, "MCPAY_AUTO_SIGN_URL")
	if v := os.Getenv("MCPAY_CAPTURE_FAILURE_POLICY"); v != "" {
		c.Payments.CaptureFailurePolicy = CaptureFailurePolicy(strings.TrimSpace(v))
	}

	// Session
	setIfEnv(&c.Session.JWTSecret, "MCPAY_SESSION_JWT_SECRET")

	// Storage
	setIfEnv(&c.Storage.Backend, "MCPAY_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "MCPAY_POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, "MCPAY_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "MCPAY_MONGODB_DATABASE")

	// Inbound rate limits
	setBoolIfEnv(&c.RateLimit.GlobalEnabled, "MCPAY_RATELIMIT_GLOBAL_ENABLED")
	setIntIfEnv(&c.RateLimit.GlobalLimit, "MCPAY_RATELIMIT_GLOBAL_LIMIT")
	setBoolIfEnv(&c.RateLimit.PerWalletEnabled, "MCPAY_RATELIMIT_PER_WALLET_ENABLED")
	setIntIfEnv(&c.RateLimit.PerWalletLimit, "MCPAY_RATELIMIT_PER_WALLET_LIMIT")
	setBoolIfEnv(&c.RateLimit.PerIPEnabled, "MCPAY_RATELIMIT_PER_IP_ENABLED")
	setIntIfEnv(&c.RateLimit.PerIPLimit, "MCPAY_RATELIMIT_PER_IP_LIMIT")

	// Circuit breakers
	setBoolIfEnv(&c.CircuitBreaker.Enabled, "MCPAY_CIRCUIT_BREAKER_ENABLED")
}

func setIfEnv(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = strings.TrimSpace(v)
	}
}

func setListIfEnv(target *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*target = out
	}
}

func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*target = b
		}
	}
}

func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*target = n
		}
	}
}

func setInt64IfEnv(target *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv parses either a Go duration string ("1500ms") or a bare
// number interpreted as milliseconds, matching the documented *_MS options.
func setDurationIfEnv(target *Duration, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		target.Duration = d
		return
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		target.Duration = time.Duration(ms) * time.Millisecond
	}
}
