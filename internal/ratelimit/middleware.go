// Package ratelimit protects the gateway itself from inbound spam.
// This is separate from the per-upstream-host throttle: it limits
// callers, not the proxied servers.
package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/internal/metrics"
)

// rateLimitResponse is the JSON body returned on 429.
type rateLimitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

func limitHandler(limitType string, windowSeconds int, m *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if m != nil {
			m.ObserveRateLimit(limitType)
		}
		response := rateLimitResponse{
			Error:             "rate_limit_exceeded",
			Message:           "Rate limit exceeded. Please try again later.",
			RetryAfterSeconds: windowSeconds,
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", windowSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(response)
	}
}

func passthrough(next http.Handler) http.Handler { return next }

// GlobalLimiter limits total request volume across all callers.
func GlobalLimiter(cfg config.RateLimitConfig, m *metrics.Metrics) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return passthrough
	}
	window := orDefault(cfg.GlobalWindow.Duration, time.Minute)
	return httprate.Limit(
		cfg.GlobalLimit,
		window,
		httprate.WithLimitHandler(limitHandler("global", int(window.Seconds()), m)),
	)
}

// WalletLimiter limits per caller wallet; requests without a wallet
// header fall through to the IP limiter.
func WalletLimiter(cfg config.RateLimitConfig, m *metrics.Metrics) func(http.Handler) http.Handler {
	if !cfg.PerWalletEnabled {
		return passthrough
	}
	window := orDefault(cfg.PerWalletWindow.Duration, time.Minute)
	limiter := httprate.Limit(
		cfg.PerWalletLimit,
		window,
		httprate.WithKeyFuncs(walletKey),
		httprate.WithLimitHandler(limitHandler("per_wallet", int(window.Seconds()), m)),
	)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Wallet-Address") == "" {
				next.ServeHTTP(w, r)
				return
			}
			limiter(next).ServeHTTP(w, r)
		})
	}
}

// IPLimiter limits per client IP, the fallback for anonymous callers.
func IPLimiter(cfg config.RateLimitConfig, m *metrics.Metrics) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return passthrough
	}
	window := orDefault(cfg.PerIPWindow.Duration, time.Minute)
	return httprate.Limit(
		cfg.PerIPLimit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(limitHandler("per_ip", int(window.Seconds()), m)),
	)
}

func walletKey(r *http.Request) (string, error) {
	return r.Header.Get("X-Wallet-Address"), nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
