package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/mcpay/gateway/internal/analytics"
	"github.com/mcpay/gateway/internal/cache"
	"github.com/mcpay/gateway/internal/circuitbreaker"
	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/internal/hostlimit"
	"github.com/mcpay/gateway/internal/httputil"
	"github.com/mcpay/gateway/internal/identity"
	"github.com/mcpay/gateway/internal/metrics"
	"github.com/mcpay/gateway/internal/proxy"
	"github.com/mcpay/gateway/internal/store"
)

func testServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	m := store.NewMemoryStore()
	collector := metrics.New(prometheus.NewRegistry())
	deps := proxy.Deps{
		Config:      cfg,
		Store:       m,
		Resolver:    identity.NewResolver(m, cfg.Session),
		Cache:       cache.New(cfg.Cache),
		HostLimiter: hostlimit.New(cfg.HostLimit),
		Breakers:    circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker),
		Metrics:     collector,
		Recorder:    analytics.NewRecorder(m, zerolog.Nop()),
		Client:      httputil.NewProxyClient(),
	}
	return New(cfg, proxy.NewRunner(deps), collector, zerolog.Nop())
}

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Address: ":0"},
		Gateway: config.GatewayConfig{
			MaxRequestBodyBytes: 1 << 20,
		},
		Upstream: config.UpstreamConfig{
			Timeout:        config.Duration{Duration: 5 * time.Second},
			MaxRetries:     3,
			BaseRetryDelay: config.Duration{Duration: 100 * time.Millisecond},
		},
		HostLimit: config.HostLimitConfig{
			MaxRequestsPerMinute: 30,
			MinRequestDelay:      config.Duration{Duration: time.Millisecond},
		},
		Cache: config.CacheConfig{
			DefaultTTL: config.Duration{Duration: 30 * time.Second},
			MaxEntries: 100,
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t, baseConfig())
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
}

func TestMetricsRequiresAdminKey(t *testing.T) {
	cfg := baseConfig()
	cfg.Server.AdminMetricsAPIKey = "admin-secret"
	s := testServer(t, cfg)

	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated /metrics: status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	w = httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authenticated /metrics: status = %d", w.Code)
	}
}

func TestGatewayRouteUnknownServer(t *testing.T) {
	s := testServer(t, baseConfig())
	req := httptest.NewRequest(http.MethodPost, "/mcp/ghost/rpc", strings.NewReader("{}"))
	req.Header.Set("Accept", "application/json, text/event-stream")
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGatewayRejectsUnsupportedMethod(t *testing.T) {
	s := testServer(t, baseConfig())
	req := httptest.NewRequest(http.MethodPut, "/mcp/srv1/rpc", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}
