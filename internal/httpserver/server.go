// Package httpserver wires the router, middleware chain, and the
// proxy pipeline into an http.Server.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/internal/logger"
	"github.com/mcpay/gateway/internal/metrics"
	"github.com/mcpay/gateway/internal/proxy"
	"github.com/mcpay/gateway/internal/ratelimit"
)

var serverStartTime = time.Now()

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg     *config.Config
	runner  *proxy.Runner
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New builds the HTTP server with its configured router.
func New(cfg *config.Config, runner *proxy.Runner, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()
	s := &Server{
		handlers: handlers{
			cfg:     cfg,
			runner:  runner,
			metrics: metricsCollector,
			logger:  appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}
	s.configureRouter(router)
	return s
}

func (s *Server) configureRouter(router chi.Router) {
	cfg := s.cfg

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"X-Payment-Response"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(s.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Use(ratelimit.GlobalLimiter(cfg.RateLimit, s.metrics))
	router.Use(ratelimit.WalletLimiter(cfg.RateLimit, s.metrics))
	router.Use(ratelimit.IPLimiter(cfg.RateLimit, s.metrics))

	// Lightweight endpoints get a short timeout; the proxy surface is
	// governed by the upstream budget instead.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/health", s.health)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle("/metrics", promhttp.Handler())
	})

	router.Route("/mcp/{publicId}", func(r chi.Router) {
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
			r.Method(method, "/", http.HandlerFunc(s.gateway))
			r.Method(method, "/*", http.HandlerFunc(s.gateway))
		}
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
