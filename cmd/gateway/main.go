package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcpay/gateway/internal/analytics"
	"github.com/mcpay/gateway/internal/autosign"
	"github.com/mcpay/gateway/internal/cache"
	"github.com/mcpay/gateway/internal/circuitbreaker"
	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/internal/facilitator"
	"github.com/mcpay/gateway/internal/hostlimit"
	"github.com/mcpay/gateway/internal/httpserver"
	"github.com/mcpay/gateway/internal/httputil"
	"github.com/mcpay/gateway/internal/identity"
	"github.com/mcpay/gateway/internal/lifecycle"
	"github.com/mcpay/gateway/internal/logger"
	"github.com/mcpay/gateway/internal/metrics"
	"github.com/mcpay/gateway/internal/proxy"
	"github.com/mcpay/gateway/internal/store"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("MCPAY_CONFIG"), "path to YAML config file")
	flag.Parse()

	// A missing .env file is fine; real deployments set env vars directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "mcpay-gateway",
		Version:     httpserver.Version,
		Environment: cfg.Logging.Environment,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		appLogger.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("open store")
	}

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)
	collector := metrics.New(prometheus.DefaultRegisterer)
	recorder := analytics.NewRecorder(st, appLogger)

	resources := lifecycle.NewManager()
	resources.RegisterFunc("store", func() error {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return st.Close(closeCtx)
	})
	resources.RegisterFunc("analytics", func() error {
		recorder.Flush()
		return nil
	})

	runner := proxy.NewRunner(proxy.Deps{
		Config:      cfg,
		Store:       st,
		Resolver:    identity.NewResolver(st, cfg.Session),
		Cache:       cache.New(cfg.Cache),
		HostLimiter: hostlimit.New(cfg.HostLimit),
		Facilitator: facilitator.NewHTTPClient(cfg.Payments, breakers),
		Signer:      autosign.NewHTTPSigner(cfg.Payments, breakers),
		Breakers:    breakers,
		Metrics:     collector,
		Recorder:    recorder,
		Client:      httputil.NewProxyClient(),
	})

	srv := httpserver.New(cfg, runner, collector, appLogger)

	errCh := make(chan error, 1)
	go func() {
		appLogger.Info().
			Str("address", cfg.Server.Address).
			Str("storage", cfg.Storage.Backend).
			Msg("gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		appLogger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal().Err(err).Msg("server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error().Err(err).Msg("server shutdown")
	}
	if err := resources.Close(); err != nil {
		appLogger.Error().Err(err).Msg("resource cleanup")
	}
	appLogger.Info().Msg("gateway stopped")
}
