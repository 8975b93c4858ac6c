package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/mcpay/gateway/internal/circuitbreaker"
	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/internal/hostlimit"
	"github.com/mcpay/gateway/internal/logger"
	"github.com/mcpay/gateway/internal/metrics"
)

// upstreamStage issues the proxied call and mirrors the response into
// the context. Only 429 responses are retried; every other status is
// returned as-is. Each retry takes its own throttle permit so the
// per-host pacing holds across attempts.
type upstreamStage struct {
	client   *http.Client
	limiter  *hostlimit.Limiter
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
	cfg      config.UpstreamConfig
}

func (s *upstreamStage) Name() string { return "upstream" }

func (s *upstreamStage) Run(ctx context.Context, rc *RequestContext) (Outcome, error) {
	if rc.UpstreamURL == nil {
		return OutcomeContinue, fmt.Errorf("upstream URL not built")
	}
	log := logger.FromContext(ctx)
	host := rc.UpstreamHost()

	if s.cfg.Timeout.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout.Duration)
		defer cancel()
	}

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := s.limiter.Acquire(ctx, host); err != nil {
				return s.networkFailure(rc, err), nil
			}
		}

		start := time.Now()
		resp, err := s.attempt(ctx, rc)
		if err != nil {
			log.Warn().Err(err).Str("host", host).Int("attempt", attempt).
				Msg("proxy: upstream attempt failed")
			return s.networkFailure(rc, err), nil
		}
		s.metrics.ObserveUpstream(host, resp.Status, time.Since(start))

		if resp.Status == http.StatusTooManyRequests && attempt < s.cfg.MaxRetries {
			s.metrics.UpstreamRetries.WithLabelValues(host).Inc()
			delay := s.backoff(attempt)
			log.Debug().Str("host", host).Dur("delay", delay).Int("attempt", attempt).
				Msg("proxy: upstream 429, backing off")
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return s.networkFailure(rc, ctx.Err()), nil
			case <-timer.C:
			}
			continue
		}

		rc.Response = resp
		return OutcomeContinue, nil
	}
}

// attempt performs one outbound HTTP call and buffers the response.
func (s *upstreamStage) attempt(ctx context.Context, rc *RequestContext) (*Response, error) {
	value, err := s.breakers.Execute(circuitbreaker.ServiceUpstream, func() (interface{}, error) {
		var body io.Reader
		if len(rc.Body) > 0 {
			body = bytes.NewReader(rc.Body)
		}
		req, err := http.NewRequestWithContext(ctx, rc.Method, rc.UpstreamURL.String(), body)
		if err != nil {
			return nil, err
		}
		req.Header = rc.UpstreamHeader.Clone()
		if h := req.Header.Get("Host"); h != "" {
			req.Host = h
			req.Header.Del("Host")
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read upstream body: %w", err)
		}
		return &Response{
			Status: resp.StatusCode,
			Header: resp.Header.Clone(),
			Body:   respBody,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*Response), nil
}

func (s *upstreamStage) backoff(attempt int) time.Duration {
	base := s.cfg.BaseRetryDelay.Duration
	return base*(1<<attempt) + time.Duration(rand.Intn(1000))*time.Millisecond
}

func (s *upstreamStage) networkFailure(rc *RequestContext, cause error) Outcome {
	status, reason := http.StatusBadGateway, "upstream_unreachable"
	if errors.Is(cause, context.DeadlineExceeded) {
		status, reason = http.StatusGatewayTimeout, "upstream_timeout"
	}
	return rc.TerminalJSON(status, map[string]string{"error": reason})
}
