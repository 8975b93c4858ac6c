package proxy

import (
	"context"
	"time"

	"github.com/mcpay/gateway/internal/hostlimit"
	"github.com/mcpay/gateway/internal/metrics"
)

// rateLimitStage takes one outbound permit for the upstream host. When
// it continues, the request may issue exactly one upstream call;
// retries take their own permits inside the upstream stage.
type rateLimitStage struct {
	limiter *hostlimit.Limiter
	metrics *metrics.Metrics
}

func (s *rateLimitStage) Name() string { return "rate_limit" }

func (s *rateLimitStage) Run(ctx context.Context, rc *RequestContext) (Outcome, error) {
	host := rc.UpstreamHost()
	if host == "" {
		return OutcomeContinue, nil
	}
	start := time.Now()
	if err := s.limiter.Acquire(ctx, host); err != nil {
		return OutcomeContinue, err
	}
	s.metrics.ObserveThrottleWait(host, time.Since(start))
	return OutcomeContinue, nil
}
