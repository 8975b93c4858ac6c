package proxy

import (
	"context"
	"time"

	"github.com/mcpay/gateway/internal/identity"
	"github.com/mcpay/gateway/internal/logger"
)

// authResolveStage resolves the caller identity before anything else so
// later stages can rely on it. Resolution failures never abort the run.
type authResolveStage struct {
	resolver *identity.Resolver
}

func (s *authResolveStage) Name() string { return "auth_resolve" }

func (s *authResolveStage) Run(ctx context.Context, rc *RequestContext) (Outcome, error) {
	rc.Identity = s.resolver.Resolve(ctx, rc.Header, rc.InboundURL, rc.Body)
	if rc.Identity.User != nil {
		log := logger.FromContext(ctx)
		log.Debug().
			Str("auth_method", string(rc.Identity.Method)).
			Str("user_id", rc.Identity.User.ID).
			Msg("proxy: identity resolved")
	}
	return OutcomeContinue, nil
}

// timingStage pins the request start time used for latency accounting.
type timingStage struct{}

func (s *timingStage) Name() string { return "timing" }

func (s *timingStage) Run(_ context.Context, rc *RequestContext) (Outcome, error) {
	if rc.StartedAt.IsZero() {
		rc.StartedAt = time.Now()
	}
	return OutcomeContinue, nil
}
