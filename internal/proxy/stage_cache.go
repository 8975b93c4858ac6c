package proxy

import (
	"context"

	"github.com/mcpay/gateway/internal/cache"
	"github.com/mcpay/gateway/internal/logger"
	"github.com/mcpay/gateway/internal/metrics"
)

// cacheReadStage serves byte-identical cached responses for GETs. A hit
// short-circuits the run; no upstream call and no settlement happen.
type cacheReadStage struct {
	cache   *cache.Cache
	metrics *metrics.Metrics
}

func (s *cacheReadStage) Name() string { return "cache_read" }

func (s *cacheReadStage) Run(ctx context.Context, rc *RequestContext) (Outcome, error) {
	if rc.UpstreamURL == nil {
		return OutcomeContinue, nil
	}
	rc.CacheKey = cache.Key(rc.Method, rc.UpstreamURL.String(), rc.Body)

	entry, hit := s.cache.Get(rc.Method, rc.CacheKey)
	s.metrics.ObserveCache(rc.UpstreamHost(), hit, s.cache.Len())
	if !hit {
		return OutcomeContinue, nil
	}

	rc.CacheHit = true
	log := logger.FromContext(ctx)
	log.Debug().
		Str("host", rc.UpstreamHost()).
		Msg("proxy: served from cache")
	return rc.Terminal(entry.Status, entry.Header.Clone(), entry.Body), nil
}

// cacheWriteStage stores successful GET responses after the upstream
// call.
type cacheWriteStage struct {
	cache   *cache.Cache
	metrics *metrics.Metrics
}

func (s *cacheWriteStage) Name() string { return "cache_write" }

func (s *cacheWriteStage) Run(_ context.Context, rc *RequestContext) (Outcome, error) {
	if rc.Response == nil || rc.CacheKey == "" || rc.CacheHit {
		return OutcomeContinue, nil
	}
	paid := rc.ToolCall != nil && rc.ToolCall.IsPaid
	s.cache.Put(rc.Method, rc.CacheKey, rc.UpstreamHost(), paid,
		rc.Response.Status, rc.Response.Header, rc.Response.Body)
	return OutcomeContinue, nil
}
