// Package proxy implements the gateway's request pipeline: an ordered
// list of stages run over a mutable per-request context. Stages either
// continue, short-circuit with a response, or fail the run.
package proxy

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/mcpay/gateway/internal/analytics"
	"github.com/mcpay/gateway/internal/autosign"
	"github.com/mcpay/gateway/internal/cache"
	"github.com/mcpay/gateway/internal/circuitbreaker"
	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/internal/facilitator"
	"github.com/mcpay/gateway/internal/hostlimit"
	"github.com/mcpay/gateway/internal/identity"
	"github.com/mcpay/gateway/internal/logger"
	"github.com/mcpay/gateway/internal/metrics"
	"github.com/mcpay/gateway/internal/store"
	"github.com/mcpay/gateway/pkg/responders"
)

// Outcome is a stage's verdict for the current request.
type Outcome int

const (
	OutcomeContinue Outcome = iota
	OutcomeTerminal
)

// Stage is one step of the pipeline. Stages are re-entrant; all
// per-request state lives in the RequestContext.
type Stage interface {
	Name() string
	Run(ctx context.Context, rc *RequestContext) (Outcome, error)
}

// Deps bundles everything the stages need.
type Deps struct {
	Config      *config.Config
	Store       store.Store
	Resolver    *identity.Resolver
	Cache       *cache.Cache
	HostLimiter *hostlimit.Limiter
	Facilitator facilitator.Client
	Signer      autosign.Signer
	Breakers    *circuitbreaker.Manager
	Metrics     *metrics.Metrics
	Recorder    *analytics.Recorder
	Client      *http.Client
}

// Runner executes the stage list for each request and mirrors the
// resulting response to the client.
type Runner struct {
	deps      Deps
	stages    []Stage
	analytics Stage
}

// NewRunner builds the pipeline in its declared order.
func NewRunner(deps Deps) *Runner {
	return &Runner{
		deps: deps,
		stages: []Stage{
			&authResolveStage{resolver: deps.Resolver},
			&timingStage{},
			&jsonRPCGateStage{},
			&inspectStage{store: deps.Store, maxBody: deps.Config.Gateway.MaxRequestBodyBytes},
			&browserHeadersStage{cfg: deps.Config.Gateway},
			&forwardStage{},
			&cacheReadStage{cache: deps.Cache, metrics: deps.Metrics},
			&rateLimitStage{limiter: deps.HostLimiter, metrics: deps.Metrics},
			&paymentPreAuthStage{
				facilitator: deps.Facilitator,
				signer:      deps.Signer,
				resolver:    deps.Resolver,
				metrics:     deps.Metrics,
			},
			&upstreamStage{
				client:   deps.Client,
				limiter:  deps.HostLimiter,
				breakers: deps.Breakers,
				metrics:  deps.Metrics,
				cfg:      deps.Config.Upstream,
			},
			&cacheWriteStage{cache: deps.Cache, metrics: deps.Metrics},
			&paymentCaptureStage{
				facilitator:   deps.Facilitator,
				store:         deps.Store,
				metrics:       deps.Metrics,
				policy:        deps.Config.Payments.CaptureFailurePolicy,
				retryAttempts: deps.Config.Payments.SettleRetryAttempts,
				retryDelay:    5 * time.Second,
			},
		},
		analytics: &analyticsStage{recorder: deps.Recorder},
	}
}

// Handle runs the pipeline for one request. publicID and restPath come
// from the router's /mcp/{publicId}/* match.
func (p *Runner) Handle(w http.ResponseWriter, r *http.Request, publicID, restPath string) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	rc, err := p.newRequestContext(r, publicID, restPath)
	if err != nil {
		log.Error().Err(err).Msg("proxy: reading request body")
		responders.Error(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	for _, stage := range p.stages {
		outcome, err := stage.Run(ctx, rc)
		if err != nil {
			log.Error().Err(err).Str("stage", stage.Name()).Msg("proxy: stage failed")
			p.deps.Metrics.StageErrors.WithLabelValues(stage.Name()).Inc()
			rc.TerminalJSON(http.StatusInternalServerError, map[string]string{
				"error": err.Error(),
				"stage": stage.Name(),
			})
			break
		}
		if outcome == OutcomeTerminal {
			break
		}
	}

	p.writeResponse(w, rc)

	// Analytics always runs, including for short-circuits, and never
	// delays the reply.
	if _, err := p.analytics.Run(ctx, rc); err != nil {
		log.Warn().Err(err).Msg("proxy: analytics stage failed")
	}

	status := 0
	if rc.Response != nil {
		status = rc.Response.Status
	}
	p.deps.Metrics.ObserveRequest(publicID, status, string(rc.Identity.Method), time.Since(rc.StartedAt))
}

func (p *Runner) newRequestContext(r *http.Request, publicID, restPath string) (*RequestContext, error) {
	rc := &RequestContext{
		Method:     r.Method,
		InboundURL: r.URL,
		Header:     r.Header.Clone(),
		RemoteAddr: r.RemoteAddr,
		StartedAt:  time.Now(),
		PublicID:   publicID,
		RestPath:   restPath,
	}

	// The body is read exactly once, here; stages work on the snapshot.
	// One extra byte past the limit flags the request as oversize.
	maxBody := p.deps.Config.Gateway.MaxRequestBodyBytes
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBody {
		rc.BodyOversize = true
		body = body[:maxBody]
	}
	rc.Body = body
	return rc, nil
}

func (p *Runner) writeResponse(w http.ResponseWriter, rc *RequestContext) {
	if rc.Response == nil {
		// Every path should have produced a response; this is a bug
		// guard, not an expected branch.
		responders.Error(w, http.StatusInternalServerError, "no response produced")
		rc.Response = &Response{Status: http.StatusInternalServerError}
		return
	}
	for name, values := range rc.Response.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	if rc.Payment.SettleHeader != "" {
		w.Header().Set("X-Payment-Response", rc.Payment.SettleHeader)
	}
	w.WriteHeader(rc.Response.Status)
	if len(rc.Response.Body) > 0 {
		w.Write(rc.Response.Body)
	}
}
