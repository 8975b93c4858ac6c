package proxy

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"

	"github.com/mcpay/gateway/internal/config"
	apierrors "github.com/mcpay/gateway/internal/errors"
)

// hop-by-hop and proxy-chain headers that never cross the gateway.
var droppedHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"cookie":              {},
	"authorization":       {},
	"forwarded":           {},
	"x-real-ip":           {},
	"host":                {},
	"content-length":      {},
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
}

// browserHeadersStage builds the outbound header set: inbound headers
// minus hop-by-hop, proxy-chain and blocked-prefix entries, plus the
// browser-shaped identity the upstream expects.
type browserHeadersStage struct {
	cfg config.GatewayConfig
}

func (s *browserHeadersStage) Name() string { return "browser_headers" }

func (s *browserHeadersStage) Run(_ context.Context, rc *RequestContext) (Outcome, error) {
	if rc.Server == nil {
		return OutcomeContinue, nil
	}
	origin, err := url.Parse(rc.Server.MCPOrigin)
	if err != nil {
		return OutcomeContinue, nil
	}

	out := http.Header{}
	for name, values := range rc.Header {
		lower := strings.ToLower(name)
		if _, drop := droppedHeaders[lower]; drop {
			continue
		}
		if strings.HasPrefix(lower, "x-forwarded-") || s.blockedPrefix(lower) {
			continue
		}
		out[name] = values
	}

	out.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	out.Set("Accept", "application/json, text/event-stream, text/plain, */*")
	out.Set("Accept-Language", "en-US,en;q=0.9")
	if s.cfg.Origin != "" {
		out.Set("Referer", s.cfg.Origin)
		out.Set("Origin", s.cfg.Origin)
	}
	out.Set("Host", origin.Host)
	out.Set("X-Mcpay-Wallet-Address", rc.Identity.WalletAddress())

	if rc.Server.RequireAuth {
		for name, value := range rc.Server.AuthHeaders {
			out.Set(name, value)
		}
	}

	rc.UpstreamHeader = out
	return OutcomeContinue, nil
}

func (s *browserHeadersStage) blockedPrefix(lowerName string) bool {
	for _, prefix := range s.cfg.BlockedHeaderPrefixes {
		if strings.HasPrefix(lowerName, prefix) {
			return true
		}
	}
	return false
}

// forwardStage rebuilds the inbound URL against the server's mcpOrigin.
// The origin's own query parameters overwrite client-provided ones.
type forwardStage struct{}

func (s *forwardStage) Name() string { return "forward" }

func (s *forwardStage) Run(_ context.Context, rc *RequestContext) (Outcome, error) {
	if rc.Server == nil {
		code := apierrors.ErrCodeServerNotFound
		return rc.TerminalJSON(code.HTTPStatus(),
			apierrors.NewErrorResponse(code, "unknown server: "+rc.PublicID, nil)), nil
	}
	origin, err := url.Parse(rc.Server.MCPOrigin)
	if err != nil {
		return OutcomeContinue, fmt.Errorf("parse mcpOrigin: %w", err)
	}

	target := *rc.InboundURL
	target.Scheme = origin.Scheme
	target.Host = origin.Host
	target.Path = joinPath(origin.Path, rc.RestPath)
	target.RawPath = ""

	query := target.Query()
	for key, values := range origin.Query() {
		query[key] = values
	}
	target.RawQuery = query.Encode()

	rc.UpstreamURL = &target
	return OutcomeContinue, nil
}

func joinPath(originPath, rest string) string {
	originPath = strings.TrimSuffix(originPath, "/")
	if rest != "" && !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	if originPath == "" && rest == "" {
		return "/"
	}
	return originPath + rest
}
