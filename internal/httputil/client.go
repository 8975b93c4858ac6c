package httputil

import (
	"net/http"
	"time"
)

// NewClient creates an HTTP client with the given timeout and tuned
// transport settings. Used for all outbound calls (upstream MCP servers,
// facilitator, auto-signer) so connection reuse behaves consistently.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// NewProxyClient is NewClient without a client-level timeout and without
// automatic redirect following. The proxy applies its own per-request
// deadline via context and must mirror 3xx responses verbatim instead of
// chasing them.
func NewProxyClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
