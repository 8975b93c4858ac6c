package proxy

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/mcpay/gateway/internal/identity"
	"github.com/mcpay/gateway/internal/store"
	"github.com/mcpay/gateway/pkg/x402"
)

// ToolCall is the parsed tools/call extracted at Inspect.
type ToolCall struct {
	Name      string
	Arguments json.RawMessage
	IsPaid    bool
	PayTo     string
}

// PaymentState tracks the two-phase payment through the pipeline.
type PaymentState struct {
	RawHeader    string
	Decoded      *x402.PaymentPayload
	Requirements []x402.PaymentRequirements
	Authorized   bool
	Failed       bool
	SettleHeader string
}

// Response is what gets mirrored to the client at the end of the run.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// RequestContext is the mutable per-request state the stages operate
// on. Each request owns its context exclusively; stages hold no
// per-request state of their own.
type RequestContext struct {
	Method     string
	InboundURL *url.URL
	Header     http.Header
	Body       []byte
	// BodyOversize is set when the inbound body exceeded the configured
	// maximum; Inspect turns it into a 413.
	BodyOversize bool
	RemoteAddr   string
	StartedAt    time.Time

	PublicID string
	// RestPath is the path remainder after /mcp/:publicId.
	RestPath string

	Identity identity.Identity

	Server        *store.Server
	Tool          *store.Tool
	ToolCall      *ToolCall
	PickedPricing *store.PricingEntry

	UpstreamURL    *url.URL
	UpstreamHeader http.Header

	CacheKey string
	CacheHit bool

	Payment PaymentState

	Response *Response
}

// Terminal sets the response and signals a short-circuit.
func (rc *RequestContext) Terminal(status int, header http.Header, body []byte) Outcome {
	if header == nil {
		header = http.Header{}
	}
	rc.Response = &Response{Status: status, Header: header, Body: body}
	return OutcomeTerminal
}

// TerminalJSON short-circuits with a JSON payload.
func (rc *RequestContext) TerminalJSON(status int, payload any) Outcome {
	body, _ := json.Marshal(payload)
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return rc.Terminal(status, header, body)
}

// UpstreamHost returns the upstream hostname, or "" before Forward.
func (rc *RequestContext) UpstreamHost() string {
	if rc.UpstreamURL == nil {
		return ""
	}
	return rc.UpstreamURL.Hostname()
}
