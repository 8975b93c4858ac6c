package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	apierrors "github.com/mcpay/gateway/internal/errors"
	"github.com/mcpay/gateway/internal/logger"
	"github.com/mcpay/gateway/internal/store"
)

// inspectStage parses the buffered body, resolves the target server and
// tool, and picks the pricing entry that will gate payment. Store
// failures degrade to opaque proxying; only an oversize body is fatal.
type inspectStage struct {
	store   store.Store
	maxBody int64
}

func (s *inspectStage) Name() string { return "inspect" }

func (s *inspectStage) Run(ctx context.Context, rc *RequestContext) (Outcome, error) {
	if rc.BodyOversize {
		code := apierrors.ErrCodeBodyTooLarge
		return rc.TerminalJSON(code.HTTPStatus(),
			apierrors.NewErrorResponse(code, "request body exceeds limit", map[string]any{
				"max_bytes": s.maxBody,
			})), nil
	}

	log := logger.FromContext(ctx)

	server, err := s.store.GetServerByPublicID(ctx, rc.PublicID)
	switch {
	case err == nil:
		rc.Server = &server
	case errors.Is(err, store.ErrNotFound):
		// Forward will 404; nothing else to inspect.
		return OutcomeContinue, nil
	default:
		log.Warn().Err(err).Str("public_id", rc.PublicID).Msg("proxy: server lookup failed")
		return OutcomeContinue, nil
	}

	name, args, ok := parseToolsCall(rc.Header.Get("Content-Type"), rc.Body)
	if !ok {
		return OutcomeContinue, nil
	}

	rc.ToolCall = &ToolCall{Name: name, Arguments: args, PayTo: server.ReceiverAddress}

	tools, err := s.store.ListToolsByServer(ctx, server.InternalID)
	if err != nil {
		log.Warn().Err(err).Str("public_id", rc.PublicID).Msg("proxy: tool listing failed")
		return OutcomeContinue, nil
	}
	for i := range tools {
		if tools[i].Name == name {
			rc.Tool = &tools[i]
			break
		}
	}
	if rc.Tool == nil {
		return OutcomeContinue, nil
	}

	rc.PickedPricing = pickPricing(rc.Tool.Pricing)
	rc.ToolCall.IsPaid = rc.PickedPricing != nil
	if rc.ToolCall.IsPaid {
		log.Debug().
			Str("tool", name).
			Str("network", rc.PickedPricing.Network).
			Str("amount_raw", rc.PickedPricing.MaxAmountRequiredRaw).
			Msg("proxy: paid tool call")
	}
	return OutcomeContinue, nil
}

// parseToolsCall extracts the tool name and arguments from a JSON-RPC
// tools/call body.
func parseToolsCall(contentType string, body []byte) (string, json.RawMessage, bool) {
	if !strings.Contains(contentType, "json") || len(body) == 0 {
		return "", nil, false
	}
	var frame struct {
		Method string `json:"method"`
		Params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"params"`
	}
	if err := json.Unmarshal(body, &frame); err != nil {
		return "", nil, false
	}
	if frame.Method != "tools/call" || frame.Params.Name == "" {
		return "", nil, false
	}
	return frame.Params.Name, frame.Params.Arguments, true
}

// pickPricing keeps active entries only, preferring network "base",
// else the first active entry.
func pickPricing(entries []store.PricingEntry) *store.PricingEntry {
	var first *store.PricingEntry
	for i := range entries {
		if !entries[i].Active {
			continue
		}
		if entries[i].Network == "base" {
			return &entries[i]
		}
		if first == nil {
			first = &entries[i]
		}
	}
	return first
}
