package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	apierrors "github.com/mcpay/gateway/internal/errors"
)

// jsonRPCGateStage enforces the MCP transport conventions on POSTs:
// the Accept header must offer both application/json and
// text/event-stream, and batch or notification frames are rejected
// because the downstream stages handle single request/response pairs
// only.
type jsonRPCGateStage struct{}

func (s *jsonRPCGateStage) Name() string { return "jsonrpc_gate" }

func (s *jsonRPCGateStage) Run(_ context.Context, rc *RequestContext) (Outcome, error) {
	if rc.Method != http.MethodPost {
		return OutcomeContinue, nil
	}

	if !acceptsBoth(rc.Header.Get("Accept")) {
		return s.reject(rc, apierrors.ErrCodeInvalidAccept,
			"Accept must include application/json and text/event-stream"), nil
	}

	body := bytes.TrimLeft(rc.Body, " \t\r\n")
	if len(body) == 0 {
		return OutcomeContinue, nil
	}
	if body[0] == '[' {
		return s.reject(rc, apierrors.ErrCodeInvalidJSONRPC, "batch requests are not supported"), nil
	}
	if body[0] != '{' {
		return OutcomeContinue, nil
	}

	var frame struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		ID      json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &frame); err != nil || frame.JSONRPC == "" {
		// Not a JSON-RPC frame; pass through as an opaque proxy body.
		return OutcomeContinue, nil
	}
	if frame.Method != "" && len(frame.ID) == 0 {
		return s.reject(rc, apierrors.ErrCodeInvalidJSONRPC, "notifications are not supported"), nil
	}
	return OutcomeContinue, nil
}

func (s *jsonRPCGateStage) reject(rc *RequestContext, code apierrors.ErrorCode, msg string) Outcome {
	return rc.TerminalJSON(code.HTTPStatus(), apierrors.NewErrorResponse(code, msg, nil))
}

// acceptsBoth checks that the Accept header offers application/json and
// text/event-stream. A wildcard covers either side.
func acceptsBoth(accept string) bool {
	var hasJSON, hasSSE bool
	for _, part := range strings.Split(accept, ",") {
		mediaType := strings.TrimSpace(part)
		if i := strings.IndexByte(mediaType, ';'); i >= 0 {
			mediaType = strings.TrimSpace(mediaType[:i])
		}
		switch mediaType {
		case "*/*":
			hasJSON, hasSSE = true, true
		case "application/json", "application/*":
			hasJSON = true
		case "text/event-stream", "text/*":
			hasSSE = true
		}
	}
	return hasJSON && hasSSE
}
