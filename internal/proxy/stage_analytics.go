package proxy

import (
	"context"
	"strconv"

	"github.com/mcpay/gateway/internal/analytics"
)

// analyticsStage records one usage row per tool call. The runner
// invokes it after the response is written, including for
// short-circuits, so the write never delays the reply.
type analyticsStage struct {
	recorder *analytics.Recorder
}

func (s *analyticsStage) Name() string { return "analytics" }

func (s *analyticsStage) Run(_ context.Context, rc *RequestContext) (Outcome, error) {
	if rc.ToolCall == nil || rc.Tool == nil {
		return OutcomeContinue, nil
	}

	status := ""
	switch {
	case rc.Payment.Failed:
		status = "payment_failed"
	case rc.Response != nil:
		status = strconv.Itoa(rc.Response.Status)
	}

	usage := analytics.Usage{
		ToolID:         rc.Tool.ID,
		ResponseStatus: status,
		StartedAt:      rc.StartedAt,
		ToolName:       rc.ToolCall.Name,
		Args:           rc.ToolCall.Arguments,
		AuthMethod:     string(rc.Identity.Method),
		Header:         rc.Header,
		RemoteAddr:     rc.RemoteAddr,
	}
	if rc.Identity.User != nil {
		usage.UserID = rc.Identity.User.ID
	}
	if rc.Response != nil {
		usage.ResponseBody = rc.Response.Body
	}
	s.recorder.Record(usage)
	return OutcomeContinue, nil
}
