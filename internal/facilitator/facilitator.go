// Package facilitator talks to the external x402 facilitator service
// that verifies and settles payment authorizations.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mcpay/gateway/internal/circuitbreaker"
	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/internal/httputil"
	"github.com/mcpay/gateway/internal/logger"
	"github.com/mcpay/gateway/pkg/x402"
)

// Client is the facilitator capability the payment stages consume.
type Client interface {
	Verify(ctx context.Context, payment x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error)
	Settle(ctx context.Context, payment x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error)
}

// TerminalError is returned when the facilitator answers with a non-2xx
// HTTP response. The pipeline mirrors it to the client instead of
// synthesizing its own error body.
type TerminalError struct {
	Status      int
	ContentType string
	Body        []byte
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("facilitator returned status %d", e.Status)
}

// request is the body sent to both /verify and /settle.
type request struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      x402.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

// HTTPClient calls a facilitator over HTTP, guarded by a circuit
// breaker.
type HTTPClient struct {
	baseURL  string
	client   *http.Client
	breakers *circuitbreaker.Manager
}

func NewHTTPClient(cfg config.PaymentsConfig, breakers *circuitbreaker.Manager) *HTTPClient {
	return &HTTPClient{
		baseURL:  cfg.FacilitatorURL,
		client:   httputil.NewClient(cfg.FacilitatorTimeout.Duration),
		breakers: breakers,
	}
}

func (c *HTTPClient) Verify(ctx context.Context, payment x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	var out x402.VerifyResponse
	if err := c.post(ctx, "/verify", payment, requirements, &out); err != nil {
		return x402.VerifyResponse{}, err
	}
	log := logger.FromContext(ctx)
	log.Debug().
		Bool("is_valid", out.IsValid).
		Str("payer", logger.TruncateAddress(out.Payer)).
		Msg("facilitator: verify completed")
	return out, nil
}

func (c *HTTPClient) Settle(ctx context.Context, payment x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	var out x402.SettleResponse
	if err := c.post(ctx, "/settle", payment, requirements, &out); err != nil {
		return x402.SettleResponse{}, err
	}
	log := logger.FromContext(ctx)
	log.Info().
		Bool("success", out.Success).
		Str("transaction", out.Transaction).
		Msg("facilitator: settle completed")
	return out, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payment x402.PaymentPayload, requirements x402.PaymentRequirements, out any) error {
	body, err := json.Marshal(request{
		X402Version:         x402.Version,
		PaymentPayload:      payment,
		PaymentRequirements: requirements,
	})
	if err != nil {
		return fmt.Errorf("facilitator: marshal request: %w", err)
	}

	_, err = c.breakers.Execute(circuitbreaker.ServiceFacilitator, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("facilitator: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("facilitator: %s: %w", path, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("facilitator: read %s response: %w", path, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &TerminalError{
				Status:      resp.StatusCode,
				ContentType: resp.Header.Get("Content-Type"),
				Body:        respBody,
			}
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return nil, fmt.Errorf("facilitator: decode %s response: %w", path, err)
		}
		return nil, nil
	})
	return err
}
