// Package autosign obtains signed X-PAYMENT headers from an external
// signing service for callers with managed wallets.
package autosign

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
)

// Intent describes the payment the signer should authorize. The amount
// is human-readable, not base units.
type Intent struct {
	MaxAmountRequired string `json:"maxAmountRequired"`
	Network           string `json:"network"`
	Asset             string `json:"asset"`
	PayTo             string `json:"payTo"`
	Resource          string `json:"resource"`
	Description       string `json:"description"`
	UserID            string `json:"userId,omitempty"`
	WalletAddress     string `json:"walletAddress,omitempty"`
}

// Result is the signer's answer. SignedPaymentHeader is a ready-to-use
// X-PAYMENT value when Success is true.
type Result struct {
	Success             bool   `json:"success"`
	SignedPaymentHeader string `json:"signedPaymentHeader,omitempty"`
	WalletAddress       string `json:"walletAddress,omitempty"`
	Strategy            string `json:"strategy,omitempty"`
	Error               string `json:"error,omitempty"`
}

// Signer is the auto-signing capability consumed by PaymentPreAuth.
type Signer interface {
	Sign(ctx context.Context, intent Intent) (Result, error)
}

// HTTPSigner calls an external signing service over HTTP, guarded by a
// circuit breaker.
type HTTPSigner struct {
	url      string
	client   *http.Client
	breakers *circuitbreaker.Manager
}

func NewHTTPSigner(cfg config.PaymentsConfig, breakers *circuitbreaker.Manager) *HTTPSigner {
	return &HTTPSigner{
		url:      cfg.AutoSignURL,
		client:   httputil.NewClient(cfg.AutoSignTimeout.Duration),
		breakers: breakers,
	}
}

// Enabled reports whether a signing service is configured.
func (s *HTTPSigner) Enabled() bool { return s.url != "" }

func (s *HTTPSigner) Sign(ctx context.Context, intent Intent) (Result, error) {
	if !s.Enabled() {
		return Result{}, fmt.Errorf("autosign: no signing service configured")
	}
	body, err := json.Marshal(intent)
	if err != nil {
		return Result{}, fmt.Errorf("autosign: marshal intent: %w", err)
	}

	value, err := s.breakers.Execute(circuitbreaker.ServiceAutoSigner, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("autosign: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("autosign: sign: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("autosign: read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("autosign: signer returned status %d", resp.StatusCode)
		}
		var result Result
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, fmt.Errorf("autosign: decode response: %w", err)
		}
		return result, nil
	})
	if err != nil {
		return Result{}, err
	}

	result := value.(Result)
	log := logger.FromContext(ctx)
	log.Debug().
		Bool("success", result.Success).
		Str("strategy", result.Strategy).
		Str("wallet", logger.TruncateAddress(result.WalletAddress)).
		Msg("autosign: sign completed")
	return result, nil
}
