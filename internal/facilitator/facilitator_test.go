package facilitator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mcpay/gateway/internal/circuitbreaker"
	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/pkg/x402"
)

func testPayment() x402.PaymentPayload {
	return x402.PaymentPayload{
		X402Version: x402.Version,
		Scheme:      x402.SchemeExact,
		Network:     "base-sepolia",
		Payload: x402.ExactPayload{
			Signature: "0xsig",
			Authorization: x402.Authorization{
				From:        "0x857b06519E91e3A54538791bDbb0E22373e36b66",
				To:          "0x1111111111111111111111111111111111111111",
				Value:       "50000",
				ValidAfter:  "0",
				ValidBefore: "99999999999",
				Nonce:       "0xabc",
			},
		},
	}
}

func testRequirements() x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           "base-sepolia",
		MaxAmountRequired: "50000",
		Resource:          "mcpay://echo",
		PayTo:             "0x1111111111111111111111111111111111111111",
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	}
}

func newClient(baseURL string) *HTTPClient {
	return NewHTTPClient(config.PaymentsConfig{
		FacilitatorURL:     baseURL,
		FacilitatorTimeout: config.Duration{Duration: 5 * time.Second},
	}, circuitbreaker.NewManagerFromConfig(config.CircuitBreakerConfig{}))
}

func TestVerifySendsWireFormat(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(x402.VerifyResponse{IsValid: true, Payer: got.PaymentPayload.Payload.Authorization.From})
	}))
	defer srv.Close()

	resp, err := newClient(srv.URL).Verify(context.Background(), testPayment(), testRequirements())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !resp.IsValid {
		t.Error("isValid = false")
	}
	if got.X402Version != x402.Version {
		t.Errorf("x402Version = %d", got.X402Version)
	}
	if got.PaymentRequirements.MaxAmountRequired != "50000" {
		t.Errorf("requirements = %+v", got.PaymentRequirements)
	}
}

func TestSettleReportsFailureReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/settle" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(x402.SettleResponse{Success: false, ErrorReason: "insufficient_funds"})
	}))
	defer srv.Close()

	resp, err := newClient(srv.URL).Settle(context.Background(), testPayment(), testRequirements())
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if resp.Success || resp.ErrorReason != "insufficient_funds" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestNon2xxBecomesTerminalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"malformed payload"}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Verify(context.Background(), testPayment(), testRequirements())
	var terminal *TerminalError
	if !errors.As(err, &terminal) {
		t.Fatalf("err = %v, want TerminalError", err)
	}
	if terminal.Status != http.StatusBadRequest {
		t.Errorf("status = %d", terminal.Status)
	}
	if string(terminal.Body) != `{"error":"malformed payload"}` {
		t.Errorf("body = %s", terminal.Body)
	}
}

func TestNetworkErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	_, err := newClient(srv.URL).Settle(context.Background(), testPayment(), testRequirements())
	if err == nil {
		t.Fatal("expected network error")
	}
	var terminal *TerminalError
	if errors.As(err, &terminal) {
		t.Error("network error misclassified as terminal response")
	}
}
