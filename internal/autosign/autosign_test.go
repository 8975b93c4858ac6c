package autosign

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mcpay/gateway/internal/circuitbreaker"
	"github.com/mcpay/gateway/internal/config"
)

func newSigner(url string) *HTTPSigner {
	return NewHTTPSigner(config.PaymentsConfig{
		AutoSignURL:     url,
		AutoSignTimeout: config.Duration{Duration: 5 * time.Second},
	}, circuitbreaker.NewManagerFromConfig(config.CircuitBreakerConfig{}))
}

func TestSignRoundTrip(t *testing.T) {
	var got Intent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode intent: %v", err)
		}
		json.NewEncoder(w).Encode(Result{
			Success:             true,
			SignedPaymentHeader: "eyJ4NDAyVmVyc2lvbiI6MX0=",
			WalletAddress:       "0x857b06519E91e3A54538791bDbb0E22373e36b66",
			Strategy:            "cdp-managed",
		})
	}))
	defer srv.Close()

	intent := Intent{
		MaxAmountRequired: "0.05",
		Network:           "base-sepolia",
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		PayTo:             "0x1111111111111111111111111111111111111111",
		Resource:          "mcpay://echo",
		Description:       "Execution of echo",
	}
	result, err := newSigner(srv.URL).Sign(context.Background(), intent)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !result.Success || result.SignedPaymentHeader == "" {
		t.Errorf("result = %+v", result)
	}
	if got.Resource != "mcpay://echo" || got.MaxAmountRequired != "0.05" {
		t.Errorf("intent sent = %+v", got)
	}
}

func TestSignDeclined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Result{Success: false, Error: "spending limit exceeded"})
	}))
	defer srv.Close()

	result, err := newSigner(srv.URL).Sign(context.Background(), Intent{})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if result.Success || result.Error != "spending limit exceeded" {
		t.Errorf("result = %+v", result)
	}
}

func TestSignServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := newSigner(srv.URL).Sign(context.Background(), Intent{}); err == nil {
		t.Fatal("expected error for 500 from signer")
	}
}

func TestSignUnconfigured(t *testing.T) {
	s := newSigner("")
	if s.Enabled() {
		t.Error("Enabled() = true with empty URL")
	}
	if _, err := s.Sign(context.Background(), Intent{}); err == nil {
		t.Error("expected error when unconfigured")
	}
}
