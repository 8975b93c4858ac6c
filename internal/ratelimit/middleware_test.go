package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mcpay/gateway/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestGlobalLimiter(t *testing.T) {
	cfg := config.RateLimitConfig{
		GlobalEnabled: true,
		GlobalLimit:   2,
		GlobalWindow:  config.Duration{Duration: time.Minute},
	}
	handler := GlobalLimiter(cfg, nil)(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestGlobalLimiterDisabled(t *testing.T) {
	handler := GlobalLimiter(config.RateLimitConfig{}, nil)(okHandler())
	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("disabled limiter throttled request %d", i)
		}
	}
}

func TestWalletLimiterKeysByWallet(t *testing.T) {
	cfg := config.RateLimitConfig{
		PerWalletEnabled: true,
		PerWalletLimit:   1,
		PerWalletWindow:  config.Duration{Duration: time.Minute},
	}
	handler := WalletLimiter(cfg, nil)(okHandler())

	send := func(wallet string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if wallet != "" {
			req.Header.Set("X-Wallet-Address", wallet)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	if code := send("0xaaa"); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	if code := send("0xaaa"); code != http.StatusTooManyRequests {
		t.Errorf("second request same wallet: %d, want 429", code)
	}
	if code := send("0xbbb"); code != http.StatusOK {
		t.Errorf("different wallet throttled: %d", code)
	}
	// No wallet header bypasses the wallet limiter entirely.
	if code := send(""); code != http.StatusOK {
		t.Errorf("anonymous request hit wallet limiter: %d", code)
	}
}
