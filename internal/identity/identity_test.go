package identity

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/internal/store"
)

const evmAddr = "0x857b06519E91e3A54538791bDbb0E22373e36b66"

func seededResolver(t *testing.T, secret string) (*Resolver, *store.MemoryStore) {
	t.Helper()
	m := store.NewMemoryStore()
	m.AddUser(store.User{ID: "u1", DisplayName: "Alice"})
	m.AddWallet(store.Wallet{ID: "w1", UserID: "u1", Address: evmAddr, IsPrimary: true, Active: true})
	m.AddAPIKey(store.APIKey{ID: "k1", UserID: "u1", KeyHash: HashKey("sk_live_abc"), Active: true})
	return NewResolver(m, config.SessionConfig{JWTSecret: secret}), m
}

func sessionToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestResolveAPIKeySources(t *testing.T) {
	r, _ := seededResolver(t, "")
	ctx := context.Background()
	base, _ := url.Parse("https://gw.example/mcp/srv1")

	tests := []struct {
		name   string
		header http.Header
		url    string
		body   []byte
	}{
		{"x-api-key header", http.Header{"X-Api-Key": {"sk_live_abc"}}, "", nil},
		{"bearer", http.Header{"Authorization": {"Bearer sk_live_abc"}}, "", nil},
		{"query param", http.Header{}, "https://gw.example/mcp/srv1?api_key=sk_live_abc", nil},
		{"body field", http.Header{}, "", []byte(`{"api_key":"sk_live_abc","jsonrpc":"2.0"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := base
			if tt.url != "" {
				u, _ = url.Parse(tt.url)
			}
			id := r.Resolve(ctx, tt.header, u, tt.body)
			if id.Method != MethodAPIKey {
				t.Fatalf("method = %s, want api_key", id.Method)
			}
			if id.User == nil || id.User.ID != "u1" {
				t.Errorf("user = %+v", id.User)
			}
			if id.Wallet == nil || id.Wallet.Address != evmAddr {
				t.Errorf("wallet = %+v", id.Wallet)
			}
		})
	}
}

func TestResolvePriorityAPIKeyBeatsWallet(t *testing.T) {
	r, _ := seededResolver(t, "")
	header := http.Header{
		"X-Api-Key":        {"sk_live_abc"},
		"X-Wallet-Address": {evmAddr},
	}
	id := r.Resolve(context.Background(), header, nil, nil)
	if id.Method != MethodAPIKey {
		t.Errorf("method = %s, want api_key when both sources present", id.Method)
	}
}

func TestResolveInvalidKeyFallsThrough(t *testing.T) {
	r, _ := seededResolver(t, "")
	header := http.Header{
		"X-Api-Key":        {"sk_wrong"},
		"X-Wallet-Address": {evmAddr},
	}
	id := r.Resolve(context.Background(), header, nil, nil)
	if id.Method != MethodWalletHeader {
		t.Errorf("method = %s, want wallet_header after key miss", id.Method)
	}
	if id.User == nil || id.User.ID != "u1" {
		t.Errorf("user = %+v", id.User)
	}
}

func TestResolveSession(t *testing.T) {
	const secret = "test-secret"
	r, _ := seededResolver(t, secret)
	ctx := context.Background()

	header := http.Header{"X-Session-Token": {sessionToken(t, secret, "u1")}}
	id := r.Resolve(ctx, header, nil, nil)
	if id.Method != MethodSession || id.User == nil || id.User.ID != "u1" {
		t.Fatalf("id = %+v", id)
	}

	header = http.Header{}
	header.Set("Cookie", SessionCookie+"="+sessionToken(t, secret, "u1"))
	id = r.Resolve(ctx, header, nil, nil)
	if id.Method != MethodSession {
		t.Errorf("cookie session: method = %s", id.Method)
	}

	header = http.Header{"X-Session-Token": {sessionToken(t, "other-secret", "u1")}}
	id = r.Resolve(ctx, header, nil, nil)
	if id.Method != MethodNone {
		t.Errorf("bad signature: method = %s, want none", id.Method)
	}
}

func TestResolveWalletCreatesUser(t *testing.T) {
	m := store.NewMemoryStore()
	r := NewResolver(m, config.SessionConfig{})
	const fresh = "0x1111111111111111111111111111111111111111"

	header := http.Header{"X-Wallet-Address": {fresh}}
	id := r.Resolve(context.Background(), header, nil, nil)
	if id.Method != MethodWalletHeader {
		t.Fatalf("method = %s", id.Method)
	}
	if id.User == nil || id.User.WalletAddress != fresh {
		t.Fatalf("user = %+v", id.User)
	}
	if id.Wallet == nil || id.Wallet.Blockchain != "evm" {
		t.Errorf("wallet = %+v", id.Wallet)
	}

	// Second request resolves the same user.
	again := r.Resolve(context.Background(), header, nil, nil)
	if again.User == nil || again.User.ID != id.User.ID {
		t.Errorf("second resolve created a new user: %+v vs %+v", again.User, id.User)
	}
}

func TestResolveLegacyWalletMigrates(t *testing.T) {
	m := store.NewMemoryStore()
	m.AddUser(store.User{ID: "u-old", WalletAddress: evmAddr})
	r := NewResolver(m, config.SessionConfig{})

	header := http.Header{"X-Wallet-Address": {evmAddr}}
	id := r.Resolve(context.Background(), header, nil, nil)
	if id.Method != MethodWalletHeader || id.User == nil || id.User.ID != "u-old" {
		t.Fatalf("id = %+v", id)
	}
	if id.Wallet == nil || !id.Wallet.Legacy {
		t.Errorf("wallet should be migrated legacy row: %+v", id.Wallet)
	}
}

func TestResolveNone(t *testing.T) {
	r, _ := seededResolver(t, "")
	id := r.Resolve(context.Background(), http.Header{}, nil, nil)
	if id.Method != MethodNone || id.User != nil {
		t.Errorf("id = %+v", id)
	}
}

func TestDetectChain(t *testing.T) {
	tests := []struct {
		address string
		want    Chain
	}{
		{evmAddr, ChainEVM},
		{"0xZZ57b06519E91e3A54538791bDbb0E22373e36b6", ChainUnknown},
		{"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", ChainSolana},
		{"alice.near", ChainNEAR},
		{"98793cd91a3f870fb126f66285808c7e094afcfc4eda8a970f6648cdf0dbd6de", ChainNEAR},
		{"not-an-address", ChainUnknown},
		{"", ChainUnknown},
	}
	for _, tt := range tests {
		if got := DetectChain(tt.address); got != tt.want {
			t.Errorf("DetectChain(%q) = %q, want %q", tt.address, got, tt.want)
		}
	}
}

func TestHashKeyDeterministic(t *testing.T) {
	a, b := HashKey("sk_live_abc"), HashKey("sk_live_abc")
	if a != b {
		t.Error("hash not deterministic")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
	if HashKey("sk_live_abd") == a {
		t.Error("distinct keys collide")
	}
}
