package cache

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/mcpay/gateway/internal/config"
)

func testConfig() config.CacheConfig {
	return config.CacheConfig{
		DefaultTTL:   config.Duration{Duration: 30 * time.Second},
		CoingeckoTTL: config.Duration{Duration: 60 * time.Second},
		APITTL:       config.Duration{Duration: 45 * time.Second},
		MaxEntries:   100,
		MaxBodyBytes: 1 << 20,
	}
}

func TestKey(t *testing.T) {
	get := Key(http.MethodGet, "https://u.example/rpc", nil)
	if get != "GET:https://u.example/rpc:" {
		t.Errorf("GET key = %q", get)
	}

	body := []byte(`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"x"}}`)
	a := Key(http.MethodPost, "https://u.example/rpc", body)
	b := Key(http.MethodPost, "https://u.example/rpc", body)
	if a != b {
		t.Error("same body produced different keys")
	}

	// Fingerprint covers only the first 32 bytes.
	prefix := []byte("0123456789abcdef0123456789abcdef")
	one := append(append([]byte(nil), prefix...), "tail-one"...)
	two := append(append([]byte(nil), prefix...), "tail-two"...)
	if Key(http.MethodPost, "https://u.example", one) != Key(http.MethodPost, "https://u.example", two) {
		t.Error("keys differ despite identical 32-byte prefix")
	}
}

func TestGetOnlyReadsAndWrites(t *testing.T) {
	c := New(testConfig())
	key := Key(http.MethodPost, "https://u.example/rpc", []byte("{}"))

	if ok := c.Put(http.MethodPost, key, "u.example", false, 200, http.Header{}, []byte("r")); ok {
		t.Error("POST response was cached")
	}

	getKey := Key(http.MethodGet, "https://u.example/rpc", nil)
	if ok := c.Put(http.MethodGet, getKey, "u.example", false, 200, http.Header{}, []byte("r")); !ok {
		t.Fatal("GET response not cached")
	}
	if _, ok := c.Get(http.MethodPost, getKey); ok {
		t.Error("cache served a non-GET read")
	}
	if _, ok := c.Get(http.MethodGet, getKey); !ok {
		t.Error("GET read missed")
	}
}

func TestPutRejectsErrorsPaidAndOversize(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodyBytes = 8
	c := New(cfg)
	key := Key(http.MethodGet, "https://u.example", nil)

	if c.Put(http.MethodGet, key, "u.example", false, 500, http.Header{}, []byte("x")) {
		t.Error("500 response cached")
	}
	if c.Put(http.MethodGet, key, "u.example", true, 200, http.Header{}, []byte("x")) {
		t.Error("paid response cached with allow_paid=false")
	}
	if c.Put(http.MethodGet, key, "u.example", false, 200, http.Header{}, []byte("123456789")) {
		t.Error("oversize body cached")
	}

	cfg.AllowPaid = true
	c = New(cfg)
	if !c.Put(http.MethodGet, key, "u.example", true, 200, http.Header{}, []byte("x")) {
		t.Error("paid response rejected despite allow_paid=true")
	}
}

func TestEntryIsByteIdentical(t *testing.T) {
	c := New(testConfig())
	key := Key(http.MethodGet, "https://u.example", nil)
	header := http.Header{"Content-Type": {"application/json"}, "X-Upstream": {"v1"}}
	body := []byte(`{"result":{}}`)

	c.Put(http.MethodGet, key, "u.example", false, 203, header, body)

	// Mutations after the write must not leak into the entry.
	header.Set("Content-Type", "text/plain")
	body[0] = '['

	e, ok := c.Get(http.MethodGet, key)
	if !ok {
		t.Fatal("miss")
	}
	if e.Status != 203 {
		t.Errorf("status = %d", e.Status)
	}
	if got := e.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("header mutated through: %q", got)
	}
	if string(e.Body) != `{"result":{}}` {
		t.Errorf("body mutated through: %q", e.Body)
	}
}

func TestTTLSelection(t *testing.T) {
	c := New(testConfig())
	tests := []struct {
		host string
		want time.Duration
	}{
		{"api.coingecko.com", 60 * time.Second},
		{"pro.coingecko.com", 60 * time.Second},
		{"api.weather.example", 45 * time.Second},
		{"tools.example.com", 30 * time.Second},
	}
	for _, tt := range tests {
		if got := c.ttlFor(tt.host); got != tt.want {
			t.Errorf("ttlFor(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestExpiryAndSweep(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEntries = 3
	c := New(cfg)

	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		key := Key(http.MethodGet, "https://u.example/"+strconv.Itoa(i), nil)
		c.Put(http.MethodGet, key, "u.example", false, 200, http.Header{}, []byte("r"))
	}

	// Expired entries are never served.
	now = now.Add(31 * time.Second)
	if _, ok := c.Get(http.MethodGet, Key(http.MethodGet, "https://u.example/0", nil)); ok {
		t.Error("expired entry returned")
	}

	// The write that pushes the count over MaxEntries sweeps them out.
	key := Key(http.MethodGet, "https://u.example/fresh", nil)
	c.Put(http.MethodGet, key, "u.example", false, 200, http.Header{}, []byte("r"))
	if got := c.Len(); got != 1 {
		t.Errorf("entries after sweep = %d, want 1", got)
	}
	if _, ok := c.Get(http.MethodGet, key); !ok {
		t.Error("fresh entry swept")
	}
}
