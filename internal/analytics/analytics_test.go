package analytics

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcpay/gateway/internal/store"
)

func TestRecordWritesUsageRow(t *testing.T) {
	m := store.NewMemoryStore()
	r := NewRecorder(m, zerolog.Nop())

	header := http.Header{
		"User-Agent":      {"test-agent/1.0"},
		"X-Forwarded-For": {"203.0.113.9, 10.0.0.1"},
	}
	r.Record(Usage{
		ToolID:         "t1",
		UserID:         "u1",
		ResponseStatus: "200",
		StartedAt:      time.Now().Add(-150 * time.Millisecond),
		ToolName:       "echo",
		Args:           json.RawMessage(`{"x":1}`),
		AuthMethod:     "api_key",
		Header:         header,
		RemoteAddr:     "192.0.2.1:51234",
		ResponseBody:   []byte(`{"result":{"ok":true}}`),
	})
	r.Flush()

	usages := m.Usages()
	if len(usages) != 1 {
		t.Fatalf("usages = %d, want 1", len(usages))
	}
	row := usages[0]
	if row.ToolID != "t1" || row.UserID != "u1" || row.ResponseStatus != "200" {
		t.Errorf("row = %+v", row)
	}
	if row.ExecutionTimeMs < 150 {
		t.Errorf("executionTimeMs = %d, want >= 150", row.ExecutionTimeMs)
	}
	if row.IPAddress != "203.0.113.9" {
		t.Errorf("ipAddress = %q", row.IPAddress)
	}
	if row.UserAgent != "test-agent/1.0" {
		t.Errorf("userAgent = %q", row.UserAgent)
	}

	var reqData map[string]any
	if err := json.Unmarshal(row.RequestData, &reqData); err != nil {
		t.Fatalf("requestData: %v", err)
	}
	if reqData["toolName"] != "echo" || reqData["authMethod"] != "api_key" {
		t.Errorf("requestData = %v", reqData)
	}
	if string(row.Result) != `{"result":{"ok":true}}` {
		t.Errorf("result = %s", row.Result)
	}
}

func TestNonJSONResultIsWrapped(t *testing.T) {
	got := resultJSON([]byte("plain text response"))
	var wrapped map[string]string
	if err := json.Unmarshal(got, &wrapped); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if wrapped["response"] != "plain text response" {
		t.Errorf("wrapped = %v", wrapped)
	}

	if resultJSON(nil) != nil {
		t.Error("empty body should produce nil result")
	}
}

func TestClientIPFallbacks(t *testing.T) {
	tests := []struct {
		name       string
		header     http.Header
		remoteAddr string
		want       string
	}{
		{"forwarded-for", http.Header{"X-Forwarded-For": {"198.51.100.7"}}, "10.0.0.1:80", "198.51.100.7"},
		{"real-ip", http.Header{"X-Real-Ip": {"198.51.100.8"}}, "10.0.0.1:80", "198.51.100.8"},
		{"remote addr", http.Header{}, "192.0.2.5:4431", "192.0.2.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clientIP(tt.header, tt.remoteAddr); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
