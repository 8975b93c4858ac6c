// Package analytics records one usage row per proxied tool call.
// Writes are fire-and-forget; a failing store never delays or fails the
// HTTP response.
package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcpay/gateway/internal/store"
)

// writeTimeout bounds each background usage write so a hung store does
// not leak goroutines indefinitely.
const writeTimeout = 10 * time.Second

// Usage is the per-request record handed to the recorder.
type Usage struct {
	ToolID         string
	UserID         string
	ResponseStatus string // numeric status or "payment_failed"
	StartedAt      time.Time
	ToolName       string
	Args           json.RawMessage
	AuthMethod     string
	Header         http.Header
	RemoteAddr     string
	ResponseBody   []byte
}

// Recorder persists usage rows in the background.
type Recorder struct {
	store store.Store
	log   zerolog.Logger
	wg    sync.WaitGroup
}

func NewRecorder(st store.Store, log zerolog.Logger) *Recorder {
	return &Recorder{store: st, log: log}
}

// Record queues one usage write and returns immediately.
func (r *Recorder) Record(u Usage) {
	row := buildRow(u)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := r.store.RecordToolUsage(ctx, row); err != nil {
			r.log.Warn().Err(err).Str("tool_id", row.ToolID).Msg("analytics: usage write failed")
		}
	}()
}

// Flush waits for in-flight writes. Used on shutdown and in tests.
func (r *Recorder) Flush() {
	r.wg.Wait()
}

func buildRow(u Usage) store.ToolUsage {
	requestData, _ := json.Marshal(map[string]any{
		"toolName":   u.ToolName,
		"args":       u.Args,
		"authMethod": u.AuthMethod,
	})
	return store.ToolUsage{
		ToolID:          u.ToolID,
		UserID:          u.UserID,
		ResponseStatus:  u.ResponseStatus,
		ExecutionTimeMs: time.Since(u.StartedAt).Milliseconds(),
		IPAddress:       clientIP(u.Header, u.RemoteAddr),
		UserAgent:       u.Header.Get("User-Agent"),
		RequestData:     requestData,
		Result:          resultJSON(u.ResponseBody),
	}
}

// resultJSON keeps the upstream body when it is already JSON and wraps
// anything else as {"response": <text>}.
func resultJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(append([]byte(nil), body...))
	}
	wrapped, _ := json.Marshal(map[string]string{"response": string(body)})
	return wrapped
}

func clientIP(header http.Header, remoteAddr string) string {
	if fwd := header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	if real := header.Get("X-Real-Ip"); real != "" {
		return real
	}
	host := remoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}
