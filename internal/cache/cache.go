// Package cache holds short-lived upstream responses so repeated reads
// against the same MCP server do not burn its rate limits.
package cache

import (
	"encoding/base64"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mcpay/gateway/internal/config"
)

// Entry is a stored upstream response. Status, headers and body are
// captured byte-identical at write time.
type Entry struct {
	Status    int
	Header    http.Header
	Body      []byte
	ExpiresAt time.Time
}

// Cache is an in-memory response cache with per-host TTLs. Eviction is
// a sweep of expired entries once the entry count passes MaxEntries.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	cfg     config.CacheConfig
	now     func() time.Time
}

func New(cfg config.CacheConfig) *Cache {
	return &Cache{
		entries: make(map[string]Entry),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Key builds the cache key for a request. The body fingerprint is the
// base64 of the first 32 bytes; GET bodies are empty so the fingerprint
// collapses to "".
func Key(method, rawURL string, body []byte) string {
	fp := ""
	if len(body) > 0 {
		head := body
		if len(head) > 32 {
			head = head[:32]
		}
		fp = base64.StdEncoding.EncodeToString(head)
	}
	return method + ":" + rawURL + ":" + fp
}

// Get returns the entry for key if the request is a GET and the entry
// has not expired.
func (c *Cache) Get(method, key string) (Entry, bool) {
	if method != http.MethodGet {
		return Entry{}, false
	}
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(e.ExpiresAt) {
		return Entry{}, false
	}
	return e, true
}

// Put stores an upstream response. Only successful GET responses are
// cached; oversized bodies and, unless configured otherwise, paid tool
// calls are skipped.
func (c *Cache) Put(method, key, upstreamHost string, paid bool, status int, header http.Header, body []byte) bool {
	if method != http.MethodGet || status >= 400 {
		return false
	}
	if paid && !c.cfg.AllowPaid {
		return false
	}
	if c.cfg.MaxBodyBytes > 0 && int64(len(body)) > c.cfg.MaxBodyBytes {
		return false
	}

	stored := Entry{
		Status:    status,
		Header:    header.Clone(),
		Body:      append([]byte(nil), body...),
		ExpiresAt: c.now().Add(c.ttlFor(upstreamHost)),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = stored
	if len(c.entries) > c.cfg.MaxEntries {
		c.sweepLocked()
	}
	return true
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) ttlFor(host string) time.Duration {
	host = strings.ToLower(host)
	switch {
	case strings.Contains(host, "coingecko.com"):
		return c.cfg.CoingeckoTTL.Duration
	case strings.HasPrefix(host, "api."):
		return c.cfg.APITTL.Duration
	default:
		return c.cfg.DefaultTTL.Duration
	}
}

func (c *Cache) sweepLocked() {
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.ExpiresAt) {
			delete(c.entries, k)
		}
	}
}
