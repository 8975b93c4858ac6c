// Package hostlimit throttles outbound calls per upstream hostname so
// the gateway stays inside the limits of the servers it fronts.
package hostlimit

import (
	"context"
	"sync"
	"time"

	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/internal/logger"
)

const window = time.Minute

type bucket struct {
	windowResetAt    time.Time
	lastRequestAt    time.Time
	requestsInWindow int
}

// Limiter hands out permission for outbound calls, one bucket per
// hostname. Acquire blocks cooperatively until a slot is free or the
// context is cancelled.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	cfg     config.HostLimitConfig
	now     func() time.Time
}

func New(cfg config.HostLimitConfig) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Acquire blocks until the caller may issue exactly one request to
// host. It returns ctx.Err() if the context is cancelled while waiting.
func (l *Limiter) Acquire(ctx context.Context, host string) error {
	log := logger.FromContext(ctx)
	waited := false
	for {
		wait, ok := l.tryTake(host)
		if ok {
			if waited {
				log.Debug().Str("host", host).Msg("hostlimit: slot acquired after wait")
			}
			return nil
		}
		waited = true
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryTake attempts to take a slot. On refusal it returns how long to
// wait before re-evaluating.
func (l *Limiter) tryTake(host string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[host]
	if !ok {
		b = &bucket{}
		l.buckets[host] = b
	}

	now := l.now()
	if now.After(b.windowResetAt) {
		b.windowResetAt = now.Add(window)
		b.requestsInWindow = 0
		b.lastRequestAt = time.Time{}
	}

	minDelay := l.cfg.MinRequestDelay.Duration
	sinceLast := now.Sub(b.lastRequestAt)
	if !b.lastRequestAt.IsZero() && sinceLast < minDelay {
		return minDelay - sinceLast, false
	}
	if b.requestsInWindow >= l.cfg.MaxRequestsPerMinute {
		// Pacing delay has elapsed but the window is full; wait for
		// the window to roll over.
		return b.windowResetAt.Sub(now), false
	}

	b.requestsInWindow++
	b.lastRequestAt = now
	return 0, true
}
