package hostlimit

import (
	"context"
	"testing"
	"time"

	"github.com/mcpay/gateway/internal/config"
)

func testLimiter(max int, minDelay time.Duration) (*Limiter, *time.Time) {
	l := New(config.HostLimitConfig{
		MaxRequestsPerMinute: max,
		MinRequestDelay:      config.Duration{Duration: minDelay},
	})
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestTakeImmediateWhenIdle(t *testing.T) {
	l, _ := testLimiter(30, time.Second)
	if wait, ok := l.tryTake("u.example"); !ok {
		t.Fatalf("fresh bucket refused, wait = %v", wait)
	}
}

func TestMinDelayEnforced(t *testing.T) {
	l, now := testLimiter(30, time.Second)
	l.tryTake("u.example")

	*now = now.Add(400 * time.Millisecond)
	wait, ok := l.tryTake("u.example")
	if ok {
		t.Fatal("second take allowed inside min delay")
	}
	if wait != 600*time.Millisecond {
		t.Errorf("wait = %v, want 600ms", wait)
	}

	*now = now.Add(600 * time.Millisecond)
	if _, ok := l.tryTake("u.example"); !ok {
		t.Error("take refused after min delay elapsed")
	}
}

func TestWindowCap(t *testing.T) {
	l, now := testLimiter(3, time.Millisecond)
	for i := 0; i < 3; i++ {
		if _, ok := l.tryTake("u.example"); !ok {
			t.Fatalf("take %d refused", i)
		}
		*now = now.Add(time.Second)
	}

	wait, ok := l.tryTake("u.example")
	if ok {
		t.Fatal("take allowed past window cap")
	}
	if wait <= 0 || wait > time.Minute {
		t.Errorf("wait = %v, want time until window reset", wait)
	}

	// Window rollover resets the counter.
	*now = now.Add(wait + time.Millisecond)
	if _, ok := l.tryTake("u.example"); !ok {
		t.Error("take refused after window reset")
	}
}

func TestBucketsAreIndependent(t *testing.T) {
	l, _ := testLimiter(30, time.Second)
	l.tryTake("a.example")
	if _, ok := l.tryTake("b.example"); !ok {
		t.Error("second host throttled by first host's bucket")
	}
}

func TestAcquireHonorsCancellation(t *testing.T) {
	l := New(config.HostLimitConfig{
		MaxRequestsPerMinute: 30,
		MinRequestDelay:      config.Duration{Duration: 10 * time.Second},
	})
	if err := l.Acquire(context.Background(), "u.example"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := l.Acquire(ctx, "u.example")
	if err != context.DeadlineExceeded {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation did not abort the wait")
	}
}
