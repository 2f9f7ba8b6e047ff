package connection

import (
	"context"
	"testing"
	"time"
)

func TestPeerRateLimiterUnlimitedByDefault(t *testing.T) {
	l := NewPeerRateLimiter(0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "peer-1", 1<<20); err != nil {
		t.Fatalf("Wait with rate 0 should be a no-op, got %v", err)
	}
}

func TestPeerRateLimiterThrottlesLargeSend(t *testing.T) {
	l := NewPeerRateLimiter(10, 10) // 10 bytes/sec, burst 10
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// First 10 bytes consume the burst instantly.
	if err := l.Wait(context.Background(), "peer-1", 10); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	// A second call within the short deadline should block past it and
	// return the context's deadline error.
	if err := l.Wait(ctx, "peer-1", 10); err == nil {
		t.Fatalf("expected the rate limiter to block past the deadline")
	}
}

func TestPeerRateLimiterForget(t *testing.T) {
	l := NewPeerRateLimiter(10, 10)
	l.limiter("peer-1")
	l.Forget("peer-1")
	if _, ok := l.limiters["peer-1"]; ok {
		t.Fatalf("expected limiter to be forgotten")
	}
}
