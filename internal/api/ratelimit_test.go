package api

import (
	"testing"
	"time"
)

func TestRateLimiterBurst(t *testing.T) {
	rl := newRateLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !rl.allow("client") {
			t.Fatalf("request %d within burst was denied", i)
		}
	}
	if rl.allow("client") {
		t.Error("request beyond burst was allowed")
	}
}

func TestRateLimiterIsolatesKeys(t *testing.T) {
	rl := newRateLimiter(1, 1)

	if !rl.allow("a") {
		t.Fatal("first request for a denied")
	}
	if rl.allow("a") {
		t.Error("second request for a allowed")
	}
	if !rl.allow("b") {
		t.Error("exhausting a's bucket must not affect b")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := newRateLimiter(1, 1)
	rl.allow("stale")

	rl.cleanup(0)
	time.Sleep(time.Millisecond)
	rl.cleanup(0)

	rl.mu.Lock()
	n := len(rl.buckets)
	rl.mu.Unlock()
	if n != 0 {
		t.Errorf("buckets after cleanup: got %d, want 0", n)
	}
}
