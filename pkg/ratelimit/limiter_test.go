package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_BurstThenEmpty(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	frozen := time.Now()
	rl.now = func() time.Time { return frozen }
	rl.lastRefill = frozen

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("Allow() #%d = false, want true within burst", i+1)
		}
	}
	if rl.Allow() {
		t.Error("Allow() after burst should be false")
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := NewRateLimiter(2, 2)
	current := time.Now()
	rl.now = func() time.Time { return current }
	rl.lastRefill = current

	rl.Allow()
	rl.Allow()
	if rl.Allow() {
		t.Fatal("bucket should be empty")
	}

	current = current.Add(500 * time.Millisecond) // +1 токен
	if !rl.Allow() {
		t.Error("token should be refilled after 500ms at 2 req/sec")
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !rl.Allow() {
			t.Fatal("disabled limiter must always allow")
		}
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Errorf("Wait on disabled limiter: %v", err)
	}
}

func TestRateLimiter_WaitCancelled(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want DeadlineExceeded", err)
	}
}
