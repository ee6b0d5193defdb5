package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"
)

// TestNewRateLimiterStartsFull verifies the bucket starts at full capacity.
func TestNewRateLimiterStartsFull(t *testing.T) {
	rl := NewRateLimiter(1.0, 10.0)
	tokens := rl.GetCurrentTokens()
	if tokens < 9.9 { // Allow small float imprecision
		t.Errorf("expected ~10 tokens, got %.2f", tokens)
	}
}

// TestTryAcquireConsumesToken verifies token consumption.
func TestTryAcquireConsumesToken(t *testing.T) {
	rl := NewRateLimiter(1.0, 5.0)

	// Should succeed 5 times (burst capacity)
	for i := 0; i < 5; i++ {
		if !rl.tryAcquire() {
			t.Fatalf("tryAcquire() failed on attempt %d", i+1)
		}
	}

	// 6th should fail (bucket exhausted, no time for refill)
	if rl.tryAcquire() {
		t.Error("tryAcquire() should fail when bucket is empty")
	}
}

// TestTokenRefill verifies tokens refill over time.
func TestTokenRefill(t *testing.T) {
	rl := NewRateLimiter(10.0, 10.0) // 10 tokens/sec

	// Drain all tokens
	for i := 0; i < 10; i++ {
		rl.tryAcquire()
	}

	// Wait for partial refill
	time.Sleep(200 * time.Millisecond) // Should refill ~2 tokens

	tokens := rl.GetCurrentTokens()
	if tokens < 1.5 || tokens > 3.0 {
		t.Errorf("expected ~2 tokens after 200ms at 10/sec, got %.2f", tokens)
	}
}

// TestTokenRefillCapsAtMax verifies tokens don't exceed max capacity.
func TestTokenRefillCapsAtMax(t *testing.T) {
	rl := NewRateLimiter(100.0, 5.0) // Very fast refill, low max

	// Wait a bit to accumulate
	time.Sleep(100 * time.Millisecond)

	tokens := rl.GetCurrentTokens()
	if tokens > 5.1 { // Allow tiny float imprecision
		t.Errorf("tokens should cap at 5, got %.2f", tokens)
	}
}

// TestWaitBlocksUntilTokenAvailable verifies Wait blocks and then succeeds.
func TestWaitBlocksUntilTokenAvailable(t *testing.T) {
	rl := NewRateLimiter(10.0, 1.0) // 10 tokens/sec, 1 max

	// Consume the only token
	rl.tryAcquire()

	// Wait should block briefly then succeed
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := rl.Wait(ctx)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Wait() returned error: %v", err)
	}

	// Should have waited ~100ms (1 token / 10 tokens/sec)
	if elapsed < 50*time.Millisecond || elapsed > 300*time.Millisecond {
		t.Errorf("Wait() took %v, expected ~100ms", elapsed)
	}
}

// TestWaitRespectsContextCancellation verifies Wait returns on context cancel.
func TestWaitRespectsContextCancellation(t *testing.T) {
	rl := NewRateLimiter(0.1, 1.0) // Very slow refill

	// Consume the only token
	rl.tryAcquire()

	// Cancel context quickly
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx)
	if err == nil {
		t.Error("Wait() should return error when context is cancelled")
	}
	if err != context.DeadlineExceeded {
		t.Errorf("Wait() error = %v, want context.DeadlineExceeded", err)
	}
}

// TestDrainEmptiesBucket verifies Drain sets tokens to zero.
func TestDrainEmptiesBucket(t *testing.T) {
	rl := NewRateLimiter(1.0, 100.0)

	// Verify bucket starts full
	if tokens := rl.GetCurrentTokens(); tokens < 99.0 {
		t.Fatalf("expected ~100 tokens at start, got %.2f", tokens)
	}

	rl.Drain()

	// Should be zero (allow tiny refill from time between Drain and GetCurrentTokens)
	tokens := rl.GetCurrentTokens()
	if tokens > 0.1 {
		t.Errorf("after Drain: tokens = %.2f, want ~0", tokens)
	}
}

// TestDrainCausesWaitToBlock verifies that after Drain, Wait blocks until refill.
func TestDrainCausesWaitToBlock(t *testing.T) {
	rl := NewRateLimiter(10.0, 10.0) // 10/sec refill

	rl.Drain()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := rl.Wait(ctx)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Wait() after Drain returned error: %v", err)
	}

	// Should have waited ~100ms for 1 token at 10/sec
	if elapsed < 50*time.Millisecond {
		t.Errorf("Wait() after Drain completed too quickly: %v", elapsed)
	}
}

// TestSetCooldown verifies cooldown blocks Wait.
func TestSetCooldown(t *testing.T) {
	rl := NewRateLimiter(100.0, 100.0) // Very fast, plenty of tokens

	// Set a short cooldown
	rl.SetCooldown(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	start := time.Now()
	err := rl.Wait(ctx)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Wait() during cooldown returned error: %v", err)
	}

	// Should have waited ~200ms for cooldown
	if elapsed < 150*time.Millisecond || elapsed > 400*time.Millisecond {
		t.Errorf("Wait() during cooldown took %v, expected ~200ms", elapsed)
	}
}

// TestCooldownMergeDoesNotShorten verifies merge semantics.
func TestCooldownMergeDoesNotShorten(t *testing.T) {
	rl := NewRateLimiter(100.0, 100.0)

	// Set a 500ms cooldown
	rl.SetCooldown(500 * time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	// Try to shorten with a 100ms cooldown, should be ignored
	rl.SetCooldown(100 * time.Millisecond)

	remaining := rl.CooldownRemaining()
	// Should still have ~400-450ms remaining, not ~100ms
	if remaining < 350*time.Millisecond {
		t.Errorf("cooldown shortened to %v, should still be ~400ms+", remaining)
	}
}

// TestCooldownRemaining returns zero when no cooldown active.
func TestCooldownRemainingNoCooldown(t *testing.T) {
	rl := NewRateLimiter(1.0, 1.0)

	if d := rl.CooldownRemaining(); d != 0 {
		t.Errorf("CooldownRemaining() = %v, want 0", d)
	}
}

// TestConcurrentAccess verifies thread safety under contention.
func TestConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(100.0, 50.0) // Fast refill

	var wg sync.WaitGroup
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Launch 20 goroutines all trying to acquire tokens
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := rl.Wait(ctx); err != nil {
					return // Context cancelled, that's fine
				}
			}
		}()
	}

	wg.Wait()
	// If we get here without deadlock or panic, the test passes
}

// TestNewAPIRateLimiter verifies the API limiter starts with its burst capacity.
func TestNewAPIRateLimiter(t *testing.T) {
	rl := NewAPIRateLimiter()
	if tokens := rl.GetCurrentTokens(); tokens < 19.9 {
		t.Errorf("expected ~20 tokens, got %.2f", tokens)
	}
}

// TestRetryAfterParsing verifies Retry-After values are turned into cooldowns.
func TestRetryAfterParsing(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"-1", 0},
		{"soon", 0},
		{fmt.Sprintf("%d", int(MaxCooldown/time.Second)+60), MaxCooldown},
	}
	for _, tt := range tests {
		if got := ParseRetryAfter(tt.value); got != tt.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestThrottledDrainsAndCoolsDown(t *testing.T) {
	rl := NewAPIRateLimiter()
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}}
	resp.Header.Set("Retry-After", "2")

	rl.Throttled(resp)

	if tokens := rl.GetCurrentTokens(); tokens > 1 {
		t.Errorf("tokens after throttle = %.2f, want bucket drained", tokens)
	}
	if d := rl.CooldownRemaining(); d < time.Second || d > 2*time.Second {
		t.Errorf("CooldownRemaining() = %v, want about 2s", d)
	}
}
