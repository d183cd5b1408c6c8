package redis

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	limiter := NewRateLimiter(client, zap.NewNop(), RateLimitConfig{
		Limit:  5,
		Window: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, "owner:+15551234567")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("request %d rejected under the limit", i)
		}
	}
}

func TestRateLimiter_RejectsOverLimit(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	limiter := NewRateLimiter(client, zap.NewNop(), RateLimitConfig{
		Limit:  3,
		Window: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := limiter.Allow(ctx, "owner:x"); err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
	}

	result, err := limiter.Allow(ctx, "owner:x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Error("request over the limit was allowed")
	}
	if result.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", result.Remaining)
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	limiter := NewRateLimiter(client, zap.NewNop(), RateLimitConfig{
		Limit:  1,
		Window: time.Minute,
	})
	ctx := context.Background()

	if _, err := limiter.Allow(ctx, "owner:a"); err != nil {
		t.Fatalf("owner:a allow: %v", err)
	}

	result, err := limiter.Allow(ctx, "owner:b")
	if err != nil {
		t.Fatalf("owner:b allow: %v", err)
	}
	if !result.Allowed {
		t.Error("owner:b rejected by owner:a's usage")
	}
}
