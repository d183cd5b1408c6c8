package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := &Client{rdb: rdb, logger: zap.NewNop()}

	return client, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestIdempotencyService_NewRequest(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	result, err := svc.CheckOrReserve(ctx, "+15551234567", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result for new request, got: %+v", result)
	}
}

func TestIdempotencyService_DuplicateInFlight(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "+15551234567", "key-1"); err != nil {
		t.Fatalf("first request failed: %v", err)
	}

	// Same key while the first creation is still processing.
	if _, err := svc.CheckOrReserve(ctx, "+15551234567", "key-1"); err != ErrDuplicateRequest {
		t.Fatalf("expected ErrDuplicateRequest, got: %v", err)
	}
}

func TestIdempotencyService_ReplaysStoredResult(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "+15551234567", "key-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	stored := &IdempotencyResult{
		ReminderID: "11111111-1111-1111-1111-111111111111",
		DueAt:      "2024-01-02T09:00:00Z",
		StatusCode: 201,
	}
	if err := svc.Store(ctx, "+15551234567", "key-1", stored); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	result, err := svc.CheckOrReserve(ctx, "+15551234567", "key-1")
	if err != nil {
		t.Fatalf("replay check failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected cached result, got nil")
	}
	if result.ReminderID != stored.ReminderID {
		t.Errorf("cached reminder id = %s, want %s", result.ReminderID, stored.ReminderID)
	}
	if result.DueAt != stored.DueAt {
		t.Errorf("cached due_at = %s, want %s", result.DueAt, stored.DueAt)
	}
}

func TestIdempotencyService_KeysScopedByOwner(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "owner-a", "shared-key"); err != nil {
		t.Fatalf("owner-a reserve failed: %v", err)
	}

	// The same key under a different owner is a fresh request.
	result, err := svc.CheckOrReserve(ctx, "owner-b", "shared-key")
	if err != nil {
		t.Fatalf("owner-b reserve failed: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result for different owner, got: %+v", result)
	}
}
