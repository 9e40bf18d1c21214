package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/paydesk/internal/clock"
	"github.com/smallbiznis/paydesk/internal/config"
	"go.uber.org/zap"
)

func TestLocalLockerExclusive(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	locker := NewLocalLocker(clk)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "capture:C1", 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected first lock, got ok=%v err=%v", ok, err)
	}
	if _, ok, _ := locker.TryLock(ctx, "capture:C1", 30*time.Second); ok {
		t.Fatal("expected second lock to fail")
	}
	if _, ok, _ := locker.TryLock(ctx, "capture:C2", 30*time.Second); !ok {
		t.Fatal("expected other key to lock")
	}

	// A stale token does not release a newer holder.
	if err := locker.Release(ctx, "capture:C1", "other"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := locker.TryLock(ctx, "capture:C1", 30*time.Second); ok {
		t.Fatal("expected lock to still be held")
	}

	if err := locker.Release(ctx, "capture:C1", token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := locker.TryLock(ctx, "capture:C1", 30*time.Second); !ok {
		t.Fatal("expected lock after release")
	}
}

func TestLocalLockerExpires(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	locker := NewLocalLocker(clk)
	ctx := context.Background()

	if _, ok, _ := locker.TryLock(ctx, "k", time.Second); !ok {
		t.Fatal("expected lock")
	}
	clk.Advance(2 * time.Second)
	if _, ok, _ := locker.TryLock(ctx, "k", time.Second); !ok {
		t.Fatal("expected expired lock to be reacquired")
	}
}

func TestLockValidation(t *testing.T) {
	locker := NewLocalLocker(nil)
	if _, _, err := locker.TryLock(context.Background(), "", time.Second); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected empty key error, got %v", err)
	}
	if _, _, err := locker.TryLock(context.Background(), "k", 0); !errors.Is(err, ErrInvalidTTL) {
		t.Fatalf("expected ttl error, got %v", err)
	}
}

func TestNewLockerFallsBackToLocal(t *testing.T) {
	locker := NewLocker(Params{
		Config: config.Config{RefundLock: config.RefundLockRedis},
		Clock:  clock.New(),
		Log:    zap.NewNop(),
	})
	if _, ok := locker.(*LocalLocker); !ok {
		t.Fatalf("expected local locker, got %T", locker)
	}

	var redisLocker *RedisLocker
	if _, _, err := redisLocker.TryLock(context.Background(), "k", time.Second); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
}
