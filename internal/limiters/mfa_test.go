package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMFALimiterTest(t *testing.T, cfg MFALimiterConfig) (*MFALimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewMFALimiter(rdb, cfg), mr
}

func TestMFALimiterBlocksAfterBudget(t *testing.T) {
	l, _ := newMFALimiterTest(t, MFALimiterConfig{MaxAttempts: 3, Cooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.RecordFailure(ctx, "user", "u-1"); err != nil {
			t.Fatalf("failure %d: %v", i+1, err)
		}
		if err := l.Check(ctx, "user", "u-1"); err != nil {
			t.Fatalf("check after %d failures: %v", i+1, err)
		}
	}
	if err := l.RecordFailure(ctx, "user", "u-1"); !errors.Is(err, ErrMFARateLimited) {
		t.Fatalf("expected ErrMFARateLimited on last failure, got %v", err)
	}
	if err := l.Check(ctx, "user", "u-1"); !errors.Is(err, ErrMFARateLimited) {
		t.Fatalf("expected ErrMFARateLimited, got %v", err)
	}
}

func TestMFALimiterKeysAreScopedByKind(t *testing.T) {
	l, _ := newMFALimiterTest(t, MFALimiterConfig{MaxAttempts: 1, Cooldown: time.Minute})
	ctx := context.Background()

	_ = l.RecordFailure(ctx, "user", "same-id")
	if err := l.Check(ctx, "admin", "same-id"); err != nil {
		t.Fatalf("admin subject should not share the user budget: %v", err)
	}
}

func TestMFALimiterWindowExpires(t *testing.T) {
	l, mr := newMFALimiterTest(t, MFALimiterConfig{MaxAttempts: 1, Cooldown: time.Minute})
	ctx := context.Background()

	_ = l.RecordFailure(ctx, "user", "u-1")
	if err := l.Check(ctx, "user", "u-1"); !errors.Is(err, ErrMFARateLimited) {
		t.Fatalf("expected limited, got %v", err)
	}
	mr.FastForward(61 * time.Second)
	if err := l.Check(ctx, "user", "u-1"); err != nil {
		t.Fatalf("expected window to expire, got %v", err)
	}
}

func TestMFALimiterReset(t *testing.T) {
	l, _ := newMFALimiterTest(t, MFALimiterConfig{MaxAttempts: 1})
	ctx := context.Background()

	_ = l.RecordFailure(ctx, "user", "u-1")
	if err := l.Reset(ctx, "user", "u-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := l.Check(ctx, "user", "u-1"); err != nil {
		t.Fatalf("expected clean budget after reset, got %v", err)
	}
}

func TestMFALimiterUnavailable(t *testing.T) {
	l, mr := newMFALimiterTest(t, MFALimiterConfig{})
	mr.Close()

	if err := l.Check(context.Background(), "user", "u-1"); !errors.Is(err, ErrMFAUnavailable) {
		t.Fatalf("expected ErrMFAUnavailable, got %v", err)
	}
}

func TestNilMFALimiterNeverLimits(t *testing.T) {
	var l *MFALimiter
	ctx := context.Background()
	if err := l.Check(ctx, "user", "u"); err != nil {
		t.Fatalf("nil check: %v", err)
	}
	if err := l.RecordFailure(ctx, "user", "u"); err != nil {
		t.Fatalf("nil record: %v", err)
	}
	if err := l.Reset(ctx, "user", "u"); err != nil {
		t.Fatalf("nil reset: %v", err)
	}
}
