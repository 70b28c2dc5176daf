package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestDeliveryLimiterAllowWithinSecond(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_000, 0)
	limiter, err := newDeliveryLimiter(rdb, 2, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newDeliveryLimiter() error = %v", err)
	}

	for i, want := range []bool{true, true, false} {
		allowed, err := limiter.Allow(context.Background(), "push.example.com")
		if err != nil {
			t.Fatalf("Allow() #%d error = %v", i+1, err)
		}
		if allowed != want {
			t.Fatalf("Allow() #%d = %v, want %v", i+1, allowed, want)
		}
	}

	now = now.Add(time.Second)
	allowed, err := limiter.Allow(context.Background(), "push.example.com")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("next second should allow delivery")
	}
}

func TestDeliveryLimiterScopesAreIndependent(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_100, 0)
	limiter, err := newDeliveryLimiter(rdb, 1, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newDeliveryLimiter() error = %v", err)
	}

	if allowed, _ := limiter.Allow(context.Background(), "a.example.com"); !allowed {
		t.Fatal("first delivery to a should be allowed")
	}
	if allowed, _ := limiter.Allow(context.Background(), "B.example.com "); !allowed {
		t.Fatal("first delivery to b should be allowed")
	}
	if allowed, _ := limiter.Allow(context.Background(), "b.example.com"); allowed {
		t.Fatal("second delivery to b should be throttled")
	}
}

func TestDeliveryLimiterAllowRequiresScope(t *testing.T) {
	t.Parallel()

	limiter, err := newDeliveryLimiter(newTestRedisClient(t), 1, nil, nil)
	if err != nil {
		t.Fatalf("newDeliveryLimiter() error = %v", err)
	}
	if _, err := limiter.Allow(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty scope")
	}
}

func TestDeliveryLimiterWaitSleepsUntilNextWindow(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_200, 0)
	sleeps := 0
	limiter, err := newDeliveryLimiter(
		rdb,
		1,
		func() time.Time { return now },
		func(ctx context.Context, d time.Duration) error {
			sleeps++
			now = now.Add(time.Second)
			return nil
		},
	)
	if err != nil {
		t.Fatalf("newDeliveryLimiter() error = %v", err)
	}

	if allowed, _ := limiter.Allow(context.Background(), "push"); !allowed {
		t.Fatal("expected first call to be allowed")
	}
	if err := limiter.Wait(context.Background(), "push"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if sleeps != 1 {
		t.Fatalf("sleeps = %d, want 1", sleeps)
	}
}

func TestDeliveryLimiterWaitHonorsDeadline(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_300, 0)
	limiter, err := newDeliveryLimiter(rdb, 1, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newDeliveryLimiter() error = %v", err)
	}
	if allowed, _ := limiter.Allow(context.Background(), "push"); !allowed {
		t.Fatal("expected first call to be allowed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err = limiter.Wait(ctx, "push")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb
}
