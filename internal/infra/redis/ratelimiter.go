package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/calendar-push/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultDeliveriesPerSec int64 = 50
	waitStep                      = 10 * time.Millisecond
	waitMax                       = 100 * time.Millisecond
	windowSeconds                 = 1
)

// allowScript counts deliveries in a one-second bucket shared by all replicas.
var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*DeliveryLimiter)(nil)

// DeliveryLimiter caps push deliveries per second across every process sharing Redis.
type DeliveryLimiter struct {
	client    *goredis.Client
	perSecond int64
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewDeliveryLimiter(client *goredis.Client, perSecond int) (*DeliveryLimiter, error) {
	return newDeliveryLimiter(client, int64(perSecond), time.Now, sleepWithContext)
}

func newDeliveryLimiter(
	client *goredis.Client,
	perSecond int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*DeliveryLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if perSecond <= 0 {
		perSecond = defaultDeliveriesPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &DeliveryLimiter{
		client:    client,
		perSecond: perSecond,
		now:       nowFn,
		sleep:     sleepFn,
	}, nil
}

func (l *DeliveryLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	if l == nil || l.client == nil {
		return false, fmt.Errorf("delivery limiter is not initialized")
	}

	normalized := strings.ToLower(strings.TrimSpace(scope))
	if normalized == "" {
		return false, fmt.Errorf("rate limit scope is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := fmt.Sprintf("push:ratelimit:%s:%d", normalized, l.now().UTC().Unix())
	allowed, err := allowScript.Run(ctx, l.client, []string{key}, l.perSecond, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate delivery rate: %w", err)
	}

	return allowed == 1, nil
}

func (l *DeliveryLimiter) Wait(ctx context.Context, scope string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	step := waitStep
	for {
		allowed, err := l.Allow(ctx, scope)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := l.sleep(ctx, step); err != nil {
			return err
		}

		step = min(step+waitStep, waitMax)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
