package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kursadbilgin/dispatch-queue/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

func TestRedisRateLimiterSlidingWindow(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.UnixMilli(1_700_000_000_000)
	limiter := newTestLimiter(t, rdb, 2, func() time.Time { return now }, sleepWithContext)
	ctx := context.Background()

	steps := []struct {
		advance time.Duration
		want    bool
	}{
		{advance: 0, want: true},
		{advance: 400 * time.Millisecond, want: true},
		{advance: 400 * time.Millisecond, want: false},
		// first grant leaves the window
		{advance: 201 * time.Millisecond, want: true},
		{advance: 0, want: false},
	}

	for i, step := range steps {
		now = now.Add(step.advance)
		allowed, err := limiter.Allow(ctx, ratelimit.BucketProvider)
		if err != nil {
			t.Fatalf("step %d: Allow() error = %v", i, err)
		}
		if allowed != step.want {
			t.Fatalf("step %d: Allow() = %v, want %v", i, allowed, step.want)
		}
	}
}

func TestRedisRateLimiterBucketsAreIndependent(t *testing.T) {
	t.Parallel()

	rdb, mr := newTestRedisClient(t)

	now := time.UnixMilli(1_700_000_100_000)
	limiter := newTestLimiter(t, rdb, 1, func() time.Time { return now }, sleepWithContext)
	ctx := context.Background()

	if allowed, err := limiter.Allow(ctx, "provider"); err != nil || !allowed {
		t.Fatalf("Allow(provider) = %v, %v, want true", allowed, err)
	}
	if allowed, err := limiter.Allow(ctx, "probe"); err != nil || !allowed {
		t.Fatalf("Allow(probe) = %v, %v, want true", allowed, err)
	}
	if allowed, err := limiter.Allow(ctx, " Provider "); err != nil || allowed {
		t.Fatalf("second Allow(provider) = %v, %v, want false", allowed, err)
	}

	key := "dispatch:ratelimit:provider"
	members, err := mr.ZMembers(key)
	if err != nil {
		t.Fatalf("ZMembers() error = %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("window members = %d, want 1 (rejected calls must not be logged)", len(members))
	}
	if ttl := mr.TTL(key); ttl != time.Second {
		t.Fatalf("window key ttl = %v, want 1s", ttl)
	}
}

func TestRedisRateLimiterWaitSleepsUntilSlotFrees(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.UnixMilli(1_700_000_200_000)
	var slept []time.Duration
	limiter := newTestLimiter(t, rdb, 1,
		func() time.Time { return now },
		func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			now = now.Add(d)
			return nil
		},
	)
	ctx := context.Background()

	if err := limiter.Wait(ctx, ratelimit.BucketProvider); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	now = now.Add(300 * time.Millisecond)
	if err := limiter.Wait(ctx, ratelimit.BucketProvider); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}

	if len(slept) != 1 {
		t.Fatalf("sleep calls = %v, want exactly one", slept)
	}
	if slept[0] != 700*time.Millisecond {
		t.Fatalf("slept %v, want 700ms", slept[0])
	}
}

func TestRedisRateLimiterWaitContextDeadline(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.UnixMilli(1_700_000_300_000)
	limiter := newTestLimiter(t, rdb, 1, func() time.Time { return now }, sleepWithContext)

	if allowed, err := limiter.Allow(context.Background(), ratelimit.BucketProvider); err != nil || !allowed {
		t.Fatalf("Allow() = %v, %v, want true", allowed, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx, ratelimit.BucketProvider)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestRedisRateLimiterRejectsEmptyBucket(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)
	limiter := newTestLimiter(t, rdb, 1, time.Now, sleepWithContext)

	if _, err := limiter.Allow(context.Background(), "  "); err == nil {
		t.Fatal("Allow(\"  \") error = nil, want error")
	}
}

func TestNewRedisRateLimiterRequiresClient(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisRateLimiter(nil, 1); err == nil {
		t.Fatal("NewRedisRateLimiter(nil) error = nil, want error")
	}
}

func newTestLimiter(
	t *testing.T,
	rdb *goredis.Client,
	limit int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) *RedisRateLimiter {
	t.Helper()

	limiter, err := newRedisRateLimiter(rdb, limit, nowFn, sleepFn)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}
	return limiter
}

func newTestRedisClient(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
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

	return rdb, mr
}
