// Package ratelimit paces outbound provider calls.
package ratelimit

import "context"

// BucketProvider is the bucket every outbound provider call is charged to.
const BucketProvider = "provider"

// RateLimiter controls call throughput per bucket.
type RateLimiter interface {
	Allow(ctx context.Context, bucket string) (bool, error)
	Wait(ctx context.Context, bucket string) error
}
