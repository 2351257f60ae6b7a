// Package redis implements the domain stores on Redis. Every command passes through
// a metrics hook and a circuit breaker, so a failing Redis surfaces as fast errors
// that callers wrap as domain.ErrStoreUnavailable.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/adapter/metrics"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/platform/retry"
)

const scanBatch = 256

// NewClient connects to redisURL (e.g. "redis://localhost:6379"), installs the
// metrics and circuit breaker hooks and waits until Redis answers a PING.
func NewClient(ctx context.Context, redisURL string, m *metrics.RedisMetrics) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	rdb.AddHook(NewMetricsHook(m))
	rdb.AddHook(NewCircuitBreakerHook(m))

	policy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Redis not reachable yet, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	if err := retry.DoVoid(ctx, policy, retry.Always, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

// scanKeys walks the keyspace for pattern and returns the matching keys with prefix
// stripped, sorted. Keys for which skip reports true are left out.
func scanKeys(ctx context.Context, rdb *goredis.Client, prefix string, skip func(key string) bool) ([]string, error) {
	var out []string
	iter := rdb.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if skip != nil && skip(key) {
			continue
		}
		out = append(out, strings.TrimPrefix(key, prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s*: %w", prefix, err)
	}
	sort.Strings(out)
	return out, nil
}
