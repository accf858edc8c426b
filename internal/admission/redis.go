package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"relay/internal/observability/metrics"
)

// RedisLimiter is the multi-instance backend: fixed-window counters in
// a shared store so every relay instance sees the same bucket state.
type RedisLimiter struct {
	client *redis.Client
	limits Limits
}

func NewRedisLimiter(client *redis.Client, limits Limits) *RedisLimiter {
	if limits.Window <= 0 {
		limits.Window = time.Minute
	}
	return &RedisLimiter{client: client, limits: limits}
}

func (l *RedisLimiter) Allow(ctx context.Context, ip string, userID uuid.UUID) (Decision, error) {
	ipKey := "admission:ip:" + ip
	userKey := "admission:user:" + userID.String()

	pipe := l.client.Pipeline()
	ipCount := pipe.Incr(ctx, ipKey)
	pipe.ExpireNX(ctx, ipKey, l.limits.Window)
	userCount := pipe.Incr(ctx, userKey)
	pipe.ExpireNX(ctx, userKey, l.limits.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("admission: pipeline exec: %w", err)
	}

	overIP := ipCount.Val() > int64(l.limits.IPPerWindow)
	overUser := userCount.Val() > int64(l.limits.UserPerWindow)
	if !overIP && !overUser {
		return Decision{Allowed: true}, nil
	}

	// A rejected attempt consumes no capacity in either bucket, same as
	// the local backend.
	l.refund(ctx, ipKey, userKey)

	scope, key := "user", userKey
	if overIP {
		scope, key = "ip", ipKey
	}
	metrics.AdmissionRejectedTotal.WithLabelValues(scope).Inc()
	return Decision{RetryAfter: l.retryAfter(ctx, key)}, nil
}

func (l *RedisLimiter) refund(ctx context.Context, keys ...string) {
	pipe := l.client.Pipeline()
	for _, key := range keys {
		pipe.Decr(ctx, key)
	}
	// Best effort: a failed refund only makes the window stricter.
	_, _ = pipe.Exec(ctx)
}

// retryAfter is the remaining life of the limiting window's key.
func (l *RedisLimiter) retryAfter(ctx context.Context, key string) time.Duration {
	ttl, err := l.client.PTTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return l.limits.Window
	}
	return ttl
}
