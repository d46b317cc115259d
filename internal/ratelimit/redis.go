package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter keys live for two seconds, the active window plus slack so
// slow replicas still see the count before it expires.
const redisCounterTTL = 2 * time.Second

// RedisLimiter shares per-second client budgets across gateway
// replicas through one Redis counter per key and window.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter constructs a limiter on an already-connected client.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: strings.TrimSpace(prefix)}
}

// Allow consumes one slot of the key's budget for the second containing
// now. Redis errors surface to the caller so the manager can trip its
// breaker and fall back to memory.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" || l == nil || l.client == nil {
		return Result{Allowed: true}, nil
	}
	sec := now.Unix()
	reset := time.Unix(sec+1, 0).UTC()

	// The window second is part of the key, so a plain INCR plus a
	// refreshed TTL is atomic enough; stale windows expire on their own.
	counter := l.counterKey(key, sec)
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, counter)
	pipe.Expire(ctx, counter, redisCounterTTL)
	if _, errExec := pipe.Exec(ctx); errExec != nil {
		return Result{}, errExec
	}

	used := incr.Val()
	if used > int64(limit) {
		return Result{Allowed: false, Remaining: 0, Reset: reset}, nil
	}
	return Result{Allowed: true, Remaining: limit - int(used), Reset: reset}, nil
}

func (l *RedisLimiter) counterKey(key string, sec int64) string {
	if l.prefix == "" {
		return fmt.Sprintf("%s:%d", key, sec)
	}
	return fmt.Sprintf("%s:%s:%d", l.prefix, key, sec)
}
