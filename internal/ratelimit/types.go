// Package ratelimit enforces per-client request budgets on the message
// API, backed by memory or Redis fixed-second windows.
package ratelimit

import (
	"context"
	"time"
)

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// Limiter provides rate limit checks.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error)
}

// Config is the limiter configuration read from the settings snapshot.
type Config struct {
	Limit         int // Requests per second, 0 disables limiting.
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}
