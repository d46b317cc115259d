package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterWindow(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(context.Background(), "c:sub", 3, now)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if result.Remaining != 3-i-1 {
			t.Fatalf("request %d remaining %d", i, result.Remaining)
		}
	}

	result, err := limiter.Allow(context.Background(), "c:sub", 3, now)
	if err != nil {
		t.Fatalf("allow over limit: %v", err)
	}
	if result.Allowed {
		t.Fatalf("fourth request in the window must be rejected")
	}
	if !result.Reset.Equal(time.Unix(1_700_000_001, 0).UTC()) {
		t.Fatalf("reset %v", result.Reset)
	}

	// The next second opens a fresh window.
	result, err = limiter.Allow(context.Background(), "c:sub", 3, now.Add(time.Second))
	if err != nil {
		t.Fatalf("allow next window: %v", err)
	}
	if !result.Allowed || result.Remaining != 2 {
		t.Fatalf("next window result %+v", result)
	}
}

func TestMemoryLimiterSeparateKeys(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Unix(1_700_000_000, 0)

	if result, _ := limiter.Allow(context.Background(), "c:a", 1, now); !result.Allowed {
		t.Fatalf("first key should be allowed")
	}
	if result, _ := limiter.Allow(context.Background(), "c:a", 1, now); result.Allowed {
		t.Fatalf("first key should be exhausted")
	}
	if result, _ := limiter.Allow(context.Background(), "c:b", 1, now); !result.Allowed {
		t.Fatalf("second key has its own budget")
	}
}

func TestMemoryLimiterZeroLimitDisabled(t *testing.T) {
	limiter := NewMemoryLimiter()
	for i := 0; i < 10; i++ {
		result, err := limiter.Allow(context.Background(), "c:any", 0, time.Now())
		if err != nil || !result.Allowed {
			t.Fatalf("zero limit must disable limiting: %+v %v", result, err)
		}
	}
}

func TestKey(t *testing.T) {
	if got := Key("sub-1", ""); got != "c:sub-1" {
		t.Fatalf("subject key %q", got)
	}
	if got := Key("sub-1", "gymbro-coach"); got != "c:sub-1:k:gymbro-coach" {
		t.Fatalf("scoped key %q", got)
	}
	if got := Key("  ", "gymbro-coach"); got != "" {
		t.Fatalf("blank subject must yield no key, got %q", got)
	}
}
