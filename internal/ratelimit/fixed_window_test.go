package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestFixedWindowLimiterEnforcesLimit(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redisSrv.Addr(), "", "test:ratelimit", 3, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	for i := 0; i < 3; i++ {
		if !limiter.Allow("1.2.3.4") {
			t.Fatalf("request %d should be within quota", i+1)
		}
	}
	if limiter.Allow("1.2.3.4") {
		t.Fatalf("fourth request should exceed quota")
	}
	if !limiter.Allow("5.6.7.8") {
		t.Fatalf("different key should have its own quota")
	}
}

func TestFixedWindowLimiterFailsClosedOnRedisError(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redisSrv.Addr(), "", "test:ratelimit", 3, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	redisSrv.Close()
	if limiter.Allow("1.2.3.4") {
		t.Fatalf("expected limiter to fail closed when redis is down")
	}
}

func TestFixedWindowLimiterRejectsBadConfig(t *testing.T) {
	if _, err := NewRedisFixedWindowLimiter("localhost:6379", "", "p", 0, time.Minute); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	if _, err := NewRedisFixedWindowLimiter("", "", "p", 1, time.Minute); err == nil {
		t.Fatalf("expected error for missing addr")
	}
}
