package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/tcpserver/config"
)

func TestLocalLimiterBurst(t *testing.T) {
	l := NewLocalLimiter(1, 2)
	ctx := context.Background()

	for i := range 2 {
		if ok, _ := l.Allow(ctx, "k"); !ok {
			t.Fatalf("request %d within burst rejected", i)
		}
	}
	if ok, _ := l.Allow(ctx, "k"); ok {
		t.Error("request beyond burst should be rejected")
	}
}

func TestDynamicLimiterUpdates(t *testing.T) {
	ctx := context.Background()
	d := NewDynamicLimiter(nil)

	for range 10 {
		if ok, _ := d.Allow(ctx, "k"); !ok {
			t.Fatal("empty dynamic limiter must allow everything")
		}
	}

	d.UpdateLocal(1, 1)
	if ok, _ := d.Allow(ctx, "k"); !ok {
		t.Fatal("first request should pass")
	}
	if ok, _ := d.Allow(ctx, "k"); ok {
		t.Error("second request should be limited")
	}

	d.UpdateLocal(0, 0)
	if ok, _ := d.Allow(ctx, "k"); !ok {
		t.Error("disabling the limiter should allow again")
	}
}

func TestApplyLocalConfig(t *testing.T) {
	d := NewDynamicLimiter(nil)
	client := d.Apply(config.AcceptLimitConfig{Enabled: true, Rate: 1, Burst: 1})
	if client != nil {
		t.Fatal("local config must not create a redis client")
	}

	ctx := context.Background()
	d.Allow(ctx, "k")
	if ok, _ := d.Allow(ctx, "k"); ok {
		t.Error("applied local limiter should limit")
	}

	if client := d.Apply(config.AcceptLimitConfig{Rate: 1}); client != nil {
		t.Error("disabled config must not create a redis client")
	}
	if ok, _ := d.Allow(ctx, "k"); !ok {
		t.Error("disabled config should allow")
	}
}

func TestRedisLimiterReportsUnavailableBackend(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	if _, err := NewRedisLimiter(client, 10, time.Second).Allow(context.Background(), "k"); err == nil {
		t.Error("expected error from unreachable redis")
	}
}
