package limiter

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/tcpserver/config"
	"golang.org/x/time/rate"
)

type holder struct {
	limiter Limiter
}

// DynamicLimiter 支持热更新的限流器封装。未设置内部限流器时全部放行。
type DynamicLimiter struct {
	value atomic.Pointer[holder]
}

// NewDynamicLimiter 创建动态限流器。
func NewDynamicLimiter(initial Limiter) *DynamicLimiter {
	d := &DynamicLimiter{}
	d.Update(initial)
	return d
}

// Update 替换当前限流器实例，nil 表示不限流。
func (d *DynamicLimiter) Update(l Limiter) {
	if d == nil {
		return
	}
	d.value.Store(&holder{limiter: l})
}

// UpdateLocal 更新为本地令牌桶限流器。rateLimit <= 0 时关闭限流。
func (d *DynamicLimiter) UpdateLocal(rateLimit float64, burst int) {
	if rateLimit <= 0 {
		d.Update(nil)
		return
	}
	if burst <= 0 {
		burst = max(int(rateLimit), 1)
	}
	d.Update(NewLocalLimiter(rate.Limit(rateLimit), burst))
}

// Allow 实现 Limiter。
func (d *DynamicLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if d == nil {
		return true, nil
	}
	h := d.value.Load()
	if h == nil || h.limiter == nil {
		return true, nil
	}
	return h.limiter.Allow(ctx, key)
}

// Apply 按接入限流配置更新内部限流器。
// 配置了 RedisAddr 时使用分布式滑动窗口，窗口内最多 Rate*Window 个连接；返回的 Redis 客户端由调用方关闭。
func (d *DynamicLimiter) Apply(cfg config.AcceptLimitConfig) *redis.Client {
	if !cfg.Enabled || cfg.Rate <= 0 {
		d.Update(nil)
		return nil
	}
	if cfg.RedisAddr == "" {
		d.UpdateLocal(cfg.Rate, cfg.Burst)
		return nil
	}

	window := cfg.Window
	if window <= 0 {
		window = time.Second
	}
	limit := max(int(cfg.Rate*window.Seconds()), 1)
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	d.Update(NewRedisLimiter(client, limit, window))
	return client
}
