// Package limiter 提供新连接接入的限流器。
package limiter

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter 限流器的通用行为。
type Limiter interface {
	// Allow 检查 key 对应的请求是否允许通过。
	Allow(ctx context.Context, key string) (bool, error)
}

// LocalLimiter 基于令牌桶的进程内限流器，忽略 key 做全局限流。
type LocalLimiter struct {
	limiter *rate.Limiter
}

// NewLocalLimiter 创建本地限流器。r 为每秒令牌数，b 为桶容量。
func NewLocalLimiter(r rate.Limit, b int) *LocalLimiter {
	return &LocalLimiter{limiter: rate.NewLimiter(r, b)}
}

// Allow 实现 Limiter。
func (l *LocalLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return l.limiter.Allow(), nil
}

// RedisLimiter 基于 Redis ZSet 滑动窗口的分布式限流器，多个服务实例共享同一窗口。
type RedisLimiter struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
}

// NewRedisLimiter 创建分布式限流器。limit 为 window 内允许的最大请求数。
func NewRedisLimiter(client redis.UniversalClient, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window}
}

// Allow 实现 Limiter。
// 先清除窗口之外的记录，再统计窗口内的数量并记录本次请求。
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now().UnixNano()
	windowStart := now - l.window.Nanoseconds()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	count := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: now})
	pipe.Expire(ctx, key, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	// 计数发生在本次记录之前
	return count.Val() < int64(l.limit), nil
}
