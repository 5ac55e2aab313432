// Package health 提供依赖项的就绪检查，供管理接口 /readyz 汇总。
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
)

const defaultTimeout = 2 * time.Second

// Checker 定义健康检查函数原型。
type Checker func(ctx context.Context) error

// Result 单个检查项的结果。
type Result struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
	OK    bool   `json:"ok"`
}

// Registry 持有具名检查项，并发执行全部检查。
type Registry struct {
	checks  map[string]Checker
	timeout time.Duration
	mu      sync.RWMutex
}

// NewRegistry 创建检查注册表。timeout 小于等于 0 时使用 2 秒。
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Registry{checks: make(map[string]Checker), timeout: timeout}
}

// Register 注册或替换检查项。checker 为 nil 时移除。
func (r *Registry) Register(name string, checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if checker == nil {
		delete(r.checks, name)
		return
	}
	r.checks[name] = checker
}

// Len 返回检查项数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.checks)
}

// Check 并发执行所有检查，结果按名称排序。任一检查失败时 ok 为 false。
func (r *Registry) Check(ctx context.Context) (results []Result, ok bool) {
	r.mu.RLock()
	checks := make(map[string]Checker, len(r.checks))
	for name, c := range r.checks {
		checks[name] = c
	}
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var mu sync.Mutex
	var wg conc.WaitGroup
	for name, c := range checks {
		wg.Go(func() {
			res := Result{Name: name, OK: true}
			if err := c(ctx); err != nil {
				res.OK = false
				res.Error = err.Error()
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		})
	}
	if p := wg.WaitAndRecover(); p != nil {
		results = append(results, Result{Name: "panic", Error: fmt.Sprint(p.Value)})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	ok = true
	for _, res := range results {
		ok = ok && res.OK
	}
	return results, ok
}

// RedisChecker 返回 Redis 健康检查函数。
func RedisChecker(client redis.UniversalClient) Checker {
	return func(ctx context.Context) error {
		if client == nil {
			return errors.New("redis client is nil")
		}
		return client.Ping(ctx).Err()
	}
}
