// Package async 提供了带 panic 保护的并发执行工具与 Future 完成信号。
package async

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
)

var (
	// ErrPanicRecovered 表示异步任务中恢复的 panic。
	ErrPanicRecovered = errors.New("async task panic recovered")
)

// defaultRunner 是默认的安全执行器。
type defaultRunner struct {
	logger *slog.Logger
}

var DefaultRunner = &defaultRunner{}

// Go 安全地启动一个 goroutine，自动处理 panic。
func (r *defaultRunner) Go(fn func()) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logPanic(rec)
			}
		}()
		fn()
	}()
}

func (r *defaultRunner) logPanic(rec any) {
	stack := string(debug.Stack())
	r.log().Error("Async task panic recovered", "error", panicError(rec), "stack", stack)
}

func (r *defaultRunner) log() *slog.Logger {
	if r.logger == nil {
		return slog.Default()
	}
	return r.logger
}

func panicError(rec any) error {
	if err, ok := rec.(error); ok {
		return fmt.Errorf("%w: %w", ErrPanicRecovered, err)
	}
	return fmt.Errorf("%w: %v", ErrPanicRecovered, rec)
}

// SafeGo 是 DefaultRunner.Go 的快捷方式。
func SafeGo(fn func()) {
	DefaultRunner.Go(fn)
}
