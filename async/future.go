package async

import (
	"context"
	"errors"
	"sync"
)

// ErrFutureCompleted 表示 Future 已经被完成过一次。
var ErrFutureCompleted = errors.New("future already completed")

// Future 代表一个异步计算的结果。
// 既可以由 NewFuture 托管的函数填充，也可以由 NewPromise 返回后被外部调用 Complete 填充。
type Future[T any] struct {
	result T
	err    error
	done   chan struct{}
	once   sync.Once
}

// NewFuture 创建一个新的 Future。
// fn 在独立的 goroutine 中执行，其结果（或 panic 转换的错误）将填充 Future。
func NewFuture[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := NewPromise[T]()
	go func() {
		var (
			res T
			err error
		)
		defer func() {
			if rec := recover(); rec != nil {
				DefaultRunner.logPanic(rec)
				var zero T
				f.Complete(zero, panicError(rec))
				return
			}
			f.Complete(res, err)
		}()
		res, err = fn(ctx)
	}()
	return f
}

// NewPromise 创建一个尚未完成的 Future，由调用方负责 Complete。
func NewPromise[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed 返回一个已经完成的 Future。
func Completed[T any](result T, err error) *Future[T] {
	f := NewPromise[T]()
	f.Complete(result, err)
	return f
}

// Complete 填充结果并唤醒所有等待者。只有第一次调用生效。
func (f *Future[T]) Complete(result T, err error) error {
	completed := false
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
		completed = true
	})
	if !completed {
		return ErrFutureCompleted
	}
	return nil
}

// Done 返回一个在 Future 完成时关闭的通道。
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Get 阻塞等待计算完成并返回结果。
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-f.done:
		return f.result, f.err
	}
}

// Wait 等待完成，仅返回错误。
func (f *Future[T]) Wait(ctx context.Context) error {
	_, err := f.Get(ctx)
	return err
}
