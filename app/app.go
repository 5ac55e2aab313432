// Package app 管理应用程序的生命周期：启动服务器、等待退出信号、优雅关闭并清理资源。
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 10 * time.Second

// App 应用程序容器。
type App struct {
	name   string
	logger *slog.Logger
	opts   options
}

// New 创建应用程序。
func New(name string, logger *slog.Logger, opts ...Option) *App {
	o := options{shutdownTimeout: defaultShutdownTimeout, signals: true}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{name: name, logger: logger, opts: o}
}

// Run 启动所有服务器并阻塞，直到收到退出信号、ctx 取消或任一服务器的 Listen 返回。
// 随后以相反顺序停止服务器并执行清理函数。
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "Application starting", "name", a.name, "pid", os.Getpid())
	defer a.cleanup()

	lc := NewLifecycle(a.logger)
	for i, srv := range a.opts.servers {
		lc.Append(Hook{
			Name:    fmt.Sprintf("%T#%d", srv, i),
			OnStart: srv.Start,
			OnStop:  srv.Stop,
		})
	}
	if err := lc.Start(ctx); err != nil {
		return err
	}

	runCtx := ctx
	if a.opts.signals {
		var stop context.CancelFunc
		runCtx, stop = signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
	}
	runCtx, cancel := context.WithCancel(runCtx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for _, srv := range a.opts.servers {
		g.Go(func() error {
			defer cancel()
			err := srv.Listen(gctx)
			if gctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				return nil
			}
			return err
		})
	}

	<-gctx.Done()
	a.logger.Info("Shutting down application", "name", a.name)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), a.opts.shutdownTimeout)
	defer shutdownCancel()

	stopErr := lc.Stop(shutdownCtx)
	listenErr := g.Wait()

	if err := errors.Join(listenErr, stopErr); err != nil {
		return err
	}
	a.logger.Info("Application shut down gracefully")
	return nil
}

func (a *App) cleanup() {
	for i := len(a.opts.cleanups) - 1; i >= 0; i-- {
		a.opts.cleanups[i]()
	}
}
