package app

import (
	"time"

	"github.com/wyfcoding/tcpserver/server"
)

// Option 配置 App。
type Option func(*options)

type options struct {
	servers         []server.Server
	cleanups        []func()
	shutdownTimeout time.Duration
	signals         bool
}

// WithServer 注册服务器。服务器按注册顺序启动，按相反顺序停止。
func WithServer(servers ...server.Server) Option {
	return func(o *options) {
		o.servers = append(o.servers, servers...)
	}
}

// WithCleanup 注册在所有服务器停止后执行的清理函数，按注册的相反顺序执行。
func WithCleanup(cleanup func()) Option {
	return func(o *options) {
		if cleanup != nil {
			o.cleanups = append(o.cleanups, cleanup)
		}
	}
}

// WithShutdownTimeout 设置停止所有服务器的总超时，默认 10 秒。
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithSignals 是否监听 SIGINT/SIGTERM，默认开启。
func WithSignals(enabled bool) Option {
	return func(o *options) {
		o.signals = enabled
	}
}
