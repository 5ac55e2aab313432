package server

import (
	"log/slog"
	"time"

	"github.com/wyfcoding/tcpserver/idgen"
	"github.com/wyfcoding/tcpserver/limiter"
	"github.com/wyfcoding/tcpserver/metrics"
	"github.com/wyfcoding/tcpserver/transport"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
)

type options struct {
	logger         *slog.Logger
	limiter        limiter.Limiter
	metrics        *metrics.Metrics
	ids            idgen.Generator
	host           string
	framing        transport.Framing
	workers        int
	queueSize      int
	readBufferSize int
	writeTimeout   time.Duration
	keepAlive      time.Duration
	maxConns       int
	debug          bool
}

// Option TCPServer 配置选项。
type Option func(*options)

// WithDebug 开启线路监听 (wiretap)，在 debug 级别记录连接事件。
func WithDebug(debug bool) Option {
	return func(o *options) {
		o.debug = debug
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithWorkers 设置事件处理 worker 数量。
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithQueueSize 设置 worker 队列长度。
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithFraming 设置入站分帧方式。
func WithFraming(f transport.Framing) Option {
	return func(o *options) {
		o.framing = f
	}
}

// WithReadBufferSize 设置连接读缓冲区大小。
func WithReadBufferSize(n int) Option {
	return func(o *options) {
		o.readBufferSize = n
	}
}

// WithWriteTimeout 设置单次写出超时。
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

// WithKeepAlive 设置 TCP keep-alive 周期。负值关闭 keep-alive。
func WithKeepAlive(d time.Duration) Option {
	return func(o *options) {
		o.keepAlive = d
	}
}

// WithMaxConnections 限制同时打开的连接数，0 表示不限制。
func WithMaxConnections(n int) Option {
	return func(o *options) {
		o.maxConns = n
	}
}

// WithLimiter 设置新连接接入限流器。
func WithLimiter(l limiter.Limiter) Option {
	return func(o *options) {
		o.limiter = l
	}
}

// WithMetrics 设置指标采集器。
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithIDGenerator 设置连接 ID 生成器。
func WithIDGenerator(g idgen.Generator) Option {
	return func(o *options) {
		if g != nil {
			o.ids = g
		}
	}
}

// WithHost 设置监听地址，空字符串监听所有地址。
func WithHost(host string) Option {
	return func(o *options) {
		o.host = host
	}
}
