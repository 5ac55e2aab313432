package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"

	"github.com/wyfcoding/tcpserver/breaker"
	"github.com/wyfcoding/tcpserver/config"
	"github.com/wyfcoding/tcpserver/handler"
	"github.com/wyfcoding/tcpserver/health"
	"github.com/wyfcoding/tcpserver/idgen"
	"github.com/wyfcoding/tcpserver/limiter"
	"github.com/wyfcoding/tcpserver/listener"
	"github.com/wyfcoding/tcpserver/logging"
	"github.com/wyfcoding/tcpserver/messagequeue/kafka"
	"github.com/wyfcoding/tcpserver/metrics"
	"github.com/wyfcoding/tcpserver/server"
	"github.com/wyfcoding/tcpserver/tracing"
	"github.com/wyfcoding/tcpserver/transport"
)

// Builder 根据配置组装日志、追踪、指标、事件发布与服务器，生成 App。
type Builder struct {
	conf      *config.Config
	out       io.Writer
	logOut    io.Writer
	logger    *logging.Logger
	metrics   *metrics.Metrics
	limiter   *limiter.DynamicLimiter
	tcp       *server.TCPServer
	admin     *server.AdminServer
	notifiers []listener.Notifier
	appOpts   []Option
	name      string
	version   string
}

// NewBuilder 创建构建器。conf 应当已经通过校验。
func NewBuilder(name string, conf *config.Config) *Builder {
	return &Builder{name: name, conf: conf, out: io.Discard}
}

// WithOutput 设置事务输出的目标。配置中 verbose 为 false 时忽略。
func (b *Builder) WithOutput(w io.Writer) *Builder {
	if w != nil {
		b.out = w
	}
	return b
}

// WithLogOutput 替换日志的标准输出目标。
func (b *Builder) WithLogOutput(w io.Writer) *Builder {
	b.logOut = w
	return b
}

// WithNotifier 追加额外的事件通知器。
func (b *Builder) WithNotifier(n listener.Notifier) *Builder {
	if n != nil {
		b.notifiers = append(b.notifiers, n)
	}
	return b
}

// WithVersion 设置构建版本，用于 build_info 指标。
func (b *Builder) WithVersion(version string) *Builder {
	b.version = version
	return b
}

// WithAppOption 追加 App 选项。
func (b *Builder) WithAppOption(opts ...Option) *Builder {
	b.appOpts = append(b.appOpts, opts...)
	return b
}

// Build 组装完整的 App。任一组件构造失败时释放已创建的资源并返回错误。
func (b *Builder) Build(ctx context.Context) (_ *App, err error) {
	var cleanups []func()
	defer func() {
		if err != nil {
			for i := len(cleanups) - 1; i >= 0; i-- {
				cleanups[i]()
			}
		}
	}()

	logger := b.initLogger()
	cleanups = append(cleanups, func() { _ = logger.Close() })

	shutdown, err := tracing.InitTracer(ctx, b.conf.Tracing)
	if err != nil {
		return nil, err
	}
	cleanups = append(cleanups, func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", "error", err)
		}
	})

	m := b.initMetrics()

	events := b.initNotifier(m, logger.Logger, &cleanups)

	checks := health.NewRegistry(0)
	if kc := b.conf.Kafka; kc.Enabled {
		checks.Register("kafka", health.KafkaChecker(kc.Brokers))
	}

	b.limiter = limiter.NewDynamicLimiter(nil)
	if client := b.limiter.Apply(b.conf.Server.AcceptLimit); client != nil {
		checks.Register("redis", health.RedisChecker(client))
		cleanups = append(cleanups, func() { _ = client.Close() })
	}

	ids, err := idgen.NewGenerator(b.conf.IDGen)
	if err != nil {
		return nil, err
	}

	h, err := handler.New(handler.Kind(b.conf.Server.Handler), b.conf.Server.Response)
	if err != nil {
		return nil, err
	}
	framing, err := transport.ParseFraming(b.conf.Server.Framing)
	if err != nil {
		return nil, err
	}

	sc := b.conf.Server
	b.tcp, err = server.NewTCPServer(sc.Port, h, events,
		server.WithDebug(sc.Debug),
		server.WithLogger(logger.With("component", "tcp")),
		server.WithHost(sc.Host),
		server.WithWorkers(sc.Workers),
		server.WithQueueSize(sc.QueueSize),
		server.WithFraming(framing),
		server.WithReadBufferSize(sc.ReadBufferSize),
		server.WithWriteTimeout(sc.WriteTimeout),
		server.WithKeepAlive(sc.KeepAlive),
		server.WithMaxConnections(sc.MaxConnections),
		server.WithLimiter(b.limiter),
		server.WithMetrics(m),
		server.WithIDGenerator(ids),
	)
	if err != nil {
		return nil, err
	}

	opts := []Option{WithServer(b.tcp)}
	if b.conf.Admin.Enabled {
		var exposed *metrics.Metrics
		if b.conf.Metrics.Enabled {
			exposed = m
		}
		addr := net.JoinHostPort(sc.Host, strconv.Itoa(b.conf.Admin.Port))
		b.admin = server.NewAdminServer(addr, b.tcp, exposed, b.conf.Metrics.Path, logger.Logger)
		b.admin.SetChecks(checks)
		opts = append(opts, WithServer(b.admin))
	}
	for _, c := range cleanups {
		opts = append(opts, WithCleanup(c))
	}
	opts = append(opts, b.appOpts...)

	return New(b.name, logger.Logger, opts...), nil
}

func (b *Builder) initLogger() *logging.Logger {
	lc := b.conf.Log
	level := lc.Level
	if b.conf.Server.Debug {
		level = "debug"
	}
	b.logger = logging.NewFromConfig(logging.Config{
		Service:    b.name,
		Module:     "app",
		Level:      level,
		Format:     lc.Format,
		Output:     lc.Output,
		File:       lc.File,
		MaxSize:    lc.MaxSize,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAge,
		Compress:   lc.Compress,
		Writer:     b.logOut,
	})
	slog.SetDefault(b.logger.Logger)
	return b.logger
}

func (b *Builder) initMetrics() *metrics.Metrics {
	b.metrics = metrics.NewMetrics(b.name)
	b.metrics.RegisterBuildInfo(b.name, b.version)
	return b.metrics
}

// initNotifier 组合事务输出、Kafka 发布与额外的通知器。
func (b *Builder) initNotifier(m *metrics.Metrics, logger *slog.Logger, cleanups *[]func()) listener.Notifier {
	out := b.out
	if !b.conf.Server.Verbose {
		out = io.Discard
	}
	port := b.conf.Server.Port
	notifiers := []listener.Notifier{listener.ForServer(listener.NewTransactionWriter(port, out))}
	if b.conf.Server.Debug {
		notifiers = append(notifiers, listener.NewLogNotifier(logger))
	}

	if kc := b.conf.Kafka; kc.Enabled {
		producer := kafka.NewProducer(kc, m, logger)
		cb := breaker.New(breaker.Settings{
			Name:    "kafka-" + kc.Topic,
			Timeout: kc.BreakerTimeout,
			Trips:   kc.BreakerTrips,
			Logger:  logger,
		}, m)
		publisher := kafka.NewTransactionPublisher(producer, cb, logger, kc.QueueSize)
		notifiers = append(notifiers, publisher)
		*cleanups = append(*cleanups, func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("kafka publish queue not drained", "error", err)
			}
			if err := producer.Close(); err != nil {
				logger.Error("failed to close kafka producer", "error", err)
			}
		})
	}

	return listener.Multi(append(notifiers, b.notifiers...)...)
}

// Server 返回构建的 TCP 服务器，Build 之前为 nil。
func (b *Builder) Server() *server.TCPServer {
	return b.tcp
}

// Admin 返回管理服务器，未启用时为 nil。
func (b *Builder) Admin() *server.AdminServer {
	return b.admin
}

// Reload 应用可热更新的配置: 日志级别与接入限流。其他字段需要重启才生效。
func (b *Builder) Reload(next *config.Config) {
	if b.logger != nil && !b.conf.Server.Debug {
		b.logger.SetLevel(next.Log.Level)
	}
	if b.limiter != nil && next.Server.AcceptLimit.RedisAddr == "" {
		b.limiter.Apply(next.Server.AcceptLimit)
	}
	slog.Info("config reloaded", "log_level", next.Log.Level, "accept_rate", next.Server.AcceptLimit.Rate)
}
