package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/wyfcoding/tcpserver/fsm"
	"github.com/wyfcoding/tcpserver/handler"
	"github.com/wyfcoding/tcpserver/idgen"
	"github.com/wyfcoding/tcpserver/listener"
	"github.com/wyfcoding/tcpserver/tracing"
	"github.com/wyfcoding/tcpserver/transport"
	"github.com/wyfcoding/tcpserver/worker"
	"github.com/wyfcoding/tcpserver/xerrors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/netutil"
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// TCPServer 一个可配置的 TCP 服务器。
// 每个接受的连接由 IOHandler 处理，生命周期与事务事件通过 Notifier 发出。
//
// 生命周期: Idle -> Started -> Listening -> Stopped，Started 也可以直接 Stop。
// Stopped 为终态，服务器不能重新启动。
type TCPServer struct {
	handler handler.IOHandler
	events  listener.Notifier
	logger  *slog.Logger
	machine *fsm.Machine[State, trigger]
	tap     transport.Tap
	rt      *runtime
	opts    options
	port    int
	mu      sync.Mutex
}

// runtime 一次成功 Start 所持有的资源。
type runtime struct {
	ln         net.Listener
	pool       *worker.Pool
	group      *transport.Group
	conns      *conc.WaitGroup
	cancel     context.CancelFunc
	acceptDone chan struct{}
	disposed   chan struct{}
	fault      error
	dispose    sync.Once
	stopping   atomic.Bool
}

func (rt *runtime) close(fault error) {
	rt.dispose.Do(func() {
		rt.fault = fault
		close(rt.disposed)
	})
}

var _ Server = (*TCPServer)(nil)

// NewTCPServer 创建 TCP 服务器。端口、处理器、通知器与 debug 标志在创建后不可变。
func NewTCPServer(port int, h handler.IOHandler, events listener.Notifier, opts ...Option) (*TCPServer, error) {
	if port < 1 || port > 65535 {
		return nil, xerrors.InvalidArg(fmt.Sprintf("port %d out of range 1-65535", port))
	}
	if h == nil {
		return nil, xerrors.InvalidArg("handler is required")
	}
	if events == nil {
		return nil, xerrors.InvalidArg("listener is required")
	}

	o := options{
		logger:    slog.Default(),
		framing:   transport.FramingRaw,
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ids == nil {
		o.ids = idgen.NewSequence()
	}

	logger := o.logger.With("port", port)
	if o.metrics != nil {
		events = listener.Multi(events, o.metrics.Notifier())
	}

	s := &TCPServer{
		handler: h,
		events:  listener.Safe(events, logger),
		logger:  logger,
		tap:     transport.Wiretap(logger, o.debug),
		opts:    o,
		port:    port,
	}

	var observe fsm.Handler[State]
	if m := o.metrics; m != nil {
		m.ServerState.Set(float64(StateIdle))
		observe = func(_ context.Context, _, to State) error {
			m.ServerState.Set(float64(to))
			return nil
		}
	}
	s.machine = newLifecycle(logger, observe)
	return s, nil
}

// State 返回当前生命周期状态。
func (s *TCPServer) State() State {
	return s.machine.Current()
}

// Port 返回配置的端口。
func (s *TCPServer) Port() int {
	return s.port
}

// Addr 返回实际绑定的地址，未绑定时为 nil。
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rt == nil {
		return nil
	}
	return s.rt.ln.Addr()
}

// Connections 返回当前打开的连接数。
func (s *TCPServer) Connections() int {
	s.mu.Lock()
	rt := s.rt
	s.mu.Unlock()
	if rt == nil {
		return 0
	}
	return rt.group.Len()
}

// Start 通知监听器、分配 worker 池与连接组、绑定端口并开始接受连接。
// 绑定失败时释放已分配的资源，状态保持 Idle 并返回 Bind 错误。
func (s *TCPServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.machine.Can(triggerStart) {
		return s.invalidState("start")
	}

	s.events.Notify(ctx, listener.Start(s.port))

	pool := worker.NewPool(
		worker.WithName("tcp-"+strconv.Itoa(s.port)),
		worker.WithSize(s.opts.workers),
		worker.WithQueueSize(s.opts.queueSize),
		worker.WithLogger(s.logger),
		worker.WithMetrics(s.opts.metrics),
	)
	group := transport.NewGroup()

	lc := net.ListenConfig{KeepAlive: s.opts.keepAlive}
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(s.opts.host, strconv.Itoa(s.port)))
	if err != nil {
		pool.Stop()
		_ = group.Close()
		s.logger.ErrorContext(ctx, "Failed to bind port", "error", err)
		return xerrors.Bind(s.port, err)
	}
	if s.opts.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.opts.maxConns)
	}

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rt := &runtime{
		ln:         ln,
		pool:       pool,
		group:      group,
		conns:      conc.NewWaitGroup(),
		cancel:     cancel,
		acceptDone: make(chan struct{}),
		disposed:   make(chan struct{}),
	}

	if err := s.machine.Trigger(ctx, triggerStart); err != nil {
		cancel()
		_ = ln.Close()
		_ = group.Close()
		pool.Stop()
		return s.invalidState("start")
	}
	s.rt = rt

	go s.acceptLoop(connCtx, rt)

	s.logger.InfoContext(ctx, "TCP server started", "addr", ln.Addr().String())
	return nil
}

// Listen 阻塞直到服务器被停止 (返回 nil)、接受连接发生故障 (返回 Unavailable 错误)
// 或 ctx 取消 (返回 ctx.Err())。
func (s *TCPServer) Listen(ctx context.Context) error {
	s.mu.Lock()
	if err := s.machine.Trigger(ctx, triggerListen); err != nil {
		s.mu.Unlock()
		return s.invalidState("listen")
	}
	rt := s.rt
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "TCP server listening")

	select {
	case <-rt.disposed:
		return rt.fault
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 通知监听器、关闭所有连接与监听端口、等待连接处理结束并释放 worker 池。
// 已停止的服务器再次 Stop 返回 nil。
// ctx 到期时不再等待剩余的连接处理，连接已被关闭，资源照常释放。
func (s *TCPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.machine.Current() == StateStopped {
		return nil
	}
	if !s.machine.Can(triggerStop) {
		return s.invalidState("stop")
	}

	s.events.Notify(ctx, listener.Stop(s.port))

	rt := s.rt
	rt.stopping.Store(true)
	if err := rt.group.Close(); err != nil {
		s.logger.DebugContext(ctx, "Closing connections reported errors", "error", err)
	}
	rt.cancel()
	if err := rt.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.WarnContext(ctx, "Failed to close listener", "error", err)
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-rt.acceptDone
		if rec := rt.conns.WaitAndRecover(); rec != nil {
			s.logger.Error("Connection goroutine panicked", "panic", rec.String())
		}
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Stop deadline reached before connections drained", "error", ctx.Err())
	}

	rt.pool.Stop()

	if err := s.machine.Trigger(ctx, triggerStop); err != nil {
		return s.invalidState("stop")
	}
	rt.close(nil)

	s.logger.InfoContext(ctx, "TCP server stopped")
	return nil
}

func (s *TCPServer) invalidState(op string) error {
	return xerrors.InvalidState(op, s.machine.Current(), fsm.ErrInvalidTransition)
}

// acceptLoop 接受连接直到监听端口关闭。临时错误按 5ms 起步、翻倍至 1s 退避。
func (s *TCPServer) acceptLoop(ctx context.Context, rt *runtime) {
	defer close(rt.acceptDone)

	var delay time.Duration
	for {
		nc, err := rt.ln.Accept()
		if err != nil {
			if rt.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			if te, ok := err.(interface{ Temporary() bool }); ok && te.Temporary() {
				if delay == 0 {
					delay = minAcceptDelay
				} else {
					delay = min(delay*2, maxAcceptDelay)
				}
				s.logger.Warn("Accept error, retrying", "error", err, "delay", delay)
				time.Sleep(delay)
				continue
			}

			s.logger.Error("Accept failed, listener disposed", "error", err)
			rt.close(xerrors.Unavailable("accept failed", err))
			return
		}
		delay = 0

		rt.conns.Go(func() {
			s.serveConn(ctx, rt, nc)
		})
	}
}

// serveConn 处理单个连接直到处理器结束，然后关闭连接并从连接组中移除。
func (s *TCPServer) serveConn(ctx context.Context, rt *runtime, nc net.Conn) {
	started := time.Now()
	remote := nc.RemoteAddr().String()
	m := s.opts.metrics

	if !s.admit(ctx, remote) {
		_ = nc.Close()
		if m != nil {
			m.ConnectionsTotal.WithLabelValues("rejected").Inc()
		}
		return
	}

	id := s.opts.ids.Generate()
	conn := transport.NewConn(nc, rt.pool,
		transport.WithID(id),
		transport.WithFraming(s.opts.framing),
		transport.WithReadBufferSize(s.opts.readBufferSize),
		transport.WithWriteTimeout(s.opts.writeTimeout),
		transport.WithTap(s.tap),
	)
	s.tap(ctx, transport.WireInit, conn)

	if !rt.group.Add(conn) {
		return
	}
	defer rt.group.Remove(conn)

	if m != nil {
		m.ConnectionsTotal.WithLabelValues("accepted").Inc()
		m.ConnectionsActive.Inc()
		defer m.ConnectionsActive.Dec()
	}

	ctx, span := tracing.StartSpan(ctx, "tcp.connection",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.Int64("conn_id", id),
			attribute.String("net.peer.addr", remote),
			attribute.Int("net.host.port", s.port),
		),
	)
	defer span.End()

	logger := s.logger.With("conn_id", id, "remote", remote)
	session := &handler.Session{
		ID:     id,
		Remote: remote,
		In:     conn,
		Out:    conn,
		Events: s.events,
		Logger: logger,
	}

	s.tap(ctx, transport.WireBind, conn)
	done := handler.Serve(ctx, s.handler, session)
	s.tap(ctx, transport.WireBound, conn)

	err := done.Wait(context.Background())
	if err != nil {
		cerr := xerrors.Connection(id, err)
		tracing.SetError(ctx, cerr)
		logger.WarnContext(ctx, "Connection terminated with error", "error", cerr)
	}

	_ = conn.Close()
	s.tap(ctx, transport.WireUnbound, conn)
	if m != nil {
		m.ObserveConnection(started, err)
	}
}

// admit 按接入限流器判断是否接受连接。限流器故障时放行。
func (s *TCPServer) admit(ctx context.Context, remote string) bool {
	if s.opts.limiter == nil {
		return true
	}
	ok, err := s.opts.limiter.Allow(ctx, "tcpserver:accept:"+strconv.Itoa(s.port))
	if err != nil {
		s.logger.WarnContext(ctx, "Accept limiter unavailable, admitting connection", "error", err)
		return true
	}
	if !ok {
		s.logger.DebugContext(ctx, "Connection rejected by accept limiter", "remote", remote)
	}
	return ok
}
