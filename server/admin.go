package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/tcpserver/async"
	"github.com/wyfcoding/tcpserver/fsm"
	"github.com/wyfcoding/tcpserver/health"
	"github.com/wyfcoding/tcpserver/metrics"
	"github.com/wyfcoding/tcpserver/xerrors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const adminShutdownTimeout = 5 * time.Second

// Status 管理服务查询的 TCP 服务器状态。
type Status interface {
	State() State
	Port() int
	Connections() int
}

// StatusView /state 接口的响应体。
type StatusView struct {
	State       string `json:"state"`
	Port        int    `json:"port"`
	Connections int    `json:"connections"`
}

// AdminServer 基于 Gin 的管理 HTTP 服务器，提供健康检查、状态查询与指标暴露。
type AdminServer struct {
	target  Status
	metrics *metrics.Metrics
	checks  *health.Registry
	logger  *slog.Logger
	machine *fsm.Machine[State, trigger]
	server  *http.Server
	ln      net.Listener
	done    chan struct{}
	err     error
	addr    string
	path    string
	once    sync.Once
	mu      sync.Mutex
}

var _ Server = (*AdminServer)(nil)

// NewAdminServer 创建管理服务器。m 为 nil 时不注册指标接口，metricsPath 为空时使用 /metrics。
func NewAdminServer(addr string, target Status, m *metrics.Metrics, metricsPath string, logger *slog.Logger) *AdminServer {
	if logger == nil {
		logger = slog.Default()
	}
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	logger = logger.With("component", "admin")

	s := &AdminServer{
		target:  target,
		metrics: m,
		logger:  logger,
		machine: newLifecycle(logger, nil),
		done:    make(chan struct{}),
		addr:    addr,
		path:    metricsPath,
	}
	s.server = &http.Server{
		Handler:           s.Engine(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// SetChecks 设置 /readyz 额外汇总的依赖检查，需在 Start 之前调用。
func (s *AdminServer) SetChecks(r *health.Registry) {
	s.checks = r
}

// Engine 构建路由。不使用 gin.Default，中间件集合由这里显式决定。
func (s *AdminServer) Engine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), otelgin.Middleware("tcpserver-admin"))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/readyz", s.ready)
	engine.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.view())
	})
	if s.metrics != nil {
		engine.GET(s.path, gin.WrapH(s.metrics.Handler()))
	}
	return engine
}

func (s *AdminServer) view() StatusView {
	return StatusView{
		State:       s.target.State().String(),
		Port:        s.target.Port(),
		Connections: s.target.Connections(),
	}
}

func (s *AdminServer) ready(c *gin.Context) {
	state := s.target.State()
	body := gin.H{"status": state.String()}
	if !state.Ready() {
		err := xerrors.Unavailable("tcp server is "+state.String(), nil)
		body["error"] = err.Message
		c.JSON(err.HTTPStatus(), body)
		return
	}
	if s.checks != nil && s.checks.Len() > 0 {
		results, ok := s.checks.Check(c.Request.Context())
		body["checks"] = results
		if !ok {
			err := xerrors.Unavailable("dependency check failed", nil)
			body["error"] = err.Message
			c.JSON(err.HTTPStatus(), body)
			return
		}
	}
	c.JSON(http.StatusOK, body)
}

// State 返回管理服务器自身的生命周期状态。
func (s *AdminServer) State() State {
	return s.machine.Current()
}

// Addr 返回实际绑定的地址。
func (s *AdminServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Start 绑定地址并在后台开始提供服务。
func (s *AdminServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.machine.Can(triggerStart) {
		return xerrors.InvalidState("start", s.machine.Current(), fsm.ErrInvalidTransition)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		_, portStr, _ := net.SplitHostPort(s.addr)
		port, _ := strconv.Atoi(portStr)
		return xerrors.Bind(port, err)
	}
	if err := s.machine.Trigger(ctx, triggerStart); err != nil {
		_ = ln.Close()
		return xerrors.InvalidState("start", s.machine.Current(), err)
	}
	s.ln = ln

	async.SafeGo(func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Admin server failed", "error", err)
			s.finish(xerrors.Unavailable("admin server failed", err))
			return
		}
		s.finish(nil)
	})

	s.logger.InfoContext(ctx, "Admin server started", "addr", ln.Addr().String())
	return nil
}

// Listen 阻塞直到管理服务器停止或 ctx 取消。
func (s *AdminServer) Listen(ctx context.Context) error {
	s.mu.Lock()
	if err := s.machine.Trigger(ctx, triggerListen); err != nil {
		s.mu.Unlock()
		return xerrors.InvalidState("listen", s.machine.Current(), err)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 优雅关闭，最多等待 5 秒。
func (s *AdminServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.machine.Current() == StateStopped {
		return nil
	}
	if !s.machine.Can(triggerStop) {
		return xerrors.InvalidState("stop", s.machine.Current(), fsm.ErrInvalidTransition)
	}

	ctx, cancel := context.WithTimeout(ctx, adminShutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(ctx)

	_ = s.machine.Trigger(ctx, triggerStop)
	s.finish(nil)
	s.logger.InfoContext(ctx, "Admin server stopped")
	return err
}

func (s *AdminServer) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}
