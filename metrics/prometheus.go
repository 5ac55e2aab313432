// Package metrics 提供基于 Prometheus 的指标注册表与 TCP 服务器标准指标。
package metrics

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 封装了独立的 Prometheus 注册表及预定义的 TCP 服务器指标。
type Metrics struct {
	registry *prometheus.Registry // 内部独立的 Prometheus 注册中心

	ConnectionsActive  prometheus.Gauge       // 当前打开的连接数
	ConnectionsTotal   *prometheus.CounterVec // 连接总数 (维度: result=accepted|rejected)
	ConnectionErrors   prometheus.Counter     // 以错误结束的连接数
	RequestsTotal      prometheus.Counter     // 收到的请求消息数
	ResponsesTotal     prometheus.Counter     // 发出的响应消息数
	TransactionsTotal  *prometheus.CounterVec // 完成的事务数 (维度: status=success|failure)
	MessageSizeBytes   *prometheus.HistogramVec
	ConnectionDuration prometheus.Histogram
	ServerState        prometheus.Gauge // 生命周期状态 (0=idle 1=started 2=listening 3=stopped)
	BuildInfo          *prometheus.GaugeVec

	gauges map[string]*prometheus.GaugeVec
	mu     sync.Mutex
}

// NewMetrics 初始化并返回一个新的指标采集器。
// 它会自动注册 Go 运行时指标和进程指标。
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg, gauges: make(map[string]*prometheus.GaugeVec)}

	m.ConnectionsActive = m.NewGauge(prometheus.GaugeOpts{
		Name: "tcp_server_connections_active",
		Help: "Number of currently open TCP connections",
	})

	m.ConnectionsTotal = m.NewCounterVec(prometheus.CounterOpts{
		Name: "tcp_server_connections_total",
		Help: "Total number of TCP connections by accept result",
	}, []string{"result"})

	m.ConnectionErrors = m.NewCounter(prometheus.CounterOpts{
		Name: "tcp_server_connection_errors_total",
		Help: "Total number of connections terminated by an error",
	})

	m.RequestsTotal = m.NewCounter(prometheus.CounterOpts{
		Name: "tcp_server_requests_total",
		Help: "Total number of inbound messages",
	})

	m.ResponsesTotal = m.NewCounter(prometheus.CounterOpts{
		Name: "tcp_server_responses_total",
		Help: "Total number of outbound messages handed to the transport",
	})

	m.TransactionsTotal = m.NewCounterVec(prometheus.CounterOpts{
		Name: "tcp_server_transactions_total",
		Help: "Total number of completed transactions",
	}, []string{"status"})

	m.MessageSizeBytes = m.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tcp_server_message_size_bytes",
		Help:    "Message size in bytes",
		Buckets: prometheus.ExponentialBuckets(16, 4, 8),
	}, []string{"direction"})

	m.ConnectionDuration = m.NewHistogram(prometheus.HistogramOpts{
		Name:    "tcp_server_connection_duration_seconds",
		Help:    "Lifetime of TCP connections in seconds",
		Buckets: prometheus.DefBuckets,
	})

	m.ServerState = m.NewGauge(prometheus.GaugeOpts{
		Name: "tcp_server_state",
		Help: "Current lifecycle state of the TCP server (0=idle, 1=started, 2=listening, 3=stopped)",
	})

	slog.Debug("unified metrics registry initialized", "service", serviceName)
	return m
}

// NewCounter 创建并注册一个新的计数器。
func (m *Metrics) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	m.registry.MustRegister(c)
	return c
}

// NewCounterVec 创建并注册一个新的计数器指标。
func (m *Metrics) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(opts, labelNames)
	m.registry.MustRegister(cv)
	return cv
}

// NewGauge 创建并注册一个新的仪表盘。
func (m *Metrics) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	g := prometheus.NewGauge(opts)
	m.registry.MustRegister(g)
	return g
}

// NewGaugeVec 创建并注册一个新的仪表盘指标。
func (m *Metrics) NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	gv := prometheus.NewGaugeVec(opts, labelNames)
	m.registry.MustRegister(gv)
	return gv
}

// NewHistogram 创建并注册一个新的直方图。
func (m *Metrics) NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	h := prometheus.NewHistogram(opts)
	m.registry.MustRegister(h)
	return h
}

// NewHistogramVec 创建并注册一个新的直方图指标。
func (m *Metrics) NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	hv := prometheus.NewHistogramVec(opts, labelNames)
	m.registry.MustRegister(hv)
	return hv
}

// Gauge 返回按 pool 维度区分的仪表盘，同名指标只注册一次。
func (m *Metrics) Gauge(name, pool string) prometheus.Gauge {
	m.mu.Lock()
	defer m.mu.Unlock()

	gv, ok := m.gauges[name]
	if !ok {
		gv = m.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: "Gauge " + name,
		}, []string{"pool"})
		m.gauges[name] = gv
	}
	return gv.WithLabelValues(pool)
}

// Registry 返回底层注册表。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回用于暴露指标的 HTTP 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveConnection 记录一个连接的结束。
func (m *Metrics) ObserveConnection(start time.Time, err error) {
	if m == nil {
		return
	}
	m.ConnectionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.ConnectionErrors.Inc()
	}
}
