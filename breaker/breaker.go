// Package breaker 提供基于 gobreaker 的熔断器，集成 Prometheus 状态指标与日志。
package breaker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"github.com/wyfcoding/tcpserver/metrics"
)

// ErrOpen 熔断器处于打开状态，请求被直接拒绝。
var ErrOpen = errors.New("circuit breaker is open")

// Breaker 封装 gobreaker 实例。
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// Settings 熔断器参数。
type Settings struct {
	Logger *slog.Logger
	Name   string
	// Timeout 打开状态持续多久后进入半开。
	Timeout time.Duration
	// Trips 连续失败多少次后打开，0 使用默认值 5。
	Trips uint32
	// MaxRequests 半开状态允许通过的请求数。
	MaxRequests uint32
}

// New 创建熔断器。m 不为 nil 时导出 circuit_breaker_state 指标。
func New(st Settings, m *metrics.Metrics) *Breaker {
	trips := st.Trips
	if trips == 0 {
		trips = 5
	}
	logger := st.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var state *prometheus.GaugeVec
	if m != nil {
		state = m.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0: closed, 1: half-open, 2: open)",
		}, []string{"name"})
		state.WithLabelValues(st.Name).Set(float64(gobreaker.StateClosed))
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        st.Name,
		MaxRequests: st.MaxRequests,
		Timeout:     st.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trips
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			if state != nil {
				state.WithLabelValues(name).Set(float64(to))
			}
		},
	})

	return &Breaker{cb: cb}
}

// Execute 在熔断保护下执行 fn。熔断打开时返回 ErrOpen。
func (b *Breaker) Execute(fn func() error) error {
	if b == nil || b.cb == nil {
		return fn()
	}

	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State 返回当前状态名称。
func (b *Breaker) State() string {
	if b == nil || b.cb == nil {
		return gobreaker.StateClosed.String()
	}
	return b.cb.State().String()
}
