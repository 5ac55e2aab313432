// Package server 提供 TCP 服务器与管理 HTTP 服务器的生命周期封装。
package server

import (
	"context"
	"log/slog"

	"github.com/wyfcoding/tcpserver/fsm"
)

// Server 定义服务器的生命周期契约。
// TCP 服务器与管理 HTTP 服务器都实现该接口，由 app.App 统一编排启动与关闭。
type Server interface {
	// Start 绑定端口并开始接受连接，返回时服务器已就绪。
	// ctx: 只约束绑定过程，Start 返回后取消 ctx 不会影响已接受的连接。
	// 返回错误时服务器不持有任何端口或后台 goroutine。
	Start(ctx context.Context) error
	// Listen 阻塞直到服务器被停止、监听发生故障或 ctx 取消。
	// ctx: 取消时 Listen 返回 ctx.Err()，服务器本身继续运行，需要单独调用 Stop。
	// 被 Stop 释放时返回 nil。
	Listen(ctx context.Context) error
	// Stop 关闭所有连接并释放资源。
	// ctx: 限定等待连接处理结束的时间，到期后剩余的资源仍会被释放。
	// 对已停止的服务器调用 Stop 返回 nil。
	Stop(ctx context.Context) error
}

// State 服务器生命周期状态。
type State int

const (
	StateIdle State = iota
	StateStarted
	StateListening
	StateStopped
)

// String 返回状态名称。
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Ready 服务器是否正在接受连接。
func (s State) Ready() bool {
	return s == StateStarted || s == StateListening
}

// trigger 生命周期事件。
type trigger string

const (
	triggerStart  trigger = "start"
	triggerListen trigger = "listen"
	triggerStop   trigger = "stop"
)

// lifecycleEdges 生命周期允许的全部状态转移。
var lifecycleEdges = []struct {
	from State
	on   trigger
	to   State
}{
	{StateIdle, triggerStart, StateStarted},
	{StateStarted, triggerListen, StateListening},
	{StateStarted, triggerStop, StateStopped},
	{StateListening, triggerStop, StateStopped},
}

// newLifecycle 创建服务器共用的生命周期状态机。
//
// observe 非空时注册为每一条转移的回调，在状态真正改变之前执行；
// 它在状态机的锁内运行，因此只能做记录类的工作，不能回调 State()。
// observe 返回错误会使本次转移失败，状态保持不变。
func newLifecycle(logger *slog.Logger, observe fsm.Handler[State]) *fsm.Machine[State, trigger] {
	m := fsm.NewMachine[State, trigger](StateIdle).WithLogger(logger)
	for _, e := range lifecycleEdges {
		m.AddTransition(e.from, e.on, e.to)
		if observe != nil {
			m.AddHandler(e.from, e.to, observe)
		}
	}
	return m
}
