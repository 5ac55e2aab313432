// Package handler 定义连接级的请求/响应策略 (I/O Handler)。
// 服务器为每个接受的连接调用一次选定的策略，策略通过 Session 读写消息并发出事件。
package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wyfcoding/tcpserver/async"
	"github.com/wyfcoding/tcpserver/listener"
	"github.com/wyfcoding/tcpserver/xerrors"
)

// Inbound 连接的入站消息流。
type Inbound interface {
	// Receive 返回下一条完整消息。
	// ctx: 取消时中断阻塞中的读取并返回 ctx.Err()。
	// 对端关闭或本端关闭连接后返回 io.EOF，其他错误表示连接已不可用。
	Receive(ctx context.Context) (string, error)
}

// Outbound 连接的出站写入端。
type Outbound interface {
	// Send 把消息交给传输层写出，返回值在写出完成或失败时完成。
	// Send 返回即视为 "已发送"。
	Send(ctx context.Context, text string) *async.Future[struct{}]
}

// Session 描述一个已接受连接的处理上下文。
// 服务器为每个连接构造一个 Session，处理策略只通过它读写消息与发出事件，
// 不直接接触底层的 net.Conn。
type Session struct {
	In     Inbound
	Out    Outbound
	Events listener.Notifier
	Logger *slog.Logger
	Remote string
	ID     int64
}

func (s *Session) notify(ctx context.Context, ev listener.Event) {
	if s.Events != nil {
		s.Events.Notify(ctx, ev)
	}
}

func (s *Session) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// IOHandler 连接处理策略。
//
// 服务器为每个接受的连接调用一次 Handle，调用发生在该连接专属的 goroutine 上。
// Handle 负责按顺序读取消息、按需写出响应，并通过 Session 发出请求、响应与事务事件；
// 入站流结束时返回 nil。返回的错误只影响当前连接，服务器记录后关闭该连接。
type IOHandler interface {
	Handle(ctx context.Context, s *Session) error
}

// HandlerFunc 函数适配器。
type HandlerFunc func(ctx context.Context, s *Session) error

// Handle 实现 IOHandler。
func (f HandlerFunc) Handle(ctx context.Context, s *Session) error {
	return f(ctx, s)
}

// Serve 异步运行 Handle 并返回连接的完成信号。
// 处理器内部的 panic 会被转换为错误完成。
func Serve(ctx context.Context, h IOHandler, s *Session) *async.Future[struct{}] {
	return async.NewFuture(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.Handle(ctx, s)
	})
}

// Kind 处理策略类型。
type Kind string

const (
	KindSink   Kind = "sink"
	KindAnswer Kind = "answer"
)

// New 按类型构造处理策略。
func New(kind Kind, response string) (IOHandler, error) {
	switch kind {
	case KindSink:
		return NewSink(), nil
	case KindAnswer, "":
		if response == "" {
			return nil, xerrors.InvalidArg("answer handler requires a response")
		}
		return NewAnswer(response), nil
	default:
		return nil, xerrors.InvalidArg(fmt.Sprintf("unknown handler kind %q", kind))
	}
}
