package handler

import (
	"context"
	"errors"
	"io"

	"github.com/wyfcoding/tcpserver/listener"
)

// Sink 消费请求，不写出任何内容。
// 每条消息产生一个请求事件与一个响应缺席的事务事件，适合只需要观察入站流量的场景。
type Sink struct{}

// NewSink 创建 Sink 策略。
func NewSink() *Sink {
	return &Sink{}
}

// Handle 实现 IOHandler。
func (h *Sink) Handle(ctx context.Context, s *Session) error {
	return consume(ctx, s, func(ctx context.Context, req listener.Message) (listener.Message, error) {
		return listener.NoMessage, nil
	})
}

// Answer 对每条请求写出一条固定的响应。
// 单条消息的事件顺序为：请求事件、写出提交、响应事件、写出完成后的事务事件。
// 空连接 (对端未发送任何数据即关闭) 不写出响应，只报告一次请求与响应均缺席的事务。
type Answer struct {
	response string
}

// NewAnswer 创建 Answer 策略。
func NewAnswer(response string) *Answer {
	return &Answer{response: response}
}

// Response 返回配置的固定响应。
func (h *Answer) Response() string {
	return h.response
}

// Handle 实现 IOHandler。
func (h *Answer) Handle(ctx context.Context, s *Session) error {
	return consume(ctx, s, func(ctx context.Context, req listener.Message) (listener.Message, error) {
		resp := listener.Text(h.response)
		written := s.Out.Send(ctx, h.response)
		// 交给传输层即视为已发送
		s.notify(ctx, listener.Response(s.ID, s.Remote, resp))

		return resp, written.Wait(ctx)
	})
}

// reply 处理一条请求并返回响应（可能缺席）以及写出错误。
type reply func(ctx context.Context, req listener.Message) (listener.Message, error)

// consume 按顺序读取入站消息：先通知请求，再生成响应，最后在响应写出后通知事务完成。
func consume(ctx context.Context, s *Session, fn reply) error {
	received := 0
	for {
		text, err := s.In.Receive(ctx)
		if errors.Is(err, io.EOF) {
			if received == 0 {
				s.notify(ctx, listener.Request(s.ID, s.Remote, listener.NoMessage))
				s.notify(ctx, listener.Transaction(s.ID, s.Remote, listener.NoMessage, listener.NoMessage, true))
			}
			return nil
		}
		if err != nil {
			return err
		}
		received++

		req := listener.Text(text)
		s.logger().DebugContext(ctx, "Received request", "conn_id", s.ID, "request", text)
		s.notify(ctx, listener.Request(s.ID, s.Remote, req))

		resp, err := fn(ctx, req)
		s.notify(ctx, listener.Transaction(s.ID, s.Remote, req, resp, err == nil))
		if err != nil {
			return err
		}
	}
}
