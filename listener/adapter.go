package listener

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/wyfcoding/tcpserver/xerrors"
)

// TransactionListener 细粒度监听器：请求与响应分别回调。
type TransactionListener interface {
	OnStart()
	OnStop()
	OnRequest(msg Message)
	OnResponse(msg Message)
}

// ServerListener 粗粒度监听器：每个请求/响应对回调一次。
type ServerListener interface {
	OnStart()
	OnStop()
	OnTransaction(request, response Message, success bool)
}

// ForTransactions 将细粒度监听器适配为 Notifier，忽略事务事件。
func ForTransactions(l TransactionListener) Notifier {
	return NotifierFunc(func(_ context.Context, ev Event) {
		switch ev.Kind {
		case EventStart:
			l.OnStart()
		case EventStop:
			l.OnStop()
		case EventRequest:
			l.OnRequest(ev.Request)
		case EventResponse:
			l.OnResponse(ev.Response)
		}
	})
}

// ForServer 将粗粒度监听器适配为 Notifier，忽略单独的请求/响应事件。
func ForServer(l ServerListener) Notifier {
	return NotifierFunc(func(_ context.Context, ev Event) {
		switch ev.Kind {
		case EventStart:
			l.OnStart()
		case EventStop:
			l.OnStop()
		case EventTransaction:
			l.OnTransaction(ev.Request, ev.Response, ev.Success)
		}
	})
}

// Multi 按顺序把事件分发给多个 Notifier，nil 会被跳过。
func Multi(notifiers ...Notifier) Notifier {
	list := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			list = append(list, n)
		}
	}
	return NotifierFunc(func(ctx context.Context, ev Event) {
		for _, n := range list {
			n.Notify(ctx, ev)
		}
	})
}

type safeNotifier struct {
	next   Notifier
	logger *slog.Logger
}

// Safe 包装 Notifier：回调中的 panic 被捕获并以 ListenerCallback 错误记录，不会影响连接与服务器。
// 对 Multi 的每个成员分别包装可以让一个失败的监听器不影响其他监听器。
func Safe(n Notifier, logger *slog.Logger) Notifier {
	if n == nil {
		return Nop
	}
	if s, ok := n.(*safeNotifier); ok {
		return s
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &safeNotifier{next: n, logger: logger}
}

func (s *safeNotifier) Notify(ctx context.Context, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			err := xerrors.ListenerCallback(ev.Kind.String(), rec)
			s.logger.ErrorContext(ctx, "listener callback failed",
				"event", ev.Kind.String(),
				"conn_id", ev.ConnID,
				"error", err,
			)
		}
	}()
	s.next.Notify(ctx, ev)
}

// NewLogNotifier 以 debug 级别记录每个事件。
func NewLogNotifier(logger *slog.Logger) Notifier {
	return NotifierFunc(func(ctx context.Context, ev Event) {
		logger.DebugContext(ctx, "transaction event",
			"event", ev.Kind.String(),
			"conn_id", ev.ConnID,
			"remote", ev.Remote,
			"request", ev.Request,
			"response", ev.Response,
			"success", ev.Success,
		)
	})
}

func jsonString(s string) ([]byte, error) {
	return json.Marshal(s)
}
