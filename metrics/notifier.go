package metrics

import (
	"context"

	"github.com/wyfcoding/tcpserver/listener"
)

// Notifier 返回一个把事务事件转换为计数的监听器。
func (m *Metrics) Notifier() listener.Notifier {
	return listener.NotifierFunc(func(_ context.Context, ev listener.Event) {
		switch ev.Kind {
		case listener.EventRequest:
			m.RequestsTotal.Inc()
			if text, ok := ev.Request.Value(); ok {
				m.MessageSizeBytes.WithLabelValues("inbound").Observe(float64(len(text)))
			}
		case listener.EventResponse:
			m.ResponsesTotal.Inc()
			if text, ok := ev.Response.Value(); ok {
				m.MessageSizeBytes.WithLabelValues("outbound").Observe(float64(len(text)))
			}
		case listener.EventTransaction:
			status := "success"
			if !ev.Success {
				status = "failure"
			}
			m.TransactionsTotal.WithLabelValues(status).Inc()
		}
	})
}
