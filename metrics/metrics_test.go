package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/wyfcoding/tcpserver/listener"
)

func TestNotifierCountsEvents(t *testing.T) {
	m := NewMetrics("test")
	n := m.Notifier()
	ctx := context.Background()

	n.Notify(ctx, listener.Request(1, "peer", listener.Text("ping")))
	n.Notify(ctx, listener.Response(1, "peer", listener.Text("Acknowledged")))
	n.Notify(ctx, listener.Transaction(1, "peer", listener.Text("ping"), listener.Text("Acknowledged"), true))
	n.Notify(ctx, listener.Request(2, "peer", listener.NoMessage))
	n.Notify(ctx, listener.Transaction(2, "peer", listener.NoMessage, listener.NoMessage, false))

	if got := testutil.ToFloat64(m.RequestsTotal); got != 2 {
		t.Errorf("requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ResponsesTotal); got != 1 {
		t.Errorf("responses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TransactionsTotal.WithLabelValues("failure")); got != 1 {
		t.Errorf("failed transactions = %v, want 1", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := NewMetrics("test")
	m.RegisterBuildInfo("tcpserver", "1.0.0")
	m.ConnectionsTotal.WithLabelValues("accepted").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{"tcp_server_connections_total", `build_info{service="tcpserver",version="1.0.0"} 1`} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
