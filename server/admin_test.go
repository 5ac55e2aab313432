package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/tcpserver/health"
	"github.com/wyfcoding/tcpserver/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStatus struct {
	state State
}

func (f *fakeStatus) State() State     { return f.state }
func (f *fakeStatus) Port() int        { return 7001 }
func (f *fakeStatus) Connections() int { return 3 }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestAdminReadiness(t *testing.T) {
	status := &fakeStatus{state: StateIdle}
	engine := NewAdminServer("127.0.0.1:0", status, nil, "", slog.New(slog.DiscardHandler)).Engine()

	if w := get(t, engine, "/healthz"); w.Code != http.StatusOK {
		t.Errorf("healthz: %d", w.Code)
	}
	if w := get(t, engine, "/readyz"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz while idle: %d", w.Code)
	}

	status.state = StateListening
	if w := get(t, engine, "/readyz"); w.Code != http.StatusOK {
		t.Errorf("readyz while listening: %d", w.Code)
	}

	status.state = StateStopped
	if w := get(t, engine, "/readyz"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz while stopped: %d", w.Code)
	}
}

func TestAdminReadinessIncludesDependencyChecks(t *testing.T) {
	admin := NewAdminServer("127.0.0.1:0", &fakeStatus{state: StateListening}, nil, "", slog.New(slog.DiscardHandler))
	checks := health.NewRegistry(time.Second)
	var down bool
	checks.Register("redis", func(context.Context) error {
		if down {
			return io.ErrUnexpectedEOF
		}
		return nil
	})
	admin.SetChecks(checks)
	engine := admin.Engine()

	if w := get(t, engine, "/readyz"); w.Code != http.StatusOK {
		t.Fatalf("readyz with healthy redis: %d", w.Code)
	}

	down = true
	w := get(t, engine, "/readyz")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with failing redis: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "unexpected EOF") {
		t.Errorf("body should carry the check error: %s", w.Body.String())
	}
}

func TestAdminState(t *testing.T) {
	engine := NewAdminServer("127.0.0.1:0", &fakeStatus{state: StateStarted}, nil, "", nil).Engine()

	w := get(t, engine, "/state")
	var view StatusView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view != (StatusView{State: "started", Port: 7001, Connections: 3}) {
		t.Errorf("unexpected state view %+v", view)
	}
}

func TestAdminMetrics(t *testing.T) {
	m := metrics.NewMetrics("test")
	engine := NewAdminServer("127.0.0.1:0", &fakeStatus{}, m, "/prom", nil).Engine()

	w := get(t, engine, "/prom")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "tcp_server_connections_active") {
		t.Errorf("metrics endpoint: %d %s", w.Code, w.Body.String())
	}
	if w := get(t, engine, "/metrics"); w.Code != http.StatusNotFound {
		t.Errorf("default path should not be registered, got %d", w.Code)
	}
}

func TestAdminLifecycle(t *testing.T) {
	s := NewAdminServer("127.0.0.1:0", &fakeStatus{state: StateStarted}, nil, "", slog.New(slog.DiscardHandler))
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	errc := make(chan error, 1)
	go func() { errc <- s.Listen(ctx) }()
	eventually(t, func() bool { return s.State() == StateListening }, "admin server never listened")

	resp, err := http.Get("http://" + s.Addr().String() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "ok") {
		t.Errorf("healthz over the wire: %d %s", resp.StatusCode, body)
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("listen after stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listen did not return")
	}
	if err := s.Stop(ctx); err != nil {
		t.Errorf("second stop: %v", err)
	}
}
