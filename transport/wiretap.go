package transport

import (
	"context"
	"log/slog"
)

// WireEvent 线路监听记录的连接事件。
type WireEvent string

const (
	WireInit    WireEvent = "init"
	WireBind    WireEvent = "bind"
	WireBound   WireEvent = "bound"
	WireUnbound WireEvent = "unbound"
	WireRead    WireEvent = "read"
	WireWrite   WireEvent = "write"
)

// Tap 线路监听钩子。只用于观测，不影响连接行为。
type Tap func(ctx context.Context, ev WireEvent, c *Conn, attrs ...any)

func nopTap(context.Context, WireEvent, *Conn, ...any) {}

// Wiretap 返回在 debug 级别记录连接事件的钩子；enabled 为 false 时返回空钩子。
func Wiretap(logger *slog.Logger, enabled bool) Tap {
	if !enabled || logger == nil {
		return nopTap
	}
	return func(ctx context.Context, ev WireEvent, c *Conn, attrs ...any) {
		args := make([]any, 0, len(attrs)+6)
		args = append(args, "event", string(ev), "conn_id", c.ID(), "remote", c.RemoteAddr())
		args = append(args, attrs...)
		logger.DebugContext(ctx, "Wiretap", args...)
	}
}
