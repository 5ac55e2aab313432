// Package transport 把 net.Conn 适配为处理器使用的入站/出站消息流。
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wyfcoding/tcpserver/async"
	"github.com/wyfcoding/tcpserver/worker"
	"github.com/wyfcoding/tcpserver/xerrors"
)

// DefaultReadBufferSize 原始分帧下单次读取的缓冲区大小。
const DefaultReadBufferSize = 4096

// Framing 入站字节流的分帧方式。
type Framing string

const (
	// FramingRaw 每次读取到的数据块即为一条消息。
	FramingRaw Framing = "raw"
	// FramingLine 以换行符分隔消息，末尾未终止的行仍算一条消息。
	FramingLine Framing = "line"
)

// ParseFraming 解析分帧名称，空字符串视为 FramingRaw。
func ParseFraming(s string) (Framing, error) {
	switch f := Framing(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FramingRaw:
		return FramingRaw, nil
	case FramingLine:
		return FramingLine, nil
	default:
		return "", xerrors.InvalidArg(fmt.Sprintf("unknown framing %q", s))
	}
}

// Conn 包装一个已接受的 TCP 连接。
//
// 读取在调用方 goroutine 中进行，Go 的网络轮询器负责在数据到达前挂起该 goroutine；
// 写出提交给服务器共享的 worker 池完成。
// 分帧方式决定 Receive 返回的消息边界：raw 每次返回一次读取到的数据块，
// line 按换行切分并去掉行尾的 \r\n。
// Close 可以在任意 goroutine 中调用，会让阻塞中的 Receive 以 io.EOF 返回。
type Conn struct {
	conn         net.Conn
	pool         *worker.Pool
	reader       *bufio.Reader
	tap          Tap
	buf          []byte
	framing      Framing
	writeTimeout time.Duration
	id           int64
	closeOnce    sync.Once
	closeErr     error
	closed       atomic.Bool
}

// ConnOption 连接配置选项。
type ConnOption func(*Conn)

// WithFraming 设置分帧方式。
func WithFraming(f Framing) ConnOption {
	return func(c *Conn) {
		if f != "" {
			c.framing = f
		}
	}
}

// WithReadBufferSize 设置读缓冲区大小。
func WithReadBufferSize(size int) ConnOption {
	return func(c *Conn) {
		if size > 0 {
			c.buf = make([]byte, size)
		}
	}
}

// WithWriteTimeout 设置单次写出的超时，0 表示不限制。
func WithWriteTimeout(d time.Duration) ConnOption {
	return func(c *Conn) {
		c.writeTimeout = d
	}
}

// WithID 设置连接 ID。
func WithID(id int64) ConnOption {
	return func(c *Conn) {
		c.id = id
	}
}

// WithTap 设置线路监听钩子。
func WithTap(tap Tap) ConnOption {
	return func(c *Conn) {
		c.tap = tap
	}
}

// NewConn 创建连接包装。
func NewConn(nc net.Conn, pool *worker.Pool, opts ...ConnOption) *Conn {
	c := &Conn{
		conn:    nc,
		pool:    pool,
		framing: FramingRaw,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.buf == nil {
		c.buf = make([]byte, DefaultReadBufferSize)
	}
	if c.framing == FramingLine {
		c.reader = bufio.NewReaderSize(nc, len(c.buf))
	}
	if c.tap == nil {
		c.tap = nopTap
	}
	return c
}

// ID 返回连接 ID。
func (c *Conn) ID() int64 {
	return c.id
}

// RemoteAddr 返回对端地址。
func (c *Conn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Receive 读取下一条消息。对端关闭或本端 Close 之后返回 io.EOF。
// ctx 取消会中断阻塞中的读取。
func (c *Conn) Receive(ctx context.Context) (string, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var (
		msg string
		err error
	)
	if c.framing == FramingLine {
		msg, err = c.readLine()
	} else {
		msg, err = c.readChunk()
	}
	if err == nil {
		c.tap(ctx, WireRead, c, "bytes", len(msg))
		return msg, nil
	}

	if c.closed.Load() || errors.Is(err, io.EOF) {
		return "", io.EOF
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return "", err
}

func (c *Conn) readChunk() (string, error) {
	n, err := c.conn.Read(c.buf)
	if n > 0 {
		return string(c.buf[:n]), nil
	}
	if err == nil {
		// 零字节读取，交由下一次读取处理
		return c.readChunk()
	}
	return "", err
}

func (c *Conn) readLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Send 将消息提交到 worker 池写出。返回的 Future 在写出完成或失败时完成。
func (c *Conn) Send(ctx context.Context, text string) *async.Future[struct{}] {
	done := async.NewPromise[struct{}]()
	if c.framing == FramingLine && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	err := c.pool.Submit(ctx, func(context.Context) {
		done.Complete(struct{}{}, c.write(ctx, text))
	})
	if err != nil {
		done.Complete(struct{}{}, fmt.Errorf("submit write: %w", err))
	}
	return done
}

func (c *Conn) write(ctx context.Context, text string) error {
	if c.closed.Load() {
		return net.ErrClosed
	}
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	n, err := io.WriteString(c.conn, text)
	c.tap(ctx, WireWrite, c, "bytes", n)
	return err
}

// Close 关闭底层连接，可重复调用。
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Closed 返回连接是否已被本端关闭。
func (c *Conn) Closed() bool {
	return c.closed.Load()
}
