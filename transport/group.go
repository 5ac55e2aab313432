package transport

import (
	"errors"
	"sync"
)

// Group 跟踪服务器当前打开的连接。
// 接受路径调用 Add，连接结束时调用 Remove，服务器停止时调用 Close 一次性关闭全部连接。
// Close 之后的 Add 会直接关闭新连接，避免停止过程中漏掉刚接受的连接。
type Group struct {
	conns  map[*Conn]struct{}
	mu     sync.Mutex
	closed bool
}

// NewGroup 创建连接组。
func NewGroup() *Group {
	return &Group{conns: make(map[*Conn]struct{})}
}

// Add 加入一个连接。组已关闭时立即关闭该连接并返回 false。
func (g *Group) Add(c *Conn) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		_ = c.Close()
		return false
	}
	g.conns[c] = struct{}{}
	g.mu.Unlock()
	return true
}

// Remove 移除连接，不关闭它。
func (g *Group) Remove(c *Conn) {
	g.mu.Lock()
	delete(g.conns, c)
	g.mu.Unlock()
}

// Len 返回当前跟踪的连接数。
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Close 关闭所有跟踪的连接并拒绝后续加入。
func (g *Group) Close() error {
	g.mu.Lock()
	g.closed = true
	conns := make([]*Conn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
