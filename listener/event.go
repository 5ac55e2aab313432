// Package listener 定义服务器与观察者之间的事件契约。
// 处理逻辑只发出一种统一的事件 Event，再由适配器转换为不同粒度的监听器回调。
package listener

import (
	"context"
	"time"
)

// Message 表示一条可能缺席的文本消息。
// "没有请求/没有响应" 使用 NoMessage 表示，与空字符串 Text("") 严格区分。
type Message struct {
	text    string
	present bool
}

// NoMessage 表示消息缺席。
var NoMessage = Message{}

// Text 构造一条存在的消息，允许为空字符串。
func Text(s string) Message {
	return Message{text: s, present: true}
}

// Present 判断消息是否存在。
func (m Message) Present() bool {
	return m.present
}

// Value 返回消息文本以及是否存在。
func (m Message) Value() (string, bool) {
	return m.text, m.present
}

// String 返回消息文本，缺席时为空字符串。
func (m Message) String() string {
	return m.text
}

// MarshalJSON 缺席的消息编码为 null。
func (m Message) MarshalJSON() ([]byte, error) {
	if !m.present {
		return []byte("null"), nil
	}
	return jsonString(m.text)
}

// EventKind 事件类型。
type EventKind int

const (
	EventStart EventKind = iota + 1
	EventStop
	EventRequest
	EventResponse
	EventTransaction
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventStop:
		return "stop"
	case EventRequest:
		return "request"
	case EventResponse:
		return "response"
	case EventTransaction:
		return "transaction"
	default:
		return "unknown"
	}
}

// Event 服务器生命周期与连接交互的统一事件。
// 服务器与处理器只发出这一种事件，Kind 决定哪些字段有意义：
// Start/Stop 只携带 Port；Request 携带 Request；Response 携带 Response；
// Transaction 同时携带请求、响应与 Success，表示一次请求/响应交互的结束。
type Event struct {
	Time     time.Time
	Request  Message
	Response Message
	Remote   string
	ConnID   int64
	Port     int
	Kind     EventKind
	Success  bool
}

// Start 构造启动事件。
func Start(port int) Event {
	return Event{Kind: EventStart, Port: port, Time: time.Now()}
}

// Stop 构造停止事件。
func Stop(port int) Event {
	return Event{Kind: EventStop, Port: port, Time: time.Now()}
}

// Request 构造请求事件。
func Request(connID int64, remote string, msg Message) Event {
	return Event{Kind: EventRequest, ConnID: connID, Remote: remote, Request: msg, Time: time.Now()}
}

// Response 构造响应事件。
func Response(connID int64, remote string, msg Message) Event {
	return Event{Kind: EventResponse, ConnID: connID, Remote: remote, Response: msg, Time: time.Now()}
}

// Transaction 构造事务完成事件，响应（如有）必须已经发出。
func Transaction(connID int64, remote string, req, resp Message, success bool) Event {
	return Event{
		Kind:     EventTransaction,
		ConnID:   connID,
		Remote:   remote,
		Request:  req,
		Response: resp,
		Success:  success,
		Time:     time.Now(),
	}
}

// Notifier 是事件的唯一接收接口。
//
// Notify 在产生事件的 goroutine 上同步调用：Start/Stop 事件在服务器持有生命周期锁时发出，
// 请求、响应与事务事件在连接的处理 goroutine 上发出。
// 因此实现必须尽快返回，耗时的工作 (网络发布、磁盘写入) 应交给后台队列。
// 实现不应 panic，panic 会被 Safe 捕获并记录。
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc 函数适配器。
type NotifierFunc func(ctx context.Context, ev Event)

// Notify 实现 Notifier。
func (f NotifierFunc) Notify(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// Nop 丢弃所有事件。
var Nop Notifier = NotifierFunc(func(context.Context, Event) {})
