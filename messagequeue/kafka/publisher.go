package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/wyfcoding/tcpserver/breaker"
	"github.com/wyfcoding/tcpserver/listener"
	"github.com/wyfcoding/tcpserver/worker"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultPublishQueue 发布队列的默认容量。
	DefaultPublishQueue = 1024
	// closeTimeout Close 等待队列排空的最长时间。
	closeTimeout = 5 * time.Second
)

// ErrFlushTimeout 等待发布队列排空超时。
var ErrFlushTimeout = errors.New("kafka publish queue flush timeout")

// Publisher 发布一条带 key 的消息。
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

// Record 发布到 Kafka 的事件格式。缺席的消息编码为 null。
type Record struct {
	Time     time.Time        `json:"time"`
	Type     string           `json:"type"`
	Remote   string           `json:"remote,omitempty"`
	Request  listener.Message `json:"request"`
	Response listener.Message `json:"response"`
	ConnID   int64            `json:"conn_id,omitempty"`
	Port     int              `json:"port,omitempty"`
	Success  bool             `json:"success"`
}

// TransactionPublisher 把启动、停止与事务事件发布到 Kafka。
//
// Notify 只负责编码并把记录放入有界队列，真正的发布由单个后台 worker 按入队顺序完成，
// 因此连接处理与服务器的 Start/Stop 不会等待 Broker。队列已满时记录被丢弃并记录告警日志。
// 请求与响应事件被忽略。发布失败只记录日志，不影响连接处理。
type TransactionPublisher struct {
	publisher Publisher
	breaker   *breaker.Breaker
	logger    *slog.Logger
	pool      *worker.Pool
	closeOnce sync.Once
	closeErr  error
}

var _ listener.Notifier = (*TransactionPublisher)(nil)

// NewTransactionPublisher 创建事务事件发布器。b 可以为 nil；queueSize 小于等于 0 时使用 DefaultPublishQueue。
// 使用结束后必须调用 Close 以排空队列并释放后台 worker。
func NewTransactionPublisher(p Publisher, b *breaker.Breaker, logger *slog.Logger, queueSize int) *TransactionPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = DefaultPublishQueue
	}
	return &TransactionPublisher{
		publisher: p,
		breaker:   b,
		logger:    logger,
		pool: worker.NewPool(
			worker.WithName("kafka-publisher"),
			worker.WithSize(1),
			worker.WithQueueSize(queueSize),
			worker.WithLogger(logger),
		),
	}
}

// Notify 实现 listener.Notifier，不会阻塞调用方。
func (t *TransactionPublisher) Notify(ctx context.Context, ev listener.Event) {
	switch ev.Kind {
	case listener.EventStart, listener.EventStop, listener.EventTransaction:
	default:
		return
	}

	value, err := json.Marshal(Record{
		Time:     ev.Time,
		Type:     ev.Kind.String(),
		Remote:   ev.Remote,
		Request:  ev.Request,
		Response: ev.Response,
		ConnID:   ev.ConnID,
		Port:     ev.Port,
		Success:  ev.Success,
	})
	if err != nil {
		t.logger.ErrorContext(ctx, "failed to encode event", "event", ev.Kind.String(), "error", err)
		return
	}

	key := []byte(strconv.FormatInt(ev.ConnID, 10))
	parent := trace.SpanContextFromContext(ctx)
	err = t.pool.TrySubmit(func(taskCtx context.Context) {
		t.publish(trace.ContextWithSpanContext(taskCtx, parent), ev.Kind, key, value)
	})
	if err != nil {
		t.logger.WarnContext(ctx, "dropping event, publish queue unavailable", "event", ev.Kind.String(), "error", err)
	}
}

func (t *TransactionPublisher) publish(ctx context.Context, kind listener.EventKind, key, value []byte) {
	err := t.breaker.Execute(func() error {
		return t.publisher.Publish(ctx, key, value)
	})
	if err != nil {
		t.logger.WarnContext(ctx, "failed to publish event", "event", kind.String(), "error", err)
	}
}

// Flush 等待此前入队的记录全部交给生产者，最多等待 timeout。
func (t *TransactionPublisher) Flush(timeout time.Duration) error {
	done := make(chan struct{})
	if err := t.pool.SubmitWithTimeout(func(context.Context) { close(done) }, timeout); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrFlushTimeout
	}
}

// Close 排空队列 (最多 5 秒) 后停止后台 worker，可重复调用。
// 不关闭底层生产者。
func (t *TransactionPublisher) Close() error {
	t.closeOnce.Do(func() {
		if err := t.Flush(closeTimeout); err != nil && !errors.Is(err, worker.ErrPoolClosed) {
			t.closeErr = err
		}
		t.pool.Stop()
	})
	return t.closeErr
}
