// Package kafka 把服务器事件发布到 Kafka。
package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/wyfcoding/tcpserver/config"
	"github.com/wyfcoding/tcpserver/metrics"
	"github.com/wyfcoding/tcpserver/tracing"
	"go.opentelemetry.io/otel/trace"
)

// Writer kafka-go Writer 的最小接口。
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer 带 DLQ、指标与链路头透传的消息生产者。
type Producer struct {
	writer   Writer
	dlq      Writer
	logger   *slog.Logger
	produced *prometheus.CounterVec
	duration *prometheus.HistogramVec
	topic    string
}

// NewProducer 根据配置创建生产者。DLQTopic 为空时不写死信队列。
func NewProducer(cfg config.KafkaConfig, m *metrics.Metrics, logger *slog.Logger) *Producer {
	acks := kafkago.RequiredAcks(cfg.RequiredAcks)
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafkago.Hash{},
		WriteTimeout:           cfg.WriteTimeout,
		BatchTimeout:           cfg.BatchTimeout,
		MaxAttempts:            cfg.MaxAttempts,
		RequiredAcks:           acks,
		Async:                  cfg.Async,
		AllowAutoTopicCreation: true,
	}

	var dlq Writer
	if cfg.DLQTopic != "" {
		dlq = &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.Brokers...),
			Topic:        cfg.DLQTopic,
			Balancer:     &kafkago.LeastBytes{},
			RequiredAcks: kafkago.RequireOne,
		}
	}

	return NewProducerWithWriters(cfg.Topic, w, dlq, m, logger)
}

// NewProducerWithWriters 使用给定的 Writer 创建生产者。dlq 可以为 nil。
func NewProducerWithWriters(topic string, w, dlq Writer, m *metrics.Metrics, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Producer{writer: w, dlq: dlq, logger: logger, topic: topic}
	if m != nil {
		p.produced = m.NewCounterVec(prometheus.CounterOpts{
			Name: "mq_produced_total",
			Help: "Total number of produced messages",
		}, []string{"topic", "status"})
		p.duration = m.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mq_operation_duration_seconds",
			Help:    "Duration of message queue operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic", "operation"})
	}
	return p
}

// Publish 发送一条消息，当前链路上下文写入消息头。失败时尝试写入死信队列并返回原错误。
func (p *Producer) Publish(ctx context.Context, key, value []byte) error {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "kafka.publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	carrier := tracing.InjectContext(ctx)
	headers := make([]kafkago.Header, 0, len(carrier))
	for k, v := range carrier {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	msg := kafkago.Message{
		Key:     key,
		Value:   value,
		Headers: headers,
		Time:    start,
	}

	err := p.writer.WriteMessages(ctx, msg)
	if p.duration != nil {
		p.duration.WithLabelValues(p.topic, "publish").Observe(time.Since(start).Seconds())
	}

	if err != nil {
		p.count("failed")
		tracing.SetError(ctx, err)
		if p.dlq != nil {
			if dlqErr := p.dlq.WriteMessages(ctx, msg); dlqErr != nil {
				p.logger.ErrorContext(ctx, "failed to write to DLQ", "error", dlqErr)
			}
		}
		return err
	}

	p.count("success")
	return nil
}

func (p *Producer) count(status string) {
	if p.produced != nil {
		p.produced.WithLabelValues(p.topic, status).Inc()
	}
}

// Close 关闭所有 Writer。
func (p *Producer) Close() error {
	var errs []error
	if p.dlq != nil {
		if err := p.dlq.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
