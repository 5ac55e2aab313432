package health

import (
	"context"
	"errors"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
)

// KafkaChecker 返回 Kafka 依赖健康检查函数。
func KafkaChecker(brokers []string) Checker {
	return KafkaCheckerWithDialer(brokers, nil)
}

// KafkaCheckerWithDialer 返回可自定义 Dialer 的 Kafka 健康检查函数。
func KafkaCheckerWithDialer(brokers []string, dialer *kafkago.Dialer) Checker {
	return func(ctx context.Context) error {
		if len(brokers) == 0 {
			return errors.New("kafka brokers is empty")
		}
		if dialer == nil {
			dialer = &kafkago.Dialer{Timeout: defaultTimeout}
		}

		conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
		if err != nil {
			return fmt.Errorf("kafka dial failed: %w", err)
		}
		defer conn.Close()

		if _, err := conn.Brokers(); err != nil {
			return fmt.Errorf("kafka brokers fetch failed: %w", err)
		}
		return nil
	}
}
